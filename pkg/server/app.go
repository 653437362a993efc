package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pagewire/pkg/dispatch"
	"github.com/vango-dev/pagewire/pkg/middleware"
	"github.com/vango-dev/pagewire/pkg/registry"
	"github.com/vango-dev/pagewire/pkg/session"
)

// App serves pagewire pages over HTTP: page routes, the polling endpoint and
// the websocket endpoint.
type App struct {
	config *Config
	logger *slog.Logger

	router *chi.Mux
	pages  chi.Router

	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	signer     *session.Signer
	renderer   Renderer
	upgrader   websocket.Upgrader

	metrics        *prometheus.Registry
	tracerProvider trace.TracerProvider
	dispatchMW     []dispatch.Middleware
	exit           func(int)

	mu         sync.Mutex
	httpServer *http.Server
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the base logger for the app and its collaborators.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRenderer replaces the built-in HTML shell.
func WithRenderer(r Renderer) Option {
	return func(a *App) {
		if r != nil {
			a.renderer = r
		}
	}
}

// WithDispatchMiddleware adds dispatch middleware after the built-in ones.
func WithDispatchMiddleware(mw ...dispatch.Middleware) Option {
	return func(a *App) { a.dispatchMW = append(a.dispatchMW, mw...) }
}

// WithMetricsRegistry collects metrics into reg instead of a private
// registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(a *App) {
		if reg != nil {
			a.metrics = reg
		}
	}
}

// WithTracerProvider sets the provider used when Config.Tracing is on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) { a.tracerProvider = tp }
}

// WithExit replaces os.Exit for crash-on-error mode.
func WithExit(exit func(int)) Option {
	return func(a *App) { a.exit = exit }
}

// New creates an App. The config is validated; every problem found is
// returned together.
func New(cfg *Config, opts ...Option) (*App, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		config:   cfg,
		logger:   slog.Default(),
		renderer: NewTemplateRenderer(nil),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "server")

	a.registry = registry.New(
		registry.WithLogger(a.logger),
		registry.WithIdleTimeout(cfg.PageIdleTimeout))

	var chain []dispatch.Middleware
	if cfg.Tracing {
		chain = append(chain, middleware.OpenTelemetry(middleware.WithTracerProvider(a.tracerProvider)))
	}
	if !cfg.DisableMetrics {
		if a.metrics == nil {
			a.metrics = prometheus.NewRegistry()
			a.metrics.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		}
		a.metrics.MustRegister(middleware.NewRegistryCollector(a.registry))
		chain = append(chain, middleware.Prometheus(middleware.WithRegistry(a.metrics)))
	}
	if cfg.Debug {
		chain = append(chain, middleware.Logging(a.logger))
	}
	chain = append(chain, a.dispatchMW...)

	dopts := []dispatch.Option{
		dispatch.WithLogger(a.logger),
		dispatch.WithCrashOnHandlerError(cfg.CrashOnHandlerError),
		dispatch.WithLatency(cfg.Latency),
		dispatch.WithMiddleware(chain...),
	}
	if a.exit != nil {
		dopts = append(dopts, dispatch.WithExit(a.exit))
	}
	a.dispatcher = dispatch.New(a.registry, dopts...)

	if !cfg.DisableSessions {
		signer, err := session.NewSigner(cfg.SecretKey,
			session.WithCookieName(cfg.CookieName),
			session.WithMaxAge(cfg.CookieMaxAge),
			session.WithSecure(cfg.SecureCookies),
			session.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.signer = signer
	}

	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.CheckOrigin,
	}

	a.routes()
	return a, nil
}

func (a *App) routes() {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	if !a.config.DisableMetrics {
		r.Handle(a.config.MetricsPath, promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	}

	a.pages = r.With(a.sessionMiddleware)
	a.pages.Post(a.config.EventPath, a.handleEvent)
	if !a.config.AjaxOnly {
		a.pages.Get(a.config.SocketPath, a.handleSocket)
	}
	a.router = r
}

func (a *App) sessionMiddleware(next http.Handler) http.Handler {
	if a.signer == nil {
		return next
	}
	return a.signer.Middleware(next)
}

// Route serves the page built by fn on GET pattern. Patterns use chi syntax,
// e.g. "/items/{id}".
func (a *App) Route(pattern string, fn PageFunc) {
	a.pages.Get(pattern, a.pageHandler(pattern, fn))
}

// Handle mounts a plain handler, outside session handling.
func (a *App) Handle(pattern string, h http.Handler) {
	a.router.Handle(pattern, h)
}

// Router exposes the chi router for custom routes and middleware.
func (a *App) Router() chi.Router { return a.router }

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Registry returns the page registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Dispatcher returns the event dispatcher. Use its Update to push
// changes made outside of an event.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Signer returns the session signer, or nil when sessions are disabled.
func (a *App) Signer() *session.Signer { return a.signer }

func (a *App) Config() *Config { return a.config }

func (a *App) Logger() *slog.Logger { return a.logger }

// Run listens on the configured address until ctx is cancelled or the
// process receives SIGINT or SIGTERM, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.config.Address,
		Handler:           a,
		ReadHeaderTimeout: a.config.ReadHeaderTimeout,
		IdleTimeout:       a.config.IdleTimeout,
	}
	a.mu.Lock()
	a.httpServer = srv
	a.mu.Unlock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			"address", a.config.Address,
			"channel", !a.config.AjaxOnly,
			"sessions", !a.config.DisableSessions)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.registry.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
		a.logger.Info("shutting down...")
		return a.Shutdown(context.Background())
	}
}

// Shutdown stops accepting requests, closes every page's transports and
// waits for in-flight requests up to ShutdownTimeout.
func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.ShutdownTimeout)
	defer cancel()

	a.mu.Lock()
	srv := a.httpServer
	a.mu.Unlock()

	var err error
	if srv != nil {
		if err = srv.Shutdown(ctx); err != nil {
			a.logger.Error("shutdown error", "error", err)
		}
	}
	// hijacked websocket connections are not tracked by http.Server
	a.registry.Close()

	a.logger.Info("server shutdown complete")
	return err
}
