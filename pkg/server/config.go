package server

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/vango-dev/pagewire/internal/errors"
	"github.com/vango-dev/pagewire/pkg/registry"
	"github.com/vango-dev/pagewire/pkg/session"
	"github.com/vango-dev/pagewire/pkg/transport"
)

// Config holds configuration for the HTTP server and the pages it serves.
type Config struct {
	// Address is the address to listen on (e.g., ":8000" or "localhost:8000").
	// Default: ":8000".
	Address string

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// IdleTimeout is the keep-alive idle limit.
	// Default: 120 seconds.
	IdleTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// WebSocket buffer sizes. Default: 4096 each.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the websocket request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Channel tunes websocket channels.
	Channel transport.ChannelConfig

	// AjaxOnly disables websocket channels; every page polls the event
	// endpoint instead.
	AjaxOnly bool

	// DisableSessions turns off the session cookie. Events then carry no
	// session id.
	DisableSessions bool

	// SecretKey signs session cookies. Required unless DisableSessions.
	SecretKey string

	// CookieName defaults to session.DefaultCookieName.
	CookieName string

	// CookieMaxAge defaults to session.DefaultMaxAge.
	CookieMaxAge time.Duration

	// SecureCookies marks session cookies Secure.
	SecureCookies bool

	// CrashOnHandlerError exits the process when an event handler fails.
	// Meant for development.
	CrashOnHandlerError bool

	// Latency delays every page response and update by this much.
	Latency time.Duration

	// PageIdleTimeout forgets pages with no open channel after this long.
	// Zero uses registry.DefaultIdleTimeout; negative disables reaping.
	PageIdleTimeout time.Duration

	// EventPath receives polled events. Default: "/_pagewire/event".
	EventPath string

	// SocketPath upgrades to a websocket channel. Default: "/_pagewire/ws".
	SocketPath string

	// MetricsPath serves Prometheus metrics. Default: "/metrics".
	// Set DisableMetrics to turn the endpoint and collectors off.
	MetricsPath    string
	DisableMetrics bool

	// Tracing wraps dispatch in OpenTelemetry spans.
	Tracing bool

	// Favicon is used by pages that don't set one.
	Favicon string

	// Debug logs every dispatch.
	Debug bool
}

const (
	DefaultAddress    = ":8000"
	DefaultEventPath  = "/_pagewire/event"
	DefaultSocketPath = "/_pagewire/ws"
	DefaultMetrics    = "/metrics"
)

// DefaultConfig returns a Config with sensible defaults. SecretKey is left
// empty and must be set unless sessions are disabled.
func DefaultConfig() *Config {
	return &Config{
		Address:           DefaultAddress,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		Channel:           *transport.DefaultChannelConfig(),
		CookieName:        session.DefaultCookieName,
		CookieMaxAge:      session.DefaultMaxAge,
		PageIdleTimeout:   registry.DefaultIdleTimeout,
		EventPath:         DefaultEventPath,
		SocketPath:        DefaultSocketPath,
		MetricsPath:       DefaultMetrics,
	}
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Address == "" {
		out.Address = d.Address
	}
	if out.ReadHeaderTimeout == 0 {
		out.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = d.IdleTimeout
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	if out.CookieName == "" {
		out.CookieName = d.CookieName
	}
	if out.CookieMaxAge == 0 {
		out.CookieMaxAge = d.CookieMaxAge
	}
	if out.PageIdleTimeout == 0 {
		out.PageIdleTimeout = d.PageIdleTimeout
	}
	if out.EventPath == "" {
		out.EventPath = d.EventPath
	}
	if out.SocketPath == "" {
		out.SocketPath = d.SocketPath
	}
	if out.MetricsPath == "" {
		out.MetricsPath = d.MetricsPath
	}
	return &out
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		errs = append(errs, apperrors.New("C001").WithField("address").Wrap(err))
	}
	if !c.DisableSessions && c.SecretKey == "" {
		errs = append(errs, apperrors.New("C002").WithField("secret_key"))
	}

	durations := []struct {
		field string
		d     time.Duration
	}{
		{"read_header_timeout", c.ReadHeaderTimeout},
		{"idle_timeout", c.IdleTimeout},
		{"shutdown_timeout", c.ShutdownTimeout},
		{"cookie_max_age", c.CookieMaxAge},
		{"latency", c.Latency},
		{"channel.read_timeout", c.Channel.ReadTimeout},
		{"channel.write_timeout", c.Channel.WriteTimeout},
		{"channel.heartbeat_interval", c.Channel.HeartbeatInterval},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, apperrors.New("C005").WithField(d.field))
		}
	}

	paths := map[string]string{"event_path": c.EventPath, "socket_path": c.SocketPath}
	if !c.DisableMetrics {
		paths["metrics_path"] = c.MetricsPath
	}
	seen := make(map[string]string)
	for _, field := range []string{"event_path", "socket_path", "metrics_path"} {
		p, ok := paths[field]
		if !ok {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, apperrors.New("C010").WithField(field))
			continue
		}
		if other, dup := seen[p]; dup {
			errs = append(errs, apperrors.New("C010").WithField(field).
				WithDetail("Same path as " + other + "."))
			continue
		}
		seen[p] = field
	}

	return apperrors.Join(errs...)
}

// SameOriginCheck accepts websocket requests whose Origin matches the host,
// and requests without an Origin header.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}
