package middleware

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/pagewire/pkg/dispatch"
	"github.com/vango-dev/pagewire/pkg/protocol"
	"github.com/vango-dev/pagewire/pkg/registry"
	"github.com/vango-dev/pagewire/pkg/transport"
)

// MetricsConfig configures the Prometheus middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "pagewire").
	Namespace string

	Subsystem string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Buckets for event duration. Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors. Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus middleware.
type MetricsOption func(*MetricsConfig)

func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) { c.Subsystem = subsystem }
}

func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) { c.ConstLabels = labels }
}

func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) { c.Buckets = buckets }
}

func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "pagewire",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the dispatch collectors.
type Metrics struct {
	eventsTotal     *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	handlerFailures *prometheus.CounterVec
}

// NewMetrics creates and registers the dispatch collectors. Registering the
// same metrics twice on one registry reuses the first set.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &Metrics{
		eventsTotal: register(config.Registry, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_total",
			Help:        "Envelopes dispatched, by kind and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "outcome"})),

		eventDuration: register(config.Registry, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_duration_seconds",
			Help:        "Dispatch duration in seconds, including handlers and pushes",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"kind"})),

		handlerFailures: register(config.Registry, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_failures_total",
			Help:        "Event handlers that returned an error or panicked",
			ConstLabels: config.ConstLabels,
		}, []string{"event_type", "panic"})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Prometheus returns middleware recording dispatch metrics.
//
// Expose them with promhttp:
//
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) dispatch.Middleware {
	return NewMetrics(opts...).Middleware()
}

// Middleware returns the dispatch middleware for m.
func (m *Metrics) Middleware() dispatch.Middleware {
	return func(next dispatch.Func) dispatch.Func {
		return func(ctx context.Context, env *protocol.Envelope, origin transport.Transport) (dispatch.Outcome, error) {
			start := time.Now()
			outcome, err := next(ctx, env, origin)

			kind := string(env.Kind)
			m.eventDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			m.eventsTotal.WithLabelValues(kind, outcome.String()).Inc()

			var he *dispatch.HandlerError
			if errors.As(err, &he) {
				m.handlerFailures.WithLabelValues(he.EventType, strconv.FormatBool(he.Panic != nil)).Inc()
			}
			return outcome, err
		}
	}
}

// RegistryCollector exports live counts from a page registry.
type RegistryCollector struct {
	reg *registry.Registry

	pages      *prometheus.Desc
	transports *prometheus.Desc
	registered *prometheus.Desc
	forgotten  *prometheus.Desc
}

var _ prometheus.Collector = (*RegistryCollector)(nil)

// NewRegistryCollector creates a collector for reg. Register it with
// prometheus.MustRegister or a custom registry.
func NewRegistryCollector(reg *registry.Registry, opts ...MetricsOption) *RegistryCollector {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	name := func(n string) string {
		return prometheus.BuildFQName(config.Namespace, config.Subsystem, n)
	}
	return &RegistryCollector{
		reg:        reg,
		pages:      prometheus.NewDesc(name("pages"), "Pages currently registered", nil, config.ConstLabels),
		transports: prometheus.NewDesc(name("transports"), "Open push transports across all pages", nil, config.ConstLabels),
		registered: prometheus.NewDesc(name("pages_registered_total"), "Pages registered since start", nil, config.ConstLabels),
		forgotten:  prometheus.NewDesc(name("pages_forgotten_total"), "Pages forgotten since start", nil, config.ConstLabels),
	}
}

func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pages
	ch <- c.transports
	ch <- c.registered
	ch <- c.forgotten
}

func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.reg.Stats()
	ch <- prometheus.MustNewConstMetric(c.pages, prometheus.GaugeValue, float64(s.Pages))
	ch <- prometheus.MustNewConstMetric(c.transports, prometheus.GaugeValue, float64(s.Transports))
	ch <- prometheus.MustNewConstMetric(c.registered, prometheus.CounterValue, float64(s.TotalRegistered))
	ch <- prometheus.MustNewConstMetric(c.forgotten, prometheus.CounterValue, float64(s.TotalForgotten))
}
