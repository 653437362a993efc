// Package middleware provides dispatch middleware for pagewire applications.
//
// Each constructor returns a dispatch.Middleware that wraps the event
// pipeline:
//
//	d := dispatch.New(reg, dispatch.WithMiddleware(
//	    middleware.OpenTelemetry(),
//	    middleware.Prometheus(middleware.WithNamespace("myapp")),
//	    middleware.Logging(logger),
//	))
//
// # Prometheus Metrics
//
// Prometheus records, per envelope kind and outcome:
//
//	pagewire_events_total{kind,outcome}
//	pagewire_event_duration_seconds{kind}
//	pagewire_handler_failures_total{event_type,panic}
//
// RegistryCollector exports the live page and transport counts of a
// registry.Registry.
//
// # OpenTelemetry
//
// OpenTelemetry starts one span per envelope, named "pagewire.<event_type>".
// The span travels in the context handed to event handlers, so
// trace.SpanFromContext(ctx) works inside a handler. Without
// WithTracerProvider the global provider is used.
package middleware
