package middleware

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pagewire/pkg/dispatch"
	"github.com/vango-dev/pagewire/pkg/protocol"
	"github.com/vango-dev/pagewire/pkg/transport"
)

const defaultTracerName = "pagewire"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	TracerName string

	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// IncludeSessionID adds the session id to spans. Off by default.
	IncludeSessionID bool

	// Filter returns false for envelopes that should not be traced.
	Filter func(env *protocol.Envelope) bool

	// AttributeExtractor adds custom attributes per envelope.
	AttributeExtractor func(env *protocol.Envelope) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) { c.TracerName = name }
}

func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) { c.TracerProvider = tp }
}

func WithIncludeSessionID(include bool) OTelOption {
	return func(c *OTelConfig) { c.IncludeSessionID = include }
}

func WithEventFilter(filter func(env *protocol.Envelope) bool) OTelOption {
	return func(c *OTelConfig) { c.Filter = filter }
}

func WithAttributeExtractor(extractor func(env *protocol.Envelope) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) { c.AttributeExtractor = extractor }
}

// OpenTelemetry returns middleware that traces every envelope. Handler
// failures are recorded on the span and mark it as an error.
func OpenTelemetry(opts ...OTelOption) dispatch.Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next dispatch.Func) dispatch.Func {
		return func(ctx context.Context, env *protocol.Envelope, origin transport.Transport) (dispatch.Outcome, error) {
			if config.Filter != nil && !config.Filter(env) {
				return next(ctx, env, origin)
			}

			attrs := []attribute.KeyValue{
				attribute.String("pagewire.kind", string(env.Kind)),
				attribute.Int64("pagewire.page_id", env.PageID),
				attribute.Int64("pagewire.connection_id", env.ConnectionID),
			}
			if env.EventType != "" {
				attrs = append(attrs, attribute.String("pagewire.event_type", env.EventType))
			}
			if env.HasComponent {
				attrs = append(attrs, attribute.Int64("pagewire.component_id", env.ComponentID))
			}
			if config.IncludeSessionID && env.SessionID != "" {
				attrs = append(attrs, attribute.String("pagewire.session_id", env.SessionID))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(env)...)
			}

			ctx, span := tracer.Start(ctx, spanName(env),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...))
			defer span.End()

			outcome, err := next(ctx, env, origin)

			span.SetAttributes(attribute.String("pagewire.outcome", outcome.String()))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				var he *dispatch.HandlerError
				if errors.As(err, &he) {
					span.SetAttributes(attribute.Bool("pagewire.panic", he.Panic != nil))
				}
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return outcome, err
		}
	}
}

func spanName(env *protocol.Envelope) string {
	if env.EventType != "" {
		return "pagewire." + env.EventType
	}
	return "pagewire." + string(env.Kind)
}
