package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-dev/pagewire/pkg/dispatch"
	"github.com/vango-dev/pagewire/pkg/protocol"
	"github.com/vango-dev/pagewire/pkg/transport"
)

// Logging returns middleware that logs every dispatch at debug level.
func Logging(logger *slog.Logger) dispatch.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch_log")

	return func(next dispatch.Func) dispatch.Func {
		return func(ctx context.Context, env *protocol.Envelope, origin transport.Transport) (dispatch.Outcome, error) {
			start := time.Now()
			outcome, err := next(ctx, env, origin)
			logger.LogAttrs(ctx, slog.LevelDebug, "dispatched",
				slog.String("kind", string(env.Kind)),
				slog.String("event_type", env.EventType),
				slog.Int64("page_id", env.PageID),
				slog.Int64("conn_id", env.ConnectionID),
				slog.String("outcome", outcome.String()),
				slog.Duration("duration", time.Since(start)),
				slog.Bool("failed", err != nil))
			return outcome, err
		}
	}
}
