// Package sinks provides the built-in destinations for enrichment outcome
// events: structured logs, Prometheus counters, and Google Cloud Pub/Sub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/events"
)

// LogSink writes each event as a structured log line. Useful in development
// and as a safety net when no other sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging through the provided logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("type", string(evt.Type)),
			zap.String("match_id", evt.MatchID),
			zap.Time("ts", evt.TS),
		}
		switch evt.Type {
		case events.TypeEnriched:
			fields = append(fields,
				zap.String("source", evt.Source()),
				zap.Int("comps_count", evt.Patch.CompsCount),
				zap.Float64("avg_price", evt.Patch.AvgPrice),
				zap.Bool("stale", evt.Patch.Stale),
			)
		case events.TypeFailed:
			fields = append(fields,
				zap.String("reason", evt.Reason),
				zap.Bool("will_retry", evt.WillRetry),
				zap.Int("attempts", evt.AttemptCount),
			)
			if evt.Upstream != nil {
				fields = append(fields,
					zap.Int("upstream_status", evt.Upstream.Status),
					zap.String("upstream_code", evt.Upstream.Code),
				)
			}
		case events.TypeThrottled:
			fields = append(fields,
				zap.String("reason", evt.Reason),
				zap.Int64("retry_after_ms", evt.RetryAfterMs),
			)
		}
		s.logger.Info("enrichment outcome", fields...)
	}
	return nil
}

// Close is a no-op; the logger is owned by the caller.
func (s *LogSink) Close(context.Context) error {
	return nil
}
