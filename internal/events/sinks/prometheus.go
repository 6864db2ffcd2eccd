package sinks

import (
	"context"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/events"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/metrics"
)

// MetricsSink counts terminal outcomes in Prometheus. Failed and throttled
// events carry their reason in the source label so dashboards can break
// down why enrichment is not completing.
type MetricsSink struct{}

// NewMetricsSink returns the Prometheus outcome sink.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

// Consume increments the outcome counters for the batch.
func (MetricsSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Type {
		case events.TypeEnriched:
			metrics.ObserveOutcome(string(evt.Type), evt.Source())
		default:
			metrics.ObserveOutcome(string(evt.Type), evt.Reason)
		}
	}
	return nil
}

// Close is a no-op.
func (MetricsSink) Close(context.Context) error {
	return nil
}
