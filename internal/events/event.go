// Package events defines the outcome events emitted by the enrichment
// scheduler and the hub that fans them out to downstream sinks.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Type discriminates the three event shapes.
type Type string

// Supported event types.
const (
	TypeEnriched  Type = "enriched"
	TypeFailed    Type = "failed"
	TypeThrottled Type = "throttled"
)

// Source labels where an enriched payload came from.
const (
	SourceLive   = "live"
	SourceCached = "cached"
	SourceStale  = "stale"
)

// CompetitorPrice is one comparable listing offered downstream.
type CompetitorPrice struct {
	Platform   string  `json:"platform"`
	Price      float64 `json:"price"`
	ListingURL string  `json:"listing_url"`
	Confidence string  `json:"confidence"`
}

// Patch carries the aggregate fields downstream applies to the match.
type Patch struct {
	AvgPrice   float64 `json:"avg_price"`
	LowPrice   float64 `json:"low_price"`
	HighPrice  float64 `json:"high_price"`
	CompsCount int     `json:"comps_count"`
	Stale      bool    `json:"stale"`
}

// UpstreamError describes the classified failure surfaced to consumers.
type UpstreamError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a single enrichment outcome. Only the fields relevant to its
// Type are populated.
type Event struct {
	Type    Type      `json:"type"`
	MatchID string    `json:"match_id"`
	TS      time.Time `json:"ts"`

	// enriched
	Prices []CompetitorPrice `json:"competitor_prices,omitempty"`
	Patch  *Patch            `json:"patch,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`

	// failed
	Reason       string         `json:"reason,omitempty"`
	WillRetry    bool           `json:"will_retry,omitempty"`
	AttemptCount int            `json:"attempt_count,omitempty"`
	Upstream     *UpstreamError `json:"upstream_error,omitempty"`

	// throttled
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.MatchID == "" {
		return errors.New("match id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeEnriched:
		if e.Patch == nil {
			return errors.New("enriched event requires a patch")
		}
	case TypeFailed:
		if e.Reason == "" {
			return errors.New("failed event requires a reason")
		}
	case TypeThrottled:
		if e.Reason == "" {
			return errors.New("throttled event requires a reason")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Source returns the enriched source label, defaulting to live.
func (e Event) Source() string {
	if s, ok := e.Meta["source"]; ok {
		return s
	}
	return SourceLive
}
