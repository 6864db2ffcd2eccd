// Package enrich implements the competitor-price enrichment engine: the
// eligibility gate, result cache, deduplication window, circuit breaker,
// price statistics, and the concurrency-bounded scheduler that ties them
// together.
package enrich

import (
	"strings"
	"time"
)

// Match is a candidate produced by the marketplace listing scanners. The
// engine only reads it.
type Match struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	AskingPrice float64  `json:"asking_price,omitempty"`
	ROIScore    *float64 `json:"roi_score,omitempty"`
	Platform    string   `json:"platform"`
}

// DeriveKey builds the cache key for a competitor-price query. The result
// cache and the dedup window must agree on this derivation, so it lives in
// one place. An empty or whitespace-only query yields "".
func DeriveKey(platform, country, query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ""
	}
	return strings.ToLower(platform) + ":" + strings.ToLower(country) + ":" + q
}

// QueueItem is one admitted enrichment request awaiting the pump.
type QueueItem struct {
	Match       Match
	Key         string
	RequestedAt time.Time
}

// Outcome is the synchronous response to a submission. RetryAfter is only
// set for throttled reasons; wire shapes render it in milliseconds
// themselves, a raw duration would marshal as nanoseconds.
type Outcome struct {
	Enqueued   bool          `json:"enqueued"`
	Reason     string        `json:"reason"`
	RetryAfter time.Duration `json:"-"`
}

// Submission reason codes.
const (
	ReasonOK          = "ok"
	ReasonDisabled    = "disabled"
	ReasonSampledOut  = "sampled_out"
	ReasonBelowROI    = "below_roi_threshold"
	ReasonNoQuery     = "no_query"
	ReasonCached      = "cached"
	ReasonDuplicate   = "duplicate_request"
	ReasonCircuitOpen = "circuit_open"
	ReasonShutdown    = "shutting_down"
)

// Confidence labels for price statistics.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// PriceStats summarizes competitor prices extracted from one upstream fetch.
type PriceStats struct {
	AvgPrice   float64 `json:"avg_price"`
	LowPrice   float64 `json:"low_price"`
	HighPrice  float64 `json:"high_price"`
	Count      int     `json:"count"`
	Confidence string  `json:"confidence"`
}

// CompetitorPrice is one representative comparable offered downstream.
type CompetitorPrice struct {
	Platform   string  `json:"platform"`
	Price      float64 `json:"price"`
	ListingURL string  `json:"listing_url"`
	Confidence string  `json:"confidence"`
}

// CachedResult is the value stored in the result cache, shared with the
// direct price-lookup path.
type CachedResult struct {
	Query     string            `json:"query"`
	Stats     PriceStats        `json:"stats"`
	Prices    []CompetitorPrice `json:"prices"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
