package enrich

import (
	"context"
	"time"
)

// Query identifies one competitor-price lookup against the upstream API.
type Query struct {
	Text     string
	Platform string
	Country  string
}

// FetchResult is the raw upstream response after retries resolved.
type FetchResult struct {
	Body       string
	StatusCode int
	SourceURL  string
	Attempts   int
	Duration   time.Duration
}

// Fetcher performs one logical upstream scraping call, including per-call
// timeout, retries, and error classification.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (*FetchResult, error)
}

// PriceParser extracts raw price samples from an upstream response body.
// Kept narrow so the statistical logic stays independent of page format.
type PriceParser interface {
	ParsePrices(text string) []float64
}

// FlagSource supplies the current eligibility flags. Implementations may
// read a stored flag document or return static configuration.
type FlagSource interface {
	Current(ctx context.Context) Flags
}

// Flags is the process-wide eligibility configuration.
type Flags struct {
	Enabled     bool     `json:"enabled"`
	SampleRate  float64  `json:"sample_rate"`
	MinROIScore *float64 `json:"min_roi_score"`
}

// StaticFlags adapts a fixed Flags value to FlagSource.
type StaticFlags Flags

// Current returns the fixed flags.
func (f StaticFlags) Current(context.Context) Flags { return Flags(f) }
