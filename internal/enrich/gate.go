package enrich

import (
	"context"
	"math/rand"
)

// Gate decides whether enrichment is attempted for a match at all. Sampling
// and ROI gating are independent cost controls over a metered upstream,
// evaluated in a fixed order so the decision is deterministic for a given
// random draw.
type Gate struct {
	flags FlagSource
	draw  func() float64
}

// NewGate builds a Gate reading flags from the given source.
func NewGate(flags FlagSource) *Gate {
	return &Gate{flags: flags, draw: rand.Float64}
}

// NewGateWithDraw builds a Gate with an injected sample draw for tests.
func NewGateWithDraw(flags FlagSource, draw func() float64) *Gate {
	return &Gate{flags: flags, draw: draw}
}

// ShouldEnrich reports whether the match passes the gate, and the reason
// code when it does not. A match without an ROI score always passes the
// threshold check.
func (g *Gate) ShouldEnrich(ctx context.Context, m Match) (bool, string) {
	f := g.flags.Current(ctx)
	if !f.Enabled {
		return false, ReasonDisabled
	}
	if g.draw() >= f.SampleRate {
		return false, ReasonSampledOut
	}
	if m.ROIScore != nil && f.MinROIScore != nil && *m.ROIScore < *f.MinROIScore {
		return false, ReasonBelowROI
	}
	return true, ReasonOK
}
