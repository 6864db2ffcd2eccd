package enrich

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// Noise bounds for extracted price tokens.
	minPlausiblePrice = 1
	maxPlausiblePrice = 100000

	maxExtracted = 80 // tokens pulled from the raw body
	maxRetained  = 40 // samples kept for statistics
	iqrMinSample = 10 // below this the IQR filter is skipped
)

var priceToken = regexp.MustCompile(`[$€£]\s?\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?`)

// RegexPriceParser extracts currency-formatted tokens from a raw text blob.
// It is deliberately format-agnostic: sold-listing pages differ wildly and
// the statistics layer is responsible for suppressing the noise.
type RegexPriceParser struct{}

// ParsePrices returns numeric values for every currency token found, capped
// at the extraction bound.
func (RegexPriceParser) ParsePrices(text string) []float64 {
	tokens := priceToken.FindAllString(text, maxExtracted)
	prices := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		cleaned := strings.Map(func(r rune) rune {
			switch r {
			case '$', '€', '£', ',', ' ':
				return -1
			}
			return r
		}, tok)
		v, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			continue
		}
		prices = append(prices, v)
	}
	return prices
}

// ComputePriceStats filters raw samples and derives summary statistics.
// Values at or outside the plausibility bounds are dropped, the sample is
// capped, and with enough data points an IQR filter removes outliers before
// the mean/min/max are computed. Returns nil when nothing plausible remains.
func ComputePriceStats(raw []float64) *PriceStats {
	samples := make([]float64, 0, len(raw))
	for _, v := range raw {
		if v <= minPlausiblePrice || v >= maxPlausiblePrice {
			continue
		}
		samples = append(samples, v)
		if len(samples) == maxRetained {
			break
		}
	}
	if len(samples) == 0 {
		return nil
	}

	if len(samples) >= iqrMinSample {
		samples = filterIQR(samples)
	}

	sort.Float64s(samples)
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	n := len(samples)
	return &PriceStats{
		AvgPrice:   sum / float64(n),
		LowPrice:   samples[0],
		HighPrice:  samples[n-1],
		Count:      n,
		Confidence: confidenceFor(n),
	}
}

func confidenceFor(n int) string {
	switch {
	case n >= 10:
		return ConfidenceHigh
	case n >= 3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// filterIQR removes values outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR].
func filterIQR(samples []float64) []float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	kept := sorted[:0]
	for _, v := range sorted {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	return kept
}

// quantile computes the q-th quantile of a sorted sample using linear
// interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lower := int(pos)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
