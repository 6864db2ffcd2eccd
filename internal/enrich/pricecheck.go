package enrich

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/metrics"
)

// Price-check failures surfaced to the API layer.
var (
	ErrNoQuery = errors.New("query is empty")
	ErrNoComps = errors.New("no comparable prices found")
)

// LookupFetcher extends Fetcher with the lighter short-timeout lookup call.
type LookupFetcher interface {
	Fetcher
	Lookup(ctx context.Context, q Query) (*FetchResult, error)
}

// PriceChecker serves the synchronous price-lookup path. It shares the
// result cache and circuit breaker with the scheduler but calls the upstream
// inline with the shorter lookup timeout. When the upstream is unavailable a
// stale cache entry is returned as a degraded answer.
type PriceChecker struct {
	platform string
	country  string
	cache    *ResultCache
	fetcher  LookupFetcher
	parser   PriceParser
	breaker  *Breaker
	clock    Clock
	logger   *zap.Logger
}

// NewPriceChecker wires the lookup path.
func NewPriceChecker(
	platform, country string,
	cache *ResultCache,
	fetcher LookupFetcher,
	parser PriceParser,
	breaker *Breaker,
	logger *zap.Logger,
) *PriceChecker {
	if platform == "" {
		platform = "ebay"
	}
	if country == "" {
		country = "us"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceChecker{
		platform: platform,
		country:  country,
		cache:    cache,
		fetcher:  fetcher,
		parser:   parser,
		breaker:  breaker,
		clock:    SystemClock(),
		logger:   logger,
	}
}

// Check returns competitor price statistics for a free-form query. The bool
// result marks a stale (degraded) answer.
func (p *PriceChecker) Check(ctx context.Context, query string) (*CachedResult, bool, error) {
	key := DeriveKey(p.platform, p.country, query)
	if key == "" {
		return nil, false, ErrNoQuery
	}

	var fallback *CachedResult
	hit, err := p.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.ObserveCacheRead("error")
		p.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
	case hit == nil:
		metrics.ObserveCacheRead("miss")
	case !hit.Stale:
		metrics.ObserveCacheRead("fresh")
		return &hit.Entry.Value, false, nil
	default:
		metrics.ObserveCacheRead("stale")
		fallback = &hit.Entry.Value
	}

	done, err := p.breaker.Acquire()
	if err != nil {
		if fallback != nil {
			return fallback, true, nil
		}
		return nil, false, ErrBreakerOpen
	}

	res, err := p.fetcher.Lookup(ctx, Query{
		Text:     strings.TrimSpace(query),
		Platform: p.platform,
		Country:  p.country,
	})
	if err != nil {
		done(false)
		if fallback != nil {
			return fallback, true, nil
		}
		return nil, false, err
	}
	done(true)

	samples := p.parser.ParsePrices(res.Body)
	stats := ComputePriceStats(samples)
	if stats == nil {
		if fallback != nil {
			return fallback, true, nil
		}
		return nil, false, ErrNoComps
	}

	result := CachedResult{
		Query:     strings.TrimSpace(query),
		Stats:     *stats,
		FetchedAt: p.clock.Now().UTC(),
	}
	for _, v := range samples {
		if v <= minPlausiblePrice || v >= maxPlausiblePrice {
			continue
		}
		result.Prices = append(result.Prices, CompetitorPrice{
			Platform:   p.platform,
			Price:      v,
			ListingURL: res.SourceURL,
			Confidence: stats.Confidence,
		})
		if len(result.Prices) == 10 {
			break
		}
	}

	if err := p.cache.Set(ctx, key, result); err != nil {
		p.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return &result, false, nil
}
