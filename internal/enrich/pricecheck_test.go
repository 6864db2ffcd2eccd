package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage/memory"
)

type stubLookupFetcher struct {
	mu      sync.Mutex
	calls   int
	handler func(q Query) (*FetchResult, error)
}

func (s *stubLookupFetcher) Fetch(ctx context.Context, q Query) (*FetchResult, error) {
	return s.Lookup(ctx, q)
}

func (s *stubLookupFetcher) Lookup(_ context.Context, q Query) (*FetchResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.handler != nil {
		return s.handler(q)
	}
	return &FetchResult{Body: "$100 $110 $90", StatusCode: 200, SourceURL: "https://example.test", Attempts: 1}, nil
}

func (s *stubLookupFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type checkerFixture struct {
	checker *PriceChecker
	fetcher *stubLookupFetcher
	cache   *ResultCache
	clock   *fakeClock
	breaker *Breaker
}

func newCheckerFixture(t *testing.T) *checkerFixture {
	t.Helper()
	clock := newFakeClock(time.Unix(1700000000, 0))
	cache := NewResultCache(memory.New(), ResultCacheConfig{TTL: time.Hour}, clock)
	fetcher := &stubLookupFetcher{}
	breaker := NewBreaker(BreakerConfig{Threshold: 1, Reset: time.Minute}, zap.NewNop())
	checker := NewPriceChecker("ebay", "us", cache, fetcher, RegexPriceParser{}, breaker, zap.NewNop())
	return &checkerFixture{checker: checker, fetcher: fetcher, cache: cache, clock: clock, breaker: breaker}
}

// seedExpired plants an entry for the query and moves the clock past its TTL.
func (fx *checkerFixture) seedExpired(t *testing.T, query string) CachedResult {
	t.Helper()
	value := testResult(query)
	require.NoError(t, fx.cache.Set(context.Background(), DeriveKey("ebay", "us", query), value))
	fx.clock.Advance(2 * time.Hour)
	return value
}

// tripBreaker records one failed attempt, enough at threshold 1 to open.
func (fx *checkerFixture) tripBreaker(t *testing.T) {
	t.Helper()
	done, err := fx.breaker.Acquire()
	require.NoError(t, err)
	done(false)
	require.Equal(t, "open", fx.breaker.State())
}

func TestCheckEmptyQuery(t *testing.T) {
	fx := newCheckerFixture(t)

	_, _, err := fx.checker.Check(context.Background(), "   ")
	require.ErrorIs(t, err, ErrNoQuery)
	assert.Zero(t, fx.fetcher.callCount())
}

func TestCheckLiveLookupCachesResult(t *testing.T) {
	fx := newCheckerFixture(t)
	ctx := context.Background()

	result, stale, err := fx.checker.Check(ctx, "Makita Drill")
	require.NoError(t, err)
	require.False(t, stale)
	assert.InDelta(t, 100.0, result.Stats.AvgPrice, 0.0001)
	assert.Equal(t, 3, result.Stats.Count)
	assert.Equal(t, 1, fx.fetcher.callCount())

	// The second lookup is answered from the cache.
	result, stale, err = fx.checker.Check(ctx, "makita drill ")
	require.NoError(t, err)
	require.False(t, stale)
	assert.Equal(t, 3, result.Stats.Count)
	assert.Equal(t, 1, fx.fetcher.callCount())
}

func TestCheckStaleFallbackWhenBreakerOpen(t *testing.T) {
	fx := newCheckerFixture(t)
	seeded := fx.seedExpired(t, "makita drill")
	fx.tripBreaker(t)

	result, stale, err := fx.checker.Check(context.Background(), "Makita Drill")
	require.NoError(t, err)
	require.True(t, stale)
	require.NotNil(t, result)
	assert.Equal(t, seeded, *result)
	assert.Zero(t, fx.fetcher.callCount(), "an open circuit must not reach the upstream")
}

func TestCheckBreakerOpenWithoutFallback(t *testing.T) {
	fx := newCheckerFixture(t)
	fx.tripBreaker(t)

	_, _, err := fx.checker.Check(context.Background(), "Makita Drill")
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.Zero(t, fx.fetcher.callCount())
}

func TestCheckStaleFallbackOnUpstreamError(t *testing.T) {
	fx := newCheckerFixture(t)
	seeded := fx.seedExpired(t, "makita drill")
	fx.fetcher.handler = func(Query) (*FetchResult, error) {
		return nil, errors.New("connection refused")
	}

	result, stale, err := fx.checker.Check(context.Background(), "Makita Drill")
	require.NoError(t, err)
	require.True(t, stale)
	assert.Equal(t, seeded, *result)
	assert.Equal(t, 1, fx.fetcher.callCount())
}

func TestCheckUpstreamErrorWithoutFallback(t *testing.T) {
	fx := newCheckerFixture(t)
	boom := errors.New("connection refused")
	fx.fetcher.handler = func(Query) (*FetchResult, error) { return nil, boom }

	_, _, err := fx.checker.Check(context.Background(), "Makita Drill")
	require.ErrorIs(t, err, boom)
}

func TestCheckStaleFallbackWhenNoComps(t *testing.T) {
	fx := newCheckerFixture(t)
	seeded := fx.seedExpired(t, "makita drill")
	fx.fetcher.handler = func(Query) (*FetchResult, error) {
		return &FetchResult{Body: "nothing for sale here", StatusCode: 200, Attempts: 1}, nil
	}

	result, stale, err := fx.checker.Check(context.Background(), "Makita Drill")
	require.NoError(t, err)
	require.True(t, stale)
	assert.Equal(t, seeded, *result)
	// An empty answer is still a healthy upstream.
	assert.Equal(t, "closed", fx.breaker.State())
}

func TestCheckNoCompsWithoutFallback(t *testing.T) {
	fx := newCheckerFixture(t)
	fx.fetcher.handler = func(Query) (*FetchResult, error) {
		return &FetchResult{Body: "nothing for sale here", StatusCode: 200, Attempts: 1}, nil
	}

	_, _, err := fx.checker.Check(context.Background(), "Makita Drill")
	require.ErrorIs(t, err, ErrNoComps)
}
