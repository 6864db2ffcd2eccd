package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/api"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/enrich"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/events"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/flags"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage/memory"
)

type stubFetcher struct {
	body string
	err  error
}

func (s *stubFetcher) Fetch(context.Context, enrich.Query) (*enrich.FetchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &enrich.FetchResult{Body: s.body, StatusCode: 200, SourceURL: "https://example.test", Attempts: 1}, nil
}

func (s *stubFetcher) Lookup(ctx context.Context, q enrich.Query) (*enrich.FetchResult, error) {
	return s.Fetch(ctx, q)
}

type fixture struct {
	srv     *httptest.Server
	sched   *enrich.Scheduler
	fetcher *stubFetcher
}

func newFixture(t *testing.T, ready func(ctx context.Context) error) *fixture {
	t.Helper()

	kv := memory.New()
	cache := enrich.NewResultCache(kv, enrich.ResultCacheConfig{}, nil)
	fetcher := &stubFetcher{body: "$100 $110 $90"}
	breaker := enrich.NewBreaker(enrich.BreakerConfig{}, zap.NewNop())
	flagStore := flags.New(kv, flags.Config{
		Defaults: enrich.Flags{Enabled: true, SampleRate: 1},
	}, zap.NewNop())

	sched := enrich.NewScheduler(
		enrich.SchedulerConfig{BatchDelay: time.Millisecond},
		enrich.NewGateWithDraw(flagStore, func() float64 { return 0 }),
		cache,
		enrich.NewWindow(time.Minute, 500, nil),
		breaker,
		fetcher,
		enrich.RegexPriceParser{},
		events.NopEmitter{},
		zap.NewNop(),
	)
	t.Cleanup(func() { _ = sched.Close(context.Background()) })

	checker := enrich.NewPriceChecker("ebay", "us", cache, fetcher, enrich.RegexPriceParser{}, breaker, zap.NewNop())
	server := api.NewServer(sched, checker, cache, flagStore, ready, zap.NewNop())

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, sched: sched, fetcher: fetcher}
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, raw
}

func TestSubmitMatchAccepted(t *testing.T) {
	fx := newFixture(t, nil)

	resp, raw := doJSON(t, http.MethodPost, fx.srv.URL+"/v1/matches",
		`{"id":"m1","title":"Makita Drill","platform":"craigslist"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Enqueued bool   `json:"enqueued"`
		Reason   string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, out.Enqueued)
	assert.Equal(t, "ok", out.Reason)
}

func TestSubmitMatchValidation(t *testing.T) {
	fx := newFixture(t, nil)

	resp, _ := doJSON(t, http.MethodPost, fx.srv.URL+"/v1/matches", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, fx.srv.URL+"/v1/matches", `{"title":"Makita Drill"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitMatchDeniedReasonsReturnOK(t *testing.T) {
	fx := newFixture(t, nil)

	resp, raw := doJSON(t, http.MethodPost, fx.srv.URL+"/v1/matches", `{"id":"m1","title":"   "}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Enqueued bool   `json:"enqueued"`
		Reason   string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.False(t, out.Enqueued)
	assert.Equal(t, "no_query", out.Reason)
}

func TestPriceCheck(t *testing.T) {
	fx := newFixture(t, nil)

	resp, raw := doJSON(t, http.MethodGet, fx.srv.URL+"/v1/price-check?q=makita+drill", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Query string            `json:"query"`
		Stats enrich.PriceStats `json:"stats"`
		Stale bool              `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "makita drill", out.Query)
	assert.Equal(t, 3, out.Stats.Count)
	assert.InDelta(t, 100.0, out.Stats.AvgPrice, 0.0001)
	assert.False(t, out.Stale)
}

func TestPriceCheckRequiresQuery(t *testing.T) {
	fx := newFixture(t, nil)

	resp, _ := doJSON(t, http.MethodGet, fx.srv.URL+"/v1/price-check", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPriceCheckUpstreamFailure(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fetcher.err = errors.New("connection refused")

	resp, _ := doJSON(t, http.MethodGet, fx.srv.URL+"/v1/price-check?q=drill", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	fx := newFixture(t, nil)

	resp, raw := doJSON(t, http.MethodGet, fx.srv.URL+"/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		BreakerState string `json:"breaker_state"`
		QueueDepth   int    `json:"queue_depth"`
		ActiveCount  int    `json:"active_count"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "closed", out.BreakerState)
}

func TestHealthAndReadiness(t *testing.T) {
	fx := newFixture(t, nil)

	resp, _ := doJSON(t, http.MethodGet, fx.srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, fx.srv.URL+"/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	failing := newFixture(t, func(context.Context) error { return errors.New("substrate down") })
	resp, _ = doJSON(t, http.MethodGet, failing.srv.URL+"/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFlagsRoundTrip(t *testing.T) {
	fx := newFixture(t, nil)

	resp, _ := doJSON(t, http.MethodPut, fx.srv.URL+"/v1/flags", `{"enabled":false,"sample_rate":0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodGet, fx.srv.URL+"/v1/flags", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got enrich.Flags
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.False(t, got.Enabled)
	assert.Equal(t, 0.5, got.SampleRate)

	resp, _ = doJSON(t, http.MethodPut, fx.srv.URL+"/v1/flags", `{"enabled":true,"sample_rate":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearCache(t *testing.T) {
	fx := newFixture(t, nil)

	// Warm the cache through a lookup, then clear it.
	resp, _ := doJSON(t, http.MethodGet, fx.srv.URL+"/v1/price-check?q=drill", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodDelete, fx.srv.URL+"/v1/cache", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]int
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 1, out["removed"])
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newFixture(t, nil)

	resp, raw := doJSON(t, http.MethodGet, fx.srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "enricher_")
}

func TestRequestIDHeader(t *testing.T) {
	fx := newFixture(t, nil)

	resp, _ := doJSON(t, http.MethodGet, fx.srv.URL+"/healthz", "")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
