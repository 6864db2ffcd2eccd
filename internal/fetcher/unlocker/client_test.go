package unlocker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/enrich"
)

type upstreamStub struct {
	mu        sync.Mutex
	responses []stubResponse
	requests  []unlockerRequest
}

type stubResponse struct {
	status     int
	body       string
	retryAfter string
}

func (s *upstreamStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		var req unlockerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.requests = append(s.requests, req)

		resp := stubResponse{status: http.StatusOK, body: "ok"}
		if len(s.responses) > 0 {
			resp = s.responses[0]
			s.responses = s.responses[1:]
		}
		if resp.retryAfter != "" {
			w.Header().Set("Retry-After", resp.retryAfter)
		}
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}
}

func (s *upstreamStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestClient(t *testing.T, stub *upstreamStub, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL
	cfg.Token = "test-token"
	cfg.RPS = 10000 // keep the limiter out of the way
	c := New(cfg, zap.NewNop())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestFetchSuccess(t *testing.T) {
	stub := &upstreamStub{responses: []stubResponse{{status: 200, body: "<html>$42</html>"}}}
	c := newTestClient(t, stub, Config{Zone: "zone-a"})

	res, err := c.Fetch(context.Background(), enrich.Query{Text: "makita drill", Platform: "ebay", Country: "us"})
	require.NoError(t, err)
	assert.Equal(t, "<html>$42</html>", res.Body)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, stub.calls())

	req := stub.requests[0]
	assert.Equal(t, "zone-a", req.Zone)
	assert.Equal(t, "raw", req.Format)
	assert.Equal(t, "us", req.Country)
	assert.Contains(t, req.URL, "ebay.com/sch")
	assert.Contains(t, req.URL, "makita+drill")
}

func TestFetchRetriesRateLimitThenSucceeds(t *testing.T) {
	stub := &upstreamStub{responses: []stubResponse{
		{status: 429, retryAfter: "1"},
		{status: 200, body: "ok"},
	}}
	c := newTestClient(t, stub, Config{MaxRetries: 3, BackoffBase: time.Millisecond})

	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	res, err := c.Fetch(context.Background(), enrich.Query{Text: "drill"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, stub.calls())

	// The server-supplied Retry-After (1s) beats the computed 1ms backoff.
	require.Len(t, waits, 1)
	assert.Equal(t, time.Second, waits[0])
}

func TestFetchAuthIsTerminal(t *testing.T) {
	stub := &upstreamStub{responses: []stubResponse{{status: 401}}}
	c := newTestClient(t, stub, Config{MaxRetries: 3, BackoffBase: time.Millisecond})

	_, err := c.Fetch(context.Background(), enrich.Query{Text: "drill"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, CodeAuth, uerr.Code)
	assert.Equal(t, 401, uerr.Status)
	assert.False(t, uerr.Retryable)
	assert.Equal(t, 1, uerr.Attempts)
	assert.Equal(t, 1, stub.calls(), "terminal errors must not be retried")
}

func TestFetchExhaustsRetries(t *testing.T) {
	stub := &upstreamStub{responses: []stubResponse{
		{status: 503}, {status: 503}, {status: 503}, {status: 503}, {status: 503},
	}}
	c := newTestClient(t, stub, Config{MaxRetries: 3, BackoffBase: time.Millisecond})

	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := c.Fetch(context.Background(), enrich.Query{Text: "drill"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, CodeUpstream, uerr.Code)
	assert.False(t, uerr.Retryable)
	assert.Equal(t, 4, uerr.Attempts, "initial call plus three retries")
	assert.Equal(t, 4, stub.calls())
	require.Len(t, waits, 3)
	assert.Less(t, waits[0], waits[1])
	assert.Less(t, waits[1], waits[2])
}

func TestFetchUnknownStatusIsTerminal(t *testing.T) {
	stub := &upstreamStub{responses: []stubResponse{{status: 500}}}
	c := newTestClient(t, stub, Config{MaxRetries: 3, BackoffBase: time.Millisecond})

	_, err := c.Fetch(context.Background(), enrich.Query{Text: "drill"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, CodeUnknown, uerr.Code)
	assert.Equal(t, 1, stub.calls())
}

func TestFetchTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection; otherwise it
		// never notices the client's timeout disconnect, r.Context() is never
		// canceled, and srv.Close deadlocks waiting for this handler.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := New(Config{
		Endpoint:   srv.URL,
		Timeout:    20 * time.Millisecond,
		MaxRetries: 0,
		RPS:        10000,
	}, zap.NewNop())

	_, err := c.Fetch(context.Background(), enrich.Query{Text: "drill"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, CodeTimeout, uerr.Code)
}

func TestFetchNetworkFailure(t *testing.T) {
	c := New(Config{
		Endpoint:   "http://127.0.0.1:1", // nothing listens here
		MaxRetries: 1,
		RPS:        10000,
	}, zap.NewNop())
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.Fetch(context.Background(), enrich.Query{Text: "drill"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, CodeNetwork, uerr.Code)
	assert.Equal(t, 2, uerr.Attempts)
}

func TestFetchContextCancelStopsRetries(t *testing.T) {
	stub := &upstreamStub{responses: []stubResponse{{status: 503}, {status: 503}}}
	c := newTestClient(t, stub, Config{MaxRetries: 3, BackoffBase: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return errors.New("canceled")
	}

	_, err := c.Fetch(ctx, enrich.Query{Text: "drill"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 1, stub.calls())
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
}

func TestBackoffGrowth(t *testing.T) {
	t.Parallel()

	c := New(Config{BackoffBase: 300 * time.Millisecond, BackoffFactor: 1.6}, zap.NewNop())
	assert.Equal(t, 300*time.Millisecond, c.backoff(0, 0))
	assert.Equal(t, 480*time.Millisecond, c.backoff(1, 0))
	assert.Equal(t, 2*time.Second, c.backoff(0, 2*time.Second))
}
