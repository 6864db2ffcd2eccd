// Package unlocker implements the retrying client for the web-unlocker
// scraping API that fronts competitor marketplaces.
package unlocker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/enrich"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/metrics"
)

// Config tunes the client. Zero values fall back to production defaults.
type Config struct {
	Endpoint      string
	Zone          string
	Token         string
	Timeout       time.Duration // full scraping calls
	LookupTimeout time.Duration // lighter direct lookups
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffFactor float64
	RPS           float64
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.brightdata.com/request"
	}
	if c.Zone == "" {
		c.Zone = "web_unlocker1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 12 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 300 * time.Millisecond
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1.6
	}
	if c.RPS <= 0 {
		c.RPS = 2.0
	}
}

// Client performs scraping calls through the unlocker proxy with retries,
// exponential backoff, and error classification. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// unlockerRequest is the proxy API request body.
type unlockerRequest struct {
	Zone    string `json:"zone"`
	URL     string `json:"url"`
	Format  string `json:"format"`
	Country string `json:"country,omitempty"`
}

// New builds a Client. The transport deliberately carries no timeout of its
// own; each call derives a deadline from its context.
func New(cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch runs one logical scraping call for the query's sold-listing search
// page, retrying per policy. The returned error, when not nil, is always an
// *UpstreamError with Retryable forced false.
func (c *Client) Fetch(ctx context.Context, q enrich.Query) (*enrich.FetchResult, error) {
	return c.do(ctx, q, c.cfg.Timeout)
}

// Lookup is the lighter direct-lookup variant used by the synchronous
// price-check endpoint. Same retry policy, shorter per-call timeout.
func (c *Client) Lookup(ctx context.Context, q enrich.Query) (*enrich.FetchResult, error) {
	return c.do(ctx, q, c.cfg.LookupTimeout)
}

func (c *Client) do(ctx context.Context, q enrich.Query, timeout time.Duration) (*enrich.FetchResult, error) {
	target := TargetURL(q)
	start := time.Now()
	attempts := 0

	var lastErr *UpstreamError
	for attempts <= c.cfg.MaxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			break
		}

		attempts++
		body, status, retryAfter, callErr := c.call(ctx, target, q.Country, timeout)
		if callErr == nil {
			return &enrich.FetchResult{
				Body:       body,
				StatusCode: status,
				SourceURL:  target,
				Attempts:   attempts,
				Duration:   time.Since(start),
			}, nil
		}

		lastErr = callErr
		lastErr.Attempts = attempts
		if !callErr.Retryable || attempts > c.cfg.MaxRetries {
			break
		}

		wait := c.backoff(attempts-1, retryAfter)
		c.logger.Debug("retrying upstream call",
			zap.String("url", target),
			zap.Int("attempt", attempts),
			zap.String("code", callErr.Code),
			zap.Duration("wait", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			break
		}
	}

	if lastErr == nil {
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		lastErr = classifyTransport(err)
		lastErr.Attempts = attempts
	}
	lastErr.Retryable = false
	c.logger.Warn("upstream call exhausted",
		zap.String("url", target),
		zap.String("code", lastErr.Code),
		zap.Int("attempts", lastErr.Attempts),
	)
	return nil, lastErr
}

// call performs exactly one physical request and records it in the usage
// counter regardless of outcome.
func (c *Client) call(ctx context.Context, target, country string, timeout time.Duration) (string, int, time.Duration, *UpstreamError) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(unlockerRequest{
		Zone:    c.cfg.Zone,
		URL:     target,
		Format:  "raw",
		Country: country,
	})
	if err != nil {
		return "", 0, 0, &UpstreamError{Code: CodeUnknown, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", 0, 0, &UpstreamError{Code: CodeUnknown, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		classified := classifyTransport(err)
		metrics.ObserveUpstreamCall(classified.Code, elapsed)
		return "", 0, 0, classified
	}
	defer resp.Body.Close()

	metrics.ObserveUpstreamCall(strconv.Itoa(resp.StatusCode), elapsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", 0, parseRetryAfter(resp.Header.Get("Retry-After")), classifyStatus(resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, 0, classifyTransport(err)
	}
	return string(raw), resp.StatusCode, 0, nil
}

// backoff computes the wait before the next try. A server-supplied
// retry-after always wins over the computed exponential delay.
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	computed := time.Duration(float64(c.cfg.BackoffBase) * math.Pow(c.cfg.BackoffFactor, float64(attempt)))
	if retryAfter > computed {
		return retryAfter
	}
	return computed
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// TargetURL builds the sold-listing search URL the unlocker proxy fetches
// for a query.
func TargetURL(q enrich.Query) string {
	v := url.Values{}
	v.Set("_nkw", q.Text)
	v.Set("LH_Sold", "1")
	v.Set("LH_Complete", "1")
	return "https://www.ebay.com/sch/i.html?" + v.Encode()
}
