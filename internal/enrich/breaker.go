package enrich

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/metrics"
)

// ErrBreakerOpen is returned by Acquire while the upstream is considered
// unhealthy (open state, or the half-open trial slot is taken).
var ErrBreakerOpen = errors.New("upstream circuit open")

// BreakerConfig controls trip and recovery behavior.
type BreakerConfig struct {
	Threshold int           // consecutive failures before tripping, default 10
	Reset     time.Duration // open window before a half-open trial, default 60s
}

// Breaker tracks upstream health across all enrichment attempts. It wraps a
// two-step gobreaker so admission checks and outcome recording can happen at
// different points of the pipeline. The open-to-half-open transition happens
// lazily on the next admission check; a single failure during the half-open
// trial re-opens the circuit.
type Breaker struct {
	cb     *gobreaker.TwoStepCircuitBreaker
	reset  time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	openedAt time.Time
}

// NewBreaker builds a Breaker.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.Reset <= 0 {
		cfg.Reset = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{reset: cfg.Reset, logger: logger}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        "upstream-scraper",
		MaxRequests: 1, // one trial at a time while half-open
		Timeout:     cfg.Reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Threshold)
		},
		OnStateChange: b.onStateChange,
	})
	return b
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	if to == gobreaker.StateOpen {
		b.mu.Lock()
		b.openedAt = time.Now()
		b.mu.Unlock()
	}
	metrics.SetBreakerState(stateGaugeValue(to))
	b.logger.Warn("circuit breaker state changed",
		zap.String("breaker", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Admissible reports whether a new attempt may proceed. Checking the state
// is what performs the lazy open-to-half-open transition once the reset
// window has elapsed.
func (b *Breaker) Admissible() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// Acquire reserves one tracked attempt. The returned done callback must be
// invoked exactly once with the attempt outcome; it drives the trip and
// recovery transitions. Returns ErrBreakerOpen when admission is denied.
func (b *Breaker) Acquire() (func(success bool), error) {
	done, err := b.cb.Allow()
	if err != nil {
		return nil, ErrBreakerOpen
	}
	return done, nil
}

// RetryAfter reports the remaining open window, zero when not open.
func (b *Breaker) RetryAfter() time.Duration {
	if b.cb.State() != gobreaker.StateOpen {
		return 0
	}
	b.mu.Lock()
	openedAt := b.openedAt
	b.mu.Unlock()
	remaining := b.reset - time.Since(openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State reports the current state name for introspection.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// FailureCount reports consecutive failures since the last healthy
// confirmation.
func (b *Breaker) FailureCount() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}

func stateGaugeValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
