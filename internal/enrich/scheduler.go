package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/events"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/metrics"
)

// classifiedError is satisfied by the upstream client's errors, keeping the
// scheduler decoupled from the transport package.
type classifiedError interface {
	error
	HTTPStatus() int
	ErrorCode() string
	AttemptCount() int
}

// SchedulerConfig tunes the orchestrator.
type SchedulerConfig struct {
	Platform      string        // competitor platform queries run against, default "ebay"
	Country       string        // default "us"
	MaxConcurrent int           // concurrency ceiling, default 5
	BatchDelay    time.Duration // micro-batch debounce, default 50ms
	MaxComps      int           // representative comps per enriched event, default 10
}

func (c *SchedulerConfig) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "ebay"
	}
	if c.Country == "" {
		c.Country = "us"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 50 * time.Millisecond
	}
	if c.MaxComps <= 0 {
		c.MaxComps = 10
	}
}

// Scheduler owns the enrichment pipeline: admission, micro-batching, the
// bounded pump loop, per-item processing, and outcome events. All mutable
// state (batch buffer, work queue, active set) is owned exclusively by it.
type Scheduler struct {
	cfg     SchedulerConfig
	gate    *Gate
	cache   *ResultCache
	dedup   *Window
	breaker *Breaker
	fetcher Fetcher
	parser  PriceParser
	emitter events.Emitter
	logger  *zap.Logger
	clock   Clock

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	batch      []QueueItem
	batchTimer *time.Timer
	queue      []QueueItem
	active     map[string]struct{}
	closed     bool
}

// NewScheduler wires the pipeline together. All collaborators are required
// except emitter and clock, which default to no-op and system time.
func NewScheduler(
	cfg SchedulerConfig,
	gate *Gate,
	cache *ResultCache,
	dedup *Window,
	breaker *Breaker,
	fetcher Fetcher,
	parser PriceParser,
	emitter events.Emitter,
	logger *zap.Logger,
) *Scheduler {
	cfg.applyDefaults()
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		gate:    gate,
		cache:   cache,
		dedup:   dedup,
		breaker: breaker,
		fetcher: fetcher,
		parser:  parser,
		emitter: emitter,
		logger:  logger,
		clock:   SystemClock(),
		baseCtx: ctx,
		cancel:  cancel,
		active:  make(map[string]struct{}),
	}
}

// Submit runs the admission pipeline for one match and returns promptly.
// The actual network work happens asynchronously; callers learn the final
// outcome through events, never through this return value.
func (s *Scheduler) Submit(ctx context.Context, m Match) Outcome {
	out := s.admit(ctx, m)
	metrics.ObserveSubmission(out.Reason)
	return out
}

func (s *Scheduler) admit(ctx context.Context, m Match) Outcome {
	if ok, reason := s.gate.ShouldEnrich(ctx, m); !ok {
		return Outcome{Reason: reason}
	}

	key := DeriveKey(s.cfg.Platform, s.cfg.Country, m.Title)
	if key == "" {
		return Outcome{Reason: ReasonNoQuery}
	}

	if hit := s.readCache(ctx, key); hit != nil {
		s.emitEnriched(m.ID, hit.Entry.Value, hit.Stale, sourceLabel(hit.Stale))
		return Outcome{Reason: ReasonCached}
	}

	if recent, remaining := s.dedup.RecentlyAttempted(key); recent {
		s.emitThrottled(m.ID, ReasonDuplicate, remaining)
		return Outcome{Reason: ReasonDuplicate, RetryAfter: remaining}
	}

	if !s.breaker.Admissible() {
		retryAfter := s.breaker.RetryAfter()
		s.emitThrottled(m.ID, ReasonCircuitOpen, retryAfter)
		return Outcome{Reason: ReasonCircuitOpen, RetryAfter: retryAfter}
	}

	item := QueueItem{Match: m, Key: key, RequestedAt: s.clock.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Outcome{Reason: ReasonShutdown}
	}
	s.batch = append(s.batch, item)
	metrics.SetQueueDepth(len(s.queue) + len(s.batch))
	if s.batchTimer == nil {
		s.batchTimer = time.AfterFunc(s.cfg.BatchDelay, s.flushBatch)
	}
	return Outcome{Enqueued: true, Reason: ReasonOK}
}

// readCache treats any storage failure as a miss.
func (s *Scheduler) readCache(ctx context.Context, key string) *CacheHit {
	hit, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.ObserveCacheRead("error")
		s.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		return nil
	}
	switch {
	case hit == nil:
		metrics.ObserveCacheRead("miss")
	case hit.Stale:
		metrics.ObserveCacheRead("stale")
	default:
		metrics.ObserveCacheRead("fresh")
	}
	return hit
}

// flushBatch moves the buffered items into the work queue and kicks the pump.
func (s *Scheduler) flushBatch() {
	s.mu.Lock()
	s.batchTimer = nil
	s.queue = append(s.queue, s.batch...)
	s.batch = nil
	metrics.SetQueueDepth(len(s.queue) + len(s.batch))
	s.mu.Unlock()
	s.pump()
}

// pump drains the queue while capacity remains and the breaker admits. Items
// whose key is already in flight are kept for a later cycle rather than
// dropped; the dedup window is marked at dequeue time so failed attempts
// still suppress immediate re-submission.
func (s *Scheduler) pump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	var deferred []QueueItem
	for len(s.queue) > 0 && len(s.active) < s.cfg.MaxConcurrent && s.breaker.Admissible() {
		item := s.queue[0]
		s.queue = s.queue[1:]

		if _, inFlight := s.active[item.Key]; inFlight {
			deferred = append(deferred, item)
			continue
		}

		// A deferred item may have watched its twin complete; the window
		// was marked at that twin's dequeue, so this one is a re-attempt.
		if recent, remaining := s.dedup.RecentlyAttempted(item.Key); recent {
			s.emitThrottled(item.Match.ID, ReasonDuplicate, remaining)
			continue
		}

		s.dedup.MarkAttempted(item.Key)
		s.active[item.Key] = struct{}{}
		s.wg.Add(1)
		go s.process(item)
	}
	s.queue = append(deferred, s.queue...)
	metrics.SetQueueDepth(len(s.queue) + len(s.batch))
}

// process runs one enrichment attempt end to end. Failures never propagate;
// they surface as failed events and breaker accounting.
func (s *Scheduler) process(item QueueItem) {
	defer s.wg.Done()
	defer s.finish(item.Key)

	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()

	done, err := s.breaker.Acquire()
	if err != nil {
		// The breaker closed the admission gap between pump and here,
		// or the half-open trial slot is taken.
		s.emitThrottled(item.Match.ID, ReasonCircuitOpen, s.breaker.RetryAfter())
		return
	}

	res, err := s.fetcher.Fetch(s.baseCtx, Query{
		Text:     strings.TrimSpace(item.Match.Title),
		Platform: s.cfg.Platform,
		Country:  s.cfg.Country,
	})
	if err != nil {
		done(false)
		s.emitFailed(item.Match.ID, err)
		return
	}
	done(true)

	samples := s.parser.ParsePrices(res.Body)
	stats := ComputePriceStats(samples)
	if stats == nil {
		// The upstream answered, so the breaker already counted a
		// success; the page just held no usable comps. Not cached, so
		// a later submission can try again once the dedup window ends.
		s.emitNoComps(item.Match.ID, res.Attempts)
		return
	}

	result := CachedResult{
		Query:     strings.TrimSpace(item.Match.Title),
		Stats:     *stats,
		Prices:    s.buildComps(samples, stats.Confidence, res.SourceURL),
		FetchedAt: s.clock.Now().UTC(),
	}
	if err := s.cache.Set(s.baseCtx, item.Key, result); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", item.Key), zap.Error(err))
	}

	s.emitEnriched(item.Match.ID, result, false, events.SourceLive)
}

// finish releases the key, runs the opportunistic dedup sweep, and gives the
// pump another turn.
func (s *Scheduler) finish(key string) {
	s.mu.Lock()
	delete(s.active, key)
	s.mu.Unlock()
	s.dedup.Sweep()
	s.pump()
}

// buildComps picks representative comparables from the plausible samples.
func (s *Scheduler) buildComps(samples []float64, confidence, sourceURL string) []CompetitorPrice {
	comps := make([]CompetitorPrice, 0, s.cfg.MaxComps)
	for _, v := range samples {
		if v <= minPlausiblePrice || v >= maxPlausiblePrice {
			continue
		}
		comps = append(comps, CompetitorPrice{
			Platform:   s.cfg.Platform,
			Price:      v,
			ListingURL: sourceURL,
			Confidence: confidence,
		})
		if len(comps) == s.cfg.MaxComps {
			break
		}
	}
	return comps
}

func sourceLabel(stale bool) string {
	if stale {
		return events.SourceStale
	}
	return events.SourceCached
}

func (s *Scheduler) emitEnriched(matchID string, result CachedResult, stale bool, source string) {
	prices := make([]events.CompetitorPrice, 0, len(result.Prices))
	for _, p := range result.Prices {
		prices = append(prices, events.CompetitorPrice(p))
	}
	s.emitter.Emit(events.Event{
		Type:    events.TypeEnriched,
		MatchID: matchID,
		TS:      s.clock.Now(),
		Prices:  prices,
		Patch: &events.Patch{
			AvgPrice:   result.Stats.AvgPrice,
			LowPrice:   result.Stats.LowPrice,
			HighPrice:  result.Stats.HighPrice,
			CompsCount: result.Stats.Count,
			Stale:      stale,
		},
		Meta: map[string]string{
			"source":     source,
			"confidence": result.Stats.Confidence,
			"query":      result.Query,
		},
	})
}

func (s *Scheduler) emitFailed(matchID string, err error) {
	evt := events.Event{
		Type:      events.TypeFailed,
		MatchID:   matchID,
		TS:        s.clock.Now(),
		Reason:    "upstream_error",
		WillRetry: false,
	}
	var cerr classifiedError
	if errors.As(err, &cerr) {
		evt.AttemptCount = cerr.AttemptCount()
		evt.Upstream = &events.UpstreamError{
			Status:  cerr.HTTPStatus(),
			Code:    cerr.ErrorCode(),
			Message: cerr.Error(),
		}
	} else {
		evt.Upstream = &events.UpstreamError{Message: err.Error()}
	}
	s.emitter.Emit(evt)
}

func (s *Scheduler) emitNoComps(matchID string, attempts int) {
	s.emitter.Emit(events.Event{
		Type:         events.TypeFailed,
		MatchID:      matchID,
		TS:           s.clock.Now(),
		Reason:       "no_comps_found",
		AttemptCount: attempts,
	})
}

func (s *Scheduler) emitThrottled(matchID, reason string, retryAfter time.Duration) {
	s.emitter.Emit(events.Event{
		Type:         events.TypeThrottled,
		MatchID:      matchID,
		TS:           s.clock.Now(),
		Reason:       reason,
		RetryAfterMs: retryAfter.Milliseconds(),
	})
}

// QueueDepth reports items waiting in the work queue plus the batch buffer.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + len(s.batch)
}

// ActiveCount reports in-flight enrichment attempts.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// BreakerState exposes the breaker state for the status endpoint.
func (s *Scheduler) BreakerState() string {
	return s.breaker.State()
}

// Close stops admission, cancels in-flight fetches, and waits for workers to
// drain or the context to expire. Queued items that never started are
// dropped silently.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	s.batch = nil
	s.queue = nil
	metrics.SetQueueDepth(0)
	s.mu.Unlock()

	s.cancel()

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
