// Package flags reads the enrichment feature-flag document from the shared
// key-value store, falling back to static configuration when the document is
// absent or unreadable.
package flags

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/enrich"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage"
)

// Config locates the flag document and tunes the refresh cadence.
type Config struct {
	Key      string        // default "flags:enrichment"
	Refresh  time.Duration // how long a read is reused, default 30s
	Defaults enrich.Flags  // served when the document is missing
}

// Store serves the current flags with a small read-through cache so the gate
// does not hit the substrate on every submission.
type Store struct {
	kv     storage.KV
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	current   enrich.Flags
	fetchedAt time.Time
}

// New builds a Store. The defaults are served until the first successful
// read and whenever the document disappears.
func New(kv storage.KV, cfg Config, logger *zap.Logger) *Store {
	if cfg.Key == "" {
		cfg.Key = "flags:enrichment"
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:      kv,
		cfg:     cfg,
		logger:  logger,
		current: cfg.Defaults,
	}
}

// Current returns the active flags, re-reading the document once the cached
// copy is older than the refresh interval. Read failures keep the previous
// value so a flaky substrate cannot flap the gate.
func (s *Store) Current(ctx context.Context) enrich.Flags {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetchedAt) < s.cfg.Refresh {
		return s.current
	}
	s.fetchedAt = time.Now()

	raw, err := s.kv.Get(ctx, s.cfg.Key)
	if errors.Is(err, storage.ErrNotFound) {
		s.current = s.cfg.Defaults
		return s.current
	}
	if err != nil {
		s.logger.Warn("flag document read failed, keeping previous flags", zap.Error(err))
		return s.current
	}

	var f enrich.Flags
	if err := json.Unmarshal(raw, &f); err != nil {
		s.logger.Warn("flag document is malformed, keeping previous flags", zap.Error(err))
		return s.current
	}
	if f.SampleRate < 0 || f.SampleRate > 1 {
		s.logger.Warn("flag document has out-of-range sample_rate, keeping previous flags",
			zap.Float64("sample_rate", f.SampleRate))
		return s.current
	}
	s.current = f
	return s.current
}

// Update writes a new flag document and makes it active immediately.
func (s *Store) Update(ctx context.Context, f enrich.Flags) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.cfg.Key, raw, 0); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = f
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}
