package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dan-elliott-appneta/sequel/telemetry"
)

// Sweeper periodically removes expired entries that nobody looked up
// again. Lazy expiry on Get alone would let an expired entry hold memory
// indefinitely; the sweep bounds worst-case peak memory between accesses.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SweepResult contains the results of one sweep.
type SweepResult struct {
	Expired    int
	BytesFreed int64
	Duration   time.Duration
}

// NewSweeper creates a sweeper for the given cache.
func NewSweeper(c *Cache, cfg Config) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		cache:    c,
		interval: cfg.SweepInterval,
		logger:   cfg.Logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins background sweeping. Calling Start on a running or stopped
// sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops background sweeping and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs a single sweep. The cache mutex is held only for the
// removal batch, so foreground lookups are blocked no longer than the
// batch takes.
func (s *Sweeper) RunOnce() SweepResult {
	start := s.now()

	expired, freed := s.cache.removeExpired()

	result := SweepResult{
		Expired:    expired,
		BytesFreed: freed,
		Duration:   s.now().Sub(start),
	}

	telemetry.RecordSweep(result.Duration, result.Expired)

	if result.Expired > 0 {
		s.logger.Info("cache sweep complete",
			"expired", result.Expired,
			"bytes_freed", result.BytesFreed,
			"duration", result.Duration,
		)
	} else {
		s.logger.Debug("cache sweep complete, nothing expired")
	}

	return result
}
