package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Scheduler defaults, overridable via SchedulerConfig.
const (
	DefaultRetryInterval  = 5 * time.Minute
	DefaultRetryBatchSize = 50
	DefaultRetryBaseDelay = time.Minute
	DefaultRetryMaxDelay  = 30 * time.Minute
)

// SchedulerConfig configures the retry scheduler.
type SchedulerConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// BatchSize caps items re-driven per sweep.
	BatchSize int

	// MaxAttempts before an item goes FAILED.
	MaxAttempts int

	// BaseDelay and MaxDelay bound the per-item exponential cool-down.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultSchedulerConfig returns the production defaults: sweep every five
// minutes, at most 50 items per sweep, five attempts, cool-down doubling from
// one minute up to thirty.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    DefaultRetryInterval,
		BatchSize:   DefaultRetryBatchSize,
		MaxAttempts: MaxRetryAttempts,
		BaseDelay:   DefaultRetryBaseDelay,
		MaxDelay:    DefaultRetryMaxDelay,
	}
}

// Scheduler periodically re-drives items stuck in QUEUED_RETRY. Retry state
// lives entirely in the record store, so a restarted process resumes exactly
// where the previous one stopped; there are no in-memory timers to lose.
type Scheduler struct {
	service *Service
	config  SchedulerConfig

	// Stats
	sweeps    atomic.Int64
	attempted atomic.Int64

	// Control
	stopCh chan struct{}
	wg     sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a Scheduler. Zero config fields fall back to defaults.
func NewScheduler(service *Service, config SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.Interval == 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize == 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BaseDelay == 0 {
		config.BaseDelay = def.BaseDelay
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = def.MaxDelay
	}

	return &Scheduler{
		service: service,
		config:  config,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start begins sweeping in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	log.Info().Dur("interval", s.config.Interval).Int("batch_size", s.config.BatchSize).
		Int("max_attempts", s.config.MaxAttempts).Msg("scheduler: started")
}

// Stop gracefully stops the scheduler, waiting for an in-flight sweep.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Stats returns sweep and attempt counts.
func (s *Scheduler) Stats() (sweeps, attempted int64) {
	return s.sweeps.Load(), s.attempted.Load()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: context cancelled, stopping")
			return
		case <-s.stopCh:
			log.Info().Msg("scheduler: stop requested, stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: list queued items oldest first, skip those still in
// cool-down, re-drive the rest. Exported so tests and operator tooling can
// trigger a pass without waiting out the ticker.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.sweeps.Add(1)
	metrics.RetrySweepsTotal.Inc()

	items, err := s.service.contents.ListByStatus(ctx, StatusQueuedRetry, s.config.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list queued items")
		return
	}
	if len(items) == 0 {
		return
	}

	now := s.now().UTC()
	processed := 0
	for i := range items {
		item := &items[i]
		if now.Sub(item.LastTransitionAt) < s.retryDelay(item.RetryCount) {
			continue
		}

		result, err := s.service.RetryImage(ctx, item.ID, s.config.MaxAttempts)
		if err != nil {
			log.Error().Err(err).Str("content_id", item.ID).Msg("scheduler: retry attempt errored")
			continue
		}

		s.attempted.Add(1)
		processed++
		metrics.RetryAttemptsTotal.WithLabelValues(string(result)).Inc()

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
	}

	log.Info().Int("queued", len(items)).Int("processed", processed).Msg("scheduler: sweep complete")
}

// retryDelay returns the cool-down before attempt retryCount+1: BaseDelay
// doubling per prior attempt, capped at MaxDelay. Deterministic; jitter here
// would only smear a 5-minute sweep cadence.
func (s *Scheduler) retryDelay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = s.config.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
