// Package scheduler runs segsight's recurring maintenance jobs: returning
// expired queue leases, pruning settled queue items, and keeping the provider
// registry's disk mirror fresh.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/segsight/segsight/internal/providers"
	"github.com/segsight/segsight/internal/queue"
)

// Config holds the maintenance intervals.
type Config struct {
	// RecoverInterval is how often expired leases are returned to pending.
	RecoverInterval time.Duration
	// CleanupInterval is how often settled queue items are pruned.
	CleanupInterval time.Duration
	// QueueRetention is how long settled queue items are kept.
	QueueRetention time.Duration
	// MirrorInterval is how often the registry mirror's freshness is checked.
	MirrorInterval time.Duration
	// MirrorTTL is the maximum tolerated mirror age before a refresh.
	MirrorTTL time.Duration
}

// DefaultConfig returns the default maintenance configuration.
func DefaultConfig() Config {
	return Config{
		RecoverInterval: time.Minute,
		CleanupInterval: time.Hour,
		QueueRetention:  24 * time.Hour,
		MirrorInterval:  10 * time.Minute,
		MirrorTTL:       providers.DefaultMirrorTTL,
	}
}

// Scheduler owns the cron runner for maintenance jobs.
type Scheduler struct {
	mu sync.Mutex

	queue    *queue.Queue
	registry *providers.Registry
	config   Config
	logger   *slog.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. The registry may be nil when provider bindings are
// not in play (the mirror job is skipped).
func New(q *queue.Queue, registry *providers.Registry, config Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.RecoverInterval <= 0 {
		config.RecoverInterval = defaults.RecoverInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.QueueRetention <= 0 {
		config.QueueRetention = defaults.QueueRetention
	}
	if config.MirrorInterval <= 0 {
		config.MirrorInterval = defaults.MirrorInterval
	}
	if config.MirrorTTL <= 0 {
		config.MirrorTTL = defaults.MirrorTTL
	}

	return &Scheduler{
		queue:    q,
		registry: registry,
		config:   config,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start registers the maintenance jobs and begins running them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)))

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"recover_stale_leases", s.config.RecoverInterval, s.recoverStale},
		{"cleanup_queue", s.config.CleanupInterval, s.cleanupQueue},
		{"refresh_provider_mirror", s.config.MirrorInterval, s.refreshMirror},
	}
	for _, job := range jobs {
		job := job
		spec := fmt.Sprintf("@every %s", job.interval)
		if _, err := s.cron.AddFunc(spec, func() { job.run(s.ctx) }); err != nil {
			return fmt.Errorf("registering %s: %w", job.name, err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		slog.Duration("recover_interval", s.config.RecoverInterval),
		slog.Duration("cleanup_interval", s.config.CleanupInterval),
		slog.Duration("queue_retention", s.config.QueueRetention),
		slog.Duration("mirror_interval", s.config.MirrorInterval))
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// recoverStale returns expired queue leases to pending.
func (s *Scheduler) recoverStale(ctx context.Context) {
	if _, err := s.queue.RecoverStale(ctx); err != nil {
		s.logger.Error("recovering stale leases failed", slog.String("error", err.Error()))
	}
}

// cleanupQueue prunes settled queue items past the retention window.
func (s *Scheduler) cleanupQueue(ctx context.Context) {
	deleted, err := s.queue.Cleanup(ctx, s.config.QueueRetention)
	if err != nil {
		s.logger.Error("queue cleanup failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		s.logger.Info("queue cleaned up", slog.Int64("deleted", deleted))
	}
}

// refreshMirror reloads the provider registry when its disk mirror has grown
// stale, so a later cold start always finds a usable mirror.
func (s *Scheduler) refreshMirror(ctx context.Context) {
	if s.registry == nil {
		return
	}

	age, err := s.registry.MirrorAge()
	if err == nil && age < s.config.MirrorTTL/2 {
		return
	}

	if err := s.registry.Reload(ctx); err != nil {
		s.logger.Warn("provider mirror refresh failed", slog.String("error", err.Error()))
	}
}
