// Package queue provides the durable segment event queue. Events survive
// process restarts; delivery is at-least-once with lease-based redelivery.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

// DefaultLeaseTTL is how long a leased item stays claimed before it becomes
// re-deliverable.
const DefaultLeaseTTL = 2 * time.Minute

// pollInterval is how often a blocking Lease re-checks for work.
const pollInterval = 250 * time.Millisecond

// SegmentEvent is a segment-ready notification as produced by an event source.
type SegmentEvent struct {
	StreamKey   string                `json:"stream_key"`
	SegmentPath string                `json:"segment_path"`
	SessionID   string                `json:"session_id,omitempty"`
	SourceTag   string                `json:"source_tag"`
	Requested   models.CapabilityList `json:"requested,omitempty"`
}

// Queue is the durable event queue. It is safe for concurrent use.
type Queue struct {
	repo     repository.QueueRepository
	logger   *slog.Logger
	leaseTTL time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithLeaseTTL overrides the default lease TTL.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		if ttl > 0 {
			q.leaseTTL = ttl
		}
	}
}

// New creates a Queue backed by the given repository.
func New(repo repository.QueueRepository, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		repo:     repo,
		logger:   logger.With(slog.String("component", "queue")),
		leaseTTL: DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish enqueues one queue item per sub-queue the event's capabilities map
// to, so slow capabilities cannot starve fast ones. When the event requests
// no explicit capabilities every capability is assumed.
func (q *Queue) Publish(ctx context.Context, event SegmentEvent) error {
	caps := event.Requested
	if len(caps) == 0 {
		caps = models.AllCapabilities()
	}

	byQueue := make(map[string]models.CapabilityList)
	for _, c := range caps {
		name := c.QueueName()
		byQueue[name] = append(byQueue[name], c)
	}

	for name, queueCaps := range byQueue {
		item := &models.QueueItem{
			StreamKey:    event.StreamKey,
			SegmentPath:  event.SegmentPath,
			SessionID:    event.SessionID,
			SourceTag:    event.SourceTag,
			EventType:    "new_segment",
			QueueName:    name,
			Capabilities: queueCaps,
			MaxAttempts:  models.DefaultMaxAttempts,
		}
		if err := q.repo.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("publishing segment event: %w", err)
		}

		q.logger.Debug("segment event enqueued",
			slog.String("stream_key", event.StreamKey),
			slog.String("segment_path", event.SegmentPath),
			slog.String("queue", name),
			slog.String("item_id", item.ID.String()),
		)
	}
	return nil
}

// Lease blocks up to wait for an available item on any of the given queues.
// Returns nil when the wait elapses with no work, or ctx's error when it is
// canceled first.
func (q *Queue) Lease(ctx context.Context, queues []string, wait time.Duration) (*models.QueueItem, error) {
	deadline := time.Now().Add(wait)

	for {
		item, err := q.repo.Lease(ctx, queues, q.leaseTTL)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Peek returns the next deliverable item on any of the given queues without
// claiming it, or nil when none is available.
func (q *Queue) Peek(ctx context.Context, queues []string) (*models.QueueItem, error) {
	return q.repo.Peek(ctx, queues)
}

// Ack settles the leased item as done.
func (q *Queue) Ack(ctx context.Context, leaseToken string) error {
	return q.repo.Ack(ctx, leaseToken)
}

// Nack returns the leased item for retry after retryAfter, or settles it as
// failed when the retry budget is exhausted. Zero retryAfter applies the
// exponential backoff.
func (q *Queue) Nack(ctx context.Context, leaseToken string, retryAfter time.Duration, cause string) error {
	return q.repo.Nack(ctx, leaseToken, retryAfter, cause)
}

// Fail settles the leased item as failed immediately. Used for permanent
// errors where retrying cannot help.
func (q *Queue) Fail(ctx context.Context, leaseToken string, cause string) error {
	return q.repo.Fail(ctx, leaseToken, cause)
}

// RecoverStale returns expired leases to pending.
func (q *Queue) RecoverStale(ctx context.Context) (int64, error) {
	recovered, err := q.repo.ExpireStale(ctx)
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		q.logger.Warn("recovered stale leases", slog.Int64("count", recovered))
	}
	return recovered, nil
}

// Stats returns per-state item counts for the given queue; empty queue name
// counts across all queues.
func (q *Queue) Stats(ctx context.Context, queue string) (map[models.QueueState]int64, error) {
	return q.repo.CountByState(ctx, queue)
}

// Cleanup deletes settled items older than retention.
func (q *Queue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return q.repo.DeleteSettled(ctx, time.Now().Add(-retention))
}
