// Package repository defines data access interfaces for segsight entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/segsight/segsight/internal/models"
)

// StreamRepository defines operations for stream persistence.
type StreamRepository interface {
	// Create creates a new stream.
	Create(ctx context.Context, stream *models.Stream) error
	// GetByID retrieves a stream by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Stream, error)
	// GetByKey retrieves a stream by its stream key.
	GetByKey(ctx context.Context, streamKey string) (*models.Stream, error)
	// GetAll retrieves all streams.
	GetAll(ctx context.Context) ([]*models.Stream, error)
	// GetActive retrieves the currently active stream, or nil when none is.
	GetActive(ctx context.Context) (*models.Stream, error)
	// Update updates an existing stream.
	Update(ctx context.Context, stream *models.Stream) error
	// Delete deletes a stream by ID.
	Delete(ctx context.Context, id models.ULID) error
	// Activate transitions the stream to active and mints a fresh session ID.
	// Returns models.ErrStreamAlreadyActive if a different stream is already
	// active or starting.
	Activate(ctx context.Context, id models.ULID) (*models.Stream, error)
	// Deactivate transitions the stream to the given terminal status and
	// clears its session ID.
	Deactivate(ctx context.Context, id models.ULID, status models.StreamStatus) error
	// SetStatus updates the stream status without touching the session.
	SetStatus(ctx context.Context, id models.ULID, status models.StreamStatus) error
}

// ProviderRepository defines operations for provider persistence.
type ProviderRepository interface {
	// Create creates a new provider.
	Create(ctx context.Context, provider *models.Provider) error
	// GetByID retrieves a provider by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Provider, error)
	// GetByName retrieves a provider by name.
	GetByName(ctx context.Context, name string) (*models.Provider, error)
	// GetAll retrieves all providers.
	GetAll(ctx context.Context) ([]*models.Provider, error)
	// GetActive retrieves all active providers.
	GetActive(ctx context.Context) ([]*models.Provider, error)
	// Update updates an existing provider.
	Update(ctx context.Context, provider *models.Provider) error
	// Delete deletes a provider by ID.
	Delete(ctx context.Context, id models.ULID) error
	// SetActive toggles a provider. Activating a provider fails with
	// models.ErrCapabilityClaimed when another active provider already
	// claims one of its capabilities.
	SetActive(ctx context.Context, id models.ULID, active bool) error
}

// BrandRepository defines operations for brand vocabulary persistence.
type BrandRepository interface {
	// Create creates a new brand.
	Create(ctx context.Context, brand *models.Brand) error
	// GetByID retrieves a brand by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Brand, error)
	// GetAll retrieves all brands.
	GetAll(ctx context.Context) ([]*models.Brand, error)
	// GetActive retrieves all active brands.
	GetActive(ctx context.Context) ([]*models.Brand, error)
	// Update updates an existing brand.
	Update(ctx context.Context, brand *models.Brand) error
	// Delete deletes a brand by ID.
	Delete(ctx context.Context, id models.ULID) error
	// ActiveSearchTerms flattens the search terms of all active brands into
	// a deduplicated vocabulary, keyed back to the brand name.
	ActiveSearchTerms(ctx context.Context) (map[string]string, error)
}

// AnalysisRepository defines operations for analysis result persistence.
type AnalysisRepository interface {
	// Create persists an analysis with its detections and visual summary in
	// one transaction. Returns models.ErrDuplicateSegmentAnalysis when a row
	// for the same (stream_key, segment_path, capability) already exists.
	Create(ctx context.Context, analysis *models.Analysis) error
	// GetByID retrieves an analysis with detections and visual summary.
	GetByID(ctx context.Context, id models.ULID) (*models.Analysis, error)
	// Exists reports whether an analysis exists for the triple.
	Exists(ctx context.Context, streamKey, segmentPath string, capability models.Capability) (bool, error)
	// RecentForStream retrieves the most recent analyses for a stream,
	// newest first, with detections and visual summaries preloaded.
	// While the stream has an active session only that session's
	// analyses are returned.
	RecentForStream(ctx context.Context, streamKey string, limit int) ([]*models.Analysis, error)
	// ListForStream retrieves analyses for a stream with pagination, newest first.
	ListForStream(ctx context.Context, streamKey string, offset, limit int) ([]*models.Analysis, int64, error)
	// CountForStream returns the number of analyses recorded for a stream.
	CountForStream(ctx context.Context, streamKey string) (int64, error)
	// DeleteOlderThan deletes analyses captured before the given time.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// QueueRepository defines operations for the durable segment event queue.
type QueueRepository interface {
	// Enqueue appends a new pending item.
	Enqueue(ctx context.Context, item *models.QueueItem) error
	// GetByID retrieves a queue item by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.QueueItem, error)
	// Lease atomically claims the oldest available pending item on any of
	// the given queues and returns it, or nil when none is available. The
	// claim expires after ttl unless acked or nacked first.
	Lease(ctx context.Context, queues []string, ttl time.Duration) (*models.QueueItem, error)
	// Peek returns the oldest available pending item on any of the given
	// queues without claiming it, or nil when none is available.
	Peek(ctx context.Context, queues []string) (*models.QueueItem, error)
	// Ack settles the leased item as done. Returns models.ErrLeaseNotFound
	// for unknown or already settled lease tokens.
	Ack(ctx context.Context, leaseToken string) error
	// Nack returns the leased item for retry after retryAfter (or the
	// default backoff when zero), or settles it as failed once the retry
	// budget is exhausted. Returns models.ErrLeaseNotFound for unknown or
	// already settled lease tokens.
	Nack(ctx context.Context, leaseToken string, retryAfter time.Duration, cause string) error
	// Fail settles the leased item as failed regardless of retry budget.
	Fail(ctx context.Context, leaseToken string, cause string) error
	// ExpireStale returns items whose lease expired back to pending.
	ExpireStale(ctx context.Context) (int64, error)
	// CountByState returns item counts per state for the given queue; an
	// empty queue name counts across all queues.
	CountByState(ctx context.Context, queue string) (map[models.QueueState]int64, error)
	// DeleteSettled deletes done and failed items settled before the given time.
	DeleteSettled(ctx context.Context, before time.Time) (int64, error)
}
