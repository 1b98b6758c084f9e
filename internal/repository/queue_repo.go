package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/segsight/segsight/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// queueRepo implements QueueRepository using GORM.
type queueRepo struct {
	db *gorm.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *gorm.DB) *queueRepo {
	return &queueRepo{db: db}
}

// Enqueue appends a new pending item.
func (r *queueRepo) Enqueue(ctx context.Context, item *models.QueueItem) error {
	item.State = models.QueueStatePending
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("enqueuing item: %w", err)
	}
	return nil
}

// GetByID retrieves a queue item by ID.
func (r *queueRepo) GetByID(ctx context.Context, id models.ULID) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting queue item by ID: %w", err)
	}
	return &item, nil
}

// Lease atomically claims the oldest available pending item on any of the
// given queues. Uses SELECT FOR UPDATE with SKIP LOCKED for safe concurrent
// access; ordering by enqueued_at keeps per-stream delivery in segment order.
func (r *queueRepo) Lease(ctx context.Context, queues []string, ttl time.Duration) (*models.QueueItem, error) {
	var item models.QueueItem
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ?", models.QueueStatePending).
			Where("not_before IS NULL OR not_before <= ?", now).
			Order("enqueued_at ASC, id ASC").
			Limit(1)
		if len(queues) > 0 {
			query = query.Where("queue_name IN ?", queues)
		}

		if err := query.First(&item).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return err
			}
			return fmt.Errorf("finding pending item: %w", err)
		}

		item.MarkLeased(models.NewULID().String(), ttl)
		if err := tx.Save(&item).Error; err != nil {
			return fmt.Errorf("claiming item: %w", err)
		}
		return nil
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// Peek returns the oldest available pending item on any of the given queues
// without claiming it, or nil when none is available.
func (r *queueRepo) Peek(ctx context.Context, queues []string) (*models.QueueItem, error) {
	var item models.QueueItem

	query := r.db.WithContext(ctx).
		Where("state = ?", models.QueueStatePending).
		Where("not_before IS NULL OR not_before <= ?", time.Now()).
		Order("enqueued_at ASC, id ASC").
		Limit(1)
	if len(queues) > 0 {
		query = query.Where("queue_name IN ?", queues)
	}

	if err := query.First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("peeking pending item: %w", err)
	}
	return &item, nil
}

// Ack settles the leased item as done.
func (r *queueRepo) Ack(ctx context.Context, leaseToken string) error {
	result := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("lease_token = ? AND state = ?", leaseToken, models.QueueStateLeased).
		UpdateColumns(map[string]any{
			"state":            models.QueueStateDone,
			"lease_token":      "",
			"lease_expires_at": nil,
			"last_error":       "",
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("acking item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrLeaseNotFound
	}
	return nil
}

// Nack returns the leased item for retry, or settles it as failed once the
// retry budget is exhausted.
func (r *queueRepo) Nack(ctx context.Context, leaseToken string, retryAfter time.Duration, cause string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("lease_token = ? AND state = ?", leaseToken, models.QueueStateLeased).
			First(&item).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return models.ErrLeaseNotFound
			}
			return fmt.Errorf("finding leased item: %w", err)
		}

		if item.CanRetry() {
			item.ScheduleRetry(retryAfter, cause)
		} else {
			item.MarkFailed(cause)
		}

		if err := tx.Save(&item).Error; err != nil {
			return fmt.Errorf("nacking item: %w", err)
		}
		return nil
	})
	return err
}

// Fail settles the leased item as failed regardless of retry budget.
func (r *queueRepo) Fail(ctx context.Context, leaseToken string, cause string) error {
	result := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("lease_token = ? AND state = ?", leaseToken, models.QueueStateLeased).
		UpdateColumns(map[string]any{
			"state":            models.QueueStateFailed,
			"lease_token":      "",
			"lease_expires_at": nil,
			"last_error":       cause,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failing item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrLeaseNotFound
	}
	return nil
}

// ExpireStale returns items whose lease expired back to pending. A crashed
// worker's items become deliverable again without operator action.
func (r *queueRepo) ExpireStale(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("state = ? AND lease_expires_at < ?", models.QueueStateLeased, time.Now()).
		UpdateColumns(map[string]any{
			"state":            models.QueueStatePending,
			"lease_token":      "",
			"lease_expires_at": nil,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("expiring stale leases: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByState returns item counts per state for the given queue.
func (r *queueRepo) CountByState(ctx context.Context, queue string) (map[models.QueueState]int64, error) {
	type row struct {
		State models.QueueState
		Count int64
	}
	var rows []row

	query := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Select("state, COUNT(*) as count").
		Group("state")
	if queue != "" {
		query = query.Where("queue_name = ?", queue)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting queue items: %w", err)
	}

	counts := make(map[models.QueueState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

// DeleteSettled deletes done and failed items settled before the given time.
func (r *queueRepo) DeleteSettled(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("state IN (?, ?) AND updated_at < ?",
			models.QueueStateDone, models.QueueStateFailed, before).
		Delete(&models.QueueItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting settled items: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure queueRepo implements QueueRepository at compile time.
var _ QueueRepository = (*queueRepo)(nil)
