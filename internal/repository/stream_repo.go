package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/segsight/segsight/internal/models"
	"gorm.io/gorm"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create creates a new stream.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetByKey retrieves a stream by its stream key.
func (r *streamRepo) GetByKey(ctx context.Context, streamKey string) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("stream_key = ?", streamKey).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by key: %w", err)
	}
	return &stream, nil
}

// GetAll retrieves all streams.
func (r *streamRepo) GetAll(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting all streams: %w", err)
	}
	return streams, nil
}

// GetActive retrieves the currently active stream, or nil when none is.
func (r *streamRepo) GetActive(ctx context.Context) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("status = ?", models.StreamStatusActive).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting active stream: %w", err)
	}
	return &stream, nil
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// Delete deletes a stream by ID.
func (r *streamRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Stream{}).Error; err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	return nil
}

// Activate transitions the stream to active and mints a fresh session ID.
// At most one stream may be active or starting at a time; the check and the
// transition run in one transaction so two racing activations cannot both
// succeed.
func (r *streamRepo) Activate(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var busy int64
		if err := tx.Model(&models.Stream{}).
			Where("status IN (?, ?)", models.StreamStatusActive, models.StreamStatusStarting).
			Where("id != ?", id).
			Count(&busy).Error; err != nil {
			return fmt.Errorf("checking active streams: %w", err)
		}
		if busy > 0 {
			return models.ErrStreamAlreadyActive
		}

		if err := tx.Where("id = ?", id).First(&stream).Error; err != nil {
			return fmt.Errorf("getting stream: %w", err)
		}

		stream.Status = models.StreamStatusActive
		stream.SessionID = uuid.NewString()
		if err := tx.Save(&stream).Error; err != nil {
			return fmt.Errorf("activating stream: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stream, nil
}

// Deactivate transitions the stream to the given status and clears its session.
func (r *streamRepo) Deactivate(ctx context.Context, id models.ULID, status models.StreamStatus) error {
	result := r.db.WithContext(ctx).Model(&models.Stream{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":     status,
			"session_id": "",
		})
	if result.Error != nil {
		return fmt.Errorf("deactivating stream: %w", result.Error)
	}
	return nil
}

// SetStatus updates the stream status without touching the session.
func (r *streamRepo) SetStatus(ctx context.Context, id models.ULID, status models.StreamStatus) error {
	result := r.db.WithContext(ctx).Model(&models.Stream{}).Where("id = ?", id).
		UpdateColumn("status", status)
	if result.Error != nil {
		return fmt.Errorf("setting stream status: %w", result.Error)
	}
	return nil
}

// Ensure streamRepo implements StreamRepository at compile time.
var _ StreamRepository = (*streamRepo)(nil)
