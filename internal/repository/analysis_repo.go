package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segsight/segsight/internal/models"
	"gorm.io/gorm"
)

// analysisRepo implements AnalysisRepository using GORM.
type analysisRepo struct {
	db *gorm.DB
}

// NewAnalysisRepository creates a new AnalysisRepository.
func NewAnalysisRepository(db *gorm.DB) *analysisRepo {
	return &analysisRepo{db: db}
}

// Create persists an analysis with its detections and visual summary in one
// transaction. The unique index on (stream_key, segment_path, capability) is
// the authority on duplicates; the pre-check just avoids burning a ULID on
// the common replay path.
func (r *analysisRepo) Create(ctx context.Context, analysis *models.Analysis) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Analysis{}).
			Where("stream_key = ? AND segment_path = ? AND capability = ?",
				analysis.StreamKey, analysis.SegmentPath, analysis.Capability).
			Count(&count).Error; err != nil {
			return fmt.Errorf("checking for existing analysis: %w", err)
		}
		if count > 0 {
			return models.ErrDuplicateSegmentAnalysis
		}

		if err := tx.Create(analysis).Error; err != nil {
			if isUniqueViolation(err) {
				return models.ErrDuplicateSegmentAnalysis
			}
			return fmt.Errorf("creating analysis: %w", err)
		}
		return nil
	})
	return err
}

// isUniqueViolation reports whether err is a unique constraint violation.
// Matched textually since each driver wraps its own error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

// GetByID retrieves an analysis with detections and visual summary.
func (r *analysisRepo) GetByID(ctx context.Context, id models.ULID) (*models.Analysis, error) {
	var analysis models.Analysis
	if err := r.db.WithContext(ctx).
		Preload("Detections").
		Preload("Visual").
		Where("id = ?", id).
		First(&analysis).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting analysis by ID: %w", err)
	}
	return &analysis, nil
}

// Exists reports whether an analysis exists for the triple.
func (r *analysisRepo) Exists(ctx context.Context, streamKey, segmentPath string, capability models.Capability) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Analysis{}).
		Where("stream_key = ? AND segment_path = ? AND capability = ?", streamKey, segmentPath, capability).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking analysis existence: %w", err)
	}
	return count > 0, nil
}

// RecentForStream retrieves the most recent analyses for a stream, newest
// first. While the stream has an active session, only that session's analyses
// are returned, so a subscriber joining after a restart never sees results
// from a previous activation. With no active session the filter is skipped.
func (r *analysisRepo) RecentForStream(ctx context.Context, streamKey string, limit int) ([]*models.Analysis, error) {
	var sessions []string
	err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("stream_key = ?", streamKey).
		Limit(1).
		Pluck("session_id", &sessions).Error
	if err != nil {
		return nil, fmt.Errorf("resolving stream session: %w", err)
	}
	var session string
	if len(sessions) > 0 {
		session = sessions[0]
	}

	query := r.db.WithContext(ctx).
		Preload("Detections").
		Preload("Visual").
		Where("stream_key = ?", streamKey)
	if session != "" {
		query = query.Where("session_id = ?", session)
	}

	var analyses []*models.Analysis
	if err := query.
		Order("captured_at DESC, id DESC").
		Limit(limit).
		Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("getting recent analyses: %w", err)
	}
	return analyses, nil
}

// ListForStream retrieves analyses for a stream with pagination, newest first.
func (r *analysisRepo) ListForStream(ctx context.Context, streamKey string, offset, limit int) ([]*models.Analysis, int64, error) {
	var analyses []*models.Analysis
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Analysis{}).Where("stream_key = ?", streamKey)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting analyses: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Preload("Detections").
		Preload("Visual").
		Where("stream_key = ?", streamKey).
		Order("captured_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&analyses).Error; err != nil {
		return nil, 0, fmt.Errorf("listing analyses: %w", err)
	}
	return analyses, total, nil
}

// CountForStream returns the number of analyses recorded for a stream.
func (r *analysisRepo) CountForStream(ctx context.Context, streamKey string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Analysis{}).
		Where("stream_key = ?", streamKey).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting analyses: %w", err)
	}
	return count, nil
}

// DeleteOlderThan deletes analyses captured before the given time. Detections
// and visual summaries go with them via the cascade constraint; SQLite needs
// the explicit deletes because GORM's cascade only covers migrated FKs.
func (r *analysisRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []models.ULID
		if err := tx.Model(&models.Analysis{}).
			Where("captured_at < ?", before).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("finding old analyses: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("analysis_id IN ?", ids).Delete(&models.Detection{}).Error; err != nil {
			return fmt.Errorf("deleting old detections: %w", err)
		}
		if err := tx.Where("analysis_id IN ?", ids).Delete(&models.VisualSummary{}).Error; err != nil {
			return fmt.Errorf("deleting old visual summaries: %w", err)
		}

		result := tx.Where("id IN ?", ids).Delete(&models.Analysis{})
		if result.Error != nil {
			return fmt.Errorf("deleting old analyses: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

// Ensure analysisRepo implements AnalysisRepository at compile time.
var _ AnalysisRepository = (*analysisRepo)(nil)
