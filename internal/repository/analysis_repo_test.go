package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/segsight/segsight/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAnalysis(streamKey, segmentPath string, capability models.Capability, capturedAt time.Time) *models.Analysis {
	a := &models.Analysis{
		StreamKey:           streamKey,
		SegmentPath:         segmentPath,
		Capability:          capability,
		CapturedAt:          capturedAt,
		ConfidenceThreshold: 0.5,
	}
	if capability.DetectionType() != "" {
		d := models.Detection{
			Label:         "person",
			Confidence:    0.91,
			DetectionType: capability.DetectionType(),
		}
		d.SetBBox(models.BoundingBox{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.5})
		a.Detections = []models.Detection{d}
	}
	return a
}

func TestAnalysisRepo_CreateWithDetections(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	analysis := makeAnalysis("lobby", "/seg/lobby-00001.ts", models.CapabilityObjectDetection, time.Now())
	require.NoError(t, repo.Create(ctx, analysis))

	found, err := repo.GetByID(ctx, analysis.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Len(t, found.Detections, 1)
	assert.Equal(t, "person", found.Detections[0].Label)
	assert.Equal(t, "object", found.Detections[0].DetectionType)
	assert.InDelta(t, 0.91, found.Detections[0].Confidence, 1e-9)
}

func TestAnalysisRepo_CreateWithVisualSummary(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	analysis := &models.Analysis{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		Capability:  models.CapabilityVisualAnalysis,
		CapturedAt:  time.Now(),
		Visual: &models.VisualSummary{
			DominantColors: models.RGBList{{12, 40, 200}, {230, 230, 228}, {90, 30, 30}},
			Brightness:     0.42,
			Contrast:       0.18,
			Saturation:     0.55,
		},
	}
	require.NoError(t, repo.Create(ctx, analysis))
	assert.Nil(t, analysis.ProviderID, "visual analysis carries no provider")

	found, err := repo.GetByID(ctx, analysis.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Visual)
	assert.Len(t, found.Visual.DominantColors, 3)
	assert.InDelta(t, 0.42, found.Visual.Brightness, 1e-9)
	assert.Nil(t, found.Visual.Activity)
}

func TestAnalysisRepo_DuplicateTripleRejected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	first := makeAnalysis("lobby", "/seg/lobby-00001.ts", models.CapabilityObjectDetection, time.Now())
	require.NoError(t, repo.Create(ctx, first))

	replay := makeAnalysis("lobby", "/seg/lobby-00001.ts", models.CapabilityObjectDetection, time.Now())
	err := repo.Create(ctx, replay)
	assert.ErrorIs(t, err, models.ErrDuplicateSegmentAnalysis)

	// Same segment with a different capability is fine.
	other := makeAnalysis("lobby", "/seg/lobby-00001.ts", models.CapabilityTextDetection, time.Now())
	assert.NoError(t, repo.Create(ctx, other))

	// Same segment path under a different stream is fine too.
	elsewhere := makeAnalysis("garage", "/seg/lobby-00001.ts", models.CapabilityObjectDetection, time.Now())
	assert.NoError(t, repo.Create(ctx, elsewhere))
}

func TestAnalysisRepo_RecentForStream(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		a := makeAnalysis("lobby", segPath(i), models.CapabilityObjectDetection, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, a))
	}
	require.NoError(t, repo.Create(ctx,
		makeAnalysis("garage", "/seg/garage-00001.ts", models.CapabilityObjectDetection, time.Now())))

	recent, err := repo.RecentForStream(ctx, "lobby", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)

	// Newest first.
	assert.Equal(t, segPath(7), recent[0].SegmentPath)
	assert.Equal(t, segPath(3), recent[4].SegmentPath)
	for _, a := range recent {
		assert.Equal(t, "lobby", a.StreamKey)
		assert.NotEmpty(t, a.Detections, "detections must be preloaded")
	}
}

func segPath(i int) string {
	return fmt.Sprintf("/seg/lobby-%05d.ts", i)
}

func TestAnalysisRepo_RecentForStreamFiltersBySession(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	stream := &models.Stream{
		Name:      "Lobby",
		StreamKey: "lobby",
		Status:    models.StreamStatusActive,
		SessionID: "sess-2",
	}
	require.NoError(t, db.Create(stream).Error)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		a := makeAnalysis("lobby", segPath(i), models.CapabilityObjectDetection, base.Add(time.Duration(i)*time.Minute))
		a.SessionID = "sess-1"
		require.NoError(t, repo.Create(ctx, a))
	}
	current := makeAnalysis("lobby", segPath(3), models.CapabilityObjectDetection, base.Add(3*time.Minute))
	current.SessionID = "sess-2"
	require.NoError(t, repo.Create(ctx, current))

	recent, err := repo.RecentForStream(ctx, "lobby", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1, "earlier sessions are hidden while a session is active")
	assert.Equal(t, segPath(3), recent[0].SegmentPath)

	// Once the stream's session is cleared the filter lifts.
	require.NoError(t, db.Model(stream).Updates(map[string]any{
		"status":     models.StreamStatusInactive,
		"session_id": "",
	}).Error)

	recent, err = repo.RecentForStream(ctx, "lobby", 5)
	require.NoError(t, err)
	assert.Len(t, recent, 4)
}

func TestAnalysisRepo_ListForStream(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Create(ctx,
			makeAnalysis("lobby", segPath(i), models.CapabilityObjectDetection, base.Add(time.Duration(i)*time.Minute))))
	}

	page, total, err := repo.ListForStream(ctx, "lobby", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, page, 2)
	assert.Equal(t, segPath(2), page[0].SegmentPath)
	assert.Equal(t, segPath(1), page[1].SegmentPath)
}

func TestAnalysisRepo_DeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	old := makeAnalysis("lobby", "/seg/lobby-old.ts", models.CapabilityObjectDetection, time.Now().Add(-48*time.Hour))
	fresh := makeAnalysis("lobby", "/seg/lobby-new.ts", models.CapabilityObjectDetection, time.Now())
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var detections int64
	require.NoError(t, db.Model(&models.Detection{}).Count(&detections).Error)
	assert.Equal(t, int64(1), detections, "old detections are swept with their analysis")

	count, err := repo.CountForStream(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
