package repository

import (
	"context"
	"testing"

	"github.com/segsight/segsight/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	stream := &models.Stream{
		Name:       "Lobby Camera",
		StreamKey:  "lobby",
		SourceType: models.SourceTypeRTMP,
		SourceURL:  "rtmp://ingest.local/live/lobby",
		Status:     models.StreamStatusInactive,
	}
	require.NoError(t, repo.Create(ctx, stream))
	assert.False(t, stream.ID.IsZero())

	found, err := repo.GetByKey(ctx, "lobby")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, stream.ID, found.ID)
	assert.Equal(t, models.StreamStatusInactive, found.Status)

	missing, err := repo.GetByKey(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStreamRepo_CreateDuplicateKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Stream{Name: "A", StreamKey: "dup"}))
	assert.Error(t, repo.Create(ctx, &models.Stream{Name: "B", StreamKey: "dup"}))
}

func TestStreamRepo_ActivateMintsSession(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	stream := &models.Stream{Name: "Cam", StreamKey: "cam1"}
	require.NoError(t, repo.Create(ctx, stream))

	activated, err := repo.Activate(ctx, stream.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusActive, activated.Status)
	assert.NotEmpty(t, activated.SessionID)

	first := activated.SessionID

	// Restarting the same stream mints a new session.
	require.NoError(t, repo.Deactivate(ctx, stream.ID, models.StreamStatusInactive))
	activated, err = repo.Activate(ctx, stream.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, activated.SessionID)
}

func TestStreamRepo_ActivateSecondStreamRejected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	first := &models.Stream{Name: "First", StreamKey: "first"}
	second := &models.Stream{Name: "Second", StreamKey: "second"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	_, err := repo.Activate(ctx, first.ID)
	require.NoError(t, err)

	_, err = repo.Activate(ctx, second.ID)
	assert.ErrorIs(t, err, models.ErrStreamAlreadyActive)

	// Re-activating the already active stream is not a conflict.
	_, err = repo.Activate(ctx, first.ID)
	assert.NoError(t, err)
}

func TestStreamRepo_Deactivate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	stream := &models.Stream{Name: "Cam", StreamKey: "cam1"}
	require.NoError(t, repo.Create(ctx, stream))
	_, err := repo.Activate(ctx, stream.ID)
	require.NoError(t, err)

	require.NoError(t, repo.Deactivate(ctx, stream.ID, models.StreamStatusInactive))

	found, err := repo.GetByID(ctx, stream.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusInactive, found.Status)
	assert.Empty(t, found.SessionID)

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStreamRepo_GetActive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	stream := &models.Stream{Name: "Cam", StreamKey: "cam1"}
	require.NoError(t, repo.Create(ctx, stream))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = repo.Activate(ctx, stream.ID)
	require.NoError(t, err)

	active, err = repo.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, stream.ID, active.ID)
}
