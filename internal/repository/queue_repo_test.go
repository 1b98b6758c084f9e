package repository

import (
	"context"
	"testing"
	"time"

	"github.com/segsight/segsight/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueItem(t *testing.T, repo QueueRepository, streamKey, segmentPath string) *models.QueueItem {
	t.Helper()
	item := &models.QueueItem{
		StreamKey:   streamKey,
		SegmentPath: segmentPath,
		EventType:   "new_segment",
		QueueName:   models.QueueVisualAnalysis,
		MaxAttempts: models.DefaultMaxAttempts,
	}
	require.NoError(t, repo.Enqueue(context.Background(), item))
	return item
}

func TestQueueRepo_LeaseOrdering(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	first := enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")
	time.Sleep(2 * time.Millisecond)
	enqueueItem(t, repo, "lobby", "/seg/lobby-00002.ts")

	leased, err := repo.Lease(ctx, []string{models.QueueVisualAnalysis}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, leased)
	assert.Equal(t, first.ID, leased.ID, "oldest item is delivered first")
	assert.Equal(t, models.QueueStateLeased, leased.State)
	assert.NotEmpty(t, leased.LeaseToken)
	assert.Equal(t, 1, leased.Attempts)
}

func TestQueueRepo_LeaseSkipsLeasedItems(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")

	first, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second, "a leased item must not be delivered twice")
}

func TestQueueRepo_LeaseFiltersByQueue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	item := &models.QueueItem{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		QueueName:   models.QueueLogoDetection,
		MaxAttempts: models.DefaultMaxAttempts,
	}
	require.NoError(t, repo.Enqueue(ctx, item))

	leased, err := repo.Lease(ctx, []string{models.QueueVisualAnalysis}, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, leased)

	leased, err = repo.Lease(ctx, []string{models.QueueLogoDetection}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, leased)
	assert.Equal(t, item.ID, leased.ID)
}

func TestQueueRepo_AckSettlesItem(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")
	leased, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)

	require.NoError(t, repo.Ack(ctx, leased.LeaseToken))

	settled, err := repo.GetByID(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStateDone, settled.State)
	assert.Empty(t, settled.LeaseToken)

	// A second ack on the same token is an error.
	assert.ErrorIs(t, repo.Ack(ctx, leased.LeaseToken), models.ErrLeaseNotFound)
}

func TestQueueRepo_NackReschedules(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")
	leased, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)

	require.NoError(t, repo.Nack(ctx, leased.LeaseToken, 0, "worker unreachable"))

	item, err := repo.GetByID(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatePending, item.State)
	assert.Equal(t, "worker unreachable", item.LastError)
	require.NotNil(t, item.NotBefore)
	assert.True(t, item.NotBefore.After(time.Now()), "retry is delayed by backoff")

	// The delayed item is not yet leasable.
	again, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueueRepo_NackExhaustsRetryBudget(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	item := enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")

	for attempt := 0; attempt < models.DefaultMaxAttempts; attempt++ {
		// Clear the backoff delay so the item is immediately leasable.
		require.NoError(t, db.Model(&models.QueueItem{}).
			Where("id = ?", item.ID).
			UpdateColumn("not_before", nil).Error)

		leased, err := repo.Lease(ctx, nil, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, leased, "attempt %d should lease", attempt+1)
		require.NoError(t, repo.Nack(ctx, leased.LeaseToken, 0, "still failing"))
	}

	final, err := repo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStateFailed, final.State)
	assert.Equal(t, models.DefaultMaxAttempts, final.Attempts)
	assert.Equal(t, "still failing", final.LastError)
}

func TestQueueRepo_FailBypassesRetryBudget(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")
	leased, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)

	require.NoError(t, repo.Fail(ctx, leased.LeaseToken, "segment file missing"))

	item, err := repo.GetByID(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStateFailed, item.State)
	assert.Equal(t, 1, item.Attempts)
}

func TestQueueRepo_ExpireStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")
	leased, err := repo.Lease(ctx, nil, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	recovered, err := repo.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	// The recovered item is leasable again with a fresh token.
	again, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, leased.ID, again.ID)
	assert.NotEqual(t, leased.LeaseToken, again.LeaseToken)
	assert.Equal(t, 2, again.Attempts)
}

func TestQueueRepo_CountByState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")
	enqueueItem(t, repo, "lobby", "/seg/lobby-00002.ts")
	leased, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Ack(ctx, leased.LeaseToken))

	counts, err := repo.CountByState(ctx, models.QueueVisualAnalysis)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.QueueStatePending])
	assert.Equal(t, int64(1), counts[models.QueueStateDone])
}

func TestQueueRepo_DeleteSettled(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	enqueueItem(t, repo, "lobby", "/seg/lobby-00001.ts")
	enqueueItem(t, repo, "lobby", "/seg/lobby-00002.ts")

	leased, err := repo.Lease(ctx, nil, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Ack(ctx, leased.LeaseToken))

	deleted, err := repo.DeleteSettled(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	counts, err := repo.CountByState(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.QueueStatePending])
	assert.Zero(t, counts[models.QueueStateDone])
}
