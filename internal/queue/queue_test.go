package queue

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.QueueItem{}))

	return New(repository.NewQueueRepository(db), nil, opts...)
}

func TestQueue_PublishFansOutPerQueue(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	err := q.Publish(ctx, SegmentEvent{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		SourceTag:   "filewatcher",
	})
	require.NoError(t, err)

	// All capabilities requested: one item on the logo queue, one on the
	// shared visual queue.
	logoStats, err := q.Stats(ctx, models.QueueLogoDetection)
	require.NoError(t, err)
	assert.Equal(t, int64(1), logoStats[models.QueueStatePending])

	visualStats, err := q.Stats(ctx, models.QueueVisualAnalysis)
	require.NoError(t, err)
	assert.Equal(t, int64(1), visualStats[models.QueueStatePending])
}

func TestQueue_PublishExplicitCapabilities(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	err := q.Publish(ctx, SegmentEvent{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		Requested:   models.CapabilityList{models.CapabilityVisualAnalysis},
	})
	require.NoError(t, err)

	item, err := q.Lease(ctx, []string{models.QueueVisualAnalysis}, 0)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.CapabilityList{models.CapabilityVisualAnalysis}, item.Capabilities)

	logoStats, err := q.Stats(ctx, models.QueueLogoDetection)
	require.NoError(t, err)
	assert.Zero(t, logoStats[models.QueueStatePending])
}

func TestQueue_LeaseAckRoundTrip(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, SegmentEvent{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		Requested:   models.CapabilityList{models.CapabilityObjectDetection},
	}))

	item, err := q.Lease(ctx, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, item)

	require.NoError(t, q.Ack(ctx, item.LeaseToken))

	none, err := q.Lease(ctx, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQueue_PeekDoesNotClaim(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	head, err := q.Peek(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, head)

	require.NoError(t, q.Publish(ctx, SegmentEvent{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		Requested:   models.CapabilityList{models.CapabilityVisualAnalysis},
	}))
	require.NoError(t, q.Publish(ctx, SegmentEvent{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00002.ts",
		Requested:   models.CapabilityList{models.CapabilityVisualAnalysis},
	}))

	head, err = q.Peek(ctx, []string{models.QueueVisualAnalysis})
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "/seg/lobby-00001.ts", head.SegmentPath)
	assert.Equal(t, models.QueueStatePending, head.State)

	// Peeking leaves the head deliverable.
	item, err := q.Lease(ctx, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, head.ID, item.ID)

	// With the head leased the next segment becomes the peek target.
	head, err = q.Peek(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "/seg/lobby-00002.ts", head.SegmentPath)
}

func TestQueue_LeaseBlocksUntilWork(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = q.Publish(ctx, SegmentEvent{
			StreamKey:   "lobby",
			SegmentPath: "/seg/lobby-00001.ts",
			Requested:   models.CapabilityList{models.CapabilityVisualAnalysis},
		})
	}()

	start := time.Now()
	item, err := q.Lease(ctx, nil, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueue_LeaseRespectsContextCancel(t *testing.T) {
	q := setupQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := q.Lease(ctx, nil, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_RecoverStale(t *testing.T) {
	q := setupQueue(t, WithLeaseTTL(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, SegmentEvent{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		Requested:   models.CapabilityList{models.CapabilityVisualAnalysis},
	}))

	item, err := q.Lease(ctx, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, item)

	time.Sleep(20 * time.Millisecond)

	recovered, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	again, err := q.Lease(ctx, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, item.ID, again.ID)
}
