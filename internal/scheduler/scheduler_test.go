package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/providers"
	"github.com/segsight/segsight/internal/queue"
	"github.com/segsight/segsight/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQueue(t *testing.T, opts ...queue.Option) *queue.Queue {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.QueueItem{}))
	return queue.New(repository.NewQueueRepository(db), testLogger(), opts...)
}

// stubProviders serves a fixed provider list.
type stubProviders struct {
	repository.ProviderRepository
	active []*models.Provider
}

func (s *stubProviders) GetActive(context.Context) ([]*models.Provider, error) {
	return s.active, nil
}

func publishOne(t *testing.T, q *queue.Queue) {
	t.Helper()
	require.NoError(t, q.Publish(context.Background(), queue.SegmentEvent{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		SourceTag:   "filewatcher",
		Requested:   models.CapabilityList{models.CapabilityVisualAnalysis},
	}))
}

func TestScheduler_RecoverStale(t *testing.T) {
	q := testQueue(t, queue.WithLeaseTTL(time.Millisecond))
	s := New(q, nil, Config{}, testLogger())
	ctx := context.Background()

	publishOne(t, q)
	item, err := q.Lease(ctx, nil, time.Second)
	require.NoError(t, err)
	require.NotNil(t, item)

	time.Sleep(5 * time.Millisecond)
	s.recoverStale(ctx)

	counts, err := q.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.QueueStatePending], "expired lease returned to pending")
}

func TestScheduler_CleanupQueue(t *testing.T) {
	q := testQueue(t)
	s := New(q, nil, Config{QueueRetention: time.Nanosecond}, testLogger())
	ctx := context.Background()

	publishOne(t, q)
	item, err := q.Lease(ctx, nil, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, item.LeaseToken))

	time.Sleep(time.Millisecond)
	s.cleanupQueue(ctx)

	counts, err := q.Stats(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, counts[models.QueueStateDone], "settled item pruned")
}

func TestScheduler_RefreshMirror(t *testing.T) {
	mirrorPath := filepath.Join(t.TempDir(), "providers.json")
	repo := &stubProviders{active: []*models.Provider{{
		Name:         "vision-main",
		ProviderType: models.ProviderTypeHostedVision,
		Capabilities: models.CapabilityList{models.CapabilityObjectDetection},
		Active:       true,
	}}}
	registry := providers.NewRegistry(repo, mirrorPath, testLogger())

	s := New(testQueue(t), registry, Config{}, testLogger())

	// No mirror on disk yet: the job reloads and writes one.
	s.refreshMirror(context.Background())
	_, err := os.Stat(mirrorPath)
	require.NoError(t, err)

	// A fresh mirror is left alone; the snapshot stays untouched.
	before := registry.Current()
	s.refreshMirror(context.Background())
	assert.Same(t, before, registry.Current())
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(testQueue(t), nil, Config{}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start rejected")

	s.Stop()
	// Stop is idempotent.
	s.Stop()

	// A stopped scheduler can be started again.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
