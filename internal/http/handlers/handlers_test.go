package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
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

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Stream{}, &models.Provider{}, &models.Brand{},
		&models.Analysis{}, &models.Detection{}, &models.VisualSummary{},
		&models.QueueItem{}))
	return db
}

// statusOf extracts the HTTP status from a huma error return.
func statusOf(t *testing.T, err error) int {
	t.Helper()
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	return statusErr.GetStatus()
}

func TestStreamHandler_CRUD(t *testing.T) {
	h := NewStreamHandler(repository.NewStreamRepository(testDB(t)), testLogger())
	ctx := context.Background()

	created, err := h.CreateStream(ctx, &CreateStreamInput{Body: StreamBody{
		Name:      "Lobby Cam",
		StreamKey: "lobby",
	}})
	require.NoError(t, err)
	assert.Equal(t, "lobby", created.Body.Data.StreamKey)
	assert.Equal(t, models.SourceTypeRTMP, created.Body.Data.SourceType)
	assert.Equal(t, models.StreamStatusInactive, created.Body.Data.Status)

	// Duplicate stream key is rejected.
	_, err = h.CreateStream(ctx, &CreateStreamInput{Body: StreamBody{
		Name:      "Second Lobby",
		StreamKey: "lobby",
	}})
	assert.Equal(t, 409, statusOf(t, err))

	listed, err := h.ListStreams(ctx, &ListStreamsInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, listed.Body.Total)

	got, err := h.GetStream(ctx, &GetStreamInput{ID: created.Body.Data.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "Lobby Cam", got.Body.Data.Name)

	_, err = h.GetStream(ctx, &GetStreamInput{ID: "not-a-ulid"})
	assert.Equal(t, 400, statusOf(t, err))

	_, err = h.GetStream(ctx, &GetStreamInput{ID: models.NewULID().String()})
	assert.Equal(t, 404, statusOf(t, err))

	updated, err := h.UpdateStream(ctx, &UpdateStreamInput{
		ID: created.Body.Data.ID.String(),
		Body: StreamBody{
			Name:      "Lobby Cam HD",
			StreamKey: "lobby",
			SourceURL: "rtmp://ingest.local/live",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Lobby Cam HD", updated.Body.Data.Name)

	_, err = h.DeleteStream(ctx, &DeleteStreamInput{ID: created.Body.Data.ID.String()})
	require.NoError(t, err)

	_, err = h.GetStream(ctx, &GetStreamInput{ID: created.Body.Data.ID.String()})
	assert.Equal(t, 404, statusOf(t, err))
}

func TestStreamHandler_StartStop(t *testing.T) {
	repo := repository.NewStreamRepository(testDB(t))
	h := NewStreamHandler(repo, testLogger())
	ctx := context.Background()

	lobby := &models.Stream{Name: "Lobby", StreamKey: "lobby"}
	garage := &models.Stream{Name: "Garage", StreamKey: "garage"}
	require.NoError(t, repo.Create(ctx, lobby))
	require.NoError(t, repo.Create(ctx, garage))

	started, err := h.StartStream(ctx, &StartStreamInput{ID: lobby.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusActive, started.Body.Data.Status)
	assert.NotEmpty(t, started.Body.Data.SessionID)

	// A second activation while another stream is live conflicts.
	_, err = h.StartStream(ctx, &StartStreamInput{ID: garage.ID.String()})
	assert.Equal(t, 409, statusOf(t, err))

	// An active stream cannot be deleted.
	_, err = h.DeleteStream(ctx, &DeleteStreamInput{ID: lobby.ID.String()})
	assert.Equal(t, 409, statusOf(t, err))

	stopped, err := h.StopStream(ctx, &StopStreamInput{ID: lobby.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusInactive, stopped.Body.Data.Status)
	assert.Empty(t, stopped.Body.Data.SessionID)

	// Now the other stream can go live.
	_, err = h.StartStream(ctx, &StartStreamInput{ID: garage.ID.String()})
	assert.NoError(t, err)
}

func TestProviderHandler_CRUDAndBindings(t *testing.T) {
	repo := repository.NewProviderRepository(testDB(t))
	registry := providers.NewRegistry(repo, filepath.Join(t.TempDir(), "providers.json"), testLogger())
	h := NewProviderHandler(repo, registry, testLogger())
	ctx := context.Background()

	created, err := h.CreateProvider(ctx, &CreateProviderInput{Body: ProviderBody{
		Name:         "vision-main",
		ProviderType: models.ProviderTypeHostedVision,
		Capabilities: models.CapabilityList{models.CapabilityObjectDetection, models.CapabilityTextDetection},
		APIConfig:    models.APIConfig{"endpoint": "https://vision.example.com"},
		Active:       true,
	}})
	require.NoError(t, err)
	require.True(t, created.Body.Data.Active)

	// The mutation reloaded the registry.
	bindings, err := h.GetBindings(ctx, &GetBindingsInput{})
	require.NoError(t, err)
	require.Len(t, bindings.Body.Bindings, 2)
	assert.Equal(t, models.CapabilityObjectDetection, bindings.Body.Bindings[0].Capability)
	assert.Equal(t, "vision-main", bindings.Body.Bindings[0].ProviderName)

	// Duplicate name conflicts.
	_, err = h.CreateProvider(ctx, &CreateProviderInput{Body: ProviderBody{
		Name:         "vision-main",
		ProviderType: models.ProviderTypeHostedVision,
	}})
	assert.Equal(t, 409, statusOf(t, err))

	// Unknown capability strings are rejected.
	_, err = h.CreateProvider(ctx, &CreateProviderInput{Body: ProviderBody{
		Name:         "broken",
		ProviderType: models.ProviderTypeHostedVision,
		Capabilities: models.CapabilityList{"face_detection"},
	}})
	assert.Equal(t, 422, statusOf(t, err))

	second, err := h.CreateProvider(ctx, &CreateProviderInput{Body: ProviderBody{
		Name:         "local-objects",
		ProviderType: models.ProviderTypeLocalObject,
		Capabilities: models.CapabilityList{models.CapabilityObjectDetection},
		Active:       false,
	}})
	require.NoError(t, err)

	// Activating a second provider that claims object_detection conflicts.
	_, err = h.ActivateProvider(ctx, &SetActiveInput{ID: second.Body.Data.ID.String()})
	assert.Equal(t, 409, statusOf(t, err))

	// Deactivating the first frees the capability.
	_, err = h.DeactivateProvider(ctx, &SetActiveInput{ID: created.Body.Data.ID.String()})
	require.NoError(t, err)
	_, err = h.ActivateProvider(ctx, &SetActiveInput{ID: second.Body.Data.ID.String()})
	require.NoError(t, err)

	reloaded, err := h.ReloadProviders(ctx, &ReloadProvidersInput{})
	require.NoError(t, err)
	assert.Equal(t, []models.Capability{models.CapabilityObjectDetection}, reloaded.Body.Capabilities)
}

func TestBrandHandler_CRUD(t *testing.T) {
	h := NewBrandHandler(repository.NewBrandRepository(testDB(t)), testLogger())
	ctx := context.Background()

	created, err := h.CreateBrand(ctx, &CreateBrandInput{Body: BrandBody{
		Name:        "Acme",
		SearchTerms: models.StringList{"acme logo", "acme cola"},
		Active:      true,
	}})
	require.NoError(t, err)
	assert.Len(t, created.Body.Data.SearchTerms, 2)

	updated, err := h.UpdateBrand(ctx, &UpdateBrandInput{
		ID: created.Body.Data.ID.String(),
		Body: BrandBody{
			Name:        "Acme",
			SearchTerms: models.StringList{"acme logo"},
			Active:      false,
		},
	})
	require.NoError(t, err)
	assert.False(t, updated.Body.Data.Active)
	assert.Len(t, updated.Body.Data.SearchTerms, 1)

	listed, err := h.ListBrands(ctx, &ListBrandsInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, listed.Body.Total)

	_, err = h.DeleteBrand(ctx, &DeleteBrandInput{ID: created.Body.Data.ID.String()})
	require.NoError(t, err)

	_, err = h.GetBrand(ctx, &GetBrandInput{ID: created.Body.Data.ID.String()})
	assert.Equal(t, 404, statusOf(t, err))
}

func TestAnalysisHandler_ListAndRecent(t *testing.T) {
	repo := repository.NewAnalysisRepository(testDB(t))
	h := NewAnalysisHandler(repo, testLogger())
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, repo.Create(ctx, &models.Analysis{
			StreamKey:   "lobby",
			SegmentPath: fmt.Sprintf("/seg/lobby-%05d.ts", i),
			CapturedAt:  time.Now().Add(time.Duration(i) * time.Second),
			Capability:  models.CapabilityVisualAnalysis,
		}))
	}

	listed, err := h.ListStreamAnalyses(ctx, &ListStreamAnalysesInput{
		StreamKey: "lobby", Page: 1, Limit: 5,
	})
	require.NoError(t, err)
	assert.Len(t, listed.Body.Items, 5)
	assert.Equal(t, int64(7), listed.Body.Total)
	assert.Equal(t, 2, listed.Body.TotalPages)

	recent, err := h.GetRecent(ctx, &GetRecentInput{StreamKey: "lobby", Limit: 5})
	require.NoError(t, err)
	require.Len(t, recent.Body.Items, 5)
	assert.Equal(t, "/seg/lobby-00006.ts", recent.Body.Items[0].SegmentPath, "newest first")

	got, err := h.GetAnalysis(ctx, &GetAnalysisInput{ID: recent.Body.Items[0].ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "lobby", got.Body.Data.StreamKey)

	_, err = h.GetAnalysis(ctx, &GetAnalysisInput{ID: models.NewULID().String()})
	assert.Equal(t, 404, statusOf(t, err))
}

func TestQueueHandler_Stats(t *testing.T) {
	q := queue.New(repository.NewQueueRepository(testDB(t)), testLogger())
	h := NewQueueHandler(q, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, queue.SegmentEvent{
		StreamKey:   "lobby",
		SegmentPath: "/seg/lobby-00001.ts",
		SourceTag:   "filewatcher",
	}))

	stats, err := h.GetStats(ctx, &QueueStatsInput{})
	require.NoError(t, err)

	// Every capability maps to a sub-queue; logo detection gets its own.
	assert.Equal(t, int64(2), stats.Body.Total.Pending)
	assert.Equal(t, int64(1), stats.Body.Queues[models.QueueLogoDetection].Pending)
	assert.Equal(t, int64(1), stats.Body.Queues[models.QueueVisualAnalysis].Pending)
}

func TestHealthHandler(t *testing.T) {
	db := testDB(t)
	handler := NewHealthHandler("1.2.3").WithDB(db)

	out, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.Equal(t, "ok", out.Body.Checks["database"])
	assert.NotZero(t, out.Body.CPUInfo.Cores)

	livez, err := handler.GetLivez(context.Background(), &LivezInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", livez.Body.Status)

	readyz, err := handler.GetReadyz(context.Background(), &ReadyzInput{})
	require.NoError(t, err)
	assert.Equal(t, "ready", readyz.Body.Status)

	// Without a database the service is not ready.
	bare := NewHealthHandler("1.2.3")
	readyz, err = bare.GetReadyz(context.Background(), &ReadyzInput{})
	require.NoError(t, err)
	assert.Equal(t, "not_ready", readyz.Body.Status)
	assert.Equal(t, "not_configured", readyz.Body.Components["database"])
}
