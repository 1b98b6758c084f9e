package providers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProviders satisfies only the GetActive call the registry makes.
type stubProviders struct {
	repository.ProviderRepository
	active []*models.Provider
	err    error
	calls  atomic.Int32
}

func (s *stubProviders) GetActive(context.Context) ([]*models.Provider, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.active, nil
}

func testProviders() []*models.Provider {
	return []*models.Provider{
		{
			BaseModel:    models.BaseModel{ID: models.NewULID()},
			Name:         "Local Object Detector",
			ProviderType: models.ProviderTypeLocalObject,
			Capabilities: models.CapabilityList{models.CapabilityObjectDetection},
			Active:       true,
		},
		{
			BaseModel:    models.BaseModel{ID: models.NewULID()},
			Name:         "Local Logo Classifier",
			ProviderType: models.ProviderTypePromptClassifier,
			Capabilities: models.CapabilityList{models.CapabilityLogoDetection},
			Active:       true,
		},
	}
}

func TestRegistry_Reload(t *testing.T) {
	repo := &stubProviders{active: testProviders()}
	registry := NewRegistry(repo, "", testLogger())

	require.NoError(t, registry.Reload(context.Background()))

	provider, ok := registry.Get(models.CapabilityObjectDetection)
	require.True(t, ok)
	assert.Equal(t, "Local Object Detector", provider.Name)

	assert.True(t, registry.Has(models.CapabilityLogoDetection))
	assert.False(t, registry.Has(models.CapabilityTextDetection))

	assert.Equal(t,
		[]models.Capability{models.CapabilityObjectDetection, models.CapabilityLogoDetection},
		registry.ActiveCapabilities())
}

func TestRegistry_EmptyBeforeReload(t *testing.T) {
	registry := NewRegistry(&stubProviders{}, "", testLogger())

	assert.False(t, registry.Has(models.CapabilityObjectDetection))
	assert.Nil(t, registry.Current())
	assert.Empty(t, registry.ActiveCapabilities())
}

func TestRegistry_ReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	repo := &stubProviders{active: testProviders()}
	registry := NewRegistry(repo, "", testLogger())
	require.NoError(t, registry.Reload(context.Background()))

	before := registry.Current()

	repo.err = errors.New("database is down")
	err := registry.Reload(context.Background())
	require.Error(t, err)

	assert.Same(t, before, registry.Current(), "failed reload must not clear the snapshot")
	assert.True(t, registry.Has(models.CapabilityObjectDetection))
}

func TestRegistry_SnapshotIsImmutable(t *testing.T) {
	repo := &stubProviders{active: testProviders()}
	registry := NewRegistry(repo, "", testLogger())
	require.NoError(t, registry.Reload(context.Background()))

	held := registry.Current()

	repo.active = testProviders()[:1]
	require.NoError(t, registry.Reload(context.Background()))

	assert.True(t, held.ActiveCapabilities()[1] == models.CapabilityLogoDetection,
		"a held snapshot keeps its view across reloads")
	assert.False(t, registry.Has(models.CapabilityLogoDetection))
}

func TestRegistry_OnReloadCallback(t *testing.T) {
	repo := &stubProviders{active: testProviders()}
	registry := NewRegistry(repo, "", testLogger())

	var released atomic.Int32
	registry.OnReload(func() { released.Add(1) })

	require.NoError(t, registry.Reload(context.Background()))
	require.NoError(t, registry.Reload(context.Background()))
	assert.Equal(t, int32(2), released.Load())
}

func TestRegistry_CapabilityConflictFirstWins(t *testing.T) {
	first := testProviders()[0]
	duplicate := &models.Provider{
		BaseModel:    models.BaseModel{ID: models.NewULID()},
		Name:         "Imposter",
		ProviderType: models.ProviderTypeHostedVision,
		Capabilities: models.CapabilityList{models.CapabilityObjectDetection},
		Active:       true,
	}
	repo := &stubProviders{active: []*models.Provider{first, duplicate}}
	registry := NewRegistry(repo, "", testLogger())
	require.NoError(t, registry.Reload(context.Background()))

	provider, ok := registry.Get(models.CapabilityObjectDetection)
	require.True(t, ok)
	assert.Equal(t, "Local Object Detector", provider.Name)
}

func TestRegistry_MirrorRoundTrip(t *testing.T) {
	mirrorPath := filepath.Join(t.TempDir(), "cache", "providers.json")

	repo := &stubProviders{active: testProviders()}
	registry := NewRegistry(repo, mirrorPath, testLogger())
	require.NoError(t, registry.Reload(context.Background()))

	_, err := os.Stat(mirrorPath)
	require.NoError(t, err, "reload writes the mirror")

	// A cold registry with a dead database comes up from the mirror.
	deadRepo := &stubProviders{err: errors.New("database is down")}
	recovered := NewRegistry(deadRepo, mirrorPath, testLogger())
	require.NoError(t, recovered.Reload(context.Background()))

	assert.True(t, recovered.Has(models.CapabilityObjectDetection))
	assert.True(t, recovered.Has(models.CapabilityLogoDetection))
}

func TestRegistry_StaleMirrorRejected(t *testing.T) {
	mirrorPath := filepath.Join(t.TempDir(), "providers.json")

	repo := &stubProviders{active: testProviders()}
	registry := NewRegistry(repo, mirrorPath, testLogger())
	require.NoError(t, registry.Reload(context.Background()))

	deadRepo := &stubProviders{err: errors.New("database is down")}
	recovered := NewRegistry(deadRepo, mirrorPath, testLogger(), WithMirrorTTL(time.Nanosecond))
	time.Sleep(time.Millisecond)

	err := recovered.Reload(context.Background())
	require.Error(t, err)
	assert.False(t, recovered.Has(models.CapabilityObjectDetection))
}

func TestRegistry_MirrorAge(t *testing.T) {
	mirrorPath := filepath.Join(t.TempDir(), "providers.json")
	registry := NewRegistry(&stubProviders{active: testProviders()}, mirrorPath, testLogger())

	_, err := registry.MirrorAge()
	require.Error(t, err, "no mirror before first reload")

	require.NoError(t, registry.Reload(context.Background()))
	age, err := registry.MirrorAge()
	require.NoError(t, err)
	assert.Less(t, age, time.Minute)
}
