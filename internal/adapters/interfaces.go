// Package adapters implements the detection backends behind providers. Each
// adapter binds one provider type to the capabilities it can serve; a factory
// registry keyed by (capability, provider type) constructs them on demand so
// models are only loaded once a segment actually needs them.
package adapters

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"sync"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/httpclient"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

// Options carries per-request tuning shared by all adapters.
type Options struct {
	// ConfidenceThreshold drops detections below this confidence.
	ConfidenceThreshold float64
}

// Adapter is the surface common to every detection backend.
type Adapter interface {
	// Name identifies the adapter implementation for logging.
	Name() string
	// Release frees any lazily loaded model resources. Safe to call on an
	// adapter that never loaded anything, and safe to call twice.
	Release()
}

// Detector analyzes a single frame. Implemented by the image capabilities
// (object, logo, and text detection).
type Detector interface {
	Adapter
	DetectFrame(ctx context.Context, frame image.Image, opts Options) (*analysis.DetectionResult, error)
}

// VideoAnalyzer analyzes a whole segment. Implemented by the temporal
// capabilities (motion analysis), which need more than one frame.
type VideoAnalyzer interface {
	Adapter
	AnalyzeSegment(ctx context.Context, segmentPath string, opts Options) (*analysis.MotionResult, error)
}

// Deps bundles the shared infrastructure adapters draw on.
type Deps struct {
	Logger    *slog.Logger
	HTTP      *httpclient.Client
	Extractor *media.Extractor
	Brands    repository.BrandRepository
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) httpClient() *httpclient.Client {
	if d.HTTP == nil {
		return httpclient.NewWithDefaults()
	}
	return d.HTTP
}

// Factory constructs an adapter for one provider serving one capability.
type Factory func(deps Deps, capability models.Capability, provider *models.Provider) (Adapter, error)

type registryKey struct {
	capability   models.Capability
	providerType models.ProviderType
}

var (
	registryMu sync.RWMutex
	registry   = map[registryKey]Factory{}
)

// Register binds a factory to a (capability, provider type) pair. It panics
// on duplicate registration; registration happens from init functions.
func Register(c models.Capability, t models.ProviderType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	key := registryKey{capability: c, providerType: t}
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("adapters: duplicate registration for %s/%s", c, t))
	}
	registry[key] = f
}

// Supported reports whether an adapter exists for the pair.
func Supported(c models.Capability, t models.ProviderType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[registryKey{capability: c, providerType: t}]
	return ok
}

// SupportedPairs lists every registered (capability, provider type) pair in a
// stable order, for diagnostics.
func SupportedPairs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	pairs := make([]string, 0, len(registry))
	for key := range registry {
		pairs = append(pairs, fmt.Sprintf("%s/%s", key.capability, key.providerType))
	}
	sort.Strings(pairs)
	return pairs
}

// New constructs the adapter serving capability with the given provider.
func New(deps Deps, c models.Capability, provider *models.Provider) (Adapter, error) {
	if provider == nil {
		return nil, fmt.Errorf("adapters: nil provider for %s", c)
	}
	registryMu.RLock()
	factory, ok := registry[registryKey{capability: c, providerType: provider.ProviderType}]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapters: no adapter for %s served by %s", c, provider.ProviderType)
	}
	return factory(deps, c, provider)
}
