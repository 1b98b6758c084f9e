// Package providers maintains the in-memory view of which provider serves
// each capability. The view is an immutable snapshot swapped wholesale on
// reload, so readers on the hot path never take more than an RLock; a JSON
// mirror on disk lets the pipeline come up with its last known bindings when
// the database is briefly unavailable.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

// DefaultMirrorTTL is how long the disk mirror is trusted as a database
// stand-in.
const DefaultMirrorTTL = time.Hour

// Snapshot is an immutable capability-to-provider view. Once published it is
// never mutated; Reload builds a fresh one and swaps the pointer.
type Snapshot struct {
	byCapability map[models.Capability]*models.Provider
	loadedAt     time.Time
	source       string // "database" or "mirror"
}

// Get returns the provider bound to a capability.
func (s *Snapshot) Get(c models.Capability) (*models.Provider, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.byCapability[c]
	return p, ok
}

// ActiveCapabilities lists the capabilities with a bound provider, in the
// canonical capability order.
func (s *Snapshot) ActiveCapabilities() []models.Capability {
	if s == nil {
		return nil
	}
	var out []models.Capability
	for _, c := range models.AllCapabilities() {
		if _, ok := s.byCapability[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Registry owns the current snapshot and its disk mirror.
type Registry struct {
	repo       repository.ProviderRepository
	logger     *slog.Logger
	mirrorPath string
	mirrorTTL  time.Duration

	mu       sync.RWMutex
	snapshot *Snapshot
	onReload []func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithMirrorTTL overrides how long the disk mirror stays trusted.
func WithMirrorTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.mirrorTTL = ttl }
}

// NewRegistry creates a provider registry. mirrorPath may be empty to
// disable the disk mirror.
func NewRegistry(repo repository.ProviderRepository, mirrorPath string, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		repo:       repo,
		logger:     logger.With(slog.String("component", "providers")),
		mirrorPath: mirrorPath,
		mirrorTTL:  DefaultMirrorTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnReload registers a callback invoked after every successful snapshot
// swap. Used to evict adapter caches holding models for retired providers.
func (r *Registry) OnReload(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = append(r.onReload, fn)
}

// Reload rebuilds the snapshot from the database. On database failure the
// previous snapshot stays in place; if there is none yet, a fresh-enough
// disk mirror is used instead.
func (r *Registry) Reload(ctx context.Context) error {
	active, err := r.repo.GetActive(ctx)
	if err != nil {
		r.mu.RLock()
		hasSnapshot := r.snapshot != nil
		r.mu.RUnlock()
		if hasSnapshot {
			r.logger.Warn("provider reload failed, keeping previous snapshot",
				slog.String("error", err.Error()))
			return fmt.Errorf("reloading providers: %w", err)
		}
		if mirrorErr := r.loadMirror(); mirrorErr == nil {
			r.logger.Warn("provider reload failed, serving from disk mirror",
				slog.String("error", err.Error()))
			return nil
		}
		return fmt.Errorf("reloading providers: %w", err)
	}

	snapshot := buildSnapshot(active, "database", r.logger)
	r.publish(snapshot)

	if err := r.writeMirror(active); err != nil {
		// Mirror write failure is not fatal; the snapshot is live.
		r.logger.Warn("writing provider mirror failed", slog.String("error", err.Error()))
	}

	r.logger.Info("provider snapshot reloaded",
		slog.Int("providers", len(active)),
		slog.Int("capabilities", len(snapshot.byCapability)))
	return nil
}

func (r *Registry) publish(snapshot *Snapshot) {
	r.mu.Lock()
	r.snapshot = snapshot
	callbacks := make([]func(), len(r.onReload))
	copy(callbacks, r.onReload)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// buildSnapshot maps capabilities to providers. The repository enforces one
// active provider per capability, so a conflict here means stale rows; first
// one wins and the rest are logged.
func buildSnapshot(active []*models.Provider, source string, logger *slog.Logger) *Snapshot {
	byCapability := make(map[models.Capability]*models.Provider, len(active))
	for _, p := range active {
		for _, c := range p.Capabilities {
			if held, ok := byCapability[c]; ok {
				logger.Warn("capability claimed by multiple active providers",
					slog.String("capability", string(c)),
					slog.String("kept", held.Name),
					slog.String("ignored", p.Name))
				continue
			}
			byCapability[c] = p
		}
	}
	return &Snapshot{
		byCapability: byCapability,
		loadedAt:     time.Now(),
		source:       source,
	}
}

// Current returns the live snapshot. Callers hold it as a consistent view
// across one segment's analysis.
func (r *Registry) Current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Get returns the provider currently bound to a capability.
func (r *Registry) Get(c models.Capability) (*models.Provider, bool) {
	return r.Current().Get(c)
}

// Has reports whether a capability has a bound provider.
func (r *Registry) Has(c models.Capability) bool {
	_, ok := r.Get(c)
	return ok
}

// ActiveCapabilities lists capabilities with a bound provider.
func (r *Registry) ActiveCapabilities() []models.Capability {
	return r.Current().ActiveCapabilities()
}

// mirrorFile is the on-disk mirror format.
type mirrorFile struct {
	WrittenAt time.Time          `json:"written_at"`
	Providers []*models.Provider `json:"providers"`
}

func (r *Registry) writeMirror(active []*models.Provider) error {
	if r.mirrorPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.mirrorPath), 0o755); err != nil {
		return fmt.Errorf("creating mirror dir: %w", err)
	}

	data, err := json.MarshalIndent(mirrorFile{WrittenAt: time.Now(), Providers: active}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mirror: %w", err)
	}

	// Write-and-rename so a crash mid-write cannot leave a torn mirror.
	tmp := r.mirrorPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing mirror: %w", err)
	}
	if err := os.Rename(tmp, r.mirrorPath); err != nil {
		return fmt.Errorf("replacing mirror: %w", err)
	}
	return nil
}

func (r *Registry) loadMirror() error {
	if r.mirrorPath == "" {
		return fmt.Errorf("no mirror configured")
	}

	data, err := os.ReadFile(r.mirrorPath)
	if err != nil {
		return fmt.Errorf("reading mirror: %w", err)
	}

	var mirror mirrorFile
	if err := json.Unmarshal(data, &mirror); err != nil {
		return fmt.Errorf("decoding mirror: %w", err)
	}
	if age := time.Since(mirror.WrittenAt); age > r.mirrorTTL {
		return fmt.Errorf("mirror is stale: written %s ago", age.Round(time.Second))
	}

	r.publish(buildSnapshot(mirror.Providers, "mirror", r.logger))
	return nil
}

// MirrorAge returns how old the disk mirror is, or an error if it cannot be
// read. Used by the scheduler to decide whether a refresh is due.
func (r *Registry) MirrorAge() (time.Duration, error) {
	if r.mirrorPath == "" {
		return 0, fmt.Errorf("no mirror configured")
	}
	info, err := os.Stat(r.mirrorPath)
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}
