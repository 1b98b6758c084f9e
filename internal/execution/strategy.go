// Package execution decides where inference runs. A strategy takes a
// capability request and executes it in-process, on a LAN worker, or against
// a cloud backend; a registry keyed by mode name constructs them so new
// placements can be added without touching the engine.
package execution

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/segsight/segsight/internal/adapters"
	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/config"
	"github.com/segsight/segsight/internal/httpclient"
	"github.com/segsight/segsight/internal/models"
)

// Strategy mode names, matching the analysis.mode config values.
const (
	ModeLocal     = "local"
	ModeRemoteLAN = "remote_lan"
	ModeCloud     = "cloud"
)

// Request is one capability execution. Frame capabilities carry the decoded
// frame; temporal capabilities carry the segment path instead.
type Request struct {
	Capability  models.Capability
	Provider    *models.Provider
	Frame       image.Image
	SegmentPath string
	Options     adapters.Options
}

// Temporal reports whether the request needs the whole segment.
func (r Request) Temporal() bool {
	return r.Capability.IsTemporal()
}

// Strategy executes capability requests somewhere.
type Strategy interface {
	// Name identifies the strategy for logging.
	Name() string
	// Execute runs one capability request.
	Execute(ctx context.Context, req Request) (analysis.CapabilityResult, error)
	// Healthy reports whether the strategy can currently serve requests.
	Healthy(ctx context.Context) error
	// Release frees any adapter resources the strategy holds.
	Release()
}

// Deps bundles what strategies need to run.
type Deps struct {
	Logger   *slog.Logger
	HTTP     *httpclient.Client
	Adapters adapters.Deps
	Config   config.AnalysisConfig
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

// Factory constructs a strategy from its dependencies.
type Factory func(deps Deps) (Strategy, error)

var (
	strategyMu sync.RWMutex
	strategies = map[string]Factory{}
)

// Register binds a factory to a mode name. It panics on duplicate
// registration; registration happens from init functions.
func Register(mode string, f Factory) {
	strategyMu.Lock()
	defer strategyMu.Unlock()
	if _, dup := strategies[mode]; dup {
		panic(fmt.Sprintf("execution: duplicate strategy registration for %q", mode))
	}
	strategies[mode] = f
}

// Modes lists the registered strategy modes in a stable order.
func Modes() []string {
	strategyMu.RLock()
	defer strategyMu.RUnlock()
	modes := make([]string, 0, len(strategies))
	for mode := range strategies {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	return modes
}

// New constructs the strategy for the given mode. Remote modes are wrapped
// with a local fallback so an unreachable worker degrades instead of
// failing every segment. remote_lan without a configured worker host runs
// in-process from the start rather than failing startup.
func New(mode string, deps Deps) (Strategy, error) {
	strategyMu.RLock()
	factory, ok := strategies[mode]
	strategyMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("execution: unknown strategy mode %q", mode)
	}

	if mode == ModeRemoteLAN && strings.TrimSpace(deps.Config.WorkerHost) == "" {
		deps.logger().Warn("remote_lan selected without analysis.worker_host, running locally")
		return newLocal(deps)
	}

	strategy, err := factory(deps)
	if err != nil {
		return nil, err
	}
	if mode == ModeLocal {
		return strategy, nil
	}

	local, err := newLocal(deps)
	if err != nil {
		strategy.Release()
		return nil, err
	}
	return newFallback(strategy, local, deps.logger()), nil
}
