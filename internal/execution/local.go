package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segsight/segsight/internal/adapters"
	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/models"
)

func init() {
	Register(ModeLocal, func(deps Deps) (Strategy, error) {
		return newLocal(deps)
	})
}

// localStrategy runs adapters in-process. Adapters are constructed on first
// use and cached per (capability, provider) so model loads amortize across
// segments; Release drops the whole cache, which is how a provider reload
// evicts stale models.
type localStrategy struct {
	deps   adapters.Deps
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]adapters.Adapter
}

func newLocal(deps Deps) (*localStrategy, error) {
	return &localStrategy{
		deps:   deps.Adapters,
		logger: deps.logger().With(slog.String("strategy", ModeLocal)),
		cache:  make(map[string]adapters.Adapter),
	}, nil
}

func (s *localStrategy) Name() string { return ModeLocal }

// Healthy always succeeds: in-process execution has no transport to probe.
func (s *localStrategy) Healthy(context.Context) error { return nil }

func (s *localStrategy) adapter(c models.Capability, p *models.Provider) (adapters.Adapter, error) {
	key := string(c) + "/" + p.ID.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}

	adapter, err := adapters.New(s.deps, c, p)
	if err != nil {
		return nil, err
	}
	s.cache[key] = adapter
	s.logger.Debug("adapter constructed",
		slog.String("capability", string(c)),
		slog.String("provider", p.Name),
		slog.String("adapter", adapter.Name()))
	return adapter, nil
}

func (s *localStrategy) Execute(ctx context.Context, req Request) (analysis.CapabilityResult, error) {
	if req.Provider == nil {
		return nil, analysis.NewError(analysis.KindUnconfigured, req.Capability,
			fmt.Errorf("no provider bound to %s", req.Capability))
	}

	adapter, err := s.adapter(req.Capability, req.Provider)
	if err != nil {
		return nil, analysis.NewError(analysis.KindUnconfigured, req.Capability, err)
	}

	if req.Temporal() {
		va, ok := adapter.(adapters.VideoAnalyzer)
		if !ok {
			return nil, analysis.NewError(analysis.KindUnconfigured, req.Capability,
				fmt.Errorf("adapter %s cannot analyze segments", adapter.Name()))
		}
		return va.AnalyzeSegment(ctx, req.SegmentPath, req.Options)
	}

	detector, ok := adapter.(adapters.Detector)
	if !ok {
		return nil, analysis.NewError(analysis.KindUnconfigured, req.Capability,
			fmt.Errorf("adapter %s cannot analyze frames", adapter.Name()))
	}
	if req.Frame == nil {
		return nil, analysis.NewError(analysis.KindFrameDecode, req.Capability,
			fmt.Errorf("no frame for %s", req.Capability))
	}
	return detector.DetectFrame(ctx, req.Frame, req.Options)
}

// Release drops all cached adapters, releasing their loaded models.
func (s *localStrategy) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, adapter := range s.cache {
		adapter.Release()
		delete(s.cache, key)
	}
}

var _ Strategy = (*localStrategy)(nil)
