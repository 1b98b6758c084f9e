package adapters

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
)

func init() {
	Register(models.CapabilityMotionAnalysis, models.ProviderTypeLocalMotion, newLocalMotion)
}

const (
	defaultMotionSampleFPS = 2.0
	defaultMotionMaxFrames = 16
)

// localMotion samples frames across a segment and computes frame-difference
// activity in process. No model to load, so Release is free.
type localMotion struct {
	extractor *media.Extractor
	fps       float64
	maxFrames int
	logger    *slog.Logger
}

func newLocalMotion(deps Deps, _ models.Capability, p *models.Provider) (Adapter, error) {
	fps := defaultMotionSampleFPS
	if raw := p.APIConfig["sample_fps"]; raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("provider %s: invalid sample_fps %q", p.Name, raw)
		}
		fps = parsed
	}
	maxFrames := defaultMotionMaxFrames
	if raw := p.APIConfig["max_frames"]; raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2 {
			return nil, fmt.Errorf("provider %s: invalid max_frames %q", p.Name, raw)
		}
		maxFrames = parsed
	}

	if deps.Extractor == nil {
		return nil, fmt.Errorf("provider %s: frame extractor is required", p.Name)
	}

	return &localMotion{
		extractor: deps.Extractor,
		fps:       fps,
		maxFrames: maxFrames,
		logger:    deps.logger().With(slog.String("adapter", "local_motion"), slog.String("provider", p.Name)),
	}, nil
}

func (a *localMotion) Name() string { return "local_motion" }

func (a *localMotion) Release() {}

func (a *localMotion) AnalyzeSegment(ctx context.Context, segmentPath string, _ Options) (*analysis.MotionResult, error) {
	frames, err := a.extractor.SampleFrames(ctx, segmentPath, a.fps, a.maxFrames)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, analysis.NewError(analysis.KindSegmentMissing, models.CapabilityMotionAnalysis, err)
		case errors.Is(err, media.ErrNoFrame):
			return nil, analysis.NewError(analysis.KindFrameDecode, models.CapabilityMotionAnalysis, err)
		default:
			return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityMotionAnalysis, err)
		}
	}

	result := analysis.ComputeMotion(frames)
	a.logger.Debug("motion computed",
		slog.String("segment", segmentPath),
		slog.Int("frames", result.FramesAnalyzed),
		slog.Float64("activity", result.ActivityScore))
	return result, nil
}

var _ VideoAnalyzer = (*localMotion)(nil)
