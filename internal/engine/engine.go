// Package engine turns one segment event into one SegmentReport: a single
// representative frame analyzed by every requested capability, through
// whatever execution strategy is configured.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/segsight/segsight/internal/adapters"
	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/execution"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
)

// ProviderSource resolves the provider currently bound to a capability.
// Satisfied by the providers registry.
type ProviderSource interface {
	Get(c models.Capability) (*models.Provider, bool)
}

// FrameSource extracts frames and timing from segments. Satisfied by the
// media extractor.
type FrameSource interface {
	Duration(ctx context.Context, segmentPath string) (float64, error)
	ExtractFrame(ctx context.Context, segmentPath string, offset float64) (image.Image, error)
}

// Engine analyzes segments.
type Engine struct {
	strategy  execution.Strategy
	providers ProviderSource
	frames    FrameSource
	threshold float64
	logger    *slog.Logger
}

// New creates an engine.
func New(strategy execution.Strategy, providers ProviderSource, frames FrameSource, threshold float64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		strategy:  strategy,
		providers: providers,
		frames:    frames,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "engine")),
	}
}

// Task names one segment analysis.
type Task struct {
	StreamKey    string
	SegmentPath  string
	SessionID    string
	Capabilities []models.Capability
}

// AnalyzeSegment runs every requested capability against the segment's
// midpoint frame. Per-capability failures land in the report's Errors map;
// the report itself is always returned so partial results survive.
func (e *Engine) AnalyzeSegment(ctx context.Context, task Task) *analysis.SegmentReport {
	start := time.Now()
	report := &analysis.SegmentReport{
		StreamKey:   task.StreamKey,
		SegmentPath: task.SegmentPath,
		SessionID:   task.SessionID,
		Results:     make(map[models.Capability]analysis.CapabilityResult, len(task.Capabilities)),
		Providers:   make(map[models.Capability]*models.Provider),
		Errors:      make(map[models.Capability]error),
	}
	defer func() {
		report.ProcessingTime = time.Since(start)
	}()

	caps := task.Capabilities
	if len(caps) == 0 {
		caps = models.AllCapabilities()
	}

	if _, err := os.Stat(task.SegmentPath); err != nil {
		// The segment is gone; nothing can run, and retrying cannot bring
		// it back.
		for _, c := range caps {
			report.Errors[c] = analysis.NewError(analysis.KindSegmentMissing, c, err)
		}
		return report
	}

	frame, offset, frameErr := e.midpointFrame(ctx, task.SegmentPath, caps)
	report.FrameTimestamp = offset

	if pts, err := media.SegmentStartPTS(ctx, task.SegmentPath); err == nil {
		report.StreamPTS = pts
	}

	for _, c := range caps {
		if ctx.Err() != nil {
			report.Errors[c] = ctx.Err()
			continue
		}
		result, err := e.runCapability(ctx, task, c, frame, frameErr, report)
		if err != nil {
			report.Errors[c] = err
			continue
		}
		report.Results[c] = result
	}

	e.logger.Debug("segment analyzed",
		slog.String("stream_key", task.StreamKey),
		slog.String("segment", task.SegmentPath),
		slog.Int("results", len(report.Results)),
		slog.Int("errors", len(report.Errors)),
		slog.Duration("took", time.Since(start)))
	return report
}

// midpointFrame extracts the segment's midpoint frame when any requested
// capability needs one. The error is kept per-capability rather than
// aborting: temporal capabilities do not care about a bad frame.
func (e *Engine) midpointFrame(ctx context.Context, segmentPath string, caps []models.Capability) (image.Image, float64, error) {
	needed := false
	for _, c := range caps {
		if !c.IsTemporal() {
			needed = true
			break
		}
	}

	duration, err := e.frames.Duration(ctx, segmentPath)
	if err != nil {
		duration = 0
	}
	offset := media.MidpointOffset(duration)
	if !needed {
		return nil, offset, nil
	}

	frame, err := e.frames.ExtractFrame(ctx, segmentPath, offset)
	if err != nil {
		return nil, offset, err
	}
	return frame, offset, nil
}

// runCapability produces the result for one capability, recording provider
// attribution on the report.
func (e *Engine) runCapability(ctx context.Context, task Task, c models.Capability, frame image.Image, frameErr error, report *analysis.SegmentReport) (analysis.CapabilityResult, error) {
	if !c.IsTemporal() && frameErr != nil {
		return nil, classifyFrameError(c, frameErr)
	}

	// Visual analysis is computed in-process regardless of the execution
	// mode; it is cheap and has no provider.
	if c == models.CapabilityVisualAnalysis {
		return analysis.ComputeVisual(frame), nil
	}

	provider, ok := e.providers.Get(c)
	if !ok {
		return nil, analysis.NewError(analysis.KindUnconfigured, c,
			fmt.Errorf("no active provider for %s", c))
	}
	report.Providers[c] = provider

	return e.strategy.Execute(ctx, execution.Request{
		Capability:  c,
		Provider:    provider,
		Frame:       frame,
		SegmentPath: task.SegmentPath,
		Options:     adapters.Options{ConfidenceThreshold: e.threshold},
	})
}

// classifyFrameError maps a frame extraction failure onto the retry
// taxonomy. A vanished segment is permanent; an undecodable one too, since
// the bytes on disk will not improve.
func classifyFrameError(c models.Capability, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return analysis.NewError(analysis.KindSegmentMissing, c, err)
	}
	return analysis.NewError(analysis.KindFrameDecode, c, err)
}

// Release releases the strategy's adapter resources.
func (e *Engine) Release() {
	e.strategy.Release()
}
