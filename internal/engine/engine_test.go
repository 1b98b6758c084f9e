package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/execution"
	"github.com/segsight/segsight/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProviders resolves capabilities from a fixed map.
type stubProviders struct {
	bound map[models.Capability]*models.Provider
}

func (s *stubProviders) Get(c models.Capability) (*models.Provider, bool) {
	p, ok := s.bound[c]
	return p, ok
}

// stubFrames serves a fixed frame without touching ffmpeg.
type stubFrames struct {
	duration float64
	frame    image.Image
	frameErr error
}

func (s *stubFrames) Duration(context.Context, string) (float64, error) {
	return s.duration, nil
}

func (s *stubFrames) ExtractFrame(context.Context, string, float64) (image.Image, error) {
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	return s.frame, nil
}

// stubStrategy returns canned results per capability.
type stubStrategy struct {
	results map[models.Capability]analysis.CapabilityResult
	errs    map[models.Capability]error
	calls   []execution.Request
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Healthy(context.Context) error { return nil }

func (s *stubStrategy) Execute(_ context.Context, req execution.Request) (analysis.CapabilityResult, error) {
	s.calls = append(s.calls, req)
	if err, ok := s.errs[req.Capability]; ok {
		return nil, err
	}
	if result, ok := s.results[req.Capability]; ok {
		return result, nil
	}
	return &analysis.DetectionResult{Kind: req.Capability}, nil
}

func (s *stubStrategy) Release() {}

func grayFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	return img
}

func writeSegment(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lobby-00001.ts")
	require.NoError(t, os.WriteFile(path, []byte("fake mpegts"), 0o600))
	return path
}

func boundProvider(c models.Capability, pt models.ProviderType) *models.Provider {
	return &models.Provider{
		BaseModel:    models.BaseModel{ID: models.NewULID()},
		Name:         string(pt),
		ProviderType: pt,
		Capabilities: models.CapabilityList{c},
		Active:       true,
	}
}

func TestAnalyzeSegment_AllCapabilities(t *testing.T) {
	segPath := writeSegment(t)
	strategy := &stubStrategy{
		results: map[models.Capability]analysis.CapabilityResult{
			models.CapabilityMotionAnalysis: &analysis.MotionResult{ActivityScore: 3.2, FramesAnalyzed: 9},
		},
	}
	providers := &stubProviders{bound: map[models.Capability]*models.Provider{
		models.CapabilityObjectDetection: boundProvider(models.CapabilityObjectDetection, models.ProviderTypeLocalObject),
		models.CapabilityLogoDetection:   boundProvider(models.CapabilityLogoDetection, models.ProviderTypePromptClassifier),
		models.CapabilityMotionAnalysis:  boundProvider(models.CapabilityMotionAnalysis, models.ProviderTypeLocalMotion),
	}}
	eng := New(strategy, providers, &stubFrames{duration: 6, frame: grayFrame()}, 0.5, testLogger())

	report := eng.AnalyzeSegment(context.Background(), Task{
		StreamKey:   "lobby",
		SegmentPath: segPath,
		SessionID:   "sess-1",
		Capabilities: []models.Capability{
			models.CapabilityObjectDetection,
			models.CapabilityLogoDetection,
			models.CapabilityMotionAnalysis,
			models.CapabilityVisualAnalysis,
		},
	})

	assert.Empty(t, report.Errors)
	assert.Len(t, report.Results, 4)
	assert.InDelta(t, 3.0, report.FrameTimestamp, 0.001, "midpoint of a 6s segment")

	visual, ok := report.Results[models.CapabilityVisualAnalysis].(*analysis.VisualResult)
	require.True(t, ok)
	assert.Greater(t, visual.Brightness, 0.4)

	motion, ok := report.Results[models.CapabilityMotionAnalysis].(*analysis.MotionResult)
	require.True(t, ok)
	assert.InDelta(t, 3.2, motion.ActivityScore, 0.001)

	// Visual never goes through the strategy.
	for _, call := range strategy.calls {
		assert.NotEqual(t, models.CapabilityVisualAnalysis, call.Capability)
	}
	assert.Len(t, strategy.calls, 3)
}

func TestAnalyzeSegment_MissingSegmentIsPermanentForAll(t *testing.T) {
	eng := New(&stubStrategy{}, &stubProviders{}, &stubFrames{}, 0.5, testLogger())

	report := eng.AnalyzeSegment(context.Background(), Task{
		StreamKey:   "lobby",
		SegmentPath: "/nonexistent/lobby-00001.ts",
		Capabilities: []models.Capability{
			models.CapabilityObjectDetection,
			models.CapabilityVisualAnalysis,
		},
	})

	assert.Empty(t, report.Results)
	require.Len(t, report.Errors, 2)
	for _, err := range report.Errors {
		assert.Equal(t, analysis.KindSegmentMissing, analysis.KindOf(err))
		assert.False(t, analysis.IsTransient(err))
	}
}

func TestAnalyzeSegment_FrameFailureSparesTemporal(t *testing.T) {
	segPath := writeSegment(t)
	strategy := &stubStrategy{
		results: map[models.Capability]analysis.CapabilityResult{
			models.CapabilityMotionAnalysis: &analysis.MotionResult{ActivityScore: 1.5},
		},
	}
	providers := &stubProviders{bound: map[models.Capability]*models.Provider{
		models.CapabilityObjectDetection: boundProvider(models.CapabilityObjectDetection, models.ProviderTypeLocalObject),
		models.CapabilityMotionAnalysis:  boundProvider(models.CapabilityMotionAnalysis, models.ProviderTypeLocalMotion),
	}}
	frames := &stubFrames{duration: 4, frameErr: errors.New("moov atom not found")}
	eng := New(strategy, providers, frames, 0.5, testLogger())

	report := eng.AnalyzeSegment(context.Background(), Task{
		StreamKey:   "lobby",
		SegmentPath: segPath,
		Capabilities: []models.Capability{
			models.CapabilityObjectDetection,
			models.CapabilityVisualAnalysis,
			models.CapabilityMotionAnalysis,
		},
	})

	require.Contains(t, report.Errors, models.CapabilityObjectDetection)
	require.Contains(t, report.Errors, models.CapabilityVisualAnalysis)
	assert.Equal(t, analysis.KindFrameDecode, analysis.KindOf(report.Errors[models.CapabilityObjectDetection]))

	motion, ok := report.Results[models.CapabilityMotionAnalysis].(*analysis.MotionResult)
	require.True(t, ok, "motion analysis proceeds without the midpoint frame")
	assert.InDelta(t, 1.5, motion.ActivityScore, 0.001)
}

func TestAnalyzeSegment_UnboundCapabilityIsUnconfigured(t *testing.T) {
	segPath := writeSegment(t)
	eng := New(&stubStrategy{}, &stubProviders{}, &stubFrames{duration: 2, frame: grayFrame()}, 0.5, testLogger())

	report := eng.AnalyzeSegment(context.Background(), Task{
		StreamKey:    "lobby",
		SegmentPath:  segPath,
		Capabilities: []models.Capability{models.CapabilityObjectDetection},
	})

	require.Contains(t, report.Errors, models.CapabilityObjectDetection)
	err := report.Errors[models.CapabilityObjectDetection]
	assert.Equal(t, analysis.KindUnconfigured, analysis.KindOf(err))
	assert.False(t, analysis.IsTransient(err))
}

func TestAnalyzeSegment_PartialFailureKeepsOtherResults(t *testing.T) {
	segPath := writeSegment(t)
	strategy := &stubStrategy{
		errs: map[models.Capability]error{
			models.CapabilityLogoDetection: analysis.NewError(analysis.KindRemoteTimeout,
				models.CapabilityLogoDetection, errors.New("deadline exceeded")),
		},
	}
	providers := &stubProviders{bound: map[models.Capability]*models.Provider{
		models.CapabilityObjectDetection: boundProvider(models.CapabilityObjectDetection, models.ProviderTypeLocalObject),
		models.CapabilityLogoDetection:   boundProvider(models.CapabilityLogoDetection, models.ProviderTypePromptClassifier),
	}}
	eng := New(strategy, providers, &stubFrames{duration: 2, frame: grayFrame()}, 0.5, testLogger())

	report := eng.AnalyzeSegment(context.Background(), Task{
		StreamKey:   "lobby",
		SegmentPath: segPath,
		Capabilities: []models.Capability{
			models.CapabilityObjectDetection,
			models.CapabilityLogoDetection,
		},
	})

	assert.Contains(t, report.Results, models.CapabilityObjectDetection)
	require.Contains(t, report.Errors, models.CapabilityLogoDetection)
	assert.True(t, analysis.IsTransient(report.Errors[models.CapabilityLogoDetection]))
}

func TestAnalyzeSegment_DefaultsToAllCapabilities(t *testing.T) {
	segPath := writeSegment(t)
	eng := New(&stubStrategy{}, &stubProviders{}, &stubFrames{duration: 2, frame: grayFrame()}, 0.5, testLogger())

	report := eng.AnalyzeSegment(context.Background(), Task{
		StreamKey:   "lobby",
		SegmentPath: segPath,
	})

	total := len(report.Results) + len(report.Errors)
	assert.Equal(t, len(models.AllCapabilities()), total)
	// Visual has no provider requirement, so it always succeeds.
	assert.Contains(t, report.Results, models.CapabilityVisualAnalysis)
}

func TestAnalyzeSegment_ZeroDurationAssumesShortSegment(t *testing.T) {
	segPath := writeSegment(t)
	eng := New(&stubStrategy{}, &stubProviders{}, &stubFrames{duration: 0, frame: grayFrame()}, 0.5, testLogger())

	report := eng.AnalyzeSegment(context.Background(), Task{
		StreamKey:    "lobby",
		SegmentPath:  segPath,
		Capabilities: []models.Capability{models.CapabilityVisualAnalysis},
	})

	assert.InDelta(t, 1.0, report.FrameTimestamp, 0.001)
}
