package analysis

import (
	"image"
	"image/color"
	"testing"

	"github.com/segsight/segsight/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidFrame builds a uniformly colored test frame.
func solidFrame(c color.RGBA, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// splitFrame is black on the left half, white on the right.
func splitFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	return img
}

func TestComputeVisual_BlackFrame(t *testing.T) {
	result := ComputeVisual(solidFrame(color.RGBA{A: 255}, 64, 64))

	assert.InDelta(t, 0.0, result.Brightness, 0.01)
	assert.InDelta(t, 0.0, result.Contrast, 0.01)
	assert.InDelta(t, 0.0, result.Saturation, 0.01)
	require.NotEmpty(t, result.DominantColors)
	assert.Equal(t, models.RGB{0, 0, 0}, result.DominantColors[0])
}

func TestComputeVisual_WhiteFrame(t *testing.T) {
	result := ComputeVisual(solidFrame(color.RGBA{R: 255, G: 255, B: 255, A: 255}, 64, 64))

	assert.InDelta(t, 1.0, result.Brightness, 0.01)
	assert.InDelta(t, 0.0, result.Contrast, 0.01)
	assert.InDelta(t, 0.0, result.Saturation, 0.01)
}

func TestComputeVisual_SaturatedFrame(t *testing.T) {
	result := ComputeVisual(solidFrame(color.RGBA{R: 255, A: 255}, 64, 64))

	assert.InDelta(t, 1.0, result.Saturation, 0.01)
	require.NotEmpty(t, result.DominantColors)
	first := result.DominantColors[0]
	assert.Greater(t, first[0], 200)
	assert.Less(t, first[1], 50)
}

func TestComputeVisual_HighContrast(t *testing.T) {
	result := ComputeVisual(splitFrame(64, 64))

	assert.InDelta(t, 0.5, result.Brightness, 0.05)
	assert.Greater(t, result.Contrast, 0.4)
}

func TestComputeVisual_EmptyImage(t *testing.T) {
	result := ComputeVisual(image.NewRGBA(image.Rect(0, 0, 0, 0)))

	assert.Equal(t, []models.RGB{SentinelGray}, result.DominantColors)
	assert.Zero(t, result.Brightness)
}

func TestComputeVisual_CapabilityTag(t *testing.T) {
	var result CapabilityResult = ComputeVisual(solidFrame(color.RGBA{A: 255}, 8, 8))
	assert.Equal(t, models.CapabilityVisualAnalysis, result.Capability())
}

func TestComputeMotion_StaticScene(t *testing.T) {
	frame := solidFrame(color.RGBA{R: 100, G: 100, B: 100, A: 255}, 64, 64)
	result := ComputeMotion([]image.Image{frame, frame, frame})

	assert.Zero(t, result.ActivityScore)
	assert.Equal(t, 2, result.FramesAnalyzed)
	assert.Empty(t, result.MotionAreas)
}

func TestComputeMotion_FullFrameChange(t *testing.T) {
	black := solidFrame(color.RGBA{A: 255}, 64, 64)
	white := solidFrame(color.RGBA{R: 255, G: 255, B: 255, A: 255}, 64, 64)

	result := ComputeMotion([]image.Image{black, white})

	assert.InDelta(t, 10.0, result.ActivityScore, 0.1, "a full-frame change saturates the score")
	assert.InDelta(t, 1.0, result.AverageMotion, 0.01)
	assert.InDelta(t, 1.0, result.MaxMotion, 0.01)
	require.Len(t, result.MotionAreas, 1)
	area := result.MotionAreas[0]
	assert.InDelta(t, 1.0, area.Width, 0.05)
	assert.InDelta(t, 1.0, area.Height, 0.05)
}

func TestComputeMotion_AverageAndMaxDiverge(t *testing.T) {
	black := solidFrame(color.RGBA{A: 255}, 64, 64)
	white := solidFrame(color.RGBA{R: 255, G: 255, B: 255, A: 255}, 64, 64)

	// One saturated pair followed by one static pair.
	result := ComputeMotion([]image.Image{black, white, white})

	assert.Equal(t, 2, result.FramesAnalyzed)
	assert.InDelta(t, 0.5, result.AverageMotion, 0.01)
	assert.InDelta(t, 1.0, result.MaxMotion, 0.01)
	assert.InDelta(t, 5.0, result.ActivityScore, 0.1)
}

func TestComputeMotion_TooFewFrames(t *testing.T) {
	frame := solidFrame(color.RGBA{A: 255}, 64, 64)

	assert.Zero(t, ComputeMotion(nil).ActivityScore)
	assert.Zero(t, ComputeMotion([]image.Image{frame}).FramesAnalyzed)
}

func TestComputeMotion_CapabilityTag(t *testing.T) {
	var result CapabilityResult = ComputeMotion(nil)
	assert.Equal(t, models.CapabilityMotionAnalysis, result.Capability())
}
