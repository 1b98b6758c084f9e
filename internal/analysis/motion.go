package analysis

import (
	"image"

	"github.com/segsight/segsight/internal/models"
)

// Motion detection operates on a coarse grayscale grid rather than full
// frames: cheap, and resolution-independent.
const (
	motionGridW = 64
	motionGridH = 36
	// motionDiffThreshold is the per-cell gray delta that counts as change.
	motionDiffThreshold = 25.0
	// activityScale maps the average changed fraction onto [0,10].
	activityScale = 10.0
)

// ComputeMotion derives temporal activity from consecutive sampled frames.
// Fewer than two frames yields a zero result rather than an error: a static
// or unreadable segment simply has no measurable motion.
func ComputeMotion(frames []image.Image) *MotionResult {
	if len(frames) < 2 {
		return &MotionResult{}
	}

	grids := make([][]float64, len(frames))
	for i, frame := range frames {
		grids[i] = grayGrid(frame)
	}

	var fractionSum, fractionMax float64
	areas := make([]models.BoundingBox, 0, len(frames)-1)
	pairs := 0

	for i := 1; i < len(grids); i++ {
		fraction, area, ok := diffGrids(grids[i-1], grids[i])
		if !ok {
			continue
		}
		fractionSum += fraction
		if fraction > fractionMax {
			fractionMax = fraction
		}
		if area.Width > 0 && area.Height > 0 {
			areas = append(areas, area)
		}
		pairs++
	}
	if pairs == 0 {
		return &MotionResult{}
	}

	average := fractionSum / float64(pairs)
	return &MotionResult{
		AverageMotion:  average,
		MaxMotion:      fractionMax,
		ActivityScore:  average * activityScale,
		MotionAreas:    areas,
		FramesAnalyzed: pairs,
	}
}

// grayGrid downsamples a frame to a motionGridW x motionGridH grayscale grid.
func grayGrid(img image.Image) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}

	grid := make([]float64, motionGridW*motionGridH)
	for gy := 0; gy < motionGridH; gy++ {
		y := bounds.Min.Y + gy*h/motionGridH
		for gx := 0; gx < motionGridW; gx++ {
			x := bounds.Min.X + gx*w/motionGridW
			r, g, b, _ := img.At(x, y).RGBA()
			grid[gy*motionGridW+gx] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return grid
}

// diffGrids compares two grids and returns the changed-cell fraction plus the
// normalized bounding box enclosing all changed cells.
func diffGrids(prev, cur []float64) (float64, models.BoundingBox, bool) {
	if len(prev) != motionGridW*motionGridH || len(cur) != motionGridW*motionGridH {
		return 0, models.BoundingBox{}, false
	}

	changed := 0
	minX, minY := motionGridW, motionGridH
	maxX, maxY := -1, -1

	for y := 0; y < motionGridH; y++ {
		for x := 0; x < motionGridW; x++ {
			d := cur[y*motionGridW+x] - prev[y*motionGridW+x]
			if d < 0 {
				d = -d
			}
			if d <= motionDiffThreshold {
				continue
			}
			changed++
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	fraction := float64(changed) / float64(motionGridW*motionGridH)
	if maxX < 0 {
		return fraction, models.BoundingBox{}, true
	}

	box := models.BoundingBox{
		X:      float64(minX) / motionGridW,
		Y:      float64(minY) / motionGridH,
		Width:  float64(maxX-minX+1) / motionGridW,
		Height: float64(maxY-minY+1) / motionGridH,
	}
	return fraction, box, true
}
