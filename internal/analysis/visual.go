package analysis

import (
	"image"
	"math"

	"github.com/segsight/segsight/internal/models"
)

// SentinelGray is the dominant-color placeholder reported when a frame
// yields no usable color statistics.
var SentinelGray = models.RGB{128, 128, 128}

// dominantColorCount is the number of k-means clusters for dominant colors.
const dominantColorCount = 3

// sampleTarget bounds how many pixels the visual statistics sample per frame.
const sampleTarget = 4096

// ComputeVisual derives brightness, contrast, saturation, and dominant colors
// from a single frame. All scalars are normalized to [0,1].
func ComputeVisual(img image.Image) *VisualResult {
	samples := samplePixels(img, sampleTarget)
	if len(samples) == 0 {
		return &VisualResult{DominantColors: []models.RGB{SentinelGray}}
	}

	var graySum, satSum float64
	grays := make([]float64, len(samples))
	for i, px := range samples {
		gray := 0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2])
		grays[i] = gray
		graySum += gray
		satSum += saturationOf(px)
	}

	n := float64(len(samples))
	mean := graySum / n

	var variance float64
	for _, g := range grays {
		d := g - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / n)

	return &VisualResult{
		DominantColors: dominantColors(samples),
		Brightness:     mean / 255,
		Contrast:       stddev / 255,
		Saturation:     satSum / n,
	}
}

// saturationOf returns the HSV saturation of a pixel in [0,1].
func saturationOf(px models.RGB) float64 {
	maxC := max(px[0], max(px[1], px[2]))
	if maxC == 0 {
		return 0
	}
	minC := min(px[0], min(px[1], px[2]))
	return float64(maxC-minC) / float64(maxC)
}

// samplePixels collects an evenly strided pixel sample from the frame.
func samplePixels(img image.Image, target int) []models.RGB {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}

	stride := int(math.Sqrt(float64(w*h) / float64(target)))
	if stride < 1 {
		stride = 1
	}

	samples := make([]models.RGB, 0, target)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			samples = append(samples, models.RGB{int(r >> 8), int(g >> 8), int(b >> 8)})
		}
	}
	return samples
}

// dominantColors clusters the sample with k-means (k=3). Initial centroids
// come from luminance percentiles so the result is deterministic.
func dominantColors(samples []models.RGB) []models.RGB {
	if len(samples) < dominantColorCount {
		return []models.RGB{SentinelGray}
	}

	centroids := initialCentroids(samples)
	assignments := make([]int, len(samples))

	for iter := 0; iter < 10; iter++ {
		changed := false
		for i, px := range samples {
			best, bestDist := 0, math.MaxFloat64
			for c, centroid := range centroids {
				if d := colorDist(px, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		var sums [dominantColorCount][3]int
		var counts [dominantColorCount]int
		for i, px := range samples {
			c := assignments[i]
			sums[c][0] += px[0]
			sums[c][1] += px[1]
			sums[c][2] += px[2]
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			centroids[c] = models.RGB{
				sums[c][0] / counts[c],
				sums[c][1] / counts[c],
				sums[c][2] / counts[c],
			}
		}

		if !changed {
			break
		}
	}

	// Order clusters by population, largest first.
	var counts [dominantColorCount]int
	for _, c := range assignments {
		counts[c]++
	}
	ordered := make([]models.RGB, 0, dominantColorCount)
	used := [dominantColorCount]bool{}
	for range centroids {
		best, bestCount := -1, -1
		for c := range centroids {
			if !used[c] && counts[c] > bestCount {
				best, bestCount = c, counts[c]
			}
		}
		used[best] = true
		if bestCount > 0 {
			ordered = append(ordered, centroids[best])
		}
	}
	if len(ordered) == 0 {
		return []models.RGB{SentinelGray}
	}
	return ordered
}

// initialCentroids seeds k-means from the darkest, median, and brightest
// sampled pixels.
func initialCentroids(samples []models.RGB) []models.RGB {
	darkest, brightest, median := samples[0], samples[0], samples[len(samples)/2]
	darkL, brightL := lumaOf(darkest), lumaOf(brightest)
	for _, px := range samples {
		l := lumaOf(px)
		if l < darkL {
			darkest, darkL = px, l
		}
		if l > brightL {
			brightest, brightL = px, l
		}
	}
	return []models.RGB{darkest, median, brightest}
}

func lumaOf(px models.RGB) float64 {
	return 0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2])
}

func colorDist(a, b models.RGB) float64 {
	dr := float64(a[0] - b[0])
	dg := float64(a[1] - b[1])
	db := float64(a[2] - b[2])
	return dr*dr + dg*dg + db*db
}
