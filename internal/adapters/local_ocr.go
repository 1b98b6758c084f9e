package adapters

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/util"
)

func init() {
	Register(models.CapabilityTextDetection, models.ProviderTypeLocalOCR, newLocalOCR)
}

const (
	tesseractBinaryName = "tesseract"
	tesseractBinaryEnv  = "SEGSIGHT_TESSERACT_BINARY"
	defaultOCRLanguage  = "eng"
	// tsvWordLevel is the tesseract TSV level for individual words.
	tsvWordLevel = 5
)

// localOCR shells out to tesseract per frame and parses its TSV output.
// The binary is resolved on first use.
type localOCR struct {
	language string
	override string // config override; empty means auto-detect
	logger   *slog.Logger

	once   sync.Once
	binary string
	err    error
}

func newLocalOCR(deps Deps, _ models.Capability, p *models.Provider) (Adapter, error) {
	language := p.ModelIdentifier
	if language == "" {
		language = defaultOCRLanguage
	}
	return &localOCR{
		language: language,
		override: p.APIConfig["binary"],
		logger:   deps.logger().With(slog.String("adapter", "local_ocr"), slog.String("provider", p.Name)),
	}, nil
}

func (a *localOCR) Name() string { return "local_ocr" }

// Release is a no-op: tesseract is invoked per call and holds nothing between
// them.
func (a *localOCR) Release() {}

func (a *localOCR) resolveBinary() (string, error) {
	a.once.Do(func() {
		if a.override != "" {
			a.binary = a.override
			return
		}
		a.binary, a.err = util.FindBinary(tesseractBinaryName, tesseractBinaryEnv)
	})
	return a.binary, a.err
}

func (a *localOCR) DetectFrame(ctx context.Context, frame image.Image, opts Options) (*analysis.DetectionResult, error) {
	binary, err := a.resolveBinary()
	if err != nil {
		return nil, analysis.NewError(analysis.KindUnconfigured, models.CapabilityTextDetection, err)
	}

	data, err := media.EncodeJPEG(frame, media.JPEGQuality)
	if err != nil {
		return nil, analysis.NewError(analysis.KindFrameDecode, models.CapabilityTextDetection, err)
	}

	tmpDir, err := os.MkdirTemp("", "segsight-ocr-")
	if err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityTextDetection, err)
	}
	defer os.RemoveAll(tmpDir)

	framePath := filepath.Join(tmpDir, "frame.jpg")
	if err := os.WriteFile(framePath, data, 0o600); err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityTextDetection, err)
	}

	cmd := exec.CommandContext(ctx, binary, framePath, "stdout", "-l", a.language, "tsv")
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityTextDetection,
			fmt.Errorf("tesseract failed: %s", detail))
	}

	bounds := frame.Bounds()
	detections := parseTesseractTSV(output, bounds.Dx(), bounds.Dy(), opts.ConfidenceThreshold)
	return &analysis.DetectionResult{Kind: models.CapabilityTextDetection, Detections: detections}, nil
}

// parseTesseractTSV extracts word-level detections from tesseract TSV output.
// Pixel boxes are normalized against the frame dimensions; tesseract reports
// confidence as 0-100.
func parseTesseractTSV(output []byte, frameW, frameH int, threshold float64) []analysis.Detection {
	if frameW <= 0 || frameH <= 0 {
		return nil
	}

	var detections []analysis.Detection
	lines := strings.Split(string(output), "\n")
	for i, line := range lines {
		if i == 0 {
			// Header row.
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}

		level, err := strconv.Atoi(fields[0])
		if err != nil || level != tsvWordLevel {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(fields[11])
		if text == "" {
			continue
		}

		confidence := conf / 100
		if confidence < threshold {
			continue
		}

		left, err1 := strconv.Atoi(fields[6])
		top, err2 := strconv.Atoi(fields[7])
		width, err3 := strconv.Atoi(fields[8])
		height, err4 := strconv.Atoi(fields[9])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}

		bbox := models.BoundingBox{
			X:      float64(left) / float64(frameW),
			Y:      float64(top) / float64(frameH),
			Width:  float64(width) / float64(frameW),
			Height: float64(height) / float64(frameH),
		}
		if !bbox.Valid() {
			continue
		}

		detections = append(detections, analysis.Detection{
			Label:      text,
			Confidence: confidence,
			BBox:       bbox,
		})
	}
	return detections
}

var _ Detector = (*localOCR)(nil)
