// Package media provides segment frame extraction and transport-stream
// probing on top of the ffmpeg and ffprobe binaries.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/segsight/segsight/internal/config"
	"github.com/segsight/segsight/internal/util"
)

// ErrNoFrame indicates ffmpeg produced no decodable frame for the segment.
var ErrNoFrame = fmt.Errorf("no decodable frame in segment")

// Extractor drives ffmpeg/ffprobe to pull frames out of media segments.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewExtractor locates the ffmpeg and ffprobe binaries and returns an
// Extractor. Binary search order: explicit config path, SEGSIGHT_FFMPEG_BINARY
// (resp. SEGSIGHT_FFPROBE_BINARY), ./ffmpeg, PATH.
func NewExtractor(cfg config.FFmpegConfig, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ffmpegPath := cfg.BinaryPath
	if ffmpegPath == "" {
		var err error
		ffmpegPath, err = util.FindBinary("ffmpeg", "SEGSIGHT_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
	}

	ffprobePath := cfg.ProbePath
	if ffprobePath == "" {
		// ffprobe is optional: without it duration falls back to a fixed
		// midpoint offset.
		ffprobePath, _ = util.FindBinary("ffprobe", "SEGSIGHT_FFPROBE_BINARY")
	}

	return &Extractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger.With(slog.String("component", "media")),
	}, nil
}

// probeFormat is the subset of ffprobe's format JSON we consume.
type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the segment duration in seconds, or 0 when ffprobe is
// unavailable or the container carries no duration.
func (e *Extractor) Duration(ctx context.Context, segmentPath string) (float64, error) {
	if e.ffprobePath == "" {
		return 0, nil
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		segmentPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probing segment: %w", err)
	}

	var result probeFormat
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	if result.Format.Duration == "" {
		return 0, nil
	}

	duration, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", result.Format.Duration, err)
	}
	return duration, nil
}

// MidpointOffset picks the representative frame offset for a segment of the
// given duration. Unknown durations assume a two-second segment.
func MidpointOffset(duration float64) float64 {
	if duration <= 0 {
		duration = 2
	}
	return duration / 2
}

// ExtractFrameJPEG decodes one frame at offset seconds into the segment and
// returns it JPEG-encoded.
func (e *Extractor) ExtractFrameJPEG(ctx context.Context, segmentPath string, offset float64) ([]byte, error) {
	if _, err := os.Stat(segmentPath); err != nil {
		return nil, fmt.Errorf("segment not accessible: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, frameArgs(segmentPath, offset)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("extracting frame: %w (%s)", err, lastLine(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, ErrNoFrame
	}
	return stdout.Bytes(), nil
}

// ExtractFrame decodes one frame at offset seconds into the segment.
func (e *Extractor) ExtractFrame(ctx context.Context, segmentPath string, offset float64) (image.Image, error) {
	data, err := e.ExtractFrameJPEG(ctx, segmentPath, offset)
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return img, nil
}

// frameArgs builds the ffmpeg invocation for single-frame extraction. The
// seek goes before the input so ffmpeg can use the fast keyframe seek path.
func frameArgs(segmentPath string, offset float64) []string {
	return []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", segmentPath,
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	}
}

// SampleFrames decodes frames sampled at the given rate across the whole
// segment, capped at maxFrames. Used by temporal analysis which needs frame
// pairs rather than a single representative frame.
func (e *Extractor) SampleFrames(ctx context.Context, segmentPath string, fps float64, maxFrames int) ([]image.Image, error) {
	if _, err := os.Stat(segmentPath); err != nil {
		return nil, fmt.Errorf("segment not accessible: %w", err)
	}
	if fps <= 0 {
		fps = 5
	}
	if maxFrames <= 0 {
		maxFrames = 16
	}

	tmpDir, err := os.MkdirTemp("", "segsight-frames-")
	if err != nil {
		return nil, fmt.Errorf("creating frame dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, sampleArgs(segmentPath, fps, maxFrames, tmpDir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("sampling frames: %w (%s)", err, lastLine(stderr.Bytes()))
	}

	entries, err := filepath.Glob(filepath.Join(tmpDir, "frame-*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("listing frames: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoFrame
	}
	sort.Strings(entries)

	frames := make([]image.Image, 0, len(entries))
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading frame %s: %w", filepath.Base(path), err)
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			// A truncated trailing frame is not fatal; temporal analysis
			// works on whatever pairs decode cleanly.
			e.logger.Debug("skipping undecodable frame", slog.String("frame", filepath.Base(path)))
			continue
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, ErrNoFrame
	}
	return frames, nil
}

// sampleArgs builds the ffmpeg invocation for frame sampling.
func sampleArgs(segmentPath string, fps float64, maxFrames int, outDir string) []string {
	return []string{
		"-v", "error",
		"-i", segmentPath,
		"-vf", "fps=" + strconv.FormatFloat(fps, 'f', -1, 64),
		"-frames:v", strconv.Itoa(maxFrames),
		"-f", "image2",
		"-q:v", "2",
		filepath.Join(outDir, "frame-%04d.jpg"),
	}
}

// lastLine returns the final non-empty line of ffmpeg's stderr, which is
// where it puts the actual failure reason.
func lastLine(output []byte) string {
	lines := bytes.Split(bytes.TrimSpace(output), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
			return string(line)
		}
	}
	return "no output"
}
