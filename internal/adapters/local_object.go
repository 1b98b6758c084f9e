package adapters

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/util"
)

func init() {
	Register(models.CapabilityObjectDetection, models.ProviderTypeLocalObject, newLocalObject)
}

const (
	runnerBinaryName = "segsight-runner"
	runnerBinaryEnv  = "SEGSIGHT_RUNNER_BINARY"
	// runnerMaxLine bounds a single response line from the runner.
	runnerMaxLine = 16 << 20
)

// localObject drives an object-detection model through a long-lived runner
// subprocess speaking line-delimited JSON on stdin/stdout. The runner (and
// with it the model weights) is started on first use and torn down by
// Release.
type localObject struct {
	model  string
	binary string // config override; empty means auto-detect
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func newLocalObject(deps Deps, _ models.Capability, p *models.Provider) (Adapter, error) {
	if p.ModelIdentifier == "" {
		return nil, fmt.Errorf("provider %s: model_identifier is required", p.Name)
	}
	return &localObject{
		model:  p.ModelIdentifier,
		binary: p.APIConfig["binary"],
		logger: deps.logger().With(slog.String("adapter", "local_object"), slog.String("provider", p.Name)),
	}, nil
}

func (a *localObject) Name() string { return "local_object" }

// ensureRunner starts the runner subprocess if it is not already up.
// Callers hold a.mu.
func (a *localObject) ensureRunner() error {
	if a.cmd != nil {
		return nil
	}

	binary := a.binary
	if binary == "" {
		found, err := util.FindBinary(runnerBinaryName, runnerBinaryEnv)
		if err != nil {
			return err
		}
		binary = found
	}

	cmd := exec.Command(binary, "serve", "--model", a.model)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("runner stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("runner stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting runner: %w", err)
	}

	a.logger.Info("model runner started",
		slog.String("model", a.model),
		slog.Int("pid", cmd.Process.Pid))

	a.cmd = cmd
	a.stdin = stdin
	a.stdout = bufio.NewReaderSize(stdout, 64<<10)
	return nil
}

// teardown kills the runner so the next call starts fresh. Callers hold a.mu.
func (a *localObject) teardown() {
	if a.cmd == nil {
		return
	}
	_ = a.stdin.Close()
	_ = a.cmd.Process.Kill()
	_ = a.cmd.Wait()
	a.cmd = nil
	a.stdin = nil
	a.stdout = nil
}

// Release stops the runner subprocess and frees the loaded model.
func (a *localObject) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != nil {
		a.logger.Info("model runner stopped", slog.String("model", a.model))
	}
	a.teardown()
}

type runnerRequest struct {
	Image     string  `json:"image"`
	Threshold float64 `json:"threshold"`
}

type runnerDetection struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	BBox       models.BoundingBox `json:"bbox"`
}

type runnerResponse struct {
	Detections []runnerDetection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

func (a *localObject) DetectFrame(ctx context.Context, frame image.Image, opts Options) (*analysis.DetectionResult, error) {
	encoded, err := media.EncodeJPEGBase64(frame, media.JPEGQuality)
	if err != nil {
		return nil, analysis.NewError(analysis.KindFrameDecode, models.CapabilityObjectDetection, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureRunner(); err != nil {
		return nil, analysis.NewError(analysis.KindUnconfigured, models.CapabilityObjectDetection, err)
	}

	resp, err := a.roundTrip(ctx, runnerRequest{Image: encoded, Threshold: opts.ConfidenceThreshold})
	if err != nil {
		// A broken pipe means the runner died; restart it on the next call.
		a.teardown()
		return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityObjectDetection, err)
	}
	if resp.Error != "" {
		return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityObjectDetection,
			fmt.Errorf("runner error: %s", resp.Error))
	}

	detections := make([]analysis.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		if d.Confidence < opts.ConfidenceThreshold || !d.BBox.Valid() {
			continue
		}
		detections = append(detections, analysis.Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		})
	}

	return &analysis.DetectionResult{Kind: models.CapabilityObjectDetection, Detections: detections}, nil
}

// roundTrip writes one request line and reads one response line. The read is
// raced against ctx so a hung runner cannot wedge the worker. Callers hold
// a.mu.
func (a *localObject) roundTrip(ctx context.Context, req runnerRequest) (*runnerResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')

	if _, err := a.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("writing to runner: %w", err)
	}

	type lineResult struct {
		line []byte
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := readBoundedLine(a.stdout, runnerMaxLine)
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("reading from runner: %w", res.err)
		}
		var resp runnerResponse
		if err := json.Unmarshal(res.line, &resp); err != nil {
			return nil, fmt.Errorf("decoding runner response: %w", err)
		}
		return &resp, nil
	case <-time.After(time.Minute):
		return nil, fmt.Errorf("runner response timed out")
	}
}

// readBoundedLine reads a newline-terminated line up to max bytes.
func readBoundedLine(r *bufio.Reader, max int) ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > max {
			return nil, fmt.Errorf("runner response exceeds %d bytes", max)
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

var _ Detector = (*localObject)(nil)
