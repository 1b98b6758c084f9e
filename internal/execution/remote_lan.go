package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/httpclient"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
)

func init() {
	Register(ModeRemoteLAN, func(deps Deps) (Strategy, error) {
		return newRemoteLAN(deps)
	})
}

const (
	// remoteMaxDim bounds the longest frame edge shipped to the worker.
	// Detection models downscale anyway; shipping full HD frames just burns
	// LAN bandwidth.
	remoteMaxDim = 640

	analyzePath = "/ai/analyze"
	healthPath  = "/ai/health"

	defaultHealthTimeout = 5 * time.Second
	defaultWorkerTimeout = 30 * time.Second
)

// AnalyzeRequest is the wire request the LAN inference worker accepts.
type AnalyzeRequest struct {
	// Image is a base64 JPEG frame.
	Image string `json:"image"`
	// AnalysisTypes names the capabilities to run on the frame.
	AnalysisTypes []string `json:"analysis_types"`
	// ConfidenceThreshold drops detections below this confidence.
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	// AdapterConfig tells the worker which backend serves the request.
	AdapterConfig AdapterConfig `json:"adapter_config"`
}

// AdapterConfig mirrors the provider binding so the worker can construct the
// matching adapter on its side.
type AdapterConfig struct {
	ProviderType    string            `json:"provider_type"`
	ModelIdentifier string            `json:"model_identifier,omitempty"`
	APIConfig       map[string]string `json:"api_config,omitempty"`
}

// WireDetection is one detection on the wire.
type WireDetection struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	BBox       models.BoundingBox `json:"bbox"`
}

// WireResult is the per-capability payload of an AnalyzeResponse.
type WireResult struct {
	Detections []WireDetection `json:"detections"`
	Error      string          `json:"error,omitempty"`
}

// AnalyzeResponse is the wire response from the LAN inference worker.
type AnalyzeResponse struct {
	Results map[string]WireResult `json:"results"`
	Error   string                `json:"error,omitempty"`
}

// remoteLAN ships frames to a worker on the local network. Temporal
// capabilities stay local: shipping whole segments would cost more than the
// inference saves.
type remoteLAN struct {
	baseURL       string
	client        *httpclient.Client
	local         *localStrategy
	healthTimeout time.Duration
	logger        *slog.Logger
}

func newRemoteLAN(deps Deps) (Strategy, error) {
	host := strings.TrimSpace(deps.Config.WorkerHost)
	if host == "" {
		return nil, fmt.Errorf("execution: remote_lan requires analysis.worker_host")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	local, err := newLocal(deps)
	if err != nil {
		return nil, err
	}

	healthTimeout := deps.Config.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}

	client := deps.HTTP
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = deps.Config.WorkerTimeout
		if cfg.Timeout <= 0 {
			cfg.Timeout = defaultWorkerTimeout
		}
		client = httpclient.New(cfg)
	}

	return &remoteLAN{
		baseURL:       strings.TrimRight(host, "/"),
		client:        client,
		local:         local,
		healthTimeout: healthTimeout,
		logger:        deps.logger().With(slog.String("strategy", ModeRemoteLAN)),
	}, nil
}

func (s *remoteLAN) Name() string { return ModeRemoteLAN }

// Healthy probes the worker's health endpoint.
func (s *remoteLAN) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()

	resp, err := s.client.Get(ctx, s.baseURL+healthPath)
	if err != nil {
		return fmt.Errorf("worker health probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker health probe: status %d", resp.StatusCode)
	}
	return nil
}

func (s *remoteLAN) Execute(ctx context.Context, req Request) (analysis.CapabilityResult, error) {
	if req.Temporal() {
		return s.local.Execute(ctx, req)
	}
	if req.Provider == nil {
		return nil, analysis.NewError(analysis.KindUnconfigured, req.Capability,
			fmt.Errorf("no provider bound to %s", req.Capability))
	}
	if req.Frame == nil {
		return nil, analysis.NewError(analysis.KindFrameDecode, req.Capability,
			fmt.Errorf("no frame for %s", req.Capability))
	}

	encoded, err := media.EncodeJPEGBase64(downscale(req.Frame, remoteMaxDim), media.JPEGQuality)
	if err != nil {
		return nil, analysis.NewError(analysis.KindFrameDecode, req.Capability, err)
	}

	payload, err := json.Marshal(AnalyzeRequest{
		Image:               encoded,
		AnalysisTypes:       []string{string(req.Capability)},
		ConfidenceThreshold: req.Options.ConfidenceThreshold,
		AdapterConfig: AdapterConfig{
			ProviderType:    string(req.Provider.ProviderType),
			ModelIdentifier: req.Provider.ModelIdentifier,
			APIConfig:       req.Provider.APIConfig,
		},
	})
	if err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, req.Capability, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+analyzePath, bytes.NewReader(payload))
	if err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, req.Capability, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, classifyWorkerError(req.Capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, analysis.NewError(analysis.KindInvalidResponse, req.Capability,
			fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, analysis.NewError(analysis.KindInvalidResponse, req.Capability, err)
	}
	if decoded.Error != "" {
		return nil, analysis.NewError(analysis.KindInvalidResponse, req.Capability,
			fmt.Errorf("worker error: %s", decoded.Error))
	}

	wire, ok := decoded.Results[string(req.Capability)]
	if !ok {
		return nil, analysis.NewError(analysis.KindInvalidResponse, req.Capability,
			fmt.Errorf("worker response missing %s", req.Capability))
	}
	if wire.Error != "" {
		return nil, analysis.NewError(analysis.KindAdapterTransient, req.Capability,
			fmt.Errorf("worker capability error: %s", wire.Error))
	}

	detections := make([]analysis.Detection, 0, len(wire.Detections))
	for _, d := range wire.Detections {
		if d.Confidence < req.Options.ConfidenceThreshold || !d.BBox.Valid() {
			continue
		}
		detections = append(detections, analysis.Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		})
	}
	return &analysis.DetectionResult{Kind: req.Capability, Detections: detections}, nil
}

// Release drops the local delegate's adapter cache.
func (s *remoteLAN) Release() {
	s.local.Release()
}

// classifyWorkerError maps a worker transport failure onto the retry
// taxonomy.
func classifyWorkerError(c models.Capability, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return analysis.NewError(analysis.KindRemoteTimeout, c, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return analysis.NewError(analysis.KindRemoteTimeout, c, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return analysis.NewError(analysis.KindRemoteUnreachable, c, err)
}

// downscale shrinks a frame so its longest edge is at most maxDim, keeping
// aspect ratio. Frames already small enough pass through untouched.
func downscale(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	dstW := int(float64(w) * scale)
	dstH := int(float64(h) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

var _ Strategy = (*remoteLAN)(nil)
