package adapters

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
	"sort"
	"strings"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/httpclient"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
)

func init() {
	for _, c := range []models.Capability{
		models.CapabilityObjectDetection,
		models.CapabilityLogoDetection,
		models.CapabilityTextDetection,
	} {
		Register(c, models.ProviderTypeHostedVision, newHostedVision)
	}
}

const (
	hostedVisionMaxResults = 50
	hostedVisionPath       = "/v1/analyze"
)

// hostedVisionFeature maps a capability to the feature name the hosted API
// expects.
func hostedVisionFeature(c models.Capability) string {
	switch c {
	case models.CapabilityObjectDetection:
		return "OBJECT_LOCALIZATION"
	case models.CapabilityLogoDetection:
		return "LOGO_DETECTION"
	case models.CapabilityTextDetection:
		return "TEXT_DETECTION"
	default:
		return ""
	}
}

// hostedVision calls a hosted vision REST backend. One instance serves one
// capability; the feature requested per call is fixed at construction.
type hostedVision struct {
	capability models.Capability
	endpoint   string
	apiKey     string
	model      string
	feature    string
	client     *httpclient.Client
	logger     *slog.Logger
}

func newHostedVision(deps Deps, c models.Capability, p *models.Provider) (Adapter, error) {
	endpoint := strings.TrimRight(p.APIConfig["endpoint"], "/")
	if endpoint == "" {
		return nil, fmt.Errorf("provider %s: api_config.endpoint is required", p.Name)
	}
	feature := hostedVisionFeature(c)
	if feature == "" {
		return nil, fmt.Errorf("provider %s: hosted vision cannot serve %s", p.Name, c)
	}
	return &hostedVision{
		capability: c,
		endpoint:   endpoint,
		apiKey:     p.APIConfig["api_key"],
		model:      p.ModelIdentifier,
		feature:    feature,
		client:     deps.httpClient(),
		logger:     deps.logger().With(slog.String("adapter", "hosted_vision"), slog.String("provider", p.Name)),
	}, nil
}

func (a *hostedVision) Name() string { return "hosted_vision" }

// Release is a no-op: the backend holds the model, not us.
func (a *hostedVision) Release() {}

type hostedVisionRequest struct {
	Image               string  `json:"image"`
	Feature             string  `json:"feature"`
	Model               string  `json:"model,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxResults          int     `json:"max_results"`
}

type hostedVisionDetection struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	BBox       models.BoundingBox `json:"bbox"`
}

type hostedVisionResponse struct {
	Detections []hostedVisionDetection `json:"detections"`
	Error      string                  `json:"error,omitempty"`
}

func (a *hostedVision) DetectFrame(ctx context.Context, frame image.Image, opts Options) (*analysis.DetectionResult, error) {
	encoded, err := media.EncodeJPEGBase64(frame, media.JPEGQuality)
	if err != nil {
		return nil, analysis.NewError(analysis.KindFrameDecode, a.capability, err)
	}

	payload, err := json.Marshal(hostedVisionRequest{
		Image:               encoded,
		Feature:             a.feature,
		Model:               a.model,
		ConfidenceThreshold: opts.ConfidenceThreshold,
		MaxResults:          hostedVisionMaxResults,
	})
	if err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, a.capability, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+hostedVisionPath, bytes.NewReader(payload))
	if err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, a.capability, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(a.capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, analysis.NewError(analysis.KindInvalidResponse, a.capability,
			fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded hostedVisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, analysis.NewError(analysis.KindInvalidResponse, a.capability, err)
	}
	if decoded.Error != "" {
		return nil, analysis.NewError(analysis.KindInvalidResponse, a.capability,
			fmt.Errorf("backend error: %s", decoded.Error))
	}

	detections := make([]analysis.Detection, 0, len(decoded.Detections))
	for _, d := range decoded.Detections {
		if d.Confidence < opts.ConfidenceThreshold || !d.BBox.Valid() {
			continue
		}
		detections = append(detections, analysis.Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		})
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	return &analysis.DetectionResult{Kind: a.capability, Detections: detections}, nil
}

// classifyTransportError maps an HTTP transport failure onto the retry
// taxonomy: deadline hits are timeouts, everything else that never produced a
// response means the backend is unreachable.
func classifyTransportError(c models.Capability, err error) error {
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

var _ Detector = (*hostedVision)(nil)
