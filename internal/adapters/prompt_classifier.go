package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/httpclient"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

func init() {
	Register(models.CapabilityLogoDetection, models.ProviderTypePromptClassifier, newPromptClassifier)
}

const (
	// maxLogoResults caps how many brand matches a single frame reports.
	maxLogoResults = 5
	// negativePrompt anchors the classifier: frames where it wins carry no
	// recognizable brand.
	negativePrompt = "a photo with no brands or logos"

	classifierPath = "/classify"
)

// promptPrefix turns a vocabulary term into a classifier prompt.
func promptForTerm(term string) string {
	return "a photo containing " + term
}

// fullFrame is the bounding box reported for classifier matches: a
// classifier scores the whole frame, it does not localize.
var fullFrame = models.BoundingBox{X: 0, Y: 0, Width: 1, Height: 1}

// promptClassifier scores a frame against text prompts built from the brand
// vocabulary. The vocabulary is read fresh on every call so brand edits take
// effect without a reload.
type promptClassifier struct {
	endpoint string
	model    string
	client   *httpclient.Client
	brands   repository.BrandRepository
	logger   *slog.Logger
}

func newPromptClassifier(deps Deps, _ models.Capability, p *models.Provider) (Adapter, error) {
	endpoint := strings.TrimRight(p.APIConfig["endpoint"], "/")
	if endpoint == "" {
		return nil, fmt.Errorf("provider %s: api_config.endpoint is required", p.Name)
	}
	if deps.Brands == nil {
		return nil, fmt.Errorf("provider %s: brand repository is required", p.Name)
	}
	return &promptClassifier{
		endpoint: endpoint,
		model:    p.ModelIdentifier,
		client:   deps.httpClient(),
		brands:   deps.Brands,
		logger:   deps.logger().With(slog.String("adapter", "prompt_classifier"), slog.String("provider", p.Name)),
	}, nil
}

func (a *promptClassifier) Name() string { return "prompt_classifier" }

// Release is a no-op: the classifier service holds the model.
func (a *promptClassifier) Release() {}

type classifierRequest struct {
	Image   string   `json:"image"`
	Prompts []string `json:"prompts"`
	Model   string   `json:"model,omitempty"`
}

type classifierResponse struct {
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

func (a *promptClassifier) DetectFrame(ctx context.Context, frame image.Image, opts Options) (*analysis.DetectionResult, error) {
	vocab, err := a.brands.ActiveSearchTerms(ctx)
	if err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityLogoDetection, err)
	}
	if len(vocab) == 0 {
		// Nothing to look for; an empty result, not an error.
		return &analysis.DetectionResult{Kind: models.CapabilityLogoDetection}, nil
	}

	terms := make([]string, 0, len(vocab))
	for term := range vocab {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	prompts := make([]string, 0, len(terms)+1)
	for _, term := range terms {
		prompts = append(prompts, promptForTerm(term))
	}
	prompts = append(prompts, negativePrompt)

	encoded, err := media.EncodeJPEGBase64(frame, media.JPEGQuality)
	if err != nil {
		return nil, analysis.NewError(analysis.KindFrameDecode, models.CapabilityLogoDetection, err)
	}

	scores, err := a.classify(ctx, classifierRequest{Image: encoded, Prompts: prompts, Model: a.model})
	if err != nil {
		return nil, err
	}
	if len(scores) != len(prompts) {
		return nil, analysis.NewError(analysis.KindInvalidResponse, models.CapabilityLogoDetection,
			fmt.Errorf("classifier returned %d scores for %d prompts", len(scores), len(prompts)))
	}

	// The final score belongs to the negative prompt and is dropped; term
	// scores map back to the owning brand.
	detections := make([]analysis.Detection, 0, maxLogoResults)
	for i, term := range terms {
		score := scores[i]
		if score < opts.ConfidenceThreshold {
			continue
		}
		detections = append(detections, analysis.Detection{
			Label:      vocab[term],
			Confidence: score,
			BBox:       fullFrame,
		})
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	detections = dedupeByLabel(detections)
	if len(detections) > maxLogoResults {
		detections = detections[:maxLogoResults]
	}

	return &analysis.DetectionResult{Kind: models.CapabilityLogoDetection, Detections: detections}, nil
}

func (a *promptClassifier) classify(ctx context.Context, req classifierRequest) ([]float64, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityLogoDetection, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+classifierPath, bytes.NewReader(payload))
	if err != nil {
		return nil, analysis.NewError(analysis.KindAdapterTransient, models.CapabilityLogoDetection, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(models.CapabilityLogoDetection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, analysis.NewError(analysis.KindInvalidResponse, models.CapabilityLogoDetection,
			fmt.Errorf("classifier returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded classifierResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, analysis.NewError(analysis.KindInvalidResponse, models.CapabilityLogoDetection, err)
	}
	if decoded.Error != "" {
		return nil, analysis.NewError(analysis.KindInvalidResponse, models.CapabilityLogoDetection,
			fmt.Errorf("classifier error: %s", decoded.Error))
	}
	return decoded.Scores, nil
}

// dedupeByLabel keeps the highest-scoring detection per brand. Input must be
// sorted by confidence descending.
func dedupeByLabel(detections []analysis.Detection) []analysis.Detection {
	seen := make(map[string]bool, len(detections))
	out := detections[:0]
	for _, d := range detections {
		if seen[d.Label] {
			continue
		}
		seen[d.Label] = true
		out = append(out, d)
	}
	return out
}

var _ Detector = (*promptClassifier)(nil)
