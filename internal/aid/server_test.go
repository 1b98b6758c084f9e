package aid

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segsight/segsight/internal/adapters"
	"github.com/segsight/segsight/internal/execution"
	"github.com/segsight/segsight/internal/httpclient"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFrame returns a small solid frame encoded as base64 JPEG.
func testFrame(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	encoded, err := media.EncodeJPEGBase64(img, media.JPEGQuality)
	require.NoError(t, err)
	return encoded
}

// fakeVisionBackend serves the hosted vision wire protocol with a fixed
// detection list.
func fakeVisionBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/analyze", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{
					"label":      "person",
					"confidence": 0.91,
					"bbox":       map[string]float64{"x": 0.1, "y": 0.1, "width": 0.3, "height": 0.5},
				},
			},
		})
	}))
}

func startAid(t *testing.T, brands *StaticBrands) *httptest.Server {
	t.Helper()
	if brands == nil {
		brands = &StaticBrands{}
	}
	s := NewServer(adapters.Deps{
		Logger: testLogger(),
		HTTP:   httpclient.NewWithDefaults(),
		Brands: brands,
	}, testLogger())
	t.Cleanup(s.Release)

	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return server
}

func postAnalyze(t *testing.T, server *httptest.Server, req execution.AnalyzeRequest) (*http.Response, execution.AnalyzeResponse) {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/ai/analyze", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded execution.AnalyzeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestServer_AnalyzeHostedVision(t *testing.T) {
	backend := fakeVisionBackend(t)
	defer backend.Close()

	server := startAid(t, nil)

	resp, decoded := postAnalyze(t, server, execution.AnalyzeRequest{
		Image:               testFrame(t),
		AnalysisTypes:       []string{string(models.CapabilityObjectDetection)},
		ConfidenceThreshold: 0.5,
		AdapterConfig: execution.AdapterConfig{
			ProviderType: string(models.ProviderTypeHostedVision),
			APIConfig:    map[string]string{"endpoint": backend.URL},
		},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, decoded.Error)

	result, ok := decoded.Results[string(models.CapabilityObjectDetection)]
	require.True(t, ok)
	require.Empty(t, result.Error)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, "person", result.Detections[0].Label)
	assert.InDelta(t, 0.91, result.Detections[0].Confidence, 1e-9)
}

func TestServer_AnalyzeRejectsTemporal(t *testing.T) {
	server := startAid(t, nil)

	resp, decoded := postAnalyze(t, server, execution.AnalyzeRequest{
		Image:         testFrame(t),
		AnalysisTypes: []string{string(models.CapabilityMotionAnalysis)},
		AdapterConfig: execution.AdapterConfig{
			ProviderType: string(models.ProviderTypeLocalMotion),
		},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decoded.Results[string(models.CapabilityMotionAnalysis)]
	assert.Contains(t, result.Error, "temporal")
}

func TestServer_AnalyzeUnknownCapability(t *testing.T) {
	server := startAid(t, nil)

	resp, decoded := postAnalyze(t, server, execution.AnalyzeRequest{
		Image:         testFrame(t),
		AnalysisTypes: []string{"face_detection"},
		AdapterConfig: execution.AdapterConfig{
			ProviderType: string(models.ProviderTypeHostedVision),
		},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decoded.Results["face_detection"].Error, "unknown capability")
}

func TestServer_AnalyzeBadRequest(t *testing.T) {
	server := startAid(t, nil)

	resp, decoded := postAnalyze(t, server, execution.AnalyzeRequest{
		AnalysisTypes: []string{string(models.CapabilityObjectDetection)},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decoded.Error, "image is required")
}

func TestServer_Health(t *testing.T) {
	server := startAid(t, nil)

	resp, err := http.Get(server.URL + "/ai/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status   string   `json:"status"`
		Adapters []string `json:"adapters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.NotEmpty(t, body.Adapters)
}

func TestServer_Info(t *testing.T) {
	server := startAid(t, nil)

	resp, err := http.Get(server.URL + "/ai/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "segsight-aid", body["application"])
	assert.Greater(t, body["cores"].(float64), 0.0)
}

func TestLoadBrands(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		brands, err := LoadBrands("")
		require.NoError(t, err)
		assert.Zero(t, brands.Len())

		vocab, err := brands.ActiveSearchTerms(context.Background())
		require.NoError(t, err)
		assert.Empty(t, vocab)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "brands.json")
		require.NoError(t, os.WriteFile(path, []byte(`[
			{"name": "Acme", "search_terms": ["acme", "ACME Corp"], "active": true},
			{"name": "Globex", "active": true},
			{"name": "Initech", "search_terms": ["initech"], "active": false}
		]`), 0o600))

		brands, err := LoadBrands(path)
		require.NoError(t, err)
		assert.Equal(t, 3, brands.Len())

		vocab, err := brands.ActiveSearchTerms(context.Background())
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"acme":      "Acme",
			"acme corp": "Acme",
			"globex":    "Globex",
		}, vocab)

		active, err := brands.GetActive(context.Background())
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("writes rejected", func(t *testing.T) {
		brands, err := LoadBrands("")
		require.NoError(t, err)
		assert.ErrorIs(t, brands.Create(context.Background(), &models.Brand{Name: "x"}), ErrReadOnlyBrands)
		assert.ErrorIs(t, brands.Update(context.Background(), &models.Brand{Name: "x"}), ErrReadOnlyBrands)
	})

	t.Run("missing name", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "brands.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"search_terms": ["x"]}]`), 0o600))
		_, err := LoadBrands(path)
		assert.Error(t, err)
	})
}
