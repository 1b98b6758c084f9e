// Package aid implements the LAN inference worker behind the remote_lan
// execution strategy. It accepts frames over HTTP, constructs the matching
// detection adapter from the wire adapter config, and returns detections.
package aid

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/segsight/segsight/internal/adapters"
	"github.com/segsight/segsight/internal/execution"
	"github.com/segsight/segsight/internal/http/middleware"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/version"
)

// maxAnalyzeBody bounds an analyze payload. A 640px JPEG frame is well under
// a megabyte even at quality 85; anything bigger is not a frame.
const maxAnalyzeBody = 8 << 20

// Server is the aid worker's HTTP surface.
type Server struct {
	deps      adapters.Deps
	logger    *slog.Logger
	startTime time.Time

	// Adapters are cached per provider binding so model runners survive
	// across requests instead of reloading weights per frame.
	mu    sync.Mutex
	cache map[string]adapters.Adapter
}

// NewServer creates an aid server.
func NewServer(deps adapters.Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:      deps,
		logger:    logger.With(slog.String("component", "aid")),
		startTime: time.Now(),
		cache:     make(map[string]adapters.Adapter),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLoggingMiddleware(s.logger))
	r.Use(middleware.Recovery(s.logger))

	r.Post("/ai/analyze", s.handleAnalyze)
	r.Get("/ai/health", s.handleHealth)
	r.Get("/ai/info", s.handleInfo)
	return r
}

// Release tears down every cached adapter. Called on shutdown.
func (s *Server) Release() {
	s.mu.Lock()
	cached := s.cache
	s.cache = make(map[string]adapters.Adapter)
	s.mu.Unlock()

	for _, a := range cached {
		a.Release()
	}
}

// adapter returns the cached adapter for the binding, constructing it on
// first use.
func (s *Server) adapter(c models.Capability, provider *models.Provider) (adapters.Adapter, error) {
	cfg, err := json.Marshal(provider.APIConfig)
	if err != nil {
		return nil, fmt.Errorf("hashing adapter config: %w", err)
	}
	key := fmt.Sprintf("%s|%s|%s|%s", c, provider.ProviderType, provider.ModelIdentifier, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.cache[key]; ok {
		return a, nil
	}
	a, err := adapters.New(s.deps, c, provider)
	if err != nil {
		return nil, err
	}
	s.cache[key] = a
	return a, nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req execution.AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, execution.AnalyzeResponse{Error: "invalid request body"})
		return
	}
	if req.Image == "" {
		writeJSON(w, http.StatusBadRequest, execution.AnalyzeResponse{Error: "image is required"})
		return
	}
	if len(req.AnalysisTypes) == 0 {
		writeJSON(w, http.StatusBadRequest, execution.AnalyzeResponse{Error: "analysis_types is required"})
		return
	}

	frame, err := media.DecodeJPEGBase64(req.Image)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, execution.AnalyzeResponse{Error: err.Error()})
		return
	}

	provider := &models.Provider{
		Name:            "wire",
		ProviderType:    models.ProviderType(req.AdapterConfig.ProviderType),
		ModelIdentifier: req.AdapterConfig.ModelIdentifier,
		APIConfig:       req.AdapterConfig.APIConfig,
	}
	opts := adapters.Options{ConfidenceThreshold: req.ConfidenceThreshold}

	resp := execution.AnalyzeResponse{Results: make(map[string]execution.WireResult, len(req.AnalysisTypes))}
	for _, name := range req.AnalysisTypes {
		resp.Results[name] = s.analyzeOne(r.Context(), name, provider, frame, opts)
	}
	writeJSON(w, http.StatusOK, resp)
}

// analyzeOne runs a single capability against the frame. Failures come back
// as a per-capability error so one broken binding does not fail the request.
func (s *Server) analyzeOne(ctx context.Context, name string, provider *models.Provider, frame image.Image, opts adapters.Options) execution.WireResult {
	capability, err := models.ParseCapability(name)
	if err != nil {
		return execution.WireResult{Error: err.Error()}
	}
	if capability.IsTemporal() {
		return execution.WireResult{Error: fmt.Sprintf("%s is temporal and runs on the coordinator", capability)}
	}

	adapter, err := s.adapter(capability, provider)
	if err != nil {
		return execution.WireResult{Error: err.Error()}
	}
	detector, ok := adapter.(adapters.Detector)
	if !ok {
		return execution.WireResult{Error: fmt.Sprintf("%s adapter does not analyze frames", adapter.Name())}
	}

	result, err := detector.DetectFrame(ctx, frame, opts)
	if err != nil {
		return execution.WireResult{Error: err.Error()}
	}

	detections := make([]execution.WireDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		detections = append(detections, execution.WireDetection{
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		})
	}
	return execution.WireResult{Detections: detections}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
		"adapters": adapters.SupportedPairs(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"application": version.ApplicationName + "-aid",
		"version":     version.GetInfo(),
		"cores":       runtime.NumCPU(),
		"goroutines":  runtime.NumGoroutine(),
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		info["load"] = map[string]float64{
			"1min":  loadAvg.Load1,
			"5min":  loadAvg.Load5,
			"15min": loadAvg.Load15,
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info["memory"] = map[string]any{
			"total_mb":     float64(vm.Total) / 1024 / 1024,
			"used_mb":      float64(vm.Used) / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}
	writeJSON(w, http.StatusOK, info)
}
