package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

// AnalysisHandler handles analysis result browsing endpoints.
type AnalysisHandler struct {
	analyses repository.AnalysisRepository
	logger   *slog.Logger
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(analyses repository.AnalysisRepository, logger *slog.Logger) *AnalysisHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisHandler{analyses: analyses, logger: logger}
}

// Register registers the analysis routes with the API.
func (h *AnalysisHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreamAnalyses",
		Method:      "GET",
		Path:        "/api/v1/streams/{stream_key}/analyses",
		Summary:     "List analyses for a stream",
		Description: "Returns paginated analysis results for a stream, newest first.",
		Tags:        []string{"Analyses"},
	}, h.ListStreamAnalyses)

	huma.Register(api, huma.Operation{
		OperationID: "getRecentStreamAnalyses",
		Method:      "GET",
		Path:        "/api/v1/streams/{stream_key}/analyses/recent",
		Summary:     "Get recent analyses for a stream",
		Tags:        []string{"Analyses"},
	}, h.GetRecent)

	huma.Register(api, huma.Operation{
		OperationID: "getAnalysis",
		Method:      "GET",
		Path:        "/api/v1/analyses/{id}",
		Summary:     "Get an analysis by ID",
		Tags:        []string{"Analyses"},
	}, h.GetAnalysis)
}

// ListStreamAnalysesInput is the input for listing a stream's analyses.
type ListStreamAnalysesInput struct {
	StreamKey string `path:"stream_key" required:"true"`
	Page      int    `query:"page" default:"1" minimum:"1"`
	Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

// ListStreamAnalysesOutput is the output for listing a stream's analyses.
type ListStreamAnalysesOutput struct {
	Body struct {
		Success    bool               `json:"success"`
		Items      []*models.Analysis `json:"items"`
		Total      int64              `json:"total"`
		Page       int                `json:"page"`
		PerPage    int                `json:"per_page"`
		TotalPages int                `json:"total_pages"`
	}
}

// ListStreamAnalyses returns paginated analyses for a stream, newest first.
func (h *AnalysisHandler) ListStreamAnalyses(ctx context.Context, input *ListStreamAnalysesInput) (*ListStreamAnalysesOutput, error) {
	offset := (input.Page - 1) * input.Limit
	items, total, err := h.analyses.ListForStream(ctx, input.StreamKey, offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch analyses")
	}

	totalPages := int(total) / input.Limit
	if int(total)%input.Limit > 0 {
		totalPages++
	}

	resp := &ListStreamAnalysesOutput{}
	resp.Body.Success = true
	resp.Body.Items = items
	resp.Body.Total = total
	resp.Body.Page = input.Page
	resp.Body.PerPage = input.Limit
	resp.Body.TotalPages = totalPages
	return resp, nil
}

// GetRecentInput is the input for getting recent analyses.
type GetRecentInput struct {
	StreamKey string `path:"stream_key" required:"true"`
	Limit     int    `query:"limit" default:"5" minimum:"1" maximum:"50"`
}

// GetRecentOutput is the output for getting recent analyses.
type GetRecentOutput struct {
	Body struct {
		Success bool               `json:"success"`
		Items   []*models.Analysis `json:"items"`
	}
}

// GetRecent returns the most recent analyses for a stream, newest first.
func (h *AnalysisHandler) GetRecent(ctx context.Context, input *GetRecentInput) (*GetRecentOutput, error) {
	items, err := h.analyses.RecentForStream(ctx, input.StreamKey, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch recent analyses")
	}

	resp := &GetRecentOutput{}
	resp.Body.Success = true
	resp.Body.Items = items
	return resp, nil
}

// GetAnalysisInput is the input for getting an analysis.
type GetAnalysisInput struct {
	ID string `path:"id" required:"true"`
}

// GetAnalysisOutput is the output for getting an analysis.
type GetAnalysisOutput struct {
	Body struct {
		Success bool             `json:"success"`
		Data    *models.Analysis `json:"data"`
	}
}

// GetAnalysis returns an analysis with its detections and visual summary.
func (h *AnalysisHandler) GetAnalysis(ctx context.Context, input *GetAnalysisInput) (*GetAnalysisOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid analysis ID")
	}

	analysis, err := h.analyses.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch analysis")
	}
	if analysis == nil {
		return nil, huma.Error404NotFound("Analysis not found")
	}

	resp := &GetAnalysisOutput{}
	resp.Body.Success = true
	resp.Body.Data = analysis
	return resp, nil
}
