package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/queue"
)

// QueueHandler exposes the durable event queue's state.
type QueueHandler struct {
	queue  *queue.Queue
	logger *slog.Logger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(q *queue.Queue, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueHandler{queue: q, logger: logger}
}

// Register registers the queue routes with the API.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getQueueStats",
		Method:      "GET",
		Path:        "/api/v1/queue/stats",
		Summary:     "Get queue statistics",
		Description: "Returns per-state item counts, overall and per sub-queue.",
		Tags:        []string{"Queue"},
	}, h.GetStats)
}

// QueueStatsInput is the input for getting queue statistics.
type QueueStatsInput struct{}

// QueueCounts holds per-state item counts for one queue.
type QueueCounts struct {
	Pending int64 `json:"pending"`
	Leased  int64 `json:"leased"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}

// QueueStatsOutput is the output for getting queue statistics.
type QueueStatsOutput struct {
	Body struct {
		Success bool                   `json:"success"`
		Total   QueueCounts            `json:"total"`
		Queues  map[string]QueueCounts `json:"queues"`
	}
}

// GetStats returns per-state item counts for every sub-queue.
func (h *QueueHandler) GetStats(ctx context.Context, input *QueueStatsInput) (*QueueStatsOutput, error) {
	resp := &QueueStatsOutput{}
	resp.Body.Success = true
	resp.Body.Queues = make(map[string]QueueCounts)

	total, err := h.queue.Stats(ctx, "")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch queue stats")
	}
	resp.Body.Total = toCounts(total)

	seen := make(map[string]struct{})
	for _, c := range models.AllCapabilities() {
		name := c.QueueName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		counts, err := h.queue.Stats(ctx, name)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to fetch queue stats")
		}
		resp.Body.Queues[name] = toCounts(counts)
	}
	return resp, nil
}

func toCounts(m map[models.QueueState]int64) QueueCounts {
	return QueueCounts{
		Pending: m[models.QueueStatePending],
		Leased:  m[models.QueueStateLeased],
		Done:    m[models.QueueStateDone],
		Failed:  m[models.QueueStateFailed],
	}
}
