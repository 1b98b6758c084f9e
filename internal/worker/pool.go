// Package worker drains the segment queue: lease, analyze, persist,
// broadcast, settle. Transient failures go back on the queue with backoff;
// permanent ones settle immediately.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segsight/segsight/internal/analysis"
	"github.com/segsight/segsight/internal/engine"
	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/queue"
	"github.com/segsight/segsight/internal/repository"
)

const (
	defaultWorkerCount = 2
	defaultLeaseWait   = 5 * time.Second
	staleSweepInterval = 30 * time.Second
)

// Analyzer is the engine surface the pool needs.
type Analyzer interface {
	AnalyzeSegment(ctx context.Context, task engine.Task) *analysis.SegmentReport
}

// Broadcaster pushes fresh analyses to live subscribers. Satisfied by the
// WebSocket hub.
type Broadcaster interface {
	BroadcastAnalysis(a *models.Analysis)
}

// Pool runs a fixed set of workers over the segment queue.
type Pool struct {
	queue     *queue.Queue
	engine    Analyzer
	analyses  repository.AnalysisRepository
	broadcast Broadcaster
	logger    *slog.Logger

	workerCount int
	queues      []string
	leaseWait   time.Duration
	threshold   float64
}

// Config tunes a Pool.
type Config struct {
	// WorkerCount is how many workers drain the queue concurrently.
	WorkerCount int
	// Queues restricts which sub-queues this pool drains; empty means all.
	Queues []string
	// LeaseWait is how long a worker blocks waiting for work per cycle.
	LeaseWait time.Duration
	// ConfidenceThreshold is recorded on every persisted analysis.
	ConfidenceThreshold float64
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, eng Analyzer, analyses repository.AnalysisRepository, broadcast Broadcaster, cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	if cfg.LeaseWait <= 0 {
		cfg.LeaseWait = defaultLeaseWait
	}
	return &Pool{
		queue:       q,
		engine:      eng,
		analyses:    analyses,
		broadcast:   broadcast,
		logger:      logger.With(slog.String("component", "worker")),
		workerCount: cfg.WorkerCount,
		queues:      cfg.Queues,
		leaseWait:   cfg.LeaseWait,
		threshold:   cfg.ConfidenceThreshold,
	}
}

// Run blocks until ctx is canceled, draining the queue with the configured
// number of workers plus a stale-lease sweeper.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		slog.Int("workers", p.workerCount),
		slog.Any("queues", p.queues))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.sweeper(ctx)
	}()

	wg.Wait()
	p.logger.Info("worker pool stopped")
	return ctx.Err()
}

func (p *Pool) worker(ctx context.Context, id int) {
	logger := p.logger.With(slog.Int("worker", id))
	for {
		item, err := p.queue.Lease(ctx, p.queues, p.leaseWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("lease failed", slog.String("error", err.Error()))
			continue
		}
		if item == nil {
			continue
		}
		p.process(ctx, logger, item)
	}
}

// sweeper returns expired leases to pending so crashed workers cannot strand
// items.
func (p *Pool) sweeper(ctx context.Context) {
	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.RecoverStale(ctx); err != nil {
				p.logger.Error("stale lease sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// process analyzes one leased item and settles it.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, item *models.QueueItem) {
	report := p.engine.AnalyzeSegment(ctx, engine.Task{
		StreamKey:    item.StreamKey,
		SegmentPath:  item.SegmentPath,
		SessionID:    item.SessionID,
		Capabilities: item.Capabilities,
	})

	persistErrs := p.persist(ctx, item, report)

	transientCauses, permanentCauses := splitCauses(report.Errors)
	transientCauses = append(transientCauses, persistErrs...)

	switch {
	case len(transientCauses) > 0:
		// Something may succeed on retry; the whole item goes back with
		// backoff. Capabilities already persisted are deduplicated by the
		// result store on the next pass.
		cause := strings.Join(transientCauses, "; ")
		if err := p.queue.Nack(ctx, item.LeaseToken, 0, cause); err != nil && !errors.Is(err, models.ErrLeaseNotFound) {
			logger.Error("nack failed", slog.String("error", err.Error()))
		}
		logger.Warn("segment requeued",
			slog.String("stream_key", item.StreamKey),
			slog.String("segment", item.SegmentPath),
			slog.Int("attempts", item.Attempts),
			slog.String("cause", cause))
	case len(report.Results) == 0 && len(permanentCauses) > 0:
		cause := strings.Join(permanentCauses, "; ")
		if err := p.queue.Fail(ctx, item.LeaseToken, cause); err != nil && !errors.Is(err, models.ErrLeaseNotFound) {
			logger.Error("fail failed", slog.String("error", err.Error()))
		}
		logger.Warn("segment failed permanently",
			slog.String("stream_key", item.StreamKey),
			slog.String("segment", item.SegmentPath),
			slog.String("cause", cause))
	default:
		if err := p.queue.Ack(ctx, item.LeaseToken); err != nil && !errors.Is(err, models.ErrLeaseNotFound) {
			logger.Error("ack failed", slog.String("error", err.Error()))
		}
		logger.Debug("segment settled",
			slog.String("stream_key", item.StreamKey),
			slog.String("segment", item.SegmentPath),
			slog.Int("results", len(report.Results)),
			slog.Duration("took", report.ProcessingTime))
	}
}

// persist stores each capability result and broadcasts the fresh ones.
// Returns descriptions of transient persistence failures.
func (p *Pool) persist(ctx context.Context, item *models.QueueItem, report *analysis.SegmentReport) []string {
	var transient []string
	for capability, result := range report.Results {
		row := p.buildAnalysis(item, report, capability, result)
		err := p.analyses.Create(ctx, row)
		switch {
		case err == nil:
			if p.broadcast != nil {
				p.broadcast.BroadcastAnalysis(row)
			}
		case errors.Is(err, models.ErrDuplicateSegmentAnalysis):
			// Replay of an already-persisted capability: success, but the
			// original broadcast already went out.
		default:
			transient = append(transient, fmt.Sprintf("%s: persist: %v", capability, err))
		}
	}
	return transient
}

// buildAnalysis flattens one capability result into its storage row.
func (p *Pool) buildAnalysis(item *models.QueueItem, report *analysis.SegmentReport, capability models.Capability, result analysis.CapabilityResult) *models.Analysis {
	row := &models.Analysis{
		StreamKey:           item.StreamKey,
		SessionID:           item.SessionID,
		SegmentPath:         item.SegmentPath,
		CapturedAt:          models.Now(),
		Capability:          capability,
		FrameTimestamp:      report.FrameTimestamp,
		ConfidenceThreshold: p.threshold,
		ProcessingTimeMs:    report.ProcessingTime.Milliseconds(),
	}
	if capability.IsProviderDriven() {
		if provider := report.Providers[capability]; provider != nil {
			id := provider.ID
			row.ProviderID = &id
		}
	}

	switch r := result.(type) {
	case *analysis.DetectionResult:
		// Empty detection lists persist too: "nothing found" is a result.
		for _, d := range r.Detections {
			det := models.Detection{
				Label:         d.Label,
				Confidence:    d.Confidence,
				DetectionType: capability.DetectionType(),
			}
			det.SetBBox(d.BBox)
			row.Detections = append(row.Detections, det)
		}
	case *analysis.MotionResult:
		activity := r.ActivityScore
		average := r.AverageMotion
		peak := r.MaxMotion
		row.Visual = &models.VisualSummary{
			Activity:      &activity,
			AverageMotion: &average,
			MaxMotion:     &peak,
		}
		for _, area := range r.MotionAreas {
			det := models.Detection{
				Label:         "motion",
				Confidence:    1,
				DetectionType: "motion",
			}
			det.SetBBox(area)
			row.Detections = append(row.Detections, det)
		}
	case *analysis.VisualResult:
		row.Visual = &models.VisualSummary{
			DominantColors: models.RGBList(r.DominantColors),
			Brightness:     r.Brightness,
			Contrast:       r.Contrast,
			Saturation:     r.Saturation,
		}
	}
	return row
}

// splitCauses partitions per-capability errors by retryability.
func splitCauses(errs map[models.Capability]error) (transient, permanent []string) {
	for capability, err := range errs {
		msg := fmt.Sprintf("%s: %v", capability, err)
		if analysis.IsTransient(err) {
			transient = append(transient, msg)
		} else {
			permanent = append(permanent, msg)
		}
	}
	return transient, permanent
}
