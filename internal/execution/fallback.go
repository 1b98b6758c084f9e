package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segsight/segsight/internal/analysis"
)

// healthCacheTTL is how long a health verdict is trusted before re-probing.
const healthCacheTTL = 30 * time.Second

// fallbackStrategy prefers a primary strategy but degrades to a fallback
// when the primary's health probe fails. Health verdicts are cached so a
// dead worker costs one probe per TTL, not one per segment.
type fallbackStrategy struct {
	primary  Strategy
	fallback Strategy
	logger   *slog.Logger

	mu        sync.Mutex
	checkedAt time.Time
	healthy   bool
}

func newFallback(primary, fallback Strategy, logger *slog.Logger) *fallbackStrategy {
	return &fallbackStrategy{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *fallbackStrategy) Name() string { return s.primary.Name() }

func (s *fallbackStrategy) Healthy(ctx context.Context) error {
	return s.primary.Healthy(ctx)
}

// primaryUsable re-probes the primary at most once per healthCacheTTL.
func (s *fallbackStrategy) primaryUsable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.checkedAt) < healthCacheTTL {
		return s.healthy
	}

	err := s.primary.Healthy(ctx)
	s.checkedAt = time.Now()
	s.healthy = err == nil
	if err != nil {
		s.logger.Warn("strategy unhealthy, falling back to local execution",
			slog.String("strategy", s.primary.Name()),
			slog.String("error", err.Error()))
	}
	return s.healthy
}

func (s *fallbackStrategy) Execute(ctx context.Context, req Request) (analysis.CapabilityResult, error) {
	if s.primaryUsable(ctx) {
		result, err := s.primary.Execute(ctx, req)
		if err == nil {
			return result, nil
		}
		// An unreachable worker flips the cached verdict so the next
		// segments go straight to the fallback. Timeouts propagate as
		// transient failures instead: the segment is nacked and retried
		// with backoff, where a silent local rerun would hide a slow
		// worker behind success.
		if analysis.KindOf(err) == analysis.KindRemoteUnreachable {
			s.mu.Lock()
			s.healthy = false
			s.checkedAt = time.Now()
			s.mu.Unlock()
			s.logger.Warn("worker unreachable, retrying locally",
				slog.String("strategy", s.primary.Name()),
				slog.String("capability", string(req.Capability)),
				slog.String("error", err.Error()))
		} else {
			return nil, err
		}
	}
	return s.fallback.Execute(ctx, req)
}

// Release releases both strategies.
func (s *fallbackStrategy) Release() {
	s.primary.Release()
	s.fallback.Release()
}

var _ Strategy = (*fallbackStrategy)(nil)
