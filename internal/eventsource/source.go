// Package eventsource produces new-segment events for the analysis queue.
// A source watches wherever segments appear (a directory, an object store,
// a webhook) and hands matching segments to the dispatcher, which resolves
// the owning stream and publishes to the durable queue.
package eventsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/segsight/segsight/internal/queue"
	"github.com/segsight/segsight/internal/repository"
)

// Source is a long-running segment event producer. Run blocks until ctx is
// canceled or the source fails fatally.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// segmentName matches `<stream_key>-<sequence>.<ext>` segment filenames.
// Stream keys may themselves contain dashes, so the sequence is anchored to
// the final dash.
var segmentName = regexp.MustCompile(`^(.+)-(\d+)\.([a-zA-Z0-9]+)$`)

// ParseSegmentName splits a segment filename into stream key and sequence
// number. The extension is validated by the caller.
func ParseSegmentName(name string) (streamKey string, seq int, ok bool) {
	m := segmentName.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	seq, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], seq, true
}

// ErrStreamNotActive reports a segment whose stream is unknown or not
// currently active. Such segments are dropped, not queued.
var ErrStreamNotActive = errors.New("stream not active")

// Publisher is the queue surface the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, event queue.SegmentEvent) error
}

// Dispatcher resolves segments to their owning stream session and publishes
// queue events. All sources share one dispatcher.
type Dispatcher struct {
	streams repository.StreamRepository
	queue   Publisher
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(streams repository.StreamRepository, q Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		streams: streams,
		queue:   q,
		logger:  logger.With(slog.String("component", "eventsource")),
	}
}

// Dispatch publishes a new-segment event for the given stream key. Segments
// of unknown or inactive streams return ErrStreamNotActive.
func (d *Dispatcher) Dispatch(ctx context.Context, streamKey, segmentPath, sourceTag string) error {
	stream, err := d.streams.GetByKey(ctx, streamKey)
	if err != nil {
		return fmt.Errorf("resolving stream %q: %w", streamKey, err)
	}
	if stream == nil {
		return fmt.Errorf("%w: unknown stream %q", ErrStreamNotActive, streamKey)
	}
	if !stream.IsActive() {
		return fmt.Errorf("%w: stream %q is %s", ErrStreamNotActive, streamKey, stream.Status)
	}

	event := queue.SegmentEvent{
		StreamKey:   streamKey,
		SegmentPath: segmentPath,
		SessionID:   stream.SessionID,
		SourceTag:   sourceTag,
	}
	if err := d.queue.Publish(ctx, event); err != nil {
		return fmt.Errorf("publishing segment event: %w", err)
	}

	d.logger.Debug("segment event published",
		slog.String("stream_key", streamKey),
		slog.String("segment", filepath.Base(segmentPath)),
		slog.String("source", sourceTag))
	return nil
}

// dispatchLogged dispatches and logs instead of propagating drop errors.
// Shared by the push-style sources where there is no caller to return to.
func (d *Dispatcher) dispatchLogged(ctx context.Context, streamKey, segmentPath, sourceTag string) {
	err := d.Dispatch(ctx, streamKey, segmentPath, sourceTag)
	switch {
	case err == nil:
	case errors.Is(err, ErrStreamNotActive):
		d.logger.Debug("segment dropped",
			slog.String("stream_key", streamKey),
			slog.String("segment", filepath.Base(segmentPath)),
			slog.String("reason", err.Error()))
	default:
		d.logger.Error("segment dispatch failed",
			slog.String("stream_key", streamKey),
			slog.String("segment", filepath.Base(segmentPath)),
			slog.String("error", err.Error()))
	}
}
