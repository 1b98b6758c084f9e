package eventsource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/segsight/segsight/internal/config"
)

const (
	// settleDelay is how old a segment file must be before it is considered
	// fully written. Segmenters write segments in one streak, so a file
	// untouched this long is complete.
	settleDelay = 500 * time.Millisecond

	// seenRetention bounds how long dispatched paths are remembered.
	// Segments rotate out of the media dir far faster than this.
	seenRetention = time.Hour
)

// DirWatcher watches the media directory for finished segments. fsnotify
// delivers most segments within milliseconds; a periodic rescan backstops
// the inotify races (missed events, files that existed before startup).
type DirWatcher struct {
	dir          string
	ext          string
	pollInterval time.Duration
	dispatcher   *Dispatcher
	logger       *slog.Logger

	mu sync.Mutex
	// seen holds paths already handled: dispatched segments and files whose
	// names could not be parsed.
	seen map[string]time.Time
}

// NewDirWatcher creates a directory watcher over cfg's media directory.
func NewDirWatcher(cfg config.EventsConfig, mediaDir string, dispatcher *Dispatcher, logger *slog.Logger) (*DirWatcher, error) {
	if mediaDir == "" {
		return nil, fmt.Errorf("eventsource: media directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ext := strings.TrimPrefix(cfg.SegmentExt, ".")
	if ext == "" {
		ext = "ts"
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &DirWatcher{
		dir:          mediaDir,
		ext:          ext,
		pollInterval: pollInterval,
		dispatcher:   dispatcher,
		logger:       logger.With(slog.String("source", "filewatcher")),
		seen:         make(map[string]time.Time),
	}, nil
}

func (w *DirWatcher) Name() string { return "filewatcher" }

// Run watches until ctx is canceled. The initial scan picks up segments that
// landed while the watcher was down.
func (w *DirWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating media dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching for segments",
		slog.String("dir", w.dir),
		slog.String("ext", w.ext),
		slog.Duration("poll_interval", w.pollInterval))

	w.scan(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify event channel closed")
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				// The file may still be mid-write; the next scan picks it up
				// once it settles.
				w.maybeDispatch(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify error channel closed")
			}
			w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		case <-ticker.C:
			w.scan(ctx)
			w.forget()
		}
	}
}

// scan walks the media dir and dispatches settled segments not yet seen.
func (w *DirWatcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scanning media dir failed", slog.String("error", err.Error()))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.maybeDispatch(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// maybeDispatch dispatches a path once it matches the segment pattern, has
// settled, and has not been dispatched before.
func (w *DirWatcher) maybeDispatch(ctx context.Context, path string) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, "."+w.ext) {
		return
	}
	streamKey, _, ok := ParseSegmentName(name)
	if !ok {
		// Logged once per path; rescans would repeat it every tick.
		w.mu.Lock()
		_, noted := w.seen[path]
		w.seen[path] = time.Now()
		w.mu.Unlock()
		if !noted {
			w.logger.Warn("skipping segment with unparseable name", slog.String("file", name))
		}
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if time.Since(info.ModTime()) < settleDelay {
		return
	}

	w.mu.Lock()
	if _, dispatched := w.seen[path]; dispatched {
		w.mu.Unlock()
		return
	}
	w.seen[path] = time.Now()
	w.mu.Unlock()

	w.dispatcher.dispatchLogged(ctx, streamKey, path, w.Name())
}

// forget drops seen entries old enough that their segments are long gone.
func (w *DirWatcher) forget() {
	cutoff := time.Now().Add(-seenRetention)
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, at := range w.seen {
		if at.Before(cutoff) {
			delete(w.seen, path)
		}
	}
}

var _ Source = (*DirWatcher)(nil)
