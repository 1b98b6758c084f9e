package eventsource

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/segsight/segsight/internal/config"
	"github.com/segsight/segsight/internal/httpclient"
)

const (
	// reconnectDelay paces reconnects when the notification stream drops.
	reconnectDelay = 5 * time.Second
	// notifyMaxLine bounds a single notification line.
	notifyMaxLine = 1 << 20
)

// ObjectStoreSource listens to an S3-compatible bucket notification stream
// (newline-delimited JSON, as MinIO serves it) and dispatches object-created
// events whose keys look like segments. The bucket is expected to be mounted
// locally at mountDir, so the object key maps straight to a readable path.
type ObjectStoreSource struct {
	endpoint   string
	bucket     string
	mountDir   string
	client     *httpclient.Client
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewObjectStoreSource creates an object-store notification source.
func NewObjectStoreSource(cfg config.EventsConfig, mountDir string, client *httpclient.Client, dispatcher *Dispatcher, logger *slog.Logger) (*ObjectStoreSource, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("eventsource: events.endpoint is required for the cloud source")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("eventsource: events.bucket is required for the cloud source")
	}
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectStoreSource{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		bucket:     cfg.Bucket,
		mountDir:   mountDir,
		client:     client,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("source", "objectstore")),
	}, nil
}

func (s *ObjectStoreSource) Name() string { return "objectstore" }

// notification is the S3 bucket notification wire format, reduced to the
// fields the source reads.
type notification struct {
	Records []notificationRecord `json:"Records"`
}

type notificationRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// Run consumes the notification stream until ctx is canceled, reconnecting
// on stream failures.
func (s *ObjectStoreSource) Run(ctx context.Context) error {
	s.logger.Info("listening for object notifications",
		slog.String("endpoint", s.endpoint),
		slog.String("bucket", s.bucket))

	for {
		err := s.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("notification stream dropped, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", reconnectDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *ObjectStoreSource) listen(ctx context.Context) error {
	streamURL := fmt.Sprintf("%s/%s?events=%s", s.endpoint, s.bucket, url.QueryEscape("s3:ObjectCreated:*"))
	resp, err := s.client.Get(ctx, streamURL)
	if err != nil {
		return fmt.Errorf("opening notification stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("notification stream returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), notifyMaxLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			// Keepalive.
			continue
		}
		var n notification
		if err := json.Unmarshal([]byte(line), &n); err != nil {
			s.logger.Warn("undecodable notification", slog.String("error", err.Error()))
			continue
		}
		s.handle(ctx, n)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading notification stream: %w", err)
	}
	return fmt.Errorf("notification stream ended")
}

func (s *ObjectStoreSource) handle(ctx context.Context, n notification) {
	for _, record := range n.Records {
		if !strings.HasPrefix(record.EventName, "s3:ObjectCreated") {
			continue
		}
		if record.S3.Bucket.Name != "" && record.S3.Bucket.Name != s.bucket {
			continue
		}

		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}
		streamKey, _, ok := ParseSegmentName(path.Base(key))
		if !ok {
			continue
		}

		segmentPath := key
		if s.mountDir != "" {
			segmentPath = filepath.Join(s.mountDir, filepath.FromSlash(key))
		}
		s.dispatcher.dispatchLogged(ctx, streamKey, segmentPath, s.Name())
	}
}

var _ Source = (*ObjectStoreSource)(nil)
