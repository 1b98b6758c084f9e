package eventsource

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/segsight/segsight/internal/config"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Segment-Signature"

// maxWebhookBody bounds a webhook payload.
const maxWebhookBody = 64 << 10

// WebhookSource accepts signed new-segment callbacks over HTTP. Unlike the
// other sources it is passive: Run only parks until shutdown, the work
// happens in the handler the server mounts.
type WebhookSource struct {
	secret     []byte
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewWebhookSource creates a webhook source. The shared secret must be set;
// accepting unsigned callbacks would let anyone on the network enqueue work.
func NewWebhookSource(cfg config.EventsConfig, dispatcher *Dispatcher, logger *slog.Logger) (*WebhookSource, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("eventsource: events.webhook_secret is required for the webhook source")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSource{
		secret:     []byte(cfg.WebhookSecret),
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("source", "webhook")),
	}, nil
}

func (s *WebhookSource) Name() string { return "webhook" }

// Run parks until ctx is canceled.
func (s *WebhookSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// webhookPayload is the callback body.
type webhookPayload struct {
	StreamKey   string `json:"stream_key"`
	SegmentPath string `json:"segment_path"`
}

// Handler returns the HTTP handler for segment callbacks.
func (s *WebhookSource) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}

		if !s.verify(r.Header.Get(SignatureHeader), body) {
			s.logger.Warn("webhook signature rejected",
				slog.String("remote", r.RemoteAddr))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if payload.StreamKey == "" || payload.SegmentPath == "" {
			http.Error(w, "stream_key and segment_path are required", http.StatusBadRequest)
			return
		}

		err = s.dispatcher.Dispatch(r.Context(), payload.StreamKey, payload.SegmentPath, s.Name())
		switch {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, ErrStreamNotActive):
			// Acknowledged but dropped; the caller cannot fix this by
			// retrying the delivery.
			s.logger.Debug("webhook segment dropped", slog.String("reason", err.Error()))
			w.WriteHeader(http.StatusAccepted)
		default:
			s.logger.Error("webhook dispatch failed", slog.String("error", err.Error()))
			http.Error(w, "dispatch failed", http.StatusInternalServerError)
		}
	})
}

// verify checks the hex HMAC-SHA256 signature, with or without the
// conventional "sha256=" prefix.
func (s *WebhookSource) verify(header string, body []byte) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" {
		return false
	}
	claimed, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(claimed, mac.Sum(nil))
}

// Sign computes the signature header value for a body. Exported for callers
// emitting callbacks and for tests.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

var _ Source = (*WebhookSource)(nil)
