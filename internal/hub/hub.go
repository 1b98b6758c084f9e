// Package hub pushes analysis results to WebSocket subscribers. Clients
// subscribe per stream; on subscribe they get the stream's recent analyses,
// then live updates as workers persist new ones.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

// recentLimit is how many recent analyses a fresh subscriber receives.
const recentLimit = 5

// Inbound message types.
const (
	typeSubscribe   = "subscribe"
	typeUnsubscribe = "unsubscribe"
	typePing        = "ping"
)

// Outbound message types.
const (
	typePong           = "pong"
	typeRecentAnalysis = "recent_analysis"
	typeAnalysisUpdate = "analysis_update"
	typeError          = "error"
)

// inboundMessage is what clients send. StreamID carries the stream key; the
// field name is part of the wire contract. Timestamp is echoed back on pong
// untouched, so its shape is the client's business.
type inboundMessage struct {
	Type      string          `json:"type"`
	StreamID  string          `json:"stream_id"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// outboundMessage is what the hub sends. recent_analysis carries Analyses,
// analysis_update carries Analysis, pong carries Timestamp.
type outboundMessage struct {
	Type      string          `json:"type"`
	StreamID  string          `json:"stream_id,omitempty"`
	Analyses  json.RawMessage `json:"analyses,omitempty"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Hub fans analysis updates out to subscribed clients.
type Hub struct {
	analyses repository.AnalysisRepository
	logger   *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan *models.Analysis

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// New creates a hub.
func New(analyses repository.AnalysisRepository, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		analyses:   analyses,
		logger:     logger.With(slog.String("component", "hub")),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *models.Analysis, 64),
		clients:    make(map[*Client]struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is canceled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("clients", count))
		case client := <-h.unregister:
			h.drop(client)
		case row := <-h.broadcast:
			h.fanOut(row)
		}
	}
}

// BroadcastAnalysis queues a fresh analysis for delivery. Non-blocking: if
// the hub is saturated the update is dropped, subscribers catch up from the
// recent window on reconnect.
func (h *Hub) BroadcastAnalysis(a *models.Analysis) {
	select {
	case h.broadcast <- a:
	default:
		h.logger.Warn("broadcast queue full, dropping update",
			slog.String("stream_key", a.StreamKey))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanOut(row *models.Analysis) {
	data, err := json.Marshal(row)
	if err != nil {
		h.logger.Error("encoding analysis failed", slog.String("error", err.Error()))
		return
	}
	msg := &outboundMessage{
		Type:     typeAnalysisUpdate,
		StreamID: row.StreamKey,
		Analysis: data,
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.subscribed(row.StreamKey) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.send(msg) {
			// The client's buffer is full; it is too slow to keep and gets
			// dropped rather than backing up the hub.
			h.logger.Warn("dropping slow subscriber",
				slog.String("stream_key", row.StreamKey))
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()
	if present {
		client.close()
		h.logger.Debug("client disconnected", slog.Int("clients", count))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
}

// handleInbound reacts to one client message.
func (h *Hub) handleInbound(ctx context.Context, client *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		client.send(&outboundMessage{Type: typeError, Message: "invalid message"})
		return
	}

	switch msg.Type {
	case typePing:
		client.send(&outboundMessage{Type: typePong, Timestamp: msg.Timestamp})
	case typeSubscribe:
		if msg.StreamID == "" {
			client.send(&outboundMessage{Type: typeError, Message: "stream_id is required"})
			return
		}
		client.subscribe(msg.StreamID)
		h.sendRecent(ctx, client, msg.StreamID)
	case typeUnsubscribe:
		client.unsubscribe(msg.StreamID)
	default:
		client.send(&outboundMessage{Type: typeError, Message: "unknown message type"})
	}
}

// sendRecent delivers the stream's last analyses, newest first. A stream with
// no backlog sends nothing; subscribers hear from it on the first update.
func (h *Hub) sendRecent(ctx context.Context, client *Client, streamKey string) {
	rows, err := h.analyses.RecentForStream(ctx, streamKey, recentLimit)
	if err != nil {
		h.logger.Error("loading recent analyses failed",
			slog.String("stream_key", streamKey),
			slog.String("error", err.Error()))
		client.send(&outboundMessage{Type: typeError, Message: "loading recent analyses failed"})
		return
	}
	if len(rows) == 0 {
		return
	}

	data, err := json.Marshal(rows)
	if err != nil {
		h.logger.Error("encoding recent analyses failed", slog.String("error", err.Error()))
		return
	}
	client.send(&outboundMessage{
		Type:     typeRecentAnalysis,
		StreamID: streamKey,
		Analyses: data,
	})
}
