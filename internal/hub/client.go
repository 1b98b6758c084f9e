package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendBuffer is the per-client outbound queue. A client that falls this
	// far behind is dropped.
	sendBuffer = 32

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Analyses carry no credentials and the read side only accepts
	// subscriptions, so cross-origin dashboards are allowed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one WebSocket subscriber.
type Client struct {
	conn *websocket.Conn
	out  chan *outboundMessage

	mu      sync.Mutex
	streams map[string]struct{}
	closed  bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:    conn,
		out:     make(chan *outboundMessage, sendBuffer),
		streams: make(map[string]struct{}),
	}
}

func (c *Client) subscribe(streamKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[streamKey] = struct{}{}
}

func (c *Client) unsubscribe(streamKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, streamKey)
}

func (c *Client) subscribed(streamKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[streamKey]
	return ok
}

// send queues a message. Returns false when the client's buffer is full or
// it is already closed.
func (c *Client) send(msg *outboundMessage) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.out)
}

// Handler upgrades HTTP requests to hub subscriptions.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		client := newClient(conn)
		h.register <- client

		go client.writeLoop()
		// The read loop runs on the handler goroutine so the request
		// context stays alive for the connection's lifetime.
		h.readLoop(r.Context(), client)
	})
}

// readLoop consumes client messages until the connection drops.
func (h *Hub) readLoop(ctx context.Context, client *Client) {
	defer func() {
		h.unregister <- client
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		// Reading a text ping also refreshes the deadline.
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleInbound(ctx, client, raw)
	}
}

// writeLoop drains the client's outbound queue onto the connection.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
