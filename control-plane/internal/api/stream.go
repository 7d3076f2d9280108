package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pilot-net/agent-pulse/control-plane/internal/metrics"
)

// Stream message types.
const (
	StreamAgents    = "agents"
	StreamAlerts    = "alerts"
	StreamMode      = "mode"
	StreamTelemetry = "telemetry"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
	streamSendBuffer = 64
)

// StreamMessage is one frame sent to dashboard clients.
type StreamMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans component changes out to connected dashboard clients. A client
// that cannot keep up is disconnected; it resynchronizes on reconnect from
// the snapshot sent to every new client.
type Hub struct {
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a hub.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		metrics: m,
		logger:  logger.With("component", "stream"),
		clients: make(map[*streamClient]struct{}),
	}
}

// Broadcast sends a message of kind to every client.
func (h *Hub) Broadcast(kind string, data any) {
	payload, err := json.Marshal(StreamMessage{Type: kind, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Error("encoding stream message", "type", kind, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow stream client")
			delete(h.clients, c)
			c.close()
		}
	}
	h.metrics.SetStreamClients(len(h.clients))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.metrics.SetStreamClients(0)
}

// serve runs a client until its connection closes or ctx is cancelled.
// initial is queued before any broadcast.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn, initial []StreamMessage) {
	c := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer+len(initial))}
	for _, m := range initial {
		if payload, err := json.Marshal(m); err == nil {
			c.send <- payload
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.metrics.SetStreamClients(len(h.clients))
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(ctx, c)
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.metrics.SetStreamClients(len(h.clients))
	h.mu.Unlock()
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(ctx context.Context, c *streamClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("stream client error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// =============================================================================
// HANDLER
// =============================================================================

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.c.Hub == nil {
		s.unavailable(w, "stream")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("stream upgrade failed", "error", err)
		return
	}

	s.c.Hub.serve(r.Context(), conn, s.streamSnapshot())
}

// streamSnapshot is the full state a new client starts from.
func (s *Server) streamSnapshot() []StreamMessage {
	now := time.Now().UTC()
	var out []StreamMessage
	if s.c.Agents != nil {
		out = append(out, StreamMessage{Type: StreamAgents, Data: s.c.Agents.Snapshot(), Timestamp: now})
	}
	if s.c.Alerts != nil {
		out = append(out, StreamMessage{Type: StreamAlerts, Data: s.c.Alerts.Alerts(), Timestamp: now})
	}
	if s.c.Mode != nil {
		out = append(out, StreamMessage{Type: StreamMode, Data: newModeResponse(s.c.Mode.Current()), Timestamp: now})
	}
	if s.c.Telemetry != nil {
		out = append(out, StreamMessage{Type: StreamTelemetry, Data: s.c.Telemetry.Window(), Timestamp: now})
	}
	return out
}
