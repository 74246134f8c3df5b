package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// hubMessage is what websocket clients receive
type hubMessage struct {
	Type   string           `json:"type"`
	Status *core.LinkStatus `json:"status,omitempty"`
	Event  *core.Event      `json:"event,omitempty"`
}

// hubClient is one connection and its outbound queue. Only writePump writes
// to conn.
type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of websocket clients and forwards bus events to them
type Hub struct {
	clients   map[*hubClient]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*hubClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Subscribe forwards link and invalidation events to clients until ctx is done
func (h *Hub) Subscribe(ctx context.Context, bus ports.SignalBus) error {
	for _, topic := range []string{core.TopicLinked, core.TopicSessionInvalidated} {
		if err := bus.Subscribe(ctx, topic, h.forward); err != nil {
			return fmt.Errorf("failed to subscribe hub to %s: %w", topic, err)
		}
	}
	return nil
}

func (h *Hub) forward(_ context.Context, payload []byte) error {
	var ev core.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	h.Broadcast(hubMessage{Type: "event", Event: &ev})
	return nil
}

// HandleWebSocket manages one websocket connection. The client first receives
// the current status, then every event until it disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, status core.LinkStatus) {
	initial, err := json.Marshal(hubMessage{Type: "status", Status: &status})
	if err != nil {
		h.logger.Warn("failed to marshal status", "error", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, sendBuffer)}
	client.send <- initial
	h.register(client)
	go h.writePump(client)

	defer func() {
		h.unregister(client)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the client's queue and keeps the connection alive. A
// closed queue means the hub dropped the client.
func (h *Hub) writePump(client *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(client *hubClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[client] = true
	h.logger.Debug("websocket client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(client *hubClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("websocket client disconnected", "clients", len(h.clients))
	}
}

// Broadcast queues msg for all connected clients without waiting on any of
// them. A client whose queue is full is dropped.
func (h *Hub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("failed to marshal broadcast", "error", err)
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Debug("dropping slow websocket client")
			delete(h.clients, client)
			close(client.send)
		}
	}
}
