package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, no cross-origin policy
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsMessage is the frame broadcast to connected clients.
type wsMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketHandler streams pipeline events (price captures, scrape
// failures, dead trackers, enqueued jobs) to connected clients.
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	allowedEvents    map[interfaces.EventType]bool // empty = allow all
	serverInstanceID string                        // clients use this to detect restarts
}

func NewWebSocketHandler(eventService interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		allowedEvents:    make(map[interfaces.EventType]bool),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[interfaces.EventType(eventType)] = true
		}
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventPriceCaptured,
		interfaces.EventScrapeFailed,
		interfaces.EventTrackerDead,
		interfaces.EventJobEnqueued,
	} {
		et := eventType
		eventService.Subscribe(et, func(_ context.Context, event interfaces.Event) error {
			h.broadcast(et, event.Payload)
			return nil
		})
	}

	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", count).Msg("WebSocket client connected")

	h.send(conn, wsMessage{
		Type:      "connected",
		Payload:   map[string]string{"server_instance_id": h.serverInstanceID},
		Timestamp: time.Now().UTC(),
	})

	go h.pingLoop(conn)
	h.readLoop(conn)
}

// readLoop drains inbound frames; the client never sends meaningful data,
// but the read is how we learn the connection died.
func (h *WebSocketHandler) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		writeMu, ok := h.clients[conn]
		h.mu.RUnlock()
		if !ok {
			return
		}

		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		writeMu.Unlock()
		if err != nil {
			h.drop(conn)
			return
		}
	}
}

// broadcast fans one event out to every connected client.
func (h *WebSocketHandler) broadcast(eventType interfaces.EventType, payload interface{}) {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return
	}

	message := wsMessage{
		Type:      string(eventType),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.send(conn, message)
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, message wsMessage) {
	h.mu.RLock()
	writeMu, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := conn.WriteJSON(message)
	writeMu.Unlock()

	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket write failed, dropping client")
		h.drop(conn)
	}
}

func (h *WebSocketHandler) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client disconnected")
}

// ClientCount reports connected clients; used by the status endpoint.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
