package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writeTimeout bounds a single push to one live-feed subscriber; a slow
// reader is dropped rather than allowed to back up the hub.
const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveEvent is one push frame sent to every subscriber of GET /live: a
// completed cycle or a completed dispatch.
type LiveEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Hub fans out LiveEvents to every connected websocket client. No
// subscription channels, no reconnect/backoff, just a registry of live
// connections and a broadcast method.
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub returns an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades GET /live to a websocket connection and registers it
// for broadcast. The connection is read-only from the client's perspective;
// any inbound frame is discarded, just enough read activity to notice a
// closed connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("live feed upgrade failed")
		return
	}

	h.register(conn)
	defer h.unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
}

// Broadcast pushes ev to every connected client, dropping any client whose
// write does not complete within writeTimeout.
func (h *Hub) Broadcast(ev LiveEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn().Err(err).Str("event_type", ev.Type).Msg("failed to marshal live event")
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			h.unregister(conn)
		}
	}
}
