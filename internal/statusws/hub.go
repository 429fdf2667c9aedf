// Package statusws pushes bridge events and collector monitoring status
// to UI clients over a WebSocket endpoint.
package statusws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetbridge/internal/events"
)

// StatusFrame is the wire format for messages sent to UI clients.
type StatusFrame struct {
	Type    string          `json:"type"`    // event, monitoring_status
	Payload json.RawMessage `json:"payload"` // type-specific data
}

const (
	readDeadline  = 90 * time.Second
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// Hub manages active UI WebSocket connections and fans frames out to
// all of them.
type Hub struct {
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conns      map[*wsConn]struct{}
	lastStatus string // last monitoring status, replayed to new clients
}

// wsConn wraps a WebSocket connection with a write lock; gorilla
// connections allow only one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	done chan struct{}
}

// NewHub creates a hub and subscribes it to the event bus.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*wsConn]struct{}),
	}

	bus.Subscribe(func(e events.Event) {
		payload, err := json.Marshal(e)
		if err != nil {
			return
		}
		h.broadcast(StatusFrame{Type: "event", Payload: payload})
	})

	return h
}

// BroadcastStatus fans a collector monitoring status (running|stopped)
// out to every connected client and replays it to future ones.
func (h *Hub) BroadcastStatus(status string) {
	payload, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.lastStatus = status
	h.mu.Unlock()

	h.broadcast(StatusFrame{Type: "monitoring_status", Payload: payload})
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[statusws] upgrade failed: %v", err)
		return
	}

	wc := &wsConn{conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	h.conns[wc] = struct{}{}
	last := h.lastStatus
	h.mu.Unlock()

	log.Printf("[statusws] client connected (%s)", r.RemoteAddr)

	if last != "" {
		payload, _ := json.Marshal(map[string]string{"status": last})
		wc.writeFrame(StatusFrame{Type: "monitoring_status", Payload: payload})
	}

	go h.pingLoop(wc)
	h.readLoop(wc)

	h.mu.Lock()
	delete(h.conns, wc)
	h.mu.Unlock()

	log.Printf("[statusws] client disconnected (%s)", r.RemoteAddr)
}

// readLoop consumes client frames until the connection closes. Clients
// only listen; inbound payloads are discarded.
func (h *Hub) readLoop(wc *wsConn) {
	defer wc.conn.Close()
	defer close(wc.done)

	wc.conn.SetReadLimit(64 * 1024)
	wc.conn.SetReadDeadline(time.Now().Add(readDeadline))
	wc.conn.SetPongHandler(func(string) error {
		wc.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		if _, _, err := wc.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[statusws] read error: %v", err)
			}
			return
		}
		wc.conn.SetReadDeadline(time.Now().Add(readDeadline))
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (h *Hub) pingLoop(wc *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wc.done:
			return
		case <-ticker.C:
			wc.wmu.Lock()
			err := wc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
			wc.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// broadcast writes a frame to every connected client. Failed writers
// are closed and will be reaped by their read loops.
func (h *Hub) broadcast(frame StatusFrame) {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for wc := range h.conns {
		conns = append(conns, wc)
	}
	h.mu.Unlock()

	for _, wc := range conns {
		if err := wc.writeFrame(frame); err != nil {
			wc.conn.Close()
		}
	}
}

func (wc *wsConn) writeFrame(frame StatusFrame) error {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return wc.conn.WriteJSON(frame)
}

// ActiveConnections returns the number of connected UI clients.
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll terminates all client connections.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for wc := range h.conns {
		conns = append(conns, wc)
	}
	h.conns = make(map[*wsConn]struct{})
	h.mu.Unlock()

	for _, wc := range conns {
		wc.wmu.Lock()
		wc.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(5*time.Second),
		)
		wc.wmu.Unlock()
		wc.conn.Close()
	}
}
