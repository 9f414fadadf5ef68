package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/langmuir/internal/engine"
)

const (
	maxStreamConns = 8
	clientBuffer   = 16
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
)

// StreamMessage is one websocket frame sent to stream clients.
type StreamMessage struct {
	Type   string             `json:"type"` // "hello" or "tick"
	Report *engine.TickReport `json:"report"`
}

type client struct {
	send chan []byte
}

// Hub fans tick reports out to websocket clients. It satisfies engine.Sink;
// RecordTick never blocks the engine, and a client that falls behind drops
// messages rather than stalling the run.
type Hub struct {
	// Every sends one report per Every ticks; ticks with exits are always sent.
	Every uint64

	upgrader websocket.Upgrader
	conns    atomic.Int32
	dropped  atomic.Uint64

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(every uint64) *Hub {
	return &Hub{
		Every:   every,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// RecordTick broadcasts a tick report.
func (h *Hub) RecordTick(r *engine.TickReport) error {
	if h.Every > 1 && r.Tick%h.Every != 0 && len(r.Exits) == 0 {
		return nil
	}
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 {
		return nil
	}
	data, err := json.Marshal(StreamMessage{Type: "tick", Report: r})
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request, sends hello with the latest report, then
// streams tick messages until either side closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, hello *engine.TickReport) {
	current := h.conns.Add(1)
	defer h.conns.Add(-1)
	if current > maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &client{send: make(chan []byte, clientBuffer)}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		return
	}
	defer h.remove(c)

	if data, err := json.Marshal(StreamMessage{Type: "hello", Report: hello}); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	slog.Info("stream client connected", "remote", r.RemoteAddr)

	// Reads only detect the peer going away; clients send nothing useful.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			slog.Info("stream client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}
