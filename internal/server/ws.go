package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/framewatch/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const (
	hubQueueSize = 256
	writeTimeout = 5 * time.Second
)

// Hub broadcasts capture progress events to websocket clients. It
// implements events.Sink; Publish never blocks and drops events when the
// queue is full.
type Hub struct {
	logger  *slog.Logger
	queue   chan events.Event
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex

	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewHub creates a Hub and starts its broadcast goroutine.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		logger:  logger.With("component", "ws"),
		queue:   make(chan events.Event, hubQueueSize),
		clients: make(map[*websocket.Conn]bool),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// Publish implements events.Sink.
func (h *Hub) Publish(e events.Event) {
	select {
	case <-h.quit:
	case h.queue <- e:
	default:
		h.logger.Debug("progress queue full, dropping event", "run", e.RunID)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Close stops the broadcast goroutine and disconnects all clients.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
		<-h.done

		h.mu.Lock()
		for conn := range h.clients {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		h.mu.Unlock()
	})
}

// broadcast sends queued events to all connected clients.
func (h *Hub) broadcast() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			return
		case e := <-h.queue:
			msg, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("failed to encode event", "error", err)
				continue
			}

			// Writes are serialized on this goroutine.
			h.mu.RLock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.logger.Debug("websocket write failed", "error", err)
				}
			}
			h.mu.RUnlock()
		}
	}
}
