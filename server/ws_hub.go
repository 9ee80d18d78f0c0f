package main

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bencan1a/calendarBot-sub009/server/health"
	"github.com/bencan1a/calendarBot-sub009/server/observability"
	"github.com/bencan1a/calendarBot-sub009/server/window"
)

const (
	maxWSConnections = 64
	wsWriteDeadline  = 5 * time.Second
)

// WindowHub pushes window snapshots to dashboard clients. A single
// broadcaster goroutine serves every connection; refresh completions signal
// it so the dashboard updates without polling.
type WindowHub struct {
	holder  *window.Holder
	tracker *health.Tracker
	clock   clockwork.Clock
	log     zerolog.Logger

	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	updated    chan struct{}
	mu         sync.RWMutex
}

func NewWindowHub(holder *window.Holder, tracker *health.Tracker, clock clockwork.Clock, log zerolog.Logger) *WindowHub {
	return &WindowHub{
		holder:     holder,
		tracker:    tracker,
		clock:      clock,
		log:        log.With().Str("component", "ws-hub").Logger(),
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		updated:    make(chan struct{}, 1),
	}
}

// WindowUpdated implements refresh.Notifier.
func (h *WindowHub) WindowUpdated() {
	select {
	case h.updated <- struct{}{}:
	default:
	}
}

// Run is the hub's main loop; it exits when ctx is cancelled.
func (h *WindowHub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				h.log.Warn().Int("max", maxWSConnections).Msg("stream connection rejected, at capacity")
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			observability.WSClients.Set(float64(total))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			observability.WSClients.Set(float64(total))

		case <-h.updated:
			h.broadcast()

		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *WindowHub) broadcast() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	state := h.tracker.Snapshot()
	payload := map[string]any{
		"server_time": h.clock.Now().UTC().Format(time.RFC3339),
		"event_count": state.EventCount,
		"window":      h.holder.Snapshot(),
	}

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := conn.WriteJSON(payload); err != nil {
			h.log.Debug().Err(err).Msg("stream write failed")
			go h.Unregister(conn)
		}
	}
}

func (h *WindowHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	observability.WSClients.Set(0)
}

func (h *WindowHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

func (h *WindowHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}
