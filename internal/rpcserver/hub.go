package rpcserver

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub fans a named event out to every open websocket connection. Used for
// the session manager's tab-closed and tab-removed events, which don't fit
// the request/response RPC shape.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]chan []byte
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]chan []byte)}
}

// Register starts a writer goroutine for conn and begins forwarding
// Broadcast payloads to it.
func (h *Hub) Register(conn *websocket.Conn) {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()
	go func() {
		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()
}

// Unregister stops forwarding to conn and closes its writer channel.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.conns[conn]; ok {
		close(ch)
		delete(h.conns, conn)
	}
	h.mu.Unlock()
}

// Broadcast marshals {type, data} and pushes it to every registered
// connection's buffer. A connection whose buffer is full drops the
// message rather than blocking the broadcaster.
func (h *Hub) Broadcast(typ string, data any) {
	payload, err := json.Marshal(map[string]any{"type": typ, "data": data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.conns {
		select {
		case ch <- payload:
		default:
		}
	}
}
