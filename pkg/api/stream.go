package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// streamHub fans committed snapshots out to SSE subscribers. Each
// subscriber owns a buffered channel; a full buffer drops that update
// for that client (the next snapshot supersedes it anyway).
type streamHub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[chan []byte]struct{})}
}

func (h *streamHub) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *streamHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *streamHub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// Buffer full, skip this client.
		}
	}
}

// handleStream serves the server-sent-events subscription: the current
// snapshot immediately, then one event per committed mutation until the
// client disconnects. Comment lines keep idle connections alive.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.stream.subscribe()
	defer s.stream.unsubscribe(ch)

	// Initial state so late joiners are never behind.
	if first, err := json.Marshal(s.game.Snapshot()); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", first)
		flusher.Flush()
	}

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
