// Package stream fans stock deltas out to connected SSE clients.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

const (
	defaultClientBuffer = 16
	heartbeatInterval   = 15 * time.Second
)

var _ Publisher = (*Hub)(nil)

// Publisher announces stock changes to whoever is listening.
type Publisher interface {
	Publish(ctx context.Context, delta models.StockDelta) error
}

// Hub 管理所有 SSE 連線；緩衝區滿的慢速客戶端會被移除
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	buffer  int
	logger  *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe registers a client. The returned channel is closed when the client
// is dropped or cancel is called.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() { h.remove(ch) }
}

func (h *Hub) remove(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast never blocks on a slow client.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
			delete(h.clients, ch)
			close(ch)
			h.logger.Warn("dropping slow event stream client")
		}
	}
}

func (h *Hub) Publish(_ context.Context, delta models.StockDelta) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to encode stock delta: %w", err)
	}
	h.Broadcast(payload)
	return nil
}

// ServeHTTP streams every broadcast as one SSE data event.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := h.Subscribe()
	defer cancel()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case payload, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
