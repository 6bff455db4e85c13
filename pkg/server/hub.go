// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/jllopis/mitosis/pkg/core"
)

// clientBuffer is how many encoded events a slow client may lag behind
// before it starts losing them.
const clientBuffer = 64

// Hub fans workflow events out to websocket and SSE subscribers. It is a
// core.EventEmitter so the orchestrator can publish to it directly.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*subscriber]struct{}
	broadcast chan core.Event
	logger    *slog.Logger
}

type subscriber struct {
	send chan []byte
}

// NewHub returns a hub. Call Run to start delivering.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[*subscriber]struct{}),
		broadcast: make(chan core.Event, 256),
		logger:    logger,
	}
}

// Run delivers broadcast events until ctx ends, then closes every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.logger.Warn("hub.client.lagging", "event", event.Type)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Emit implements core.EventEmitter. Events are dropped when the
// broadcast buffer is full.
func (h *Hub) Emit(_ context.Context, event core.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("hub.broadcast.full", "event", event.Type)
	}
}

// Subscribe registers a subscriber. The channel is closed by the returned
// cancel function or when the hub stops.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	c := &subscriber{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c.send, func() { h.unsubscribe(c) }
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unsubscribe(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

var _ core.EventEmitter = (*Hub)(nil)
