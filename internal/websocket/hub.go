package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/mtr002/docjobs/internal/events"
	"github.com/mtr002/docjobs/internal/logger"
)

const broadcastBuffer = 256

// Hub fans messages out to every connected dashboard client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.count.Store(0)
		close(h.done)
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.count.Store(int64(len(h.clients)))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow client, drop it
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// Broadcast queues a message for every client; it drops the message when the
// hub is backed up or stopped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		logger.Logger.Warn().Msg("WebSocket broadcast buffer full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Forward streams every bus event to the clients until ctx is done.
func (h *Hub) Forward(ctx context.Context, bus *events.Bus) {
	ch, unsub := bus.Subscribe(events.All)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			BroadcastEvent(h, e)
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastEvent sends e as {"type": kind, "data": event}.
func BroadcastEvent(hub *Hub, e events.Event) {
	message, err := json.Marshal(map[string]any{
		"type": e.Kind,
		"data": e,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	hub.Broadcast(message)
}
