package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harvestbin/silo/internal/store"
)

// EventType represents the type of SSE event
type EventType string

const (
	EventRecordInserted EventType = "record_inserted"
	EventRecordUpdated  EventType = "record_updated"
	EventRecordDeleted  EventType = "record_deleted"
	EventTableCleared   EventType = "table_cleared"

	EventSchemaChanged EventType = "schema_changed"
	EventHeartbeat     EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// FromChange converts a store change event into the wire event.
func FromChange(c store.Change) Event {
	var t EventType
	switch c.Op {
	case store.OpInsert:
		t = EventRecordInserted
	case store.OpUpdate:
		t = EventRecordUpdated
	case store.OpDelete:
		t = EventRecordDeleted
	case store.OpClear:
		t = EventTableCleared
	default:
		t = EventType(c.Op)
	}
	return Event{Type: t, Data: c}
}

// Message is one marshaled event ready for a transport to frame. SSE wraps
// it in an event/data block; the websocket feed sends Data as a text frame.
type Message struct {
	Event string
	Data  []byte
}

// Client represents a connected event subscriber
type Client struct {
	ID       string
	Messages chan Message
	Done     chan struct{}
}

// Broker manages SSE client connections and event broadcasting
type Broker struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	heartbeat  time.Duration
	mu         sync.RWMutex
}

// NewBroker creates a broker that heartbeats subscribers at the given
// interval. A non-positive interval falls back to 30 seconds.
func NewBroker(heartbeat time.Duration) *Broker {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	b := &Broker{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 100),
		done:       make(chan struct{}),
		heartbeat:  heartbeat,
	}
	go b.run()
	return b
}

// run handles client registration and event broadcasting
func (b *Broker) run() {
	heartbeatTicker := time.NewTicker(b.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-b.done:
			// Graceful shutdown - close all client channels
			b.mu.Lock()
			for _, client := range b.clients {
				close(client.Messages)
			}
			b.clients = make(map[string]*Client)
			b.mu.Unlock()
			log.Debug().Msg("SSE broker stopped")
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client.ID] = client
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", len(b.clients)).Msg("SSE client connected")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client.ID]; ok {
				delete(b.clients, client.ID)
				close(client.Messages)
			}
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", len(b.clients)).Msg("SSE client disconnected")

		case event := <-b.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal SSE event")
				continue
			}

			message := Message{Event: string(event.Type), Data: data}

			b.mu.RLock()
			for _, client := range b.clients {
				select {
				case client.Messages <- message:
				default:
					// Client buffer full, skip this message
					log.Warn().Str("client_id", client.ID).Msg("SSE client buffer full, dropping message")
				}
			}
			b.mu.RUnlock()

		case <-heartbeatTicker.C:
			// Send heartbeat to all clients
			b.Broadcast(Event{Type: EventHeartbeat, Data: map[string]any{"time": time.Now().Unix()}})
		}
	}
}

// Broadcast sends an event to all connected clients
func (b *Broker) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("SSE broadcast channel full, dropping event")
	}
}

// Stop gracefully shuts down the broker
func (b *Broker) Stop() {
	close(b.done)
}

// Subscribe registers a raw message subscriber. The caller owns the returned
// client and must Unsubscribe it; the websocket feed shares the broker this
// way.
func (b *Broker) Subscribe(id string) *Client {
	client := &Client{
		ID:       id,
		Messages: make(chan Message, 32),
		Done:     make(chan struct{}),
	}
	b.register <- client
	return client
}

// Unsubscribe removes a subscriber registered with Subscribe.
func (b *Broker) Unsubscribe(client *Client) {
	select {
	case b.unregister <- client:
	case <-b.done:
		// Broker is shutting down, skip unregister
	}
}

// ServeHTTP handles SSE connections
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Check if flushing is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	client := b.Subscribe(fmt.Sprintf("%p-%d", r, time.Now().UnixNano()))
	defer b.Unsubscribe(client)

	// Send initial connection event
	initialEvent := Event{
		Type: "connected",
		Data: map[string]any{
			"client_id": client.ID,
			"time":      time.Now().Unix(),
		},
	}
	data, _ := json.Marshal(initialEvent)
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", data)
	flusher.Flush()

	// Stream events to client
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Messages:
			if !ok {
				return
			}
			_, _ = w.Write(formatSSEMessage(msg.Event, msg.Data))
			flusher.Flush()
		}
	}
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// formatSSEMessage formats an SSE message with event type and data
func formatSSEMessage(eventType string, data []byte) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", eventType, data)
}
