// Package realtime streams quarantine events to the browsers of a facility.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Event types pushed to clients.
const (
	EventSnapshot            = "quarantine_snapshot"
	EventQuarantineActivated = "quarantine_activated"
	EventOptOut              = "bi_test_opt_out"
)

// Event is the envelope of every message written to a client.
type Event struct {
	Type       string    `json:"type"`
	FacilityID string    `json:"facilityId"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

// Hub keeps the connected clients of every facility.
type Hub struct {
	// facility id -> clients
	facilities map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		facilities: make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.facilities[client.FacilityID]
			if !ok {
				clients = make(map[*Client]struct{})
				h.facilities[client.FacilityID] = clients
			}
			clients[client] = struct{}{}
			n := len(clients)
			h.mu.Unlock()
			log.Printf("Realtime client connected to facility %s (%d connected)", client.FacilityID, n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, clients := range h.facilities {
				for client := range clients {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.facilities[client.FacilityID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.facilities, client.FacilityID)
	}
	log.Printf("Realtime client disconnected from facility %s (%d remaining)", client.FacilityID, len(clients))
}

// Publish sends an event to every client of a facility. Clients whose buffer is
// full are skipped; they catch up from the snapshot on reconnect.
func (h *Hub) Publish(facilityID, eventType string, data any) {
	payload, err := json.Marshal(Event{
		Type:       eventType,
		FacilityID: facilityID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Failed to marshal %s event for facility %s: %v", eventType, facilityID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.facilities[facilityID] {
		select {
		case client.send <- payload:
		default:
			log.Printf("Realtime client buffer full for facility %s, dropping %s", facilityID, eventType)
		}
	}
}

// ClientCount returns the number of clients connected to a facility.
func (h *Hub) ClientCount(facilityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.facilities[facilityID])
}
