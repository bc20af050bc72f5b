// Package chat is the real-time messaging layer for consultations. A hub
// tracks connected participants per appointment room; the gateway enforces
// the same access rules as the REST chat endpoints before a client ever
// joins a room.
package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/carelink/telehealth-backend/internal/identity"
	"github.com/carelink/telehealth-backend/internal/metrics"
)

// Client is one connected participant in one appointment room.
type Client struct {
	Actor         identity.Identity
	AppointmentID uuid.UUID
	Send          chan []byte
}

// NewClient allocates a client with a buffered outbound queue.
func NewClient(actor identity.Identity, appointmentID uuid.UUID) *Client {
	return &Client{
		Actor:         actor,
		AppointmentID: appointmentID,
		Send:          make(chan []byte, 64),
	}
}

// Hub tracks room membership. Rooms are keyed by appointment ID, and a user
// holds at most one connection per room: registering again from a second tab
// or after a reconnect displaces the previous connection.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Client]struct{}

	metrics *metrics.Collector
}

func NewHub(m *metrics.Collector) *Hub {
	return &Hub{
		rooms:   make(map[uuid.UUID]map[*Client]struct{}),
		metrics: m,
	}
}

// Register adds a client to its appointment room. If the same user is
// already in the room the stale client is unregistered first, which closes
// its Send channel and lets its pumps wind down.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()

	var stale *Client
	if room := h.rooms[client.AppointmentID]; room != nil {
		for c := range room {
			if c.Actor.ID == client.Actor.ID {
				stale = c
				break
			}
		}
	}
	if stale != nil {
		h.removeLocked(stale)
	}

	room := h.rooms[client.AppointmentID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[client.AppointmentID] = room
	}
	room[client] = struct{}{}

	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ConnectedClients.Inc()
		if stale != nil {
			h.metrics.ConnectedClients.Dec()
		}
	}
}

// Unregister removes a client from its room and closes its Send channel.
// Safe to call for a client the hub no longer holds.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	removed := h.removeLocked(client)
	h.mu.Unlock()

	if removed && h.metrics != nil {
		h.metrics.ConnectedClients.Dec()
	}
}

func (h *Hub) removeLocked(client *Client) bool {
	room, ok := h.rooms[client.AppointmentID]
	if !ok {
		return false
	}
	if _, ok := room[client]; !ok {
		return false
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, client.AppointmentID)
	}
	close(client.Send)
	return true
}

// Broadcast queues payload to every client in the appointment's room. A
// client whose buffer is full is skipped rather than blocking the sender.
func (h *Hub) Broadcast(appointmentID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[appointmentID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// RoomSize returns the number of clients in an appointment's room.
func (h *Hub) RoomSize(appointmentID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[appointmentID])
}
