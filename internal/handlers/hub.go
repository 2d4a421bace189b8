// internal/handlers/hub.go
package handlers

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// Subscriber is a single user's live connection to a room's event feed.
type Subscriber struct {
	UserID  uuid.UUID
	Cancel  func()
	OutChan chan models.RoomEvent
}

// Write pushes an event onto the subscriber's OutChan without blocking.
// A slow or dead consumer drops events rather than stalling the hub;
// clients resync from the REST state on reconnect.
func (sub *Subscriber) Write(ev models.RoomEvent) bool {
	select {
	case sub.OutChan <- ev:
		return true
	default:
		return false
	}
}

// Hub fans room events out to websocket subscribers, keyed by room
// code. Rooms appear lazily on first subscribe and vanish when their
// last subscriber leaves.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Subscriber]struct{}
	log   *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Subscriber]struct{}),
		log:   log,
	}
}

// Subscribe registers a connection for a room's events.
func (h *Hub) Subscribe(code string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[code]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.rooms[code] = subs
	}
	subs[sub] = struct{}{}
}

// Unsubscribe removes a connection and closes its outbound channel.
func (h *Hub) Unsubscribe(code string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[code]
	if !ok {
		return
	}
	if _, present := subs[sub]; !present {
		return
	}
	delete(subs, sub)
	close(sub.OutChan)
	if len(subs) == 0 {
		delete(h.rooms, code)
	}
}

// Broadcast delivers an event to every subscriber of the event's room.
func (h *Hub) Broadcast(ev models.RoomEvent) {
	if ev.Room == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[ev.Room.Code] {
		if !sub.Write(ev) {
			h.log.Warnf("hub: dropped %s for user %s in room %s, consumer too slow", ev.Type, sub.UserID, ev.Room.Code)
		}
	}
}
