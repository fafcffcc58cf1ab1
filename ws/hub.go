// Package ws implements the room-scoped real-time channel: per-class broadcast
// groups over websocket connections, and the attendance event protocol that
// ties inbound messages to the attendance coordinator.
package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

// Hub manages class rooms: the set of live connections joined to each class.
// Membership is request-driven (join_class/leave_class), never inferred from
// identity; a connection may belong to several rooms at once.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger core.Logger
}

var _ attendance.Broadcaster = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

func (h *Hub) Join(c *Client, classID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[classID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[classID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) Leave(c *Client, classID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evict(c, classID)
}

// LeaveAll drops the connection from every room; called on disconnect.
// Attendance state is unaffected: a disconnecting student stays marked.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for classID := range h.rooms {
		h.evict(c, classID)
	}
}

// evict must be called with h.mu held.
func (h *Hub) evict(c *Client, classID string) {
	room, ok := h.rooms[classID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, classID)
	}
}

// Broadcast delivers the event to every connection currently joined to the
// class room, the sender included if joined. Delivery to a slow or dead
// connection is dropped and logged, never propagated to other participants.
func (h *Hub) Broadcast(classID, event string, data interface{}) {
	msg, err := marshalEnvelope(event, data)
	if err != nil {
		h.logger.Error(fmt.Sprintf("marshalling %s broadcast: %v", event, err), err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[classID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn(fmt.Sprintf("dropping %s broadcast to a slow connection in room %s", event, classID))
		}
	}
}

// RoomLen reports the number of connections joined to the class room.
func (h *Hub) RoomLen(classID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[classID])
}

func marshalEnvelope(event string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
