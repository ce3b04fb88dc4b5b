// Package websocket provides the real-time fabric: a connection registry,
// room membership, and frame fan-out to WebSocket clients. Rooms are plain
// strings; a connection may be joined to any number of them.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const relayTimeout = 2 * time.Second

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = raw
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Hub is the central connection manager. It owns the room tables and the
// connection registry; all operations are safe for concurrent use.
//
// Lock order is hub then registry. Frames are queued under the hub read lock
// so a connection is never written to after Unregister closed its buffer.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client            // connection id -> client
	rooms    map[string]map[string]*Client // room -> connection id -> client
	memberOf map[string]map[string]struct{} // connection id -> rooms

	registry  *Registry
	backplane Backplane
	origin    string
	logger    zerolog.Logger
}

// NewHub creates a Hub around registry.
func NewHub(registry *Registry, logger zerolog.Logger) *Hub {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		memberOf: make(map[string]map[string]struct{}),
		registry: registry,
		origin:   uuid.New().String(),
		logger:   logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Registry returns the connection registry the hub delivers user frames with.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Register adds a freshly connected client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	if h.memberOf[client.ID] == nil {
		h.memberOf[client.ID] = make(map[string]struct{})
	}
}

// Unregister removes a client from every room and from the registry, then
// closes its Send channel. It returns the user the connection was bound to.
func (h *Hub) Unregister(client *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return ""
	}

	for room := range h.memberOf[client.ID] {
		h.removeMember(room, client.ID)
	}
	delete(h.memberOf, client.ID)
	delete(h.clients, client.ID)
	close(client.Send)

	return h.registry.Disconnect(client.ID)
}

// Authenticate binds a registered client to userID. It returns false if the
// client has already disconnected. Rebinding to another user drops the
// previous user's user and pharmacy rooms.
func (h *Hub) Authenticate(client *Client, userID, role string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	if prev := client.UserID(); prev != "" && prev != userID {
		// Identity-scoped rooms belong to the previous user.
		for _, room := range []string{UserRoomID(prev), PharmacyRoomID(prev)} {
			if rooms, ok := h.memberOf[client.ID]; ok {
				delete(rooms, room)
			}
			h.removeMember(room, client.ID)
		}
		h.logger.Debug().Str("conn_id", client.ID).Str("prev_user_id", prev).Str("user_id", userID).
			Msg("connection rebound to a new identity")
	}
	h.registry.Authenticate(client.ID, userID)
	client.setIdentity(userID, role)
	return true
}

// Join adds the connection to room. Authentication is not required.
func (h *Hub) Join(connID, room string) bool {
	if room == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[connID] = client
	h.memberOf[connID][room] = struct{}{}
	return true
}

// Leave removes the connection from room.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rooms, ok := h.memberOf[connID]; ok {
		delete(rooms, room)
	}
	h.removeMember(room, connID)
}

func (h *Hub) removeMember(room, connID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom reports whether the connection is joined to room.
func (h *Hub) InRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// UserInRoom reports whether any local connection of userID is joined to room.
func (h *Hub) UserInRoom(userID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[room]
	if len(members) == 0 {
		return false
	}
	for _, id := range h.registry.ConnectionsFor(userID) {
		if _, ok := members[id]; ok {
			return true
		}
	}
	return false
}

// RoomsOf lists the rooms the connection is joined to.
func (h *Hub) RoomsOf(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.memberOf[connID]))
	for room := range h.memberOf[connID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// ConnectionsFor proxies the registry lookup.
func (h *Hub) ConnectionsFor(userID string) []string {
	return h.registry.ConnectionsFor(userID)
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomSize returns the number of connections joined to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// EmitToRoom sends event to every connection joined to room and returns the
// number of local connections the frame was queued for.
func (h *Hub) EmitToRoom(room, event string, payload interface{}) int {
	return h.EmitToRoomExcept(room, "", event, payload)
}

// EmitToRoomExcept is EmitToRoom skipping one connection, typically the sender.
func (h *Hub) EmitToRoomExcept(room, exceptConnID, event string, payload interface{}) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("failed to encode frame")
		return 0
	}
	n := h.deliverToRoom(room, exceptConnID, frame)
	h.relay(RelayFrame{Target: TargetRoom, Key: room, Except: exceptConnID, Frame: frame})
	return n
}

// EmitToUser sends event to every connection bound to userID.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to encode frame")
		return 0
	}
	n := h.deliverToUser(userID, frame)
	h.relay(RelayFrame{Target: TargetUser, Key: userID, Frame: frame})
	return n
}

// EmitToConnection sends event to a single local connection. A connection id
// that has already gone away is a no-op.
func (h *Hub) EmitToConnection(connID, event string, payload interface{}) bool {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("conn_id", connID).Msg("failed to encode frame")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	return h.deliver(client, frame)
}

// CloseAll closes every client transport. Read pumps then unregister them.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

func (h *Hub) deliverToRoom(room, exceptConnID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for id, client := range h.rooms[room] {
		if id == exceptConnID {
			continue
		}
		if h.deliver(client, frame) {
			n++
		}
	}
	return n
}

func (h *Hub) deliverToUser(userID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, id := range h.registry.ConnectionsFor(userID) {
		if client, ok := h.clients[id]; ok && h.deliver(client, frame) {
			n++
		}
	}
	return n
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(client *Client, frame []byte) bool {
	select {
	case client.Send <- frame:
		return true
	default:
		h.logger.Warn().Str("conn_id", client.ID).Msg("send buffer full, dropping frame")
		return false
	}
}

// ---------------------------------------------------------------------------
// Backplane
// ---------------------------------------------------------------------------

// AttachBackplane relays room and user emissions through bp and replays
// frames published by other instances. It must be called before serving.
func (h *Hub) AttachBackplane(ctx context.Context, bp Backplane) error {
	if err := bp.Subscribe(ctx, h.receive); err != nil {
		return fmt.Errorf("subscribe backplane: %w", err)
	}
	h.backplane = bp
	return nil
}

func (h *Hub) relay(f RelayFrame) {
	if h.backplane == nil {
		return
	}
	f.Origin = h.origin

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := h.backplane.Publish(ctx, f); err != nil {
		h.logger.Warn().Err(err).Str("target", f.Target).Str("key", f.Key).Msg("backplane publish failed")
	}
}

func (h *Hub) receive(f RelayFrame) {
	if f.Origin == h.origin {
		return
	}
	switch f.Target {
	case TargetRoom:
		h.deliverToRoom(f.Key, f.Except, f.Frame)
	case TargetUser:
		h.deliverToUser(f.Key, f.Frame)
	default:
		h.logger.Debug().Str("target", f.Target).Msg("ignoring relay frame")
	}
}
