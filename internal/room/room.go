// ABOUTME: In-memory room manager for fan-out delivery to connection groups
// ABOUTME: Membership is idempotent; broadcast is best-effort per receiver

package room

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/soulgate/soulgate/internal/protocol"
)

// Sender is the delivery side of a connection. Send is best-effort and
// must not block; it reports whether the event was accepted.
type Sender interface {
	ConnectionID() string
	Send(event *protocol.Event) bool
}

// UserRoom returns the private room name for a user
func UserRoom(userID string) string {
	return fmt.Sprintf("user_%s", userID)
}

// ConversationRoom returns the shared room name for a conversation
func ConversationRoom(conversationID string) string {
	return fmt.Sprintf("conversation_%s", conversationID)
}

// Manager tracks room membership and fans events out to members
type Manager struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Sender // room name -> connection ID -> sender
	byConn map[string]map[string]bool   // connection ID -> room names
	logger *slog.Logger
}

// NewManager creates an empty room manager
func NewManager() *Manager {
	return &Manager{
		rooms:  make(map[string]map[string]Sender),
		byConn: make(map[string]map[string]bool),
		logger: slog.Default().With("component", "room"),
	}
}

// Join adds a connection to a room. Joining a room the connection is
// already in is a no-op.
func (m *Manager) Join(name string, sender Sender) {
	connID := sender.ConnectionID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[name]; !ok {
		m.rooms[name] = make(map[string]Sender)
	}
	if _, ok := m.rooms[name][connID]; ok {
		return
	}
	m.rooms[name][connID] = sender

	if _, ok := m.byConn[connID]; !ok {
		m.byConn[connID] = make(map[string]bool)
	}
	m.byConn[connID][name] = true

	m.logger.Debug("joined room", "room", name, "connection_id", connID)
}

// Leave removes a connection from a room. Leaving a room the connection
// is not in is a no-op.
func (m *Manager) Leave(name, connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(name, connectionID)
}

func (m *Manager) leaveLocked(name, connectionID string) {
	members, ok := m.rooms[name]
	if !ok {
		return
	}
	if _, ok := members[connectionID]; !ok {
		return
	}

	delete(members, connectionID)
	if len(members) == 0 {
		delete(m.rooms, name)
	}

	if rooms, ok := m.byConn[connectionID]; ok {
		delete(rooms, name)
		if len(rooms) == 0 {
			delete(m.byConn, connectionID)
		}
	}

	m.logger.Debug("left room", "room", name, "connection_id", connectionID)
}

// RemoveConnection removes a connection from every room it is in.
// Used on disconnect.
func (m *Manager) RemoveConnection(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms, ok := m.byConn[connectionID]
	if !ok {
		return
	}
	for name := range rooms {
		m.leaveLocked(name, connectionID)
	}
}

// Broadcast delivers an event to every member of a room and returns the
// number of members that accepted it. Slow receivers drop the event
// rather than stall the room.
func (m *Manager) Broadcast(name string, event *protocol.Event) int {
	m.mu.RLock()
	members, ok := m.rooms[name]
	if !ok || len(members) == 0 {
		m.mu.RUnlock()
		return 0
	}

	// Copy senders under read lock to avoid holding it during delivery
	targets := make([]Sender, 0, len(members))
	for _, s := range members {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(event) {
			delivered++
		} else {
			m.logger.Debug("dropped event for slow receiver",
				"room", name,
				"connection_id", s.ConnectionID(),
				"event", event.Name)
		}
	}
	return delivered
}

// BroadcastRooms delivers an event to the union of several rooms'
// members, at most once per connection
func (m *Manager) BroadcastRooms(event *protocol.Event, names ...string) int {
	m.mu.RLock()
	targets := make(map[string]Sender)
	for _, name := range names {
		for id, s := range m.rooms[name] {
			targets[id] = s
		}
	}
	m.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(event) {
			delivered++
		} else {
			m.logger.Debug("dropped event for slow receiver",
				"connection_id", s.ConnectionID(),
				"event", event.Name)
		}
	}
	return delivered
}

// Members returns the connection IDs currently in a room
func (m *Manager) Members(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.rooms[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// RoomsOf returns the rooms a connection is currently in
func (m *Manager) RoomsOf(connectionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms, ok := m.byConn[connectionID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	return names
}
