package statemanager

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
)

type modifierKey struct {
	modifier string
	connID   uuid.UUID
	event    string
}

type InMemoryManager struct {
	mu        sync.RWMutex
	conns     map[uuid.UUID]*state.Connection
	sessions  map[string]*state.Connection // identity -> connection
	active    map[string]struct{}          // identities registered through RegisterActive
	rooms     map[string]map[uuid.UUID]*state.Connection
	modifiers map[modifierKey]*state.ModifierState

	nowFn  func() time.Time
	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:     make(map[uuid.UUID]*state.Connection),
		sessions:  make(map[string]*state.Connection),
		active:    make(map[string]struct{}),
		rooms:     make(map[string]map[uuid.UUID]*state.Connection),
		modifiers: make(map[modifierKey]*state.ModifierState),
		nowFn:     time.Now,
		logger:    logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

// --- Connection Lifecycle ---

func (m *InMemoryManager) RegisterConnection(t state.Transport, ipAddr, subject string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := t.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, state.ErrConnectionRegistered
	}
	conn := state.NewConnection(t, ipAddr, m.nowFn())
	conn.Subject = subject
	m.conns[connID] = conn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()), slog.String("subject", subject))
	return conn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		return nil
	}
	removed := m.unregisterLocked(conn)
	for roomID := range conn.Rooms() {
		m.leaveRoomLocked(conn, roomID)
	}
	for key, st := range m.modifiers {
		if key.connID == connID {
			if st.Timer != nil {
				st.Timer.Stop()
			}
			delete(m.modifiers, key)
		}
	}
	delete(m.conns, connID)
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()), slog.Any("identities", removed))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

func (m *InMemoryManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *InMemoryManager) UserConnectionCount(subject string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.conns {
		if c.Subject == subject {
			count++
		}
	}
	return count
}

func (m *InMemoryManager) FindOldestUserConnection(subject string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for _, c := range m.conns {
		if c.Subject != subject {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest, oldest != nil
}

// --- Session Registry ---

func (m *InMemoryManager) Register(identity string, conn *state.Connection) error {
	return m.register(identity, conn, false)
}

func (m *InMemoryManager) RegisterActive(identity string, conn *state.Connection) error {
	return m.register(identity, conn, true)
}

func (m *InMemoryManager) register(identity string, conn *state.Connection, active bool) error {
	if identity == "" {
		return state.ErrEmptyIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, live := m.conns[conn.ID]; !live {
		return state.ErrConnectionNotFound
	}
	if prev, ok := m.sessions[identity]; ok && prev != conn {
		delete(prev.Identities(), identity)
		m.logger.Debug("Identity superseded by newer connection",
			slog.String("identity", identity),
			slog.String("previousConnID", prev.ID.String()),
			slog.String("connID", conn.ID.String()),
		)
	}
	m.sessions[identity] = conn
	conn.Identities()[identity] = struct{}{}
	if active {
		m.active[identity] = struct{}{}
	} else {
		delete(m.active, identity)
	}
	return nil
}

func (m *InMemoryManager) Lookup(identity string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.sessions[identity]
	return conn, ok
}

func (m *InMemoryManager) Unregister(connID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil
	}
	return m.unregisterLocked(conn)
}

func (m *InMemoryManager) unregisterLocked(conn *state.Connection) []string {
	removed := make([]string, 0, len(conn.Identities()))
	for identity := range conn.Identities() {
		if m.sessions[identity] == conn {
			delete(m.sessions, identity)
			delete(m.active, identity)
			removed = append(removed, identity)
		}
		delete(conn.Identities(), identity)
	}
	sort.Strings(removed)
	return removed
}

func (m *InMemoryManager) Online() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.sessions))
	for identity := range m.sessions {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

func (m *InMemoryManager) ActiveUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.active))
	for identity := range m.active {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// --- Room Subscriptions ---

func (m *InMemoryManager) JoinRoom(connID uuid.UUID, roomID string) error {
	if roomID == "" {
		return state.ErrEmptyRoom
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return state.ErrConnectionNotFound
	}
	room, exists := m.rooms[roomID]
	if !exists {
		room = make(map[uuid.UUID]*state.Connection)
		m.rooms[roomID] = room
	}
	room[connID] = conn
	conn.Rooms()[roomID] = struct{}{}
	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
	return nil
}

func (m *InMemoryManager) LeaveRoom(connID uuid.UUID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return state.ErrConnectionNotFound
	}
	m.leaveRoomLocked(conn, roomID)
	return nil
}

func (m *InMemoryManager) leaveRoomLocked(conn *state.Connection, roomID string) {
	delete(conn.Rooms(), roomID)
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(room, conn.ID)
	// For memory hygiene, remove the room if it's now empty.
	if len(room) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}
}

func (m *InMemoryManager) RoomConnections(roomID string) []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room := m.rooms[roomID]
	out := make([]*state.Connection, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// --- Modifier store Management ---

func (m *InMemoryManager) GetModifierState(modifierName string, connID uuid.UUID, eventName string) (*state.ModifierState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.modifiers[modifierKey{modifierName, connID, eventName}]
	return st, ok
}

func (m *InMemoryManager) SetModifierState(modifierName string, connID uuid.UUID, eventName string, st *state.ModifierState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := modifierKey{modifierName, connID, eventName}
	if prev, ok := m.modifiers[key]; ok && prev != st && prev.Timer != nil {
		prev.Timer.Stop()
	}
	m.modifiers[key] = st
}

func (m *InMemoryManager) DeleteModifierState(modifierName string, connID uuid.UUID, eventName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.modifiers, modifierKey{modifierName, connID, eventName})
}
