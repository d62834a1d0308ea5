package state

import (
	"github.com/google/uuid"
)

// SessionRegistry maps logical identities to their live connection.
// At most one connection per identity; the latest registration wins.
type SessionRegistry interface {
	Register(identity string, conn *Connection) error
	// RegisterActive registers like Register and also lists the identity in ActiveUsers.
	// A later plain Register of the same identity removes it from the list.
	RegisterActive(identity string, conn *Connection) error
	Lookup(identity string) (*Connection, bool)
	// Unregister drops every identity still routed to connID and returns them.
	// Identities already taken over by a newer connection are left alone.
	Unregister(connID uuid.UUID) []string
	Online() []string
	// ActiveUsers is the sorted subset of Online registered through RegisterActive.
	ActiveUsers() []string
}

type Manager interface {
	SessionRegistry

	// --- Connection Lifecycle ---
	RegisterConnection(t Transport, ipAddr, subject string) (*Connection, error)
	// DeregisterConnection also unregisters identities and room subscriptions.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	AllConnections() []*Connection
	ConnectionCount() int
	UserConnectionCount(subject string) int
	FindOldestUserConnection(subject string) (*Connection, bool)

	// --- Room Subscriptions ---
	JoinRoom(connID uuid.UUID, roomID string) error
	LeaveRoom(connID uuid.UUID, roomID string) error
	RoomConnections(roomID string) []*Connection

	// --- Modifier store Management ---
	GetModifierState(modifierName string, connID uuid.UUID, eventName string) (state *ModifierState, found bool)

	// SetModifierState sets or updates the state data. Any timer on a replaced
	// entry is stopped.
	SetModifierState(modifierName string, connID uuid.UUID, eventName string, state *ModifierState)

	// DeleteModifierState removes a state entry. This is typically called by
	// the entry's own expiry timer.
	DeleteModifierState(modifierName string, connID uuid.UUID, eventName string)
}

// CallTracker records which caller is ringing or talking to a receiver.
type CallTracker interface {
	// Start records caller for receiver. It returns false when the receiver
	// already has an entry and the tracker's policy refuses to replace it.
	Start(receiver, caller string) bool
	Caller(receiver string) (string, bool)
	Clear(receiver string) (string, bool)
	Count() int
}
