package state

import (
	"time"

	"github.com/google/uuid"
)

// Transport is the part of a live connection the state layer is allowed to touch.
// The transport owns its own lifecycle; state only keeps references.
type Transport interface {
	ID() uuid.UUID
	// Send queues a frame and reports whether it was accepted.
	Send(message []byte) bool
	Close(err error)
}

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Subject   string    // authenticated user the socket was opened for, may be empty
	Transport Transport // The actual connection for sending messages
	CreatedAt time.Time

	// identities currently routed to this connection, kept in sync by the manager
	identities map[string]struct{}
	rooms      map[string]struct{}
}

// NewConnection is used by state managers; callers go through RegisterConnection.
func NewConnection(t Transport, ipAddr string, now time.Time) *Connection {
	return &Connection{
		ID:         t.ID(),
		IPAddress:  ipAddr,
		Transport:  t,
		CreatedAt:  now,
		identities: make(map[string]struct{}),
		rooms:      make(map[string]struct{}),
	}
}

// Identities returns the identity set; only safe under the owning manager's lock.
func (c *Connection) Identities() map[string]struct{} { return c.identities }

// Rooms returns the room set; only safe under the owning manager's lock.
func (c *Connection) Rooms() map[string]struct{} { return c.rooms }

// ModifierState is per-connection, per-event scratch space for event modifiers.
type ModifierState struct {
	Value any
	Timer *time.Timer
}
