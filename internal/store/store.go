// Package store persists the chat documents behind a small interface.
// The SQL implementation runs on modernc.org/sqlite or lib/pq.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/a-essam23/go-relay/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type Groups interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroupsByMember(ctx context.Context, userID string) ([]models.Group, error)
	SetGroupMembers(ctx context.Context, id string, members []string, updatedAt time.Time) error
	DeleteGroup(ctx context.Context, id string) error
}

type Messages interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns the pair's messages in both directions, oldest first.
	// An empty kind matches every kind.
	ListMessages(ctx context.Context, a, b, kind string) ([]models.Message, error)
	UpdateMessageText(ctx context.Context, id, text string, updatedAt time.Time) error
	DeleteMessage(ctx context.Context, id string) error

	CreateVoiceMessage(ctx context.Context, v *models.VoiceMessage) error
	ListVoiceMessages(ctx context.Context, a, b string) ([]models.VoiceMessage, error)
	GetVoiceMessage(ctx context.Context, id string) (*models.VoiceMessage, error)
	DeleteVoiceMessage(ctx context.Context, id string) error
}

type Polls interface {
	CreatePoll(ctx context.Context, p *models.Poll) error
	GetPoll(ctx context.Context, id string) (*models.Poll, error)
	ListPolls(ctx context.Context) ([]models.Poll, error)
	// SavePoll replaces the whole stored document.
	SavePoll(ctx context.Context, p *models.Poll) error
	DeletePoll(ctx context.Context, id string) error
}

type Notifications interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	// ListNotifications returns newest first.
	ListNotifications(ctx context.Context, email string) ([]models.Notification, error)
	CountUnread(ctx context.Context, email string) (int, error)
	MarkAllRead(ctx context.Context, email string) (int64, error)
}

type Store interface {
	Users
	Groups
	Messages
	Polls
	Notifications
	Ping(ctx context.Context) error
	Close() error
}
