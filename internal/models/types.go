// Package models holds the persisted documents and the REST request bodies.
package models

import "time"

const (
	MessageText = "text"
	MessageCall = "call"
)

type User struct {
	ID           string    `json:"_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Avatar       string    `json:"avatar"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Group struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Members   []string  `json:"members"`
	CreatedBy string    `json:"createdBy"`
	IsGroup   bool      `json:"isGroup"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID        string    `json:"_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"message"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type VoiceMessage struct {
	ID        string    `json:"_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	AudioURL  string    `json:"audioUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

type Notification struct {
	ID        string    `json:"_id"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}

type PollOption struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Votes  int      `json:"votes"`
	Voters []string `json:"voters"`
}

type Poll struct {
	ID        string       `json:"_id"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
	CreatedBy string       `json:"createdBy"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Option returns the option with the given id, or nil.
func (p *Poll) Option(id string) *PollOption {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i]
		}
	}
	return nil
}

// --- request bodies ---

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type CreateGroupRequest struct {
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	CreatedBy string   `json:"createdBy"`
	Avatar    string   `json:"avatar"`
}

type AddMemberRequest struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	AddedBy string `json:"addedBy"`
}

type AddMembersRequest struct {
	GroupID    string   `json:"groupId"`
	NewMembers []string `json:"newMembers"`
	AddedBy    string   `json:"addedBy"`
}

type RemoveMemberRequest struct {
	GroupID   string `json:"groupId"`
	UserID    string `json:"userId"`
	RemovedBy string `json:"removedBy"`
}

type DeleteGroupRequest struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type AddMessageRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

type PairRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type UpdateMessageRequest struct {
	Message string `json:"message"`
}

type AddCallRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ChatLine is one entry of a conversation as seen by From.
type ChatLine struct {
	FromSelf bool   `json:"fromSelf"`
	Message  string `json:"message"`
}

type CreatePollOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type CreatePollRequest struct {
	Question  string             `json:"question"`
	Options   []CreatePollOption `json:"options"`
	CreatedBy string             `json:"createdBy"`
}

type AddNotificationRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

type NotificationList struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}
