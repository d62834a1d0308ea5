package router

import "encoding/json"

// ClientMessage is the inbound envelope.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the outbound envelope. Events without a body omit payload.
type ServerMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Delivery is the outcome of a targeted send.
type Delivery int

const (
	// Dropped means the identity was offline or its connection refused the frame.
	Dropped Delivery = iota
	Delivered
)

func (d Delivery) String() string {
	if d == Delivered {
		return "delivered"
	}
	return "dropped"
}

// inbound event names
const (
	EventAddUser          = "add-user"
	EventJoin             = "join"
	EventSendMsg          = "send-msg"
	EventSendMessage      = "send-message"
	EventSendVoiceMsg     = "send-voice-msg"
	EventSendVoiceMessage = "send-voice-message"
	EventSendNotification = "send-notification"
	EventStartCall        = "start-call"
	EventAcceptCall       = "accept-call"
	EventDeclineCall      = "decline-call"
	EventEndCall          = "end-call"
	EventToggleMute       = "toggle-mute"
	EventHoldCall         = "hold-call"
	EventJoinRoom         = "join-room"
	EventLeaveRoom        = "leave-room"
	EventAddUserToCall    = "add-user-to-call"
	EventVote             = "vote"
	EventDeletePoll       = "delete_poll"
	EventNewInvite        = "new-invite"
)

// outbound event names
const (
	OutActiveUsers     = "active-users"
	OutMsgReceive      = "msg-receive"
	OutReceiveVoiceMsg = "receive-voice-msg"
	OutNewNotification = "new-notification"
	OutIncomingCall    = "incoming-call"
	OutCallBusy        = "call-busy"
	OutCallAccepted    = "call-accepted"
	OutCallDeclined    = "call-declined"
	OutCallEnded       = "call-ended"
	OutToggleMute      = "toggle-mute"
	OutHoldCall        = "hold-call"
	OutUserAdded       = "user-added"
	OutPollUpdated     = "poll_updated"
	OutPollDeleted     = "poll_deleted"
	OutNewPoll         = "new_poll"
	OutNewInvite       = "new-invite"
	OutError           = "error"
)

// --- inbound payloads ---

type sendMsgPayload struct {
	To   string          `json:"to"`
	From string          `json:"from"`
	Msg  json.RawMessage `json:"msg"`
}

type sendVoicePayload struct {
	To       string `json:"to"`
	From     string `json:"from"`
	AudioURL string `json:"audioUrl"`
}

type notificationPayload struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

type callPayload struct {
	CallerID   string `json:"callerId"`
	ReceiverID string `json:"receiverId"`
	PeerID     string `json:"peerId,omitempty"`
}

type mutePayload struct {
	UserID  string `json:"userId"`
	IsMuted bool   `json:"isMuted"`
}

type holdPayload struct {
	UserID   string `json:"userId"`
	IsOnHold bool   `json:"isOnHold"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type addToCallPayload struct {
	RoomID    string `json:"roomId"`
	NewUserID string `json:"newUserId"`
}

type votePayload struct {
	PollID   string `json:"pollId"`
	OptionID string `json:"optionId"`
	UserID   string `json:"userId"`
}

type deletePollPayload struct {
	PollID string `json:"pollId"`
	UserID string `json:"userId"`
}

// --- outbound payloads ---

type msgReceive struct {
	Msg  json.RawMessage `json:"msg"`
	From string          `json:"from"`
}

type voiceReceive struct {
	AudioURL string `json:"audioUrl"`
	From     string `json:"from"`
}

type incomingCall struct {
	CallerID string `json:"callerId"`
	PeerID   string `json:"peerId"`
}

type callBusy struct {
	ReceiverID string `json:"receiverId"`
}

type callAccepted struct {
	PeerID string `json:"peerId"`
}

type muteState struct {
	IsMuted bool `json:"isMuted"`
}

type holdState struct {
	IsOnHold bool `json:"isOnHold"`
}

type userAdded struct {
	NewUserID string `json:"newUserId"`
}

type errorPayload struct {
	Message string `json:"message"`
}
