package models

import "time"

// Outbound envelope types.
const (
	EventConnected      = "connected"
	EventAnnounced      = "announced"
	EventSent           = "sent"
	EventStatusChanged  = "status_changed"
	EventMessageCreated = "message_created"
	EventError          = "error"
	EventPong           = "pong"
)

// Inbound frame types.
const (
	FrameAnnounce = "announce"
	FrameSend     = "send"
	FramePing     = "ping"
)

// StatusChanged is broadcast whenever an identity goes online or offline.
type StatusChanged struct {
	Identity string     `json:"identity"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen"`
	Version  uint64     `json:"version"`

	ChangedAt int64 `json:"-"`
}

// MessageCreated is broadcast after a message has been persisted.
type MessageCreated struct {
	ID         uint      `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewMessageCreated builds the broadcast form of a stored message.
func NewMessageCreated(m *Message) *MessageCreated {
	return &MessageCreated{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
	}
}

// ErrorPayload describes a failed request. It is only ever sent to the
// session that issued the request.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope is every server-to-client frame. Exactly one of the payload
// fields is set, according to Type.
type Envelope struct {
	Type         string          `json:"type"`
	Ref          string          `json:"ref,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Identity     string          `json:"identity,omitempty"`
	Status       *StatusChanged  `json:"status,omitempty"`
	Message      *MessageCreated `json:"message,omitempty"`
	Error        *ErrorPayload   `json:"error,omitempty"`
}

// Frame is a client-to-server request.
type Frame struct {
	Type string `json:"type"`
	// Ref is an opaque client correlation id echoed in the reply.
	Ref string `json:"ref,omitempty"`

	// announce
	Token    string `json:"token,omitempty"`
	Identity string `json:"identity,omitempty"`

	// send
	ReceiverID string `json:"receiver_id,omitempty"`
	Text       string `json:"text,omitempty"`
}
