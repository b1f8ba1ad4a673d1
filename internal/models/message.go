package models

import (
	"strings"
	"time"
)

// Message represents a persisted direct message between two identities.
// Rows are append-only: a Message is never updated or deleted once stored.
type Message struct {
	// ID is the auto-generated primary key; it also breaks ties between
	// messages of one conversation that share a timestamp.
	ID uint `gorm:"primaryKey" json:"id"`
	// ConversationKey is the order-insensitive key of the sender/receiver
	// pair, see ConversationKey.
	ConversationKey string `gorm:"type:text;not null;index:idx_conversation_created,priority:1" json:"-"`
	// SenderID is the identity of the user who sent the message.
	SenderID string `gorm:"type:text;not null;index:idx_sender_receiver,priority:1;index:idx_receiver_sender,priority:2" json:"sender_id"`
	// ReceiverID is the identity of the user the message is addressed to.
	ReceiverID string `gorm:"type:text;not null;index:idx_sender_receiver,priority:2;index:idx_receiver_sender,priority:1" json:"receiver_id"`
	// Text is the message body. Never empty.
	Text string `gorm:"type:text;not null" json:"text"`
	// CreatedAt is assigned by the store and increases monotonically within
	// a conversation.
	CreatedAt time.Time `gorm:"not null;index:idx_conversation_created,priority:2" json:"created_at"`
}

const conversationKeySep = ":"

// ConversationKey returns the key of the unordered pair {a, b}.
// ConversationKey(a, b) == ConversationKey(b, a).
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + conversationKeySep + b
}

// Participants splits a conversation key back into its two identities.
func Participants(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, conversationKeySep)
	return a, b, ok
}

// Counterpart returns the other participant of the message relative to
// identity, or "" if identity is not part of the conversation.
func (m *Message) Counterpart(identity string) string {
	switch identity {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	}
	return ""
}
