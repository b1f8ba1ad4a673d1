package chathub

import "tutorhub/backend/internal/models"

// Client is the interface for any type of connection (e.g., WebSocket).
// It abstracts the underlying transport so the hub can treat every
// session the same way.
type Client interface {
	// GetSendChannel returns the bounded outbound queue of the client. The
	// hub never blocks on it: when it is full the session is dropped.
	GetSendChannel() chan<- models.Envelope

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the outbound queue, which stops the write pump and
	// closes the underlying connection. The hub calls it exactly once.
	Close()
}
