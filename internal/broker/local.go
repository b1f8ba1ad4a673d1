package broker

import (
	"context"
	"errors"
	"sync"

	"tutorhub/backend/internal/models"
)

// ErrClosed is returned when publishing on a closed broker.
var ErrClosed = errors.New("broker: closed")

// Local is an in-process broker backed by a buffered channel. It supports
// a single subscriber, which is all one hub needs.
type Local struct {
	mu     sync.RWMutex
	ch     chan models.Envelope
	closed bool
}

// NewLocal creates a local broker buffering up to size envelopes.
func NewLocal(size int) *Local {
	if size <= 0 {
		size = 1024
	}
	return &Local{ch: make(chan models.Envelope, size)}
}

func (b *Local) Publish(ctx context.Context, env models.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	select {
	case b.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Local) Subscribe(ctx context.Context) (<-chan models.Envelope, error) {
	go func() {
		<-ctx.Done()
		b.Close()
	}()
	return b.ch, nil
}

func (b *Local) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}
