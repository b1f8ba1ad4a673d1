package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tutorhub/backend/internal/models"

	"github.com/nats-io/nats.go"
)

// NATSOptions configures the NATS connection.
type NATSOptions struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATS fans envelopes out over a NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// DialNATS connects to the NATS server described by opts.
func DialNATS(opts NATSOptions) (*NATS, error) {
	logger := slog.Default().With("component", "broker", "driver", DriverNATS)

	conn, err := nats.Connect(opts.URL,
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.Timeout(10*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return NewNATS(conn, opts.Subject), nil
}

// NewNATS wraps an existing connection.
func NewNATS(conn *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = DefaultTopic
	}
	return &NATS{
		conn:    conn,
		subject: subject,
		logger:  slog.Default().With("component", "broker", "driver", DriverNATS),
	}
}

// Conn returns the underlying connection.
func (b *NATS) Conn() *nats.Conn {
	return b.conn
}

func (b *NATS) Publish(ctx context.Context, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

func (b *NATS) Subscribe(ctx context.Context) (<-chan models.Envelope, error) {
	out := make(chan models.Envelope, 256)
	done := make(chan struct{})
	var (
		outMu     sync.RWMutex
		outClosed bool
	)

	// NATS invokes the handler sequentially per subscription, which keeps
	// the publish order.
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var env models.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Error("failed to decode event", "error", err)
			return
		}

		outMu.RLock()
		defer outMu.RUnlock()
		if outClosed {
			return
		}
		select {
		case out <- env:
		case <-done:
		}
	})
	if err != nil {
		return nil, err
	}
	if err := b.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(done)
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			b.logger.Error("failed to unsubscribe", "error", err)
		}
		outMu.Lock()
		outClosed = true
		close(out)
		outMu.Unlock()
	}()
	return out, nil
}

func (b *NATS) Close() error {
	b.mu.Lock()
	b.sub = nil
	b.mu.Unlock()

	b.conn.Close()
	return nil
}
