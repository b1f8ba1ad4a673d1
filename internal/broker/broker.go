// Package broker carries hub events between the publisher and the
// delivery loop, either in-process or through Redis or NATS so that
// several hub instances see the same stream.
package broker

import (
	"context"
	"fmt"

	"tutorhub/backend/internal/models"
)

// Broker is a publish/subscribe channel for outbound envelopes.
type Broker interface {
	// Publish sends env to every subscriber, in call order.
	Publish(ctx context.Context, env models.Envelope) error
	// Subscribe returns the stream of published envelopes. The channel is
	// closed when ctx is done or the broker is closed.
	Subscribe(ctx context.Context) (<-chan models.Envelope, error)
	Close() error
}

// Driver names accepted by config.
const (
	DriverLocal = "local"
	DriverRedis = "redis"
	DriverNATS  = "nats"
)

// DefaultTopic is the Redis channel / NATS subject events travel on.
const DefaultTopic = "tutorhub.events"

// ErrUnknownDriver is returned for an unsupported driver name.
type ErrUnknownDriver string

func (e ErrUnknownDriver) Error() string {
	return fmt.Sprintf("broker: unknown driver %q", string(e))
}
