package messaging

import (
	"context"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
)

const (
	// DefaultMaxConcurrentCalls bounds simultaneous handler invocations per destination
	DefaultMaxConcurrentCalls = 5
	// DefaultMaxLockRenewal bounds how long a message lock is kept alive while a handler runs
	DefaultMaxLockRenewal = 10 * time.Minute
	// DefaultLockDuration is the broker-side claim duration requested by receivers
	DefaultLockDuration = 30 * time.Second
)

// Transport opens senders and receivers for named destinations
type Transport interface {
	// NewSender creates an outbound handle bound to destination
	NewSender(ctx context.Context, destination string) (Sender, error)

	// NewReceiver creates an inbound handle bound to destination.
	// Deliveries are always settled manually.
	NewReceiver(ctx context.Context, destination string, options ReceiverOptions) (Receiver, error)

	// Ping verifies the broker is reachable
	Ping(ctx context.Context) error

	// Close releases the broker connection
	Close(ctx context.Context) error

	// Name identifies the transport in logs and health checks
	Name() string
}

// Sender sends envelopes to one destination
type Sender interface {
	// Send blocks until the broker accepted the envelope or ctx is done
	Send(ctx context.Context, envelope *contracts.Envelope) error

	// Close releases the outbound channel
	Close(ctx context.Context) error
}

// Receiver pulls deliveries from one destination
type Receiver interface {
	// Receive blocks until a message is claimed, ctx is done or the
	// receiver is closed (contracts.ErrReceiverClosed).
	Receive(ctx context.Context) (Delivery, error)

	// Close releases the inbound channel. Unsettled deliveries return to
	// the broker.
	Close(ctx context.Context) error
}

// Delivery is one claimed message awaiting exactly one outcome
type Delivery interface {
	// Envelope returns the received envelope
	Envelope() *contracts.Envelope

	// Complete acknowledges successful processing
	Complete(ctx context.Context) error

	// Abandon releases the message back to the broker for redelivery
	Abandon(ctx context.Context) error

	// DeadLetter moves the message to the dead-letter destination
	DeadLetter(ctx context.Context, reason, description string) error
}

// LockRenewer is implemented by deliveries whose broker claim can be extended
type LockRenewer interface {
	RenewLock(ctx context.Context) error
}

// ReceiverOptions configures an inbound channel
type ReceiverOptions struct {
	// MaxConcurrentCalls is used as the broker prefetch where supported
	MaxConcurrentCalls int
	// LockDuration is how long the broker keeps a message claimed
	LockDuration time.Duration
}

// Normalize fills unset fields with defaults
func (o ReceiverOptions) Normalize() ReceiverOptions {
	if o.MaxConcurrentCalls <= 0 {
		o.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if o.LockDuration <= 0 {
		o.LockDuration = DefaultLockDuration
	}
	return o
}
