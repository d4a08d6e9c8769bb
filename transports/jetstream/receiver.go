package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/messaging"
)

type receiver struct {
	transport *Transport
	subject   string
	consumer  jetstream.Consumer

	closeOnce sync.Once
	closed    chan struct{}
}

func newReceiver(t *Transport, subject string, consumer jetstream.Consumer) *receiver {
	return &receiver{
		transport: t,
		subject:   subject,
		consumer:  consumer,
		closed:    make(chan struct{}),
	}
}

func (r *receiver) Receive(ctx context.Context) (messaging.Delivery, error) {
	for {
		select {
		case <-r.closed:
			return nil, contracts.ErrReceiverClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		msg, err := r.consumer.Next(jetstream.FetchMaxWait(r.transport.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, jetstream.ErrNoMessages) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) {
				return nil, contracts.ErrReceiverClosed
			}
			return nil, fmt.Errorf("failed to fetch from %s: %w", r.subject, err)
		}

		var delivered uint64
		if meta, err := msg.Metadata(); err == nil {
			delivered = meta.NumDelivered
		}
		return &delivery{
			receiver: r,
			msg:      msg,
			env:      fromMsg(msg.Headers(), msg.Data(), delivered),
		}, nil
	}
}

// Close stops pulling; unacknowledged messages are redelivered after AckWait
func (r *receiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

type delivery struct {
	receiver *receiver
	msg      jetstream.Msg
	env      *contracts.Envelope
}

var _ messaging.LockRenewer = (*delivery)(nil)

func (d *delivery) Envelope() *contracts.Envelope { return d.env }

// Complete acknowledges and waits for the server to confirm
func (d *delivery) Complete(ctx context.Context) error {
	return mapAckError(d.msg.DoubleAck(ctx))
}

func (d *delivery) Abandon(ctx context.Context) error {
	return mapAckError(d.msg.Nak())
}

// DeadLetter publishes to the dead-letter subject, then terminates the
// original so it is never redelivered
func (d *delivery) DeadLetter(ctx context.Context, reason, description string) error {
	subject := d.receiver.transport.deadLetterSubject(d.receiver.subject)
	msg := deadLetterMsg(subject, d.env, reason, description)
	if _, err := d.receiver.transport.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return mapAckError(d.msg.Term())
}

// RenewLock resets the AckWait timer
func (d *delivery) RenewLock(ctx context.Context) error {
	return mapAckError(d.msg.InProgress())
}

func mapAckError(err error) error {
	if errors.Is(err, jetstream.ErrMsgAlreadyAckd) {
		return contracts.ErrAlreadySettled
	}
	return err
}
