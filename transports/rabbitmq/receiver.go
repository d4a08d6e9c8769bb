package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/internal/rabbitmq"
	"github.com/smartcommerce/busgate-go/messaging"
)

// receiver consumes one queue with manual acknowledgment
type receiver struct {
	transport  *Transport
	queue      string
	options    messaging.ReceiverOptions
	tag        string
	deadLetter *sender

	mu         sync.Mutex
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery

	closeOnce sync.Once
	closed    chan struct{}
}

func newReceiver(t *Transport, queue string, options messaging.ReceiverOptions) *receiver {
	return &receiver{
		transport:  t,
		queue:      queue,
		options:    options,
		tag:        "busgate-" + uuid.NewString(),
		deadLetter: &sender{transport: t, queue: t.deadLetterQueue(queue)},
		closed:     make(chan struct{}),
	}
}

// consume opens a channel and starts the consumer
func (r *receiver) consume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.transport.manager.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(r.options.MaxConcurrentCalls, 0, false); err != nil {
		_ = ch.Close()
		return &rabbitmq.ChannelError{Op: "qos", Err: err, Timestamp: time.Now()}
	}
	if r.transport.config.DeclareQueues {
		err := rabbitmq.DeclareQueues(ch,
			rabbitmq.DurableQueue(r.queue),
			rabbitmq.DurableQueue(r.transport.deadLetterQueue(r.queue)))
		if err != nil {
			_ = ch.Close()
			return err
		}
	}

	deliveries, err := ch.Consume(r.queue, r.tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return &rabbitmq.ConsumerError{
			Queue:       r.queue,
			ConsumerTag: r.tag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	r.ch = ch
	r.deliveries = deliveries
	return nil
}

func (r *receiver) Receive(ctx context.Context) (messaging.Delivery, error) {
	select {
	case <-r.closed:
		return nil, contracts.ErrReceiverClosed
	default:
	}

	r.mu.Lock()
	deliveries := r.deliveries
	r.mu.Unlock()

	if deliveries == nil {
		if err := r.consume(); err != nil {
			return nil, err
		}
		r.mu.Lock()
		deliveries = r.deliveries
		r.mu.Unlock()
	}

	select {
	case d, ok := <-deliveries:
		if !ok {
			// Channel or connection dropped; consume again on the next call
			r.mu.Lock()
			r.deliveries = nil
			r.ch = nil
			r.mu.Unlock()
			select {
			case <-r.closed:
				return nil, contracts.ErrReceiverClosed
			default:
			}
			return nil, &rabbitmq.ConsumerError{
				Queue:       r.queue,
				ConsumerTag: r.tag,
				Op:          "receive",
				Err:         rabbitmq.ErrConsumerCancelled,
				Timestamp:   time.Now(),
			}
		}
		return &delivery{receiver: r, raw: d, env: fromDelivery(d)}, nil
	case <-r.closed:
		return nil, contracts.ErrReceiverClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels the consumer; unacknowledged messages return to the queue
func (r *receiver) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)

		r.mu.Lock()
		ch := r.ch
		r.ch = nil
		r.deliveries = nil
		r.mu.Unlock()

		if ch != nil && !ch.IsClosed() {
			_ = ch.Cancel(r.tag, false)
			err = ch.Close()
		}
		err = errors.Join(err, r.deadLetter.Close(ctx))
	})
	return err
}

type delivery struct {
	receiver *receiver
	raw      amqp.Delivery
	env      *contracts.Envelope

	mu      sync.Mutex
	settled bool
}

func (d *delivery) Envelope() *contracts.Envelope { return d.env }

func (d *delivery) Complete(ctx context.Context) error {
	return d.settle(func() error { return d.raw.Ack(false) })
}

// Abandon requeues the message for redelivery
func (d *delivery) Abandon(ctx context.Context) error {
	return d.settle(func() error { return d.raw.Nack(false, true) })
}

// DeadLetter publishes a copy to the dead-letter queue, then acknowledges
// the original. A failed publish requeues the original.
func (d *delivery) DeadLetter(ctx context.Context, reason, description string) error {
	return d.settle(func() error {
		msg := deadLetterPublishing(d.env, reason, description)
		if err := d.receiver.deadLetter.publish(ctx, d.receiver.deadLetter.queue, msg); err != nil {
			return errors.Join(err, d.raw.Nack(false, true))
		}
		return d.raw.Ack(false)
	})
}

func (d *delivery) settle(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return contracts.ErrAlreadySettled
	}
	if err := fn(); err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			// The broker already requeued it with the channel
			d.settled = true
			return contracts.ErrLockLost
		}
		return err
	}
	d.settled = true
	return nil
}
