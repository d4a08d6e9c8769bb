package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/messaging"
)

type receiver struct {
	transport *Transport
	topic     string
	reader    reader
	tracker   *commitTracker

	closeOnce sync.Once
	closed    chan struct{}
}

func newReceiver(t *Transport, topic string, r reader) *receiver {
	return &receiver{
		transport: t,
		topic:     topic,
		reader:    r,
		tracker:   newCommitTracker(),
		closed:    make(chan struct{}),
	}
}

func (r *receiver) Receive(ctx context.Context) (messaging.Delivery, error) {
	select {
	case <-r.closed:
		return nil, contracts.ErrReceiverClosed
	default:
	}

	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, io.EOF) {
			return nil, contracts.ErrReceiverClosed
		}
		return nil, fmt.Errorf("failed to fetch from topic %s: %w", r.topic, err)
	}

	r.tracker.track(msg)
	return &delivery{receiver: r, msg: msg, env: fromMessage(msg)}, nil
}

// Close leaves the group; uncommitted offsets are redelivered
func (r *receiver) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = r.reader.Close()
	})
	return err
}

// commit settles msg in the tracker and commits the advanced offset
func (r *receiver) commit(ctx context.Context, msg kafka.Message) error {
	next, ok := r.tracker.settle(msg)
	if !ok {
		return nil
	}
	if err := r.reader.CommitMessages(ctx, next); err != nil {
		return fmt.Errorf("failed to commit %s/%d@%d: %w", next.Topic, next.Partition, next.Offset, err)
	}
	return nil
}

type delivery struct {
	receiver *receiver
	msg      kafka.Message
	env      *contracts.Envelope

	mu      sync.Mutex
	settled bool
}

func (d *delivery) Envelope() *contracts.Envelope { return d.env }

func (d *delivery) Complete(ctx context.Context) error {
	return d.settle(ctx, nil)
}

// Abandon re-produces the message to the tail of its topic
func (d *delivery) Abandon(ctx context.Context) error {
	return d.settle(ctx, func() error {
		return d.receiver.transport.writer.WriteMessages(ctx, toMessage(d.receiver.topic, d.env))
	})
}

func (d *delivery) DeadLetter(ctx context.Context, reason, description string) error {
	return d.settle(ctx, func() error {
		topic := d.receiver.transport.deadLetterTopic(d.receiver.topic)
		return d.receiver.transport.writer.WriteMessages(ctx, deadLetterMessage(topic, d.env, reason, description))
	})
}

// settle runs produce, then marks the offset done. A failed produce leaves
// the delivery unsettled and retryable. Until it settles, later offsets of
// its partition are not committed; a rebalance redelivers them all.
func (d *delivery) settle(ctx context.Context, produce func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return contracts.ErrAlreadySettled
	}
	if produce != nil {
		if err := produce(); err != nil {
			d.receiver.transport.cfg.Logger.Warn("re-produce failed, partition commits held",
				"topic", d.msg.Topic,
				"partition", d.msg.Partition,
				"offset", d.msg.Offset,
				"messageId", d.env.ID,
				"pending", d.receiver.tracker.pending(d.msg.Partition),
				"error", err)
			return fmt.Errorf("failed to re-produce %s/%d@%d: %w", d.msg.Topic, d.msg.Partition, d.msg.Offset, err)
		}
	}
	d.settled = true
	return d.receiver.commit(ctx, d.msg)
}
