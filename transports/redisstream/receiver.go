package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/messaging"
)

// receiver reads new entries of one stream and reclaims entries whose
// holder went idle for longer than the lock duration
type receiver struct {
	transport *Transport
	stream    string
	options   messaging.ReceiverOptions

	mu        sync.Mutex
	lastClaim time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newReceiver(t *Transport, stream string, options messaging.ReceiverOptions) *receiver {
	return &receiver{
		transport: t,
		stream:    stream,
		options:   options,
		closed:    make(chan struct{}),
	}
}

func (r *receiver) Receive(ctx context.Context) (messaging.Delivery, error) {
	cfg := r.transport.cfg
	for {
		select {
		case <-r.closed:
			return nil, contracts.ErrReceiverClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if r.claimDue() {
			d, err := r.claimOne(ctx)
			if err != nil {
				return nil, err
			}
			if d != nil {
				return d, nil
			}
		}

		res, err := r.transport.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cfg.Group,
			Consumer: cfg.Consumer,
			Streams:  []string{r.stream, ">"},
			Count:    1,
			Block:    cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if r.isClosed() || errors.Is(err, redis.ErrClosed) {
				return nil, contracts.ErrReceiverClosed
			}
			return nil, fmt.Errorf("failed to read from stream %s: %w", r.stream, err)
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				return r.newDelivery(msg.ID, decodeEnvelope(msg.Values, 1)), nil
			}
		}
	}
}

// claimDue limits reclaim scans to twice per lock duration
func (r *receiver) claimDue() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastClaim) < r.options.LockDuration/2 {
		return false
	}
	r.lastClaim = time.Now()
	return true
}

// claimOne takes over one entry idle for longer than the lock duration
func (r *receiver) claimOne(ctx context.Context) (*delivery, error) {
	cfg := r.transport.cfg
	pending, err := r.transport.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.stream,
		Group:  cfg.Group,
		Idle:   r.options.LockDuration,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list pending entries of %s: %w", r.stream, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	msgs, err := r.transport.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.stream,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		MinIdle:  r.options.LockDuration,
		Messages: []string{pending[0].ID},
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim %s on %s: %w", pending[0].ID, r.stream, err)
	}
	for _, msg := range msgs {
		if msg.Values == nil {
			// Trimmed from the stream while pending
			_ = r.transport.client.XAck(ctx, r.stream, cfg.Group, msg.ID).Err()
			return nil, nil
		}
		return r.newDelivery(msg.ID, decodeEnvelope(msg.Values, pending[0].RetryCount+1)), nil
	}
	return nil, nil
}

func (r *receiver) newDelivery(id string, env *contracts.Envelope) *delivery {
	return &delivery{receiver: r, id: id, env: env}
}

func (r *receiver) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// Close stops reading; pending entries are reclaimed by other consumers
func (r *receiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

type delivery struct {
	receiver *receiver
	id       string
	env      *contracts.Envelope

	mu      sync.Mutex
	settled bool
}

var _ messaging.LockRenewer = (*delivery)(nil)

func (d *delivery) Envelope() *contracts.Envelope { return d.env }

func (d *delivery) Complete(ctx context.Context) error {
	return d.settle(func() error {
		r := d.receiver
		n, err := r.transport.client.XAck(ctx, r.stream, r.transport.cfg.Group, d.id).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return contracts.ErrLockLost
		}
		return nil
	})
}

// Abandon appends a copy to the end of the stream and acknowledges the
// original in one transaction
func (d *delivery) Abandon(ctx context.Context) error {
	return d.settle(func() error {
		return d.moveTo(ctx, d.receiver.stream, encodeEnvelope(d.env))
	})
}

func (d *delivery) DeadLetter(ctx context.Context, reason, description string) error {
	return d.settle(func() error {
		stream := d.receiver.transport.deadLetterStream(d.receiver.stream)
		return d.moveTo(ctx, stream, deadLetterValues(d.env, reason, description))
	})
}

func (d *delivery) moveTo(ctx context.Context, stream string, values map[string]any) error {
	r := d.receiver
	var ack *redis.IntCmd
	_, err := r.transport.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, r.transport.xaddArgs(stream, values))
		ack = pipe.XAck(ctx, r.stream, r.transport.cfg.Group, d.id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", d.id, stream, err)
	}
	if ack.Val() == 0 {
		return contracts.ErrLockLost
	}
	return nil
}

// RenewLock resets the idle time of the entry while this consumer still owns it
func (d *delivery) RenewLock(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return contracts.ErrAlreadySettled
	}

	r := d.receiver
	cfg := r.transport.cfg
	owned, err := r.transport.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   r.stream,
		Group:    cfg.Group,
		Start:    d.id,
		End:      d.id,
		Count:    1,
		Consumer: cfg.Consumer,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if len(owned) == 0 {
		return contracts.ErrLockLost
	}

	return r.transport.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   r.stream,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Messages: []string{d.id},
	}).Err()
}

func (d *delivery) settle(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return contracts.ErrAlreadySettled
	}
	err := fn()
	if err == nil || errors.Is(err, contracts.ErrLockLost) {
		d.settled = true
	}
	return err
}
