package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/messaging"
)

// TransportName identifies the in-memory transport
const TransportName = "memory"

// ReasonMaxDeliveryCountExceeded is the dead-letter reason the broker
// applies once a message was abandoned too often.
const ReasonMaxDeliveryCountExceeded = "MaxDeliveryCountExceeded"

// ErrTransportClosed is returned after Close
var ErrTransportClosed = errors.New("memory: transport is closed")

// Settlement records one terminal outcome observed by the broker
type Settlement struct {
	MessageID   string
	Kind        contracts.OutcomeKind
	Reason      string
	Description string
}

// Transport is an in-process broker with queue semantics: competing
// receivers, message locks that expire, abandon-to-redeliver and a
// dead-letter sub-queue per destination. Intended for tests and local
// development.
type Transport struct {
	mu     sync.Mutex
	queues map[string]*queue
	closed atomic.Bool

	maxDeliveryCount int
	sendLatency      time.Duration
	sendErr          atomic.Pointer[error]

	sendersCreated   atomic.Int64
	receiversCreated atomic.Int64
}

var _ messaging.Transport = (*Transport)(nil)

// Option configures the transport
type Option func(*Transport)

// WithMaxDeliveryCount dead-letters a message on its next receive after n
// deliveries (default 10)
func WithMaxDeliveryCount(n int) Option {
	return func(t *Transport) {
		t.maxDeliveryCount = n
	}
}

// WithSendLatency delays every send, honoring the caller's context
func WithSendLatency(d time.Duration) Option {
	return func(t *Transport) {
		t.sendLatency = d
	}
}

// NewTransport creates a new in-memory transport
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		queues:           make(map[string]*queue),
		maxDeliveryCount: 10,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Name() string { return TransportName }

// NewSender creates a sender for destination
func (t *Transport) NewSender(ctx context.Context, destination string) (messaging.Sender, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	t.sendersCreated.Add(1)
	return &sender{transport: t, queue: t.ensureQueue(destination)}, nil
}

// NewReceiver creates a receiver for destination
func (t *Transport) NewReceiver(ctx context.Context, destination string, options messaging.ReceiverOptions) (messaging.Receiver, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	t.receiversCreated.Add(1)
	return &receiver{
		transport: t,
		queue:     t.ensureQueue(destination),
		options:   options.Normalize(),
		closed:    make(chan struct{}),
	}, nil
}

// Ping fails once the transport is closed
func (t *Transport) Ping(ctx context.Context) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return nil
}

// Close wakes all receivers; they return contracts.ErrReceiverClosed
func (t *Transport) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range t.queues {
		q.mu.Lock()
		q.wakeLocked()
		q.mu.Unlock()
	}
	return nil
}

// FailSends makes every subsequent send return err; nil restores sends
func (t *Transport) FailSends(err error) {
	if err == nil {
		t.sendErr.Store(nil)
		return
	}
	t.sendErr.Store(&err)
}

// Inject enqueues env as if another producer had sent it
func (t *Transport) Inject(destination string, env *contracts.Envelope) {
	t.ensureQueue(destination).push(&message{env: env.Clone()}, true)
}

// Sent returns every envelope sent to destination, in send order
func (t *Transport) Sent(destination string) []*contracts.Envelope {
	q := t.ensureQueue(destination)
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*contracts.Envelope(nil), q.sent...)
}

// Settlements returns the outcomes settled on destination
func (t *Transport) Settlements(destination string) []Settlement {
	q := t.ensureQueue(destination)
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Settlement(nil), q.settlements...)
}

// DeadLetters returns the dead-letter sub-queue of destination
func (t *Transport) DeadLetters(destination string) []*contracts.Envelope {
	q := t.ensureQueue(destination)
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*contracts.Envelope(nil), q.deadLetters...)
}

// Pending returns the number of messages waiting to be received
func (t *Transport) Pending(destination string) int {
	q := t.ensureQueue(destination)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// SendersCreated returns how many senders were created
func (t *Transport) SendersCreated() int {
	return int(t.sendersCreated.Load())
}

// ReceiversCreated returns how many receivers were created
func (t *Transport) ReceiversCreated() int {
	return int(t.receiversCreated.Load())
}

func (t *Transport) ensureQueue(destination string) *queue {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[destination]
	if !ok {
		q = &queue{name: destination, wake: make(chan struct{})}
		t.queues[destination] = q
	}
	return q
}

type message struct {
	env           *contracts.Envelope
	deliveryCount int
}

type queue struct {
	name string

	mu          sync.Mutex
	ready       []*message
	wake        chan struct{}
	sent        []*contracts.Envelope
	settlements []Settlement
	deadLetters []*contracts.Envelope
}

// push appends m and wakes waiting receivers. record also logs it as sent.
func (q *queue) push(m *message, record bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, m)
	if record {
		q.sent = append(q.sent, m.env.Clone())
	}
	q.wakeLocked()
}

func (q *queue) wakeLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *queue) deadLetterLocked(m *message, reason, description string) {
	env := m.env.Clone()
	if env.ApplicationProperties == nil {
		env.ApplicationProperties = make(map[string]any)
	}
	env.ApplicationProperties[contracts.HeaderDeadLetterReason] = reason
	env.ApplicationProperties[contracts.HeaderDeadLetterDescription] = description
	env.DeliveryCount = m.deliveryCount
	q.deadLetters = append(q.deadLetters, env)
}

type sender struct {
	transport *Transport
	queue     *queue
	closed    atomic.Bool
}

func (s *sender) Send(ctx context.Context, env *contracts.Envelope) error {
	if s.closed.Load() {
		return fmt.Errorf("memory: sender for %q is closed", s.queue.name)
	}
	if s.transport.closed.Load() {
		return ErrTransportClosed
	}
	if s.transport.sendLatency > 0 {
		timer := time.NewTimer(s.transport.sendLatency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if errp := s.transport.sendErr.Load(); errp != nil {
		return *errp
	}
	s.queue.push(&message{env: env.Clone()}, true)
	return nil
}

func (s *sender) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

type receiver struct {
	transport *Transport
	queue     *queue
	options   messaging.ReceiverOptions
	closeOnce sync.Once
	closed    chan struct{}
}

func (r *receiver) Receive(ctx context.Context) (messaging.Delivery, error) {
	q := r.queue
	for {
		select {
		case <-r.closed:
			return nil, contracts.ErrReceiverClosed
		default:
		}
		if r.transport.closed.Load() {
			return nil, contracts.ErrReceiverClosed
		}

		q.mu.Lock()
		if len(q.ready) > 0 {
			m := q.ready[0]
			q.ready = q.ready[1:]
			m.deliveryCount++

			// Broker-side poison handling: too many deliveries go straight
			// to the dead-letter sub-queue.
			if limit := r.transport.maxDeliveryCount; limit > 0 && m.deliveryCount > limit {
				q.deadLetterLocked(m, ReasonMaxDeliveryCountExceeded, fmt.Sprintf("delivered %d times", m.deliveryCount-1))
				q.mu.Unlock()
				continue
			}

			d := r.newDelivery(m)
			q.mu.Unlock()
			return d, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-r.closed:
			return nil, contracts.ErrReceiverClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *receiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *receiver) newDelivery(m *message) *delivery {
	env := m.env.Clone()
	env.DeliveryCount = m.deliveryCount
	d := &delivery{queue: r.queue, msg: m, env: env, lockDuration: r.options.LockDuration}
	d.timer = time.AfterFunc(d.lockDuration, d.expire)
	return d
}

type delivery struct {
	queue        *queue
	msg          *message
	env          *contracts.Envelope
	lockDuration time.Duration

	mu      sync.Mutex
	settled bool
	lost    bool
	timer   *time.Timer
}

var _ messaging.LockRenewer = (*delivery)(nil)

func (d *delivery) Envelope() *contracts.Envelope { return d.env }

func (d *delivery) Complete(ctx context.Context) error {
	return d.settle(contracts.Completed(), func(q *queue) {})
}

func (d *delivery) Abandon(ctx context.Context) error {
	return d.settle(contracts.Abandoned(), func(q *queue) {
		q.ready = append(q.ready, d.msg)
		q.wakeLocked()
	})
}

func (d *delivery) DeadLetter(ctx context.Context, reason, description string) error {
	return d.settle(contracts.DeadLettered(reason, description), func(q *queue) {
		q.deadLetterLocked(d.msg, reason, description)
	})
}

// RenewLock restarts the lock timer
func (d *delivery) RenewLock(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.settled:
		return contracts.ErrAlreadySettled
	case d.lost:
		return contracts.ErrLockLost
	}
	d.timer.Reset(d.lockDuration)
	return nil
}

func (d *delivery) settle(outcome contracts.Outcome, apply func(q *queue)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.settled:
		return contracts.ErrAlreadySettled
	case d.lost:
		return contracts.ErrLockLost
	}
	d.settled = true
	d.timer.Stop()

	q := d.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	apply(q)
	q.settlements = append(q.settlements, Settlement{
		MessageID:   d.env.ID,
		Kind:        outcome.Kind,
		Reason:      outcome.Reason,
		Description: outcome.Description,
	})
	return nil
}

// expire returns the message to the queue when its lock runs out
func (d *delivery) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return
	}
	d.lost = true
	d.queue.push(d.msg, false)
}
