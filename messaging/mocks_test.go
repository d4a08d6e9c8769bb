package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/stretchr/testify/mock"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) NewSender(ctx context.Context, destination string) (Sender, error) {
	args := m.Called(ctx, destination)
	if s := args.Get(0); s != nil {
		return s.(Sender), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTransport) NewReceiver(ctx context.Context, destination string, options ReceiverOptions) (Receiver, error) {
	args := m.Called(ctx, destination, options)
	if r := args.Get(0); r != nil {
		return r.(Receiver), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTransport) Ping(ctx context.Context) error  { return m.Called(ctx).Error(0) }
func (m *mockTransport) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockTransport) Name() string                    { return "mock" }

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, env *contracts.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

func (m *mockSender) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

type mockDelivery struct {
	mock.Mock
	env *contracts.Envelope
}

func newMockDelivery(eventType string, body string) *mockDelivery {
	return &mockDelivery{env: &contracts.Envelope{
		ID:            "msg-1",
		CorrelationID: "corr-1",
		ContentType:   contracts.ContentTypeJSON,
		Body:          []byte(body),
		ApplicationProperties: map[string]any{
			contracts.PropertyEventType: eventType,
		},
	}}
}

func (m *mockDelivery) Envelope() *contracts.Envelope { return m.env }

func (m *mockDelivery) Complete(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockDelivery) Abandon(ctx context.Context) error  { return m.Called(ctx).Error(0) }

func (m *mockDelivery) DeadLetter(ctx context.Context, reason, description string) error {
	return m.Called(ctx, reason, description).Error(0)
}

// renewableDelivery counts lock renewals
type renewableDelivery struct {
	*mockDelivery
	mu      sync.Mutex
	renewed int
}

func (r *renewableDelivery) RenewLock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renewed++
	return nil
}

func (r *renewableDelivery) renewals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renewed
}

// chanReceiver hands out deliveries pushed on its channel
type chanReceiver struct {
	deliveries chan Delivery
	errs       chan error
	closeOnce  sync.Once
	closed     chan struct{}
}

func newChanReceiver() *chanReceiver {
	return &chanReceiver{
		deliveries: make(chan Delivery, 16),
		errs:       make(chan error, 16),
		closed:     make(chan struct{}),
	}
}

func (r *chanReceiver) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d := <-r.deliveries:
		return d, nil
	case err := <-r.errs:
		return nil, err
	case <-r.closed:
		return nil, contracts.ErrReceiverClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *chanReceiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *chanReceiver) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// countingMetrics records outcomes for assertions
type countingMetrics struct {
	NoOpMetricsCollector
	mu            sync.Mutex
	outcomes      []contracts.OutcomeKind
	receiveErrors int
}

func (c *countingMetrics) RecordOutcome(_, _ string, kind contracts.OutcomeKind, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, kind)
}

func (c *countingMetrics) RecordReceiveError(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiveErrors++
}

func (c *countingMetrics) snapshot() ([]contracts.OutcomeKind, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contracts.OutcomeKind(nil), c.outcomes...), c.receiveErrors
}
