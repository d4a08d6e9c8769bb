package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, receiver Receiver, opts ...ProcessorPoolOption) (*ProcessorPool, *mockTransport) {
	t.Helper()
	transport := &mockTransport{}
	transport.On("NewReceiver", mock.Anything, "orders", mock.Anything).Return(receiver, nil)
	opts = append([]ProcessorPoolOption{WithProcessorPoolLogger(discardLogger())}, opts...)
	return NewProcessorPool(transport, opts...), transport
}

func TestProcessorOptionsNormalize(t *testing.T) {
	opts := ProcessorOptions{}.Normalize()
	assert.Equal(t, 5, opts.MaxConcurrentCalls)
	assert.Equal(t, 10*time.Minute, opts.MaxLockRenewal)
	assert.Equal(t, 30*time.Second, opts.LockDuration)

	opts = ProcessorOptions{MaxConcurrentCalls: 2}.Normalize()
	assert.Equal(t, 2, opts.MaxConcurrentCalls)
}

func TestProcessorPoolFirstOptionsWin(t *testing.T) {
	ctx := context.Background()
	pool, transport := newTestPool(t, newChanReceiver())

	h1, err := pool.GetOrCreate(ctx, "orders", &ProcessorOptions{MaxConcurrentCalls: 3})
	require.NoError(t, err)
	h2, err := pool.GetOrCreate(ctx, "orders", &ProcessorOptions{MaxConcurrentCalls: 9})
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 3, h2.Options().MaxConcurrentCalls)
	assert.Equal(t, "orders", h1.Destination())

	got, ok := pool.Get("orders")
	assert.True(t, ok)
	assert.Same(t, h1, got)
	transport.AssertNotCalled(t, "NewReceiver", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessorHandleLifecycle(t *testing.T) {
	ctx := context.Background()
	receiver := newChanReceiver()
	metrics := &countingMetrics{}
	pool, transport := newTestPool(t, receiver, WithProcessorMetrics(metrics))

	handle, err := pool.GetOrCreate(ctx, "orders", nil)
	require.NoError(t, err)

	handled := make(chan string, 4)
	reg := TypedRegistration("", func(ctx context.Context, o contracts.OrderCreated) error {
		handled <- o.OrderID
		return nil
	})
	require.NoError(t, handle.Register(reg))
	require.NoError(t, handle.Start(ctx))
	require.NoError(t, handle.Start(ctx))
	assert.True(t, handle.Running())
	transport.AssertNumberOfCalls(t, "NewReceiver", 1)

	d := newMockDelivery(contracts.EventOrderCreated, `{"orderId":"o-1"}`)
	d.On("Complete", mock.Anything).Return(nil).Once()
	receiver.deliveries <- d

	select {
	case id := <-handled:
		assert.Equal(t, "o-1", id)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	require.Eventually(t, func() bool {
		outcomes, _ := metrics.snapshot()
		return len(outcomes) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, handle.Stop(ctx))
	assert.False(t, handle.Running())
	assert.False(t, receiver.isClosed())

	assert.Equal(t, 0, handle.Unregister(reg))
	require.NoError(t, handle.StopIfIdle(ctx))
	assert.True(t, receiver.isClosed())
}

func TestProcessorStopIfIdleKeepsRegistered(t *testing.T) {
	ctx := context.Background()
	receiver := newChanReceiver()
	pool, _ := newTestPool(t, receiver)

	handle, err := pool.GetOrCreate(ctx, "orders", nil)
	require.NoError(t, err)
	require.NoError(t, handle.Register(RawRegistration(func(ctx context.Context, b []byte) error { return nil })))
	require.NoError(t, handle.Start(ctx))

	require.NoError(t, handle.StopIfIdle(ctx))
	assert.True(t, handle.Running())
	assert.Equal(t, 1, handle.Registrations())

	require.NoError(t, handle.Stop(ctx))
	require.NoError(t, handle.Close(ctx))
}

func TestProcessorStopWaitsForHandlers(t *testing.T) {
	ctx := context.Background()
	receiver := newChanReceiver()
	pool, _ := newTestPool(t, receiver)

	handle, err := pool.GetOrCreate(ctx, "orders", nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, handle.Register(RawRegistration(func(ctx context.Context, b []byte) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})))
	require.NoError(t, handle.Start(ctx))

	completed := make(chan struct{})
	d := newMockDelivery("Any", `{}`)
	d.On("Complete", mock.Anything).Return(nil).Once().Run(func(mock.Arguments) { close(completed) })
	receiver.deliveries <- d
	<-started

	t.Run("bounded by the caller", func(t *testing.T) {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		err := handle.Stop(sctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, finished.Load())
	})

	close(release)
	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("message was not completed after the handler finished")
	}
	assert.True(t, finished.Load())
}

func TestProcessorRespectsConcurrency(t *testing.T) {
	ctx := context.Background()
	receiver := newChanReceiver()
	pool, _ := newTestPool(t, receiver)

	handle, err := pool.GetOrCreate(ctx, "orders", &ProcessorOptions{MaxConcurrentCalls: 2})
	require.NoError(t, err)

	var running, peak atomic.Int32
	release := make(chan struct{})
	require.NoError(t, handle.Register(RawRegistration(func(ctx context.Context, b []byte) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	})))
	require.NoError(t, handle.Start(ctx))

	for i := 0; i < 5; i++ {
		d := newMockDelivery("Any", `{}`)
		d.On("Complete", mock.Anything).Return(nil).Once()
		receiver.deliveries <- d
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
	assert.Len(t, receiver.deliveries, 3)

	close(release)
	require.Eventually(t, func() bool { return len(receiver.deliveries) == 0 && running.Load() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, handle.Stop(ctx))
}

func TestProcessorBacksOffOnReceiveErrors(t *testing.T) {
	ctx := context.Background()
	receiver := newChanReceiver()
	metrics := &countingMetrics{}
	pool, _ := newTestPool(t, receiver, WithProcessorMetrics(metrics))

	handle, err := pool.GetOrCreate(ctx, "orders", nil)
	require.NoError(t, err)
	require.NoError(t, handle.Register(RawRegistration(func(ctx context.Context, b []byte) error { return nil })))
	require.NoError(t, handle.Start(ctx))

	receiver.errs <- errors.New("channel reset")
	require.Eventually(t, func() bool {
		_, n := metrics.snapshot()
		return n == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, handle.Running())

	require.NoError(t, handle.Stop(ctx))
}

func TestProcessorStartFailure(t *testing.T) {
	ctx := context.Background()
	transport := &mockTransport{}
	transport.On("NewReceiver", mock.Anything, "orders", mock.Anything).Return(nil, errors.New("queue not found")).Once()

	pool := NewProcessorPool(transport, WithProcessorPoolLogger(discardLogger()))
	handle, err := pool.GetOrCreate(ctx, "orders", nil)
	require.NoError(t, err)

	err = handle.Start(ctx)
	assert.ErrorContains(t, err, "queue not found")
	assert.False(t, handle.Running())
}

func TestProcessorPoolDrain(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, newChanReceiver())

	_, err := pool.GetOrCreate(ctx, "orders", nil)
	require.NoError(t, err)

	assert.Len(t, pool.Processors(), 1)
	assert.Len(t, pool.Drain(), 1)

	_, err = pool.GetOrCreate(ctx, "orders", nil)
	assert.ErrorIs(t, err, contracts.ErrPoolClosed)
}

func TestProcessorStartRefusedAfterDrain(t *testing.T) {
	ctx := context.Background()
	receiver := newChanReceiver()
	opening := make(chan struct{})
	release := make(chan struct{})

	transport := &mockTransport{}
	transport.On("NewReceiver", mock.Anything, "orders", mock.Anything).
		Run(func(mock.Arguments) {
			close(opening)
			<-release
		}).
		Return(receiver, nil).Once()

	pool := NewProcessorPool(transport, WithProcessorPoolLogger(discardLogger()))
	handle, err := pool.GetOrCreate(ctx, "orders", nil)
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() { started <- handle.Start(ctx) }()

	<-opening
	assert.Len(t, pool.Drain(), 1)
	close(release)

	select {
	case err := <-started:
		assert.ErrorIs(t, err, contracts.ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
	assert.False(t, handle.Running())
	assert.True(t, receiver.isClosed(), "receiver opened after drain must be released")

	assert.ErrorIs(t, handle.Start(ctx), contracts.ErrPoolClosed)
	transport.AssertNumberOfCalls(t, "NewReceiver", 1)
}
