package busgate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartcommerce/busgate-go/config"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/health"
	"github.com/smartcommerce/busgate-go/interceptors"
	"github.com/smartcommerce/busgate-go/messaging"
	"github.com/smartcommerce/busgate-go/transports/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// slowReceiverTransport holds NewReceiver open until release is closed
type slowReceiverTransport struct {
	*memory.Transport
	opening chan struct{}
	release chan struct{}
}

func (t *slowReceiverTransport) NewReceiver(ctx context.Context, destination string, options messaging.ReceiverOptions) (messaging.Receiver, error) {
	receiver, err := t.Transport.NewReceiver(ctx, destination, options)
	close(t.opening)
	<-t.release
	return receiver, err
}

// logRecord is one captured log entry with its attributes flattened
type logRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// captureHandler keeps every record in memory
type captureHandler struct {
	mu      *sync.Mutex
	records *[]logRecord
	attrs   []slog.Attr
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{mu: &sync.Mutex{}, records: &[]logRecord{}}
	return slog.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, logRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// find returns the records logged with message
func (h *captureHandler) find(message string) []logRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []logRecord
	for _, r := range *h.records {
		if r.Message == message {
			out = append(out, r)
		}
	}
	return out
}

func newTestClient(t *testing.T, transport *memory.Transport, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{WithLogger(quietLogger()), WithSource("checkout")}, opts...)
	client, err := New(transport, opts...)
	require.NoError(t, err)
	t.Cleanup(client.Dispose)
	return client
}

func settledKinds(transport *memory.Transport, destination string) []contracts.OutcomeKind {
	var kinds []contracts.OutcomeKind
	for _, s := range transport.Settlements(destination) {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(nil)

	var cerr *contracts.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Transport", cerr.Field)
}

func TestPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("envelope carries metadata and unique ids", func(t *testing.T) {
		transport := memory.NewTransport()
		client := newTestClient(t, transport)

		before := time.Now().UTC()
		for i := 0; i < 3; i++ {
			require.NoError(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o-1", Total: 10}))
		}

		sent := transport.Sent("orders")
		require.Len(t, sent, 3)

		ids := make(map[string]bool)
		for _, env := range sent {
			ids[env.ID] = true
			assert.Equal(t, contracts.EventOrderCreated, env.EventType())
			assert.Equal(t, "checkout", env.Source())
			assert.Equal(t, contracts.ContentTypeJSON, env.ContentType)
			assert.False(t, env.Timestamp().Before(before.Add(-time.Second)))
		}
		assert.Len(t, ids, 3)
	})

	t.Run("one sender per destination", func(t *testing.T) {
		transport := memory.NewTransport()
		client := newTestClient(t, transport)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o"}))
			}()
		}
		wg.Wait()
		require.NoError(t, client.Publish(ctx, "payments", contracts.PaymentProcessed{PaymentID: "p"}))

		assert.Equal(t, 2, transport.SendersCreated())
		assert.Len(t, client.Senders().Senders(), 2)
		assert.Len(t, transport.Sent("orders"), 20)
	})

	t.Run("correlation id comes from context", func(t *testing.T) {
		transport := memory.NewTransport()
		client := newTestClient(t, transport)

		require.NoError(t, client.Publish(messaging.WithCorrelationID(ctx, "req-7"), "orders", contracts.OrderCreated{OrderID: "o"}))
		assert.Equal(t, "req-7", transport.Sent("orders")[0].CorrelationID)
	})

	t.Run("unencodable payload is a serialization error", func(t *testing.T) {
		transport := memory.NewTransport()
		client := newTestClient(t, transport)

		err := client.Publish(ctx, "orders", map[string]any{"bad": make(chan int)})

		var serr *contracts.SerializationError
		require.ErrorAs(t, err, &serr)
		assert.Empty(t, transport.Sent("orders"))
	})

	t.Run("canceled context sends nothing", func(t *testing.T) {
		transport := memory.NewTransport()
		client := newTestClient(t, transport)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := client.Publish(cctx, "orders", contracts.OrderCreated{OrderID: "o"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, transport.Sent("orders"))
	})

	t.Run("deadline during a slow send is a cancellation", func(t *testing.T) {
		transport := memory.NewTransport(memory.WithSendLatency(time.Second))
		client := newTestClient(t, transport)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		err := client.Publish(cctx, "orders", contracts.OrderCreated{OrderID: "o"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		var terr *contracts.TransportError
		assert.False(t, errors.As(err, &terr))
	})

	t.Run("broker failure is a transport error", func(t *testing.T) {
		transport := memory.NewTransport()
		client := newTestClient(t, transport)
		brokerDown := errors.New("connection reset")
		transport.FailSends(brokerDown)

		err := client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o"})

		var terr *contracts.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "send", terr.Op)
		assert.Equal(t, "orders", terr.Destination)
		assert.Equal(t, contracts.EventOrderCreated, terr.EventType)
		assert.ErrorIs(t, err, brokerDown)

		transport.FailSends(nil)
		assert.NoError(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o"}))
	})
}

func TestSubscribeTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	client := newTestClient(t, transport)

	received := make(chan contracts.OrderCreated, 1)
	sub, err := Subscribe(ctx, client, "orders", func(ctx context.Context, order contracts.OrderCreated) error {
		received <- order
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, "orders", sub.Destination())
	assert.Equal(t, contracts.EventOrderCreated, sub.EventType())

	want := contracts.OrderCreated{OrderID: "o-42", CustomerID: "c-1", Total: 99.5, Currency: "EUR"}
	require.NoError(t, client.Publish(ctx, "orders", want))

	select {
	case got := <-received:
		assert.Equal(t, want, got)
	case <-time.After(waitFor):
		t.Fatal("handler was not called")
	}

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]contracts.OutcomeKind{contracts.OutcomeCompleted}, settledKinds(transport, "orders"))
	}, waitFor, 10*time.Millisecond)
}

func TestSubscribeDeadLettersUndecodableBody(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	client := newTestClient(t, transport)

	var calls atomic.Int32
	sub, err := Subscribe(ctx, client, "orders", func(ctx context.Context, order contracts.OrderCreated) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	transport.Inject("orders", &contracts.Envelope{
		ID:          "poison-1",
		ContentType: contracts.ContentTypeJSON,
		Body:        []byte("{not json"),
		ApplicationProperties: map[string]any{
			contracts.PropertyEventType: contracts.EventOrderCreated,
		},
	})

	require.Eventually(t, func() bool {
		return len(transport.Settlements("orders")) == 1
	}, waitFor, 10*time.Millisecond)

	s := transport.Settlements("orders")[0]
	assert.Equal(t, contracts.OutcomeDeadLettered, s.Kind)
	assert.Equal(t, contracts.ReasonDeserializationFailed, s.Reason)
	assert.Equal(t, "poison-1", s.MessageID)
	assert.Zero(t, calls.Load())

	dlq := transport.DeadLetters("orders")
	require.Len(t, dlq, 1)
	assert.Equal(t, contracts.ReasonDeserializationFailed, dlq[0].ApplicationProperties[contracts.HeaderDeadLetterReason])
}

func TestSubscribeAbandonsOnHandlerError(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport(memory.WithMaxDeliveryCount(2))
	logger, logs := newCaptureLogger()
	client := newTestClient(t, transport, WithLogger(logger))

	var calls atomic.Int32
	sub, err := Subscribe(ctx, client, "payments", func(ctx context.Context, p contracts.PaymentProcessed) error {
		calls.Add(1)
		return errors.New("ledger unavailable")
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, "payments", contracts.PaymentProcessed{PaymentID: "p-1", Amount: 12}))

	require.Eventually(t, func() bool {
		return len(transport.DeadLetters("payments")) == 1
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, []contracts.OutcomeKind{contracts.OutcomeAbandoned, contracts.OutcomeAbandoned}, settledKinds(transport, "payments"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, memory.ReasonMaxDeliveryCountExceeded,
		transport.DeadLetters("payments")[0].ApplicationProperties[contracts.HeaderDeadLetterReason])

	failures := logs.find("handler failed, abandoning message")
	require.Len(t, failures, 2)
	for _, r := range failures {
		assert.Equal(t, slog.LevelError, r.Level)
		assert.Equal(t, "payments", r.Attrs["destination"])
		assert.Equal(t, transport.Sent("payments")[0].ID, r.Attrs["messageId"])

		err, ok := r.Attrs["error"].(error)
		require.True(t, ok)
		var perr *contracts.ProcessingError
		assert.ErrorAs(t, err, &perr)
		assert.ErrorContains(t, err, "ledger unavailable")
	}
}

func TestSubscribeRecoversHandlerPanic(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport(memory.WithMaxDeliveryCount(1))
	client := newTestClient(t, transport)

	sub, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error {
		panic("boom")
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o"}))

	require.Eventually(t, func() bool {
		return len(transport.Settlements("orders")) == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, contracts.OutcomeAbandoned, transport.Settlements("orders")[0].Kind)
}

func TestSubscribeRaw(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	client := newTestClient(t, transport)

	bodies := make(chan []byte, 1)
	sub, err := client.SubscribeRaw(ctx, "audit", func(ctx context.Context, body []byte) error {
		bodies <- body
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, sub.EventType())

	require.NoError(t, client.Publish(ctx, "audit", contracts.StockLowAlert{ProductID: "sku-1"}))

	select {
	case body := <-bodies:
		assert.JSONEq(t, string(transport.Sent("audit")[0].Body), string(body))
	case <-time.After(waitFor):
		t.Fatal("raw handler was not called")
	}
}

func TestSubscribeWithInterceptors(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	chain := interceptors.NewInterceptorChain(interceptors.NewFilteringInterceptor(
		interceptors.NewSourceFilter("checkout"), interceptors.SkipSilently))
	client := newTestClient(t, transport, WithInterceptors(chain))

	var handled atomic.Int32
	sub, err := client.SubscribeRaw(ctx, "audit", func(ctx context.Context, body []byte) error {
		handled.Add(1)
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, "audit", contracts.StockLowAlert{ProductID: "sku-1"}))

	foreign := transport.Sent("audit")[0].Clone()
	foreign.ID = "from-billing"
	foreign.ApplicationProperties[contracts.PropertySource] = "billing"
	transport.Inject("audit", foreign)

	require.Eventually(t, func() bool { return len(transport.Settlements("audit")) == 2 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []contracts.OutcomeKind{contracts.OutcomeCompleted, contracts.OutcomeCompleted}, settledKinds(transport, "audit"))
	assert.Equal(t, int32(1), handled.Load())
}

func TestSubscribeDispatchesByEventType(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	client := newTestClient(t, transport)

	created := make(chan string, 1)
	cancelled := make(chan string, 1)

	sub1, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error {
		created <- o.OrderID
		return nil
	})
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCancelled) error {
		cancelled <- o.OrderID
		return nil
	})
	require.NoError(t, err)
	defer sub2.Close()

	assert.Equal(t, 1, transport.ReceiversCreated())

	require.NoError(t, client.Publish(ctx, "orders", contracts.OrderCancelled{OrderID: "o-2"}))
	require.NoError(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o-1"}))

	assert.Equal(t, "o-1", receiveWithin(t, created))
	assert.Equal(t, "o-2", receiveWithin(t, cancelled))
}

func TestSubscribeDuplicateHandler(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, memory.NewTransport())

	handler := func(ctx context.Context, o contracts.OrderCreated) error { return nil }
	sub, err := Subscribe(ctx, client, "orders", handler)
	require.NoError(t, err)
	defer sub.Close()

	_, err = Subscribe(ctx, client, "orders", handler)
	assert.ErrorIs(t, err, contracts.ErrDuplicateHandler)
}

func TestSubscriptionCloseStopsIdleProcessor(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	client := newTestClient(t, transport)

	sub1, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error { return nil })
	require.NoError(t, err)
	sub2, err := client.SubscribeRaw(ctx, "orders", func(ctx context.Context, b []byte) error { return nil })
	require.NoError(t, err)

	handle, ok := client.Processors().Get("orders")
	require.True(t, ok)
	assert.True(t, handle.Running())

	require.NoError(t, sub1.Close())
	assert.True(t, handle.Running())
	assert.Equal(t, 1, handle.Registrations())

	require.NoError(t, sub2.Close())
	require.NoError(t, sub2.Close())
	assert.False(t, handle.Running())

	t.Run("resubscribing restarts the processor", func(t *testing.T) {
		sub, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error { return nil })
		require.NoError(t, err)
		defer sub.Close()

		assert.True(t, handle.Running())
		assert.Equal(t, 2, transport.ReceiversCreated())
	})
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	transport := memory.NewTransport()
	client := newTestClient(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error { return nil })
	require.NoError(t, err)

	handle, ok := client.Processors().Get("orders")
	require.True(t, ok)

	cancel()
	require.Eventually(t, func() bool { return !handle.Running() }, waitFor, 10*time.Millisecond)
	assert.Zero(t, handle.Registrations())
}

func TestSubscribeCanceledContext(t *testing.T) {
	client := newTestClient(t, memory.NewTransport())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	client := newTestClient(t, transport)

	var running, peak atomic.Int32
	release := make(chan struct{})
	sub, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error {
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
	}, WithMaxConcurrentCalls(2))
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o"}))
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, waitFor, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, 4, transport.Pending("orders"))

	close(release)
	require.Eventually(t, func() bool {
		return len(transport.Settlements("orders")) == 6
	}, waitFor, 10*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcessorOptionsFirstWins(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, memory.NewTransport(), WithProcessorOptions(messaging.ProcessorOptions{MaxConcurrentCalls: 7}))

	sub1, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error { return nil })
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := client.SubscribeRaw(ctx, "orders", func(ctx context.Context, b []byte) error { return nil }, WithMaxConcurrentCalls(1))
	require.NoError(t, err)
	defer sub2.Close()

	handle, _ := client.Processors().Get("orders")
	assert.Equal(t, 7, handle.Options().MaxConcurrentCalls)
	assert.Equal(t, 10*time.Minute, handle.Options().MaxLockRenewal)
}

func TestDispose(t *testing.T) {
	ctx := context.Background()

	t.Run("bounded with a stuck handler", func(t *testing.T) {
		const stopTimeout, closeTimeout = 100 * time.Millisecond, 100 * time.Millisecond
		transport := memory.NewTransport()
		logger, logs := newCaptureLogger()
		client := newTestClient(t, transport,
			WithLogger(logger),
			WithStopTimeout(stopTimeout),
			WithCloseTimeout(closeTimeout))

		started := make(chan struct{})
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })

		_, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error {
			close(started)
			<-release
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o"}))
		<-started

		done := make(chan time.Duration)
		go func() {
			start := time.Now()
			client.Dispose()
			done <- time.Since(start)
		}()

		select {
		case elapsed := <-done:
			assert.GreaterOrEqual(t, elapsed, stopTimeout)
			assert.Less(t, elapsed, stopTimeout+closeTimeout+150*time.Millisecond)
		case <-time.After(waitFor):
			t.Fatal("dispose did not return")
		}
		assert.Error(t, transport.Ping(ctx))

		var processorFailures []logRecord
		for _, r := range logs.find("shutdown step failed") {
			if r.Attrs["resource"] == "processor" {
				processorFailures = append(processorFailures, r)
			}
		}
		require.Len(t, processorFailures, 1)
		r := processorFailures[0]
		assert.Equal(t, slog.LevelError, r.Level)
		assert.Equal(t, "orders", r.Attrs["destination"])

		err, ok := r.Attrs["error"].(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, contracts.ErrShutdownTimeout)
		var serr *contracts.ShutdownError
		assert.ErrorAs(t, err, &serr)

		assert.NotEmpty(t, logs.find("gateway client disposed"))
	})

	t.Run("subscribe racing dispose is refused", func(t *testing.T) {
		transport := &slowReceiverTransport{
			Transport: memory.NewTransport(),
			opening:   make(chan struct{}),
			release:   make(chan struct{}),
		}
		logger, logs := newCaptureLogger()
		client, err := New(transport,
			WithLogger(logger),
			WithStopTimeout(50*time.Millisecond),
			WithCloseTimeout(50*time.Millisecond))
		require.NoError(t, err)

		subscribed := make(chan error, 1)
		go func() {
			sub, err := client.SubscribeRaw(ctx, "orders", func(context.Context, []byte) error { return nil })
			assert.Nil(t, sub)
			subscribed <- err
		}()

		<-transport.opening
		disposed := make(chan struct{})
		go func() {
			client.Dispose()
			close(disposed)
		}()
		select {
		case <-disposed:
		case <-time.After(waitFor):
			t.Fatal("dispose did not return")
		}
		close(transport.release)

		select {
		case err := <-subscribed:
			assert.ErrorIs(t, err, contracts.ErrClientClosed)
		case <-time.After(waitFor):
			t.Fatal("subscribe did not return")
		}
		assert.Empty(t, logs.find("subscribed"))
		assert.Empty(t, logs.find("processor started"))
		assert.Empty(t, client.Processors().Processors())
	})

	t.Run("client rejects work afterwards", func(t *testing.T) {
		client := newTestClient(t, memory.NewTransport())
		require.NoError(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o"}))

		client.Dispose()
		client.Dispose()
		assert.NoError(t, client.Close())

		assert.ErrorIs(t, client.Publish(ctx, "orders", contracts.OrderCreated{OrderID: "o"}), contracts.ErrClientClosed)
		_, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error { return nil })
		assert.ErrorIs(t, err, contracts.ErrClientClosed)
	})

	t.Run("subscription close after dispose is harmless", func(t *testing.T) {
		client := newTestClient(t, memory.NewTransport())
		sub, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error { return nil })
		require.NoError(t, err)

		client.Dispose()
		assert.NoError(t, sub.Close())
	})
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	transport := memory.NewTransport()
	client := newTestClient(t, transport)

	result := client.Health(ctx)
	assert.Equal(t, health.StatusHealthy, result.Status)

	sub, err := Subscribe(ctx, client, "orders", func(ctx context.Context, o contracts.OrderCreated) error { return nil })
	require.NoError(t, err)
	defer sub.Close()

	overall := client.HealthRegistry().Check(ctx)
	assert.Equal(t, health.StatusHealthy, overall.Status)
	assert.Len(t, overall.Checks, 2)

	client.Dispose()
	assert.Equal(t, health.StatusUnhealthy, client.Health(ctx).Status)
	assert.Equal(t, health.StatusUnhealthy, client.HealthRegistry().Check(ctx).Status)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory transport", func(t *testing.T) {
		cfg := config.Config{
			Transport:          config.TransportMemory,
			Source:             "inventory",
			MaxConcurrentCalls: 3,
			MaxLockRenewal:     time.Minute,
			LockDuration:       time.Second,
			StopTimeout:        time.Second,
			CloseTimeout:       time.Second,
			AckTimeout:         time.Second,
		}
		client, err := NewFromConfig(ctx, cfg, WithLogger(quietLogger()))
		require.NoError(t, err)
		defer client.Dispose()

		assert.Equal(t, memory.TransportName, client.Transport().Name())
		assert.Equal(t, 3, client.defaults.MaxConcurrentCalls)

		require.NoError(t, client.Publish(ctx, "stock", contracts.StockLowAlert{ProductID: "sku"}))
		sent := client.Transport().(*memory.Transport).Sent("stock")
		require.Len(t, sent, 1)
		assert.Equal(t, "inventory", sent[0].Source())
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewFromConfig(ctx, config.Config{Transport: config.TransportKafka, MaxConcurrentCalls: 1})

		var cerr *contracts.ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "ConnectionString", cerr.Field)
	})
}

func receiveWithin[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}
