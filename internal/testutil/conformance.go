//go:build integration

package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	busgate "github.com/smartcommerce/busgate-go"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Broker describes a transport under test
type Broker struct {
	// Open returns a fresh transport connected to the broker
	Open func(t *testing.T) messaging.Transport
	// DeadLetter names the dead-letter destination of destination
	DeadLetter func(destination string) string
	// Timeout bounds each wait; brokers with slow rebalances need more
	Timeout time.Duration
}

// RunConformance exercises publish, subscribe and every outcome against b
func RunConformance(t *testing.T, b Broker) {
	if b.Timeout == 0 {
		b.Timeout = 30 * time.Second
	}

	t.Run("typed round trip", func(t *testing.T) {
		client := newClient(t, b)
		ctx := context.Background()
		dest := uniqueDestination("orders")

		got := make(chan contracts.OrderCreated, 1)
		sub, err := busgate.Subscribe(ctx, client, dest, func(ctx context.Context, o contracts.OrderCreated) error {
			got <- o
			return nil
		})
		require.NoError(t, err)
		defer sub.Close()

		want := contracts.OrderCreated{OrderID: "o-1", CustomerID: "c-1", Total: 99.5, Currency: "EUR"}
		require.NoError(t, client.Publish(ctx, dest, want))

		select {
		case o := <-got:
			assert.Equal(t, want, o)
		case <-time.After(b.Timeout):
			t.Fatal("message not delivered")
		}
	})

	t.Run("undecodable body is dead-lettered", func(t *testing.T) {
		client := newClient(t, b)
		ctx := context.Background()
		dest := uniqueDestination("payments")

		var called atomic.Bool
		sub, err := busgate.Subscribe(ctx, client, dest, func(ctx context.Context, p contracts.PaymentProcessed) error {
			called.Store(true)
			return nil
		})
		require.NoError(t, err)
		defer sub.Close()

		reasons := make(chan string, 1)
		dlq, err := client.SubscribeRaw(ctx, b.DeadLetter(dest), func(ctx context.Context, body []byte) error {
			env, _ := messaging.EnvelopeFromContext(ctx)
			reason, _ := env.ApplicationProperties[contracts.HeaderDeadLetterReason].(string)
			reasons <- reason
			return nil
		})
		require.NoError(t, err)
		defer dlq.Close()

		// A payload whose amount is a string cannot decode into PaymentProcessed.
		require.NoError(t, client.Publish(ctx, dest, mislabelled{Amount: "twelve"}))

		select {
		case reason := <-reasons:
			assert.Equal(t, contracts.ReasonDeserializationFailed, reason)
		case <-time.After(b.Timeout):
			t.Fatal("message not dead-lettered")
		}
		assert.False(t, called.Load())
	})

	t.Run("abandoned message is redelivered", func(t *testing.T) {
		client := newClient(t, b)
		ctx := context.Background()
		dest := uniqueDestination("stock")

		var attempts atomic.Int32
		counts := make(chan int, 2)
		sub, err := busgate.Subscribe(ctx, client, dest, func(ctx context.Context, a contracts.StockLowAlert) error {
			env, _ := messaging.EnvelopeFromContext(ctx)
			counts <- env.DeliveryCount
			if attempts.Add(1) == 1 {
				return errors.New("warehouse offline")
			}
			return nil
		})
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.Publish(ctx, dest, contracts.StockLowAlert{ProductID: "sku-1"}))

		for want := 1; want <= 2; want++ {
			select {
			case n := <-counts:
				assert.GreaterOrEqual(t, n, want)
			case <-time.After(b.Timeout):
				t.Fatalf("delivery %d not observed", want)
			}
		}
	})

	t.Run("health", func(t *testing.T) {
		client := newClient(t, b)
		assert.Equal(t, "healthy", string(client.Health(context.Background()).Status))
	})
}

type mislabelled struct {
	Amount string `json:"amount"`
}

func (mislabelled) EventType() string { return contracts.EventPaymentProcessed }

func newClient(t *testing.T, b Broker) *busgate.Client {
	t.Helper()
	client, err := busgate.New(b.Open(t),
		busgate.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		busgate.WithStopTimeout(5*time.Second),
		busgate.WithCloseTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(client.Dispose)
	return client
}

func uniqueDestination(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
