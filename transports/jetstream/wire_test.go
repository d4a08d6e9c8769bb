package jetstream

import (
	"testing"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/stretchr/testify/assert"
)

func TestMsgRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	env := &contracts.Envelope{
		ID:            "m-1",
		CorrelationID: "c-1",
		ContentType:   contracts.ContentTypeJSON,
		Body:          []byte(`{"productId":"sku-1"}`),
		ApplicationProperties: map[string]any{
			contracts.PropertyEventType: contracts.EventStockLowAlert,
			contracts.PropertyTimestamp: ts,
			contracts.PropertySource:    "inventory-1",
		},
	}

	msg := toMsg("inventory", env)
	assert.Equal(t, "inventory", msg.Subject)
	assert.Equal(t, "m-1", msg.Header.Get(contracts.HeaderMessageID))

	got := fromMsg(msg.Header, msg.Data, 3)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.CorrelationID, got.CorrelationID)
	assert.Equal(t, env.EventType(), got.EventType())
	assert.Equal(t, env.Source(), got.Source())
	assert.Equal(t, ts, got.Timestamp())
	assert.Equal(t, env.Body, got.Body)
	assert.Equal(t, 3, got.DeliveryCount)
}

func TestDeadLetterMsg(t *testing.T) {
	env := &contracts.Envelope{ID: "m-1", Body: []byte("{"), ApplicationProperties: map[string]any{}}

	msg := deadLetterMsg("orders.deadletter", env, contracts.ReasonDeserializationFailed, "unexpected EOF")

	assert.Equal(t, "orders.deadletter", msg.Subject)
	assert.Equal(t, contracts.ReasonDeserializationFailed, msg.Header.Get(contracts.HeaderDeadLetterReason))
	assert.Equal(t, "unexpected EOF", msg.Header.Get(contracts.HeaderDeadLetterDescription))
}

func TestStreamNaming(t *testing.T) {
	assert.Equal(t, "BUSGATE_orders", streamName("orders"))
	assert.Equal(t, "BUSGATE_billing_payments", streamName("billing.payments"))
	assert.Equal(t, "busgate_billing_payments", sanitize("busgate_billing.payments"))
}
