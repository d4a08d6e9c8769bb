package messaging

import (
	"testing"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec(t *testing.T) {
	codec := NewJSONCodec()
	assert.Equal(t, "json", codec.Name())
	assert.Equal(t, contracts.ContentTypeJSON, codec.ContentType())

	t.Run("decode into a typed payload", func(t *testing.T) {
		body, err := codec.Marshal(contracts.OrderCreated{OrderID: "o-1", Total: 5})
		require.NoError(t, err)

		got, err := Decode[contracts.OrderCreated](codec, body)
		require.NoError(t, err)
		assert.Equal(t, "o-1", got.OrderID)
	})

	t.Run("unknown fields are tolerated by default", func(t *testing.T) {
		_, err := Decode[contracts.OrderCreated](codec, []byte(`{"orderId":"o","extra":1}`))
		assert.NoError(t, err)
	})

	t.Run("strict mode rejects unknown fields and trailing data", func(t *testing.T) {
		strict := &JSONCodec{Strict: true}
		_, err := Decode[contracts.OrderCreated](strict, []byte(`{"orderId":"o","extra":1}`))
		assert.Error(t, err)

		_, err = Decode[contracts.OrderCreated](strict, []byte(`{"orderId":"o"} {}`))
		assert.Error(t, err)

		_, err = Decode[contracts.OrderCreated](strict, []byte(`{"orderId":"o"}`))
		assert.NoError(t, err)
	})

	t.Run("marshal failure", func(t *testing.T) {
		_, err := codec.Marshal(func() {})
		assert.Error(t, err)
	})
}
