package messaging

import (
	"context"

	"github.com/smartcommerce/busgate-go/contracts"
)

type ctxKey int

const (
	correlationKey ctxKey = iota
	envelopeKey
)

// WithCorrelationID attaches a correlation id used when no trace is active
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the id set by WithCorrelationID
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// EnvelopeFromContext returns the received envelope inside a handler
func EnvelopeFromContext(ctx context.Context) (*contracts.Envelope, bool) {
	env, ok := ctx.Value(envelopeKey).(*contracts.Envelope)
	return env, ok && env != nil
}

func withEnvelope(ctx context.Context, env *contracts.Envelope) context.Context {
	ctx = context.WithValue(ctx, envelopeKey, env)
	if env.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, env.CorrelationID)
	}
	return ctx
}
