package messaging

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/trickstertwo/xclock"
	"go.opentelemetry.io/otel/trace"
)

// EnvelopeFactory creates message envelopes with proper metadata
type EnvelopeFactory struct {
	codec  Codec
	clock  xclock.Clock
	source string
	newID  func() string
}

// EnvelopeOption configures the envelope factory
type EnvelopeOption func(*EnvelopeFactory)

// WithEnvelopeClock sets the clock used for the Timestamp property
func WithEnvelopeClock(clock xclock.Clock) EnvelopeOption {
	return func(f *EnvelopeFactory) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithEnvelopeSource sets the Source property
func WithEnvelopeSource(source string) EnvelopeOption {
	return func(f *EnvelopeFactory) {
		if source != "" {
			f.source = source
		}
	}
}

// WithIDGenerator replaces the uuid generator for message and correlation ids
func WithIDGenerator(fn func() string) EnvelopeOption {
	return func(f *EnvelopeFactory) {
		if fn != nil {
			f.newID = fn
		}
	}
}

// NewEnvelopeFactory creates a new envelope factory
func NewEnvelopeFactory(codec Codec, opts ...EnvelopeOption) *EnvelopeFactory {
	f := &EnvelopeFactory{
		codec:  codec,
		clock:  xclock.Default(),
		source: DefaultSource(),
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DefaultSource returns the host name, or "unknown" when it cannot be read
func DefaultSource() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

// Create encodes payload and wraps it in an envelope with a fresh id
func (f *EnvelopeFactory) Create(ctx context.Context, payload any) (*contracts.Envelope, error) {
	eventType := contracts.EventTypeOf(payload)

	body, err := f.codec.Marshal(payload)
	if err != nil {
		return nil, &contracts.SerializationError{EventType: eventType, Err: err}
	}

	return &contracts.Envelope{
		ID:            f.newID(),
		CorrelationID: f.correlationID(ctx),
		ContentType:   f.codec.ContentType(),
		Body:          body,
		ApplicationProperties: map[string]any{
			contracts.PropertyEventType: eventType,
			contracts.PropertyTimestamp: f.clock.Now().UTC(),
			contracts.PropertySource:    f.source,
		},
	}, nil
}

// correlationID prefers the active trace, then an explicit id on ctx
func (f *EnvelopeFactory) correlationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return id
	}
	return f.newID()
}
