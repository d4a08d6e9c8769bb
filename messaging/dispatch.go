package messaging

import (
	"context"
	"fmt"

	"github.com/smartcommerce/busgate-go/contracts"
)

// Handler processes a decoded payload. Returning an error abandons the message.
type Handler[T any] func(ctx context.Context, payload T) error

// RawHandler processes the encoded body without decoding
type RawHandler func(ctx context.Context, body []byte) error

// Registration binds a handler to an event type on one processor
type Registration struct {
	id        uint64
	eventType string
	raw       bool
	decode    func(codec Codec, body []byte) (any, error)
	invoke    func(ctx context.Context, value any) error
}

// TypedRegistration decodes bodies into T before calling handler.
// An empty eventType uses T's event type name.
func TypedRegistration[T any](eventType string, handler Handler[T]) *Registration {
	if eventType == "" {
		eventType = contracts.EventTypeFor[T]()
	}
	return &Registration{
		eventType: eventType,
		decode: func(codec Codec, body []byte) (any, error) {
			return Decode[T](codec, body)
		},
		invoke: func(ctx context.Context, value any) error {
			return handler(ctx, value.(T))
		},
	}
}

// RawRegistration passes the encoded body to handler. It receives every
// message no typed registration claims.
func RawRegistration(handler RawHandler) *Registration {
	return &Registration{
		raw: true,
		invoke: func(ctx context.Context, value any) error {
			return handler(ctx, value.([]byte))
		},
	}
}

// EventType returns the dispatch key; empty for raw registrations
func (r *Registration) EventType() string {
	return r.eventType
}

// Raw reports whether the registration skips decoding
func (r *Registration) Raw() bool {
	return r.raw
}

// dispatchTable maps event types to registrations for one destination
type dispatchTable struct {
	typed map[string]*Registration
	raw   *Registration
}

func newDispatchTable() dispatchTable {
	return dispatchTable{typed: make(map[string]*Registration)}
}

func (t *dispatchTable) add(reg *Registration) error {
	if reg.raw {
		if t.raw != nil {
			return fmt.Errorf("%w: raw handler", contracts.ErrDuplicateHandler)
		}
		t.raw = reg
		return nil
	}
	if _, exists := t.typed[reg.eventType]; exists {
		return fmt.Errorf("%w: %s", contracts.ErrDuplicateHandler, reg.eventType)
	}
	t.typed[reg.eventType] = reg
	return nil
}

// remove deletes reg if it is still registered and returns the number left
func (t *dispatchTable) remove(reg *Registration) int {
	if reg.raw {
		if t.raw != nil && t.raw.id == reg.id {
			t.raw = nil
		}
	} else if cur, ok := t.typed[reg.eventType]; ok && cur.id == reg.id {
		delete(t.typed, reg.eventType)
	}
	return t.len()
}

func (t *dispatchTable) len() int {
	n := len(t.typed)
	if t.raw != nil {
		n++
	}
	return n
}

// resolve picks the registration for an inbound event type: exact match,
// then the raw handler, then the only typed handler when there is just one.
func (t *dispatchTable) resolve(eventType string) *Registration {
	if reg, ok := t.typed[eventType]; ok {
		return reg
	}
	if t.raw != nil {
		return t.raw
	}
	if len(t.typed) == 1 {
		for _, reg := range t.typed {
			return reg
		}
	}
	return nil
}
