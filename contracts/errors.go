package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Client errors
	ErrClientClosed     = errors.New("busgate: client is closed")
	ErrPoolClosed       = errors.New("busgate: pool is closed")
	ErrDuplicateHandler = errors.New("busgate: handler already registered for event type")

	// Delivery errors
	ErrAlreadySettled = errors.New("busgate: delivery already settled")
	ErrLockLost       = errors.New("busgate: message lock lost")
	ErrReceiverClosed = errors.New("busgate: receiver is closed")

	// Shutdown errors
	ErrShutdownTimeout = errors.New("busgate: shutdown timed out")
)

// ConfigurationError reports missing or invalid connection settings at
// construction time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("busgate configuration error: %s: %s", e.Field, e.Reason)
}

// SerializationError reports a payload that could not be encoded
type SerializationError struct {
	EventType string
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("busgate serialization error: failed to encode %s: %v", e.EventType, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// TransportError reports a send the broker rejected or could not receive
type TransportError struct {
	Op          string
	Destination string
	EventType   string
	Err         error
	Timestamp   time.Time
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("busgate transport error: %s %s to %q failed: %v", e.Op, e.EventType, e.Destination, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeserializationError reports an inbound body that does not decode into
// the subscribed type. It never reaches a caller; the message is
// dead-lettered instead.
type DeserializationError struct {
	EventType string
	Err       error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("busgate deserialization error: body does not decode to %s: %v", e.EventType, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// ProcessingError wraps a handler failure
type ProcessingError struct {
	MessageID   string
	Destination string
	Err         error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("busgate processing error: handler failed for message %s on %q: %v", e.MessageID, e.Destination, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ShutdownError reports a failure while stopping or releasing a resource.
// It is logged, never returned from Dispose.
type ShutdownError struct {
	Resource    string
	Destination string
	Err         error
	Timestamp   time.Time
}

func (e *ShutdownError) Error() string {
	if e.Destination == "" {
		return fmt.Sprintf("busgate shutdown error: %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("busgate shutdown error: %s %q: %v", e.Resource, e.Destination, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}
