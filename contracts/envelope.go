package contracts

import (
	"fmt"
	"maps"
	"strconv"
	"time"
)

// ContentTypeJSON is the content type stamped on every envelope.
const ContentTypeJSON = "application/json"

// Application property keys present on every envelope.
const (
	PropertyEventType = "EventType"
	PropertyTimestamp = "Timestamp"
	PropertySource    = "Source"
)

// Header names used by transports without native message metadata.
const (
	HeaderMessageID     = "MessageId"
	HeaderCorrelationID = "CorrelationId"
	HeaderContentType   = "ContentType"

	HeaderDeadLetterReason      = "DeadLetterReason"
	HeaderDeadLetterDescription = "DeadLetterErrorDescription"
	HeaderDeliveryCount         = "DeliveryCount"
)

// Envelope wraps an encoded payload for transport
type Envelope struct {
	ID                    string         `json:"id"`
	CorrelationID         string         `json:"correlationId"`
	ContentType           string         `json:"contentType"`
	Body                  []byte         `json:"body"`
	ApplicationProperties map[string]any `json:"applicationProperties"`

	// DeliveryCount is filled in by receivers where the broker reports it.
	// Informational only.
	DeliveryCount int `json:"-"`
}

// EventType returns the logical payload type name
func (e *Envelope) EventType() string {
	s, _ := e.ApplicationProperties[PropertyEventType].(string)
	return s
}

// Source returns the originating host identifier
func (e *Envelope) Source() string {
	s, _ := e.ApplicationProperties[PropertySource].(string)
	return s
}

// Timestamp returns the send time in UTC. Zero when absent or unparsable.
func (e *Envelope) Timestamp() time.Time {
	switch v := e.ApplicationProperties[PropertyTimestamp].(type) {
	case time.Time:
		return v.UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	default:
		return time.Time{}
	}
}

// Clone returns a copy that shares no mutable state with e
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Body = append([]byte(nil), e.Body...)
	c.ApplicationProperties = maps.Clone(e.ApplicationProperties)
	return &c
}

// Headers flattens the envelope metadata into string headers, for brokers
// that have no native message id / correlation id / content type fields.
func (e *Envelope) Headers() map[string]string {
	h := make(map[string]string, len(e.ApplicationProperties)+3)
	for k, v := range e.ApplicationProperties {
		h[k] = formatProperty(v)
	}
	h[HeaderMessageID] = e.ID
	h[HeaderCorrelationID] = e.CorrelationID
	h[HeaderContentType] = e.ContentType
	return h
}

// EnvelopeFromHeaders rebuilds an envelope from string headers produced by
// Headers. Unknown headers become application properties.
func EnvelopeFromHeaders(headers map[string]string, body []byte) *Envelope {
	env := &Envelope{
		Body:                  body,
		ApplicationProperties: make(map[string]any, len(headers)),
	}
	for k, v := range headers {
		switch k {
		case HeaderMessageID:
			env.ID = v
		case HeaderCorrelationID:
			env.CorrelationID = v
		case HeaderContentType:
			env.ContentType = v
		case HeaderDeliveryCount:
			if n, err := strconv.Atoi(v); err == nil {
				env.DeliveryCount = n
			}
		case PropertyTimestamp:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				env.ApplicationProperties[k] = t.UTC()
				continue
			}
			env.ApplicationProperties[k] = v
		default:
			env.ApplicationProperties[k] = v
		}
	}
	return env
}

func formatProperty(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
