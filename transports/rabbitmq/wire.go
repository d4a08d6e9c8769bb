package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smartcommerce/busgate-go/contracts"
)

// headerXDeliveryCount is set by quorum queues
const headerXDeliveryCount = "x-delivery-count"

// toPublishing maps the envelope onto native AMQP properties; application
// properties also travel as string headers
func toPublishing(env *contracts.Envelope) amqp.Publishing {
	headers := make(amqp.Table, len(env.ApplicationProperties))
	for k, v := range env.Headers() {
		switch k {
		case contracts.HeaderMessageID, contracts.HeaderCorrelationID, contracts.HeaderContentType:
			continue
		}
		headers[k] = v
	}

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   env.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: env.CorrelationID,
		MessageId:     env.ID,
		Timestamp:     env.Timestamp(),
		Type:          env.EventType(),
		AppId:         env.Source(),
		Body:          env.Body,
	}
}

// fromDelivery rebuilds the envelope of a consumed message
func fromDelivery(d amqp.Delivery) *contracts.Envelope {
	headers := make(map[string]string, len(d.Headers)+3)
	for k, v := range d.Headers {
		if k == headerXDeliveryCount {
			continue
		}
		headers[k] = stringify(v)
	}
	if d.MessageId != "" {
		headers[contracts.HeaderMessageID] = d.MessageId
	}
	if d.CorrelationId != "" {
		headers[contracts.HeaderCorrelationID] = d.CorrelationId
	}
	if d.ContentType != "" {
		headers[contracts.HeaderContentType] = d.ContentType
	}
	if _, ok := headers[contracts.PropertyEventType]; !ok && d.Type != "" {
		headers[contracts.PropertyEventType] = d.Type
	}
	if _, ok := headers[contracts.PropertySource]; !ok && d.AppId != "" {
		headers[contracts.PropertySource] = d.AppId
	}

	env := contracts.EnvelopeFromHeaders(headers, d.Body)
	if _, ok := env.ApplicationProperties[contracts.PropertyTimestamp]; !ok && !d.Timestamp.IsZero() {
		env.ApplicationProperties[contracts.PropertyTimestamp] = d.Timestamp.UTC()
	}
	env.DeliveryCount = deliveryCount(d)
	return env
}

// deadLetterPublishing copies the original message with the failure reason
func deadLetterPublishing(env *contracts.Envelope, reason, description string) amqp.Publishing {
	p := toPublishing(env)
	p.Headers[contracts.HeaderDeadLetterReason] = reason
	p.Headers[contracts.HeaderDeadLetterDescription] = description
	return p
}

func deliveryCount(d amqp.Delivery) int {
	switch n := d.Headers[headerXDeliveryCount].(type) {
	case int64:
		return int(n) + 1
	case int32:
		return int(n) + 1
	case int:
		return n + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
