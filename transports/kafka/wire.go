package kafka

import (
	"strconv"

	"github.com/segmentio/kafka-go"
	"github.com/smartcommerce/busgate-go/contracts"
)

func toMessage(topic string, env *contracts.Envelope) kafka.Message {
	headers := env.Headers()
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(env.ID),
		Value:   env.Body,
		Headers: make([]kafka.Header, 0, len(headers)+1),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if env.DeliveryCount > 0 {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   contracts.HeaderDeliveryCount,
			Value: []byte(strconv.Itoa(env.DeliveryCount)),
		})
	}
	return msg
}

func fromMessage(msg kafka.Message) *contracts.Envelope {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	env := contracts.EnvelopeFromHeaders(headers, msg.Value)
	env.DeliveryCount++
	return env
}

func deadLetterMessage(topic string, env *contracts.Envelope, reason, description string) kafka.Message {
	msg := toMessage(topic, env)
	msg.Headers = append(msg.Headers,
		kafka.Header{Key: contracts.HeaderDeadLetterReason, Value: []byte(reason)},
		kafka.Header{Key: contracts.HeaderDeadLetterDescription, Value: []byte(description)},
	)
	return msg
}
