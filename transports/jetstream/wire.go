package jetstream

import (
	"github.com/nats-io/nats.go"
	"github.com/smartcommerce/busgate-go/contracts"
)

func toMsg(subject string, env *contracts.Envelope) *nats.Msg {
	msg := nats.NewMsg(subject)
	for k, v := range env.Headers() {
		msg.Header.Set(k, v)
	}
	msg.Data = env.Body
	return msg
}

func fromMsg(header nats.Header, data []byte, delivered uint64) *contracts.Envelope {
	headers := make(map[string]string, len(header))
	for k := range header {
		headers[k] = header.Get(k)
	}
	env := contracts.EnvelopeFromHeaders(headers, data)
	if delivered > 0 {
		env.DeliveryCount = int(delivered)
	}
	return env
}

func deadLetterMsg(subject string, env *contracts.Envelope, reason, description string) *nats.Msg {
	msg := toMsg(subject, env)
	msg.Header.Set(contracts.HeaderDeadLetterReason, reason)
	msg.Header.Set(contracts.HeaderDeadLetterDescription, description)
	return msg
}
