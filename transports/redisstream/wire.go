package redisstream

import (
	"fmt"
	"strconv"

	"github.com/smartcommerce/busgate-go/contracts"
)

// fieldBody holds the raw encoded payload; every other field is a header
const fieldBody = "body"

func encodeEnvelope(env *contracts.Envelope) map[string]any {
	headers := env.Headers()
	values := make(map[string]any, len(headers)+2)
	for k, v := range headers {
		values[k] = v
	}
	values[fieldBody] = env.Body
	if env.DeliveryCount > 0 {
		values[contracts.HeaderDeliveryCount] = strconv.Itoa(env.DeliveryCount)
	}
	return values
}

// decodeEnvelope rebuilds an entry; deliveries is how often the group has
// handed out this entry id
func decodeEnvelope(values map[string]any, deliveries int64) *contracts.Envelope {
	headers := make(map[string]string, len(values))
	var body []byte
	for k, v := range values {
		if k == fieldBody {
			switch b := v.(type) {
			case []byte:
				body = b
			case string:
				body = []byte(b)
			}
			continue
		}
		headers[k] = asString(v)
	}
	env := contracts.EnvelopeFromHeaders(headers, body)
	if deliveries < 1 {
		deliveries = 1
	}
	env.DeliveryCount += int(deliveries)
	return env
}

func deadLetterValues(env *contracts.Envelope, reason, description string) map[string]any {
	values := encodeEnvelope(env)
	values[contracts.HeaderDeadLetterReason] = reason
	values[contracts.HeaderDeadLetterDescription] = description
	return values
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
