package jetstream

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/smartcommerce/busgate-go/contracts"
)

type sender struct {
	transport *Transport
	subject   string
}

// Send publishes with the message id as the deduplication key
func (s *sender) Send(ctx context.Context, env *contracts.Envelope) error {
	_, err := s.transport.js.PublishMsg(ctx, toMsg(s.subject, env), jetstream.WithMsgID(env.ID))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.subject, err)
	}
	return nil
}

func (s *sender) Close(ctx context.Context) error {
	return nil
}
