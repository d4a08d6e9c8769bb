package kafka

import (
	"context"
	"fmt"

	"github.com/smartcommerce/busgate-go/contracts"
)

type sender struct {
	writer writer
	topic  string
}

func (s *sender) Send(ctx context.Context, env *contracts.Envelope) error {
	if err := s.writer.WriteMessages(ctx, toMessage(s.topic, env)); err != nil {
		return fmt.Errorf("failed to write to topic %s: %w", s.topic, err)
	}
	return nil
}

// Close is a no-op; the writer is shared and closed with the transport
func (s *sender) Close(ctx context.Context) error {
	return nil
}
