package redisstream

import (
	"context"
	"fmt"

	"github.com/smartcommerce/busgate-go/contracts"
)

type sender struct {
	transport *Transport
	stream    string
}

func (s *sender) Send(ctx context.Context, env *contracts.Envelope) error {
	args := s.transport.xaddArgs(s.stream, encodeEnvelope(env))
	if err := s.transport.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close is a no-op; the client is shared
func (s *sender) Close(ctx context.Context) error {
	return nil
}
