package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/internal/rabbitmq"
)

// sender publishes to one queue with publisher confirms
type sender struct {
	transport *Transport
	queue     string

	mu       sync.Mutex
	ch       *amqp.Channel
	declared bool
	closed   bool
}

// channel returns the confirm channel, reopening it after a reconnect
func (s *sender) channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, rabbitmq.ErrConnectionClosed
	}
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}

	ch, err := s.transport.manager.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, &rabbitmq.ChannelError{Op: "confirm", Err: err, Timestamp: time.Now()}
	}
	if s.transport.config.DeclareQueues && !s.declared {
		if err := rabbitmq.DeclareQueues(ch, rabbitmq.DurableQueue(s.queue)); err != nil {
			_ = ch.Close()
			return nil, err
		}
		s.declared = true
	}
	s.ch = ch
	return ch, nil
}

func (s *sender) Send(ctx context.Context, env *contracts.Envelope) error {
	return s.publish(ctx, s.queue, toPublishing(env))
}

// publish sends msg to queue and waits for the broker confirm
func (s *sender) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return &rabbitmq.PublishError{RoutingKey: queue, Err: err, Timestamp: time.Now()}
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return &rabbitmq.PublishError{RoutingKey: queue, Err: err, Timestamp: time.Now()}
	}
	if !acked {
		return &rabbitmq.PublishError{RoutingKey: queue, Err: rabbitmq.ErrPublishNotConfirmed, Timestamp: time.Now()}
	}
	return nil
}

func (s *sender) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ch == nil || s.ch.IsClosed() {
		return nil
	}
	err := s.ch.Close()
	s.ch = nil
	return err
}
