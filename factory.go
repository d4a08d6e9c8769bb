package busgate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartcommerce/busgate-go/config"
	"github.com/smartcommerce/busgate-go/contracts"
	internalrabbit "github.com/smartcommerce/busgate-go/internal/rabbitmq"
	"github.com/smartcommerce/busgate-go/messaging"
	"github.com/smartcommerce/busgate-go/transports/jetstream"
	"github.com/smartcommerce/busgate-go/transports/kafka"
	"github.com/smartcommerce/busgate-go/transports/memory"
	"github.com/smartcommerce/busgate-go/transports/rabbitmq"
	"github.com/smartcommerce/busgate-go/transports/redisstream"
)

// NewFromConfig validates cfg, opens the configured transport and creates a
// client over it. Options override the values taken from cfg.
func NewFromConfig(ctx context.Context, cfg config.Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := append([]ClientOption{
		WithSource(cfg.Source),
		WithStopTimeout(cfg.StopTimeout),
		WithCloseTimeout(cfg.CloseTimeout),
		WithAckTimeout(cfg.AckTimeout),
		WithProcessorOptions(messaging.ProcessorOptions{
			MaxConcurrentCalls: cfg.MaxConcurrentCalls,
			MaxLockRenewal:     cfg.MaxLockRenewal,
			LockDuration:       cfg.LockDuration,
		}),
	}, options...)

	// Transports log through the same logger as the client.
	probe := &clientConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(probe)
	}
	if probe.logger == nil {
		probe.logger = slog.Default()
	}

	transport, err := OpenTransport(ctx, cfg, probe.logger)
	if err != nil {
		return nil, err
	}

	client, err := New(transport, opts...)
	if err != nil {
		_ = transport.Close(ctx)
		return nil, err
	}
	return client, nil
}

// OpenTransport connects the transport named by cfg.Transport
func OpenTransport(ctx context.Context, cfg config.Config, logger *slog.Logger) (messaging.Transport, error) {
	var (
		transport messaging.Transport
		err       error
	)

	switch cfg.Transport {
	case config.TransportRabbitMQ:
		transport, err = rabbitmq.NewTransport(ctx, cfg.ConnectionString,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithDeadLetterSuffix(cfg.RabbitMQ.DeadLetterSuffix),
			rabbitmq.WithDeclareQueues(cfg.RabbitMQ.DeclareQueues),
			rabbitmq.WithConnectionOptions(
				internalrabbit.WithLogger(logger),
				internalrabbit.WithReconnectDelay(cfg.RabbitMQ.ReconnectDelay),
			),
		)
	case config.TransportRedis:
		transport, err = redisstream.NewTransport(ctx, cfg.ConnectionString,
			redisstream.WithLogger(logger),
			redisstream.WithGroup(cfg.Redis.Group),
			redisstream.WithConsumer(cfg.Redis.Consumer),
			redisstream.WithBlock(cfg.Redis.BlockTimeout),
			redisstream.WithMaxLenApprox(cfg.Redis.MaxLen),
		)
	case config.TransportJetStream:
		transport, err = jetstream.NewTransport(ctx, cfg.ConnectionString,
			jetstream.WithLogger(logger),
			jetstream.WithDurable(cfg.NATS.Durable),
		)
	case config.TransportKafka:
		transport, err = kafka.NewTransport(cfg.KafkaBrokers(),
			kafka.WithLogger(logger),
			kafka.WithGroupID(cfg.Kafka.GroupID),
		)
	case config.TransportMemory:
		transport = memory.NewTransport()
	default:
		return nil, &contracts.ConfigurationError{
			Field:  "Transport",
			Reason: fmt.Sprintf("unknown transport %q", cfg.Transport),
		}
	}
	if err != nil {
		return nil, &contracts.TransportError{Op: "connect", Err: err, Timestamp: time.Now()}
	}

	logger.Info("transport connected", "transport", transport.Name())
	return transport, nil
}
