package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartcommerce/busgate-go/internal/rabbitmq"
	"github.com/smartcommerce/busgate-go/messaging"
)

// TransportName identifies the RabbitMQ transport
const TransportName = "rabbitmq"

// DefaultDeadLetterSuffix names the dead-letter queue of a destination
const DefaultDeadLetterSuffix = ".deadletter"

// Transport implements messaging.Transport for RabbitMQ. Destinations are
// queues addressed through the default exchange.
type Transport struct {
	manager *rabbitmq.ConnectionManager
	logger  *slog.Logger
	config  TransportConfig
}

var _ messaging.Transport = (*Transport)(nil)

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	Logger            *slog.Logger
	DeadLetterSuffix  string
	// DeclareQueues declares each destination and its dead-letter queue as
	// durable before first use
	DeclareQueues bool
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithLogger sets the logger for the transport and its connection
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// WithDeadLetterSuffix sets the suffix of dead-letter queue names
func WithDeadLetterSuffix(suffix string) TransportOption {
	return func(cfg *TransportConfig) {
		if suffix != "" {
			cfg.DeadLetterSuffix = suffix
		}
	}
}

// WithDeclareQueues declares destination queues on first use
func WithDeclareQueues(enabled bool) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DeclareQueues = enabled
	}
}

// NewTransport connects to RabbitMQ and returns the transport
func NewTransport(ctx context.Context, connectionString string, options ...TransportOption) (*Transport, error) {
	cfg := TransportConfig{
		Logger:           slog.Default(),
		DeadLetterSuffix: DefaultDeadLetterSuffix,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(connectionString, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Transport{manager: manager, logger: cfg.Logger, config: cfg}, nil
}

func (t *Transport) Name() string { return TransportName }

// NewSender opens a confirm-mode channel for destination
func (t *Transport) NewSender(ctx context.Context, destination string) (messaging.Sender, error) {
	s := &sender{transport: t, queue: destination}
	if _, err := s.channel(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewReceiver starts consuming destination with a prefetch of MaxConcurrentCalls
func (t *Transport) NewReceiver(ctx context.Context, destination string, options messaging.ReceiverOptions) (messaging.Receiver, error) {
	r := newReceiver(t, destination, options.Normalize())
	if err := r.consume(); err != nil {
		return nil, err
	}
	return r, nil
}

// Ping opens and closes a channel
func (t *Transport) Ping(ctx context.Context) error {
	ch, err := t.manager.Channel()
	if err != nil {
		return err
	}
	return ch.Close()
}

// Close closes the connection; open channels close with it
func (t *Transport) Close(ctx context.Context) error {
	return t.manager.Close()
}

func (t *Transport) deadLetterQueue(destination string) string {
	return destination + t.config.DeadLetterSuffix
}
