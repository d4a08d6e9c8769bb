package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smartcommerce/busgate-go/messaging"
)

// TransportName identifies the Kafka transport
const TransportName = "kafka"

// DefaultDeadLetterSuffix names the dead-letter topic of a destination
const DefaultDeadLetterSuffix = ".deadletter"

// reader is the part of kafka.Reader the receiver uses
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// writer is the part of kafka.Writer senders and deliveries use
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka settings
type Config struct {
	Brokers          []string
	GroupID          string
	DeadLetterSuffix string
	DialTimeout      time.Duration
	Logger           *slog.Logger
}

// Option configures the transport
type Option func(*Config)

// WithGroupID sets the consumer group
func WithGroupID(groupID string) Option {
	return func(c *Config) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// Transport implements messaging.Transport on Kafka: one topic per
// destination, consumed by a consumer group with manual commits. Kafka has
// no per-message lock, so deliveries do not support lock renewal.
type Transport struct {
	cfg       Config
	writer    writer
	newReader func(topic string, options messaging.ReceiverOptions) reader
	closed    atomic.Bool
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport creates a transport for the given brokers. No connection is
// made until the first send or receive.
func NewTransport(brokers []string, opts ...Option) (*Transport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	cfg := Config{
		Brokers:          brokers,
		GroupID:          "busgate",
		DeadLetterSuffix: DefaultDeadLetterSuffix,
		DialTimeout:      10 * time.Second,
		Logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Transport{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
	t.newReader = t.kafkaReader
	return t, nil
}

func (t *Transport) kafkaReader(topic string, options messaging.ReceiverOptions) reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        t.cfg.Brokers,
		GroupID:        t.cfg.GroupID,
		Topic:          topic,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		MaxWait:        time.Second,
		QueueCapacity:  options.MaxConcurrentCalls,
	})
}

func (t *Transport) Name() string { return TransportName }

// NewSender returns a sender sharing the transport's writer
func (t *Transport) NewSender(ctx context.Context, destination string) (messaging.Sender, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("kafka: transport is closed")
	}
	return &sender{writer: t.writer, topic: destination}, nil
}

// NewReceiver joins the consumer group on the destination topic
func (t *Transport) NewReceiver(ctx context.Context, destination string, options messaging.ReceiverOptions) (messaging.Receiver, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("kafka: transport is closed")
	}
	options = options.Normalize()
	return newReceiver(t, destination, t.newReader(destination, options)), nil
}

// Ping dials the first reachable broker
func (t *Transport) Ping(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: t.cfg.DialTimeout}
	var lastErr error
	for _, broker := range t.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", strings.TrimPrefix(broker, "PLAINTEXT://"))
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("kafka: no broker reachable: %w", lastErr)
}

// Close flushes and closes the shared writer
func (t *Transport) Close(ctx context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.writer.Close()
}

func (t *Transport) deadLetterTopic(destination string) string {
	return destination + t.cfg.DeadLetterSuffix
}
