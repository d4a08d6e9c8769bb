package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/smartcommerce/busgate-go/messaging"
)

// TransportName identifies the Redis Streams transport
const TransportName = "redis"

// DefaultDeadLetterSuffix names the dead-letter stream of a destination
const DefaultDeadLetterSuffix = ":deadletter"

// Config for the Redis Streams transport
type Config struct {
	// Group is the consumer group every receiver joins
	Group string
	// Consumer names this process inside the group
	Consumer string
	// Block bounds each XREADGROUP call so Close is observed promptly
	Block time.Duration
	// MaxLenApprox trims streams on XADD when positive
	MaxLenApprox int64
	// DeadLetterSuffix is appended to a destination to name its dead-letter stream
	DeadLetterSuffix string
	Logger           *slog.Logger
}

// Option configures the transport
type Option func(*Config)

// WithGroup sets the consumer group
func WithGroup(group string) Option {
	return func(c *Config) {
		if group != "" {
			c.Group = group
		}
	}
}

// WithConsumer sets the consumer name
func WithConsumer(consumer string) Option {
	return func(c *Config) {
		if consumer != "" {
			c.Consumer = consumer
		}
	}
}

// WithBlock sets the XREADGROUP block timeout
func WithBlock(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Block = d
		}
	}
}

// WithMaxLenApprox trims streams to about n entries
func WithMaxLenApprox(n int64) Option {
	return func(c *Config) {
		c.MaxLenApprox = n
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

func defaultConfig() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "busgate"
	}
	return Config{
		Group:            "busgate",
		Consumer:         fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8]),
		Block:            2 * time.Second,
		DeadLetterSuffix: DefaultDeadLetterSuffix,
		Logger:           slog.Default(),
	}
}

// Transport implements messaging.Transport on Redis Streams: one stream per
// destination, consumed through a shared consumer group
type Transport struct {
	cfg    Config
	client redis.UniversalClient
	owned  bool
	closed atomic.Bool
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport connects to the Redis URL (redis:// or rediss://)
func NewTransport(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	t := NewTransportFromClient(client, opts...)
	t.owned = true
	return t, nil
}

// NewTransportFromClient wraps an existing client; Close leaves it open
func NewTransportFromClient(client redis.UniversalClient, opts ...Option) *Transport {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Transport{cfg: cfg, client: client}
}

func (t *Transport) Name() string { return TransportName }

// NewSender returns a sender for the destination stream
func (t *Transport) NewSender(ctx context.Context, destination string) (messaging.Sender, error) {
	if t.closed.Load() {
		return nil, redis.ErrClosed
	}
	return &sender{transport: t, stream: destination}, nil
}

// NewReceiver joins the consumer group of the destination stream, creating
// both when missing. A new group starts from the beginning of the stream.
func (t *Transport) NewReceiver(ctx context.Context, destination string, options messaging.ReceiverOptions) (messaging.Receiver, error) {
	if t.closed.Load() {
		return nil, redis.ErrClosed
	}
	err := t.client.XGroupCreateMkStream(ctx, destination, t.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s on %s: %w", t.cfg.Group, destination, err)
	}
	return newReceiver(t, destination, options.Normalize()), nil
}

// Ping checks the server answers PONG
func (t *Transport) Ping(ctx context.Context) error {
	return ping(ctx, t.client)
}

// Close closes the client when the transport created it
func (t *Transport) Close(ctx context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	if !t.owned {
		return nil
	}
	return t.client.Close()
}

func (t *Transport) deadLetterStream(destination string) string {
	return destination + t.cfg.DeadLetterSuffix
}

func (t *Transport) xaddArgs(stream string, values map[string]any) *redis.XAddArgs {
	args := &redis.XAddArgs{Stream: stream, ID: "*", Values: values}
	if t.cfg.MaxLenApprox > 0 {
		args.MaxLen = t.cfg.MaxLenApprox
		args.Approx = true
	}
	return args
}

func ping(ctx context.Context, c redis.UniversalClient) error {
	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
