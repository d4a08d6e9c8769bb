package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/smartcommerce/busgate-go/messaging"
)

// TransportName identifies the NATS JetStream transport
const TransportName = "nats"

// DefaultDeadLetterSuffix names the dead-letter subject of a destination
const DefaultDeadLetterSuffix = ".deadletter"

// Config holds JetStream settings
type Config struct {
	// Durable prefixes the durable consumer name of every destination
	Durable string
	// FetchWait bounds each pull so Close is observed promptly
	FetchWait time.Duration
	// Storage of streams created by the transport
	Storage          jetstream.StorageType
	DeadLetterSuffix string
	Logger           *slog.Logger
}

// Option configures the transport
type Option func(*Config)

// WithDurable sets the durable consumer prefix
func WithDurable(durable string) Option {
	return func(c *Config) {
		if durable != "" {
			c.Durable = durable
		}
	}
}

// WithFetchWait sets the pull wait
func WithFetchWait(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.FetchWait = d
		}
	}
}

// WithMemoryStorage keeps created streams in memory
func WithMemoryStorage() Option {
	return func(c *Config) {
		c.Storage = jetstream.MemoryStorage
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

// Transport implements messaging.Transport on NATS JetStream. Each
// destination is a work-queue stream holding the destination subject and
// its dead-letter subject.
type Transport struct {
	cfg   Config
	conn  *nats.Conn
	js    jetstream.JetStream
	owned bool

	mu      sync.Mutex
	streams map[string]jetstream.Stream
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport connects to the NATS server at url
func NewTransport(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(url,
			nats.Name("busgate"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		done <- result{conn: conn, err: err}
	}()

	var conn *nats.Conn
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", r.err)
		}
		conn = r.conn
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("failed to connect to nats: %w", ctx.Err())
	}

	t, err := NewTransportFromConn(conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// NewTransportFromConn wraps an existing connection; Close leaves it open
func NewTransportFromConn(conn *nats.Conn, opts ...Option) (*Transport, error) {
	cfg := Config{
		Durable:          "busgate",
		FetchWait:        2 * time.Second,
		Storage:          jetstream.FileStorage,
		DeadLetterSuffix: DefaultDeadLetterSuffix,
		Logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	return &Transport{
		cfg:     cfg,
		conn:    conn,
		js:      js,
		streams: make(map[string]jetstream.Stream),
	}, nil
}

func (t *Transport) Name() string { return TransportName }

// NewSender ensures the destination stream exists
func (t *Transport) NewSender(ctx context.Context, destination string) (messaging.Sender, error) {
	if _, err := t.ensureStream(ctx, destination); err != nil {
		return nil, err
	}
	return &sender{transport: t, subject: destination}, nil
}

// NewReceiver creates or updates the durable pull consumer of destination
func (t *Transport) NewReceiver(ctx context.Context, destination string, options messaging.ReceiverOptions) (messaging.Receiver, error) {
	options = options.Normalize()
	stream, err := t.ensureStream(ctx, destination)
	if err != nil {
		return nil, err
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       sanitize(t.cfg.Durable + "_" + destination),
		FilterSubject: destination,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       options.LockDuration,
		MaxAckPending: options.MaxConcurrentCalls,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", destination, err)
	}
	return newReceiver(t, destination, consumer), nil
}

// Ping round-trips to the server
func (t *Transport) Ping(ctx context.Context) error {
	if status := t.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection is %s", status)
	}
	return t.conn.FlushWithContext(ctx)
}

// Close closes the connection when the transport created it
func (t *Transport) Close(ctx context.Context) error {
	if t.owned {
		t.conn.Close()
	}
	return nil
}

func (t *Transport) deadLetterSubject(destination string) string {
	return destination + t.cfg.DeadLetterSuffix
}

// ensureStream returns the stream holding destination, creating it when
// missing. A dead-letter subject lives in its parent destination's stream.
func (t *Transport) ensureStream(ctx context.Context, destination string) (jetstream.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.streams[destination]; ok {
		return s, nil
	}

	parent := strings.TrimSuffix(destination, t.cfg.DeadLetterSuffix)
	name := streamName(parent)
	if existing, err := t.js.StreamNameBySubject(ctx, destination); err == nil {
		name = existing
	}

	stream, err := t.js.Stream(ctx, name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err = t.js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  []string{parent, t.deadLetterSubject(parent)},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   t.cfg.Storage,
		})
		if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			stream, err = t.js.Stream(ctx, name)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}

	t.streams[destination] = stream
	t.cfg.Logger.Debug("jetstream stream ready", "destination", destination, "stream", name)
	return stream, nil
}

func streamName(destination string) string {
	return "BUSGATE_" + sanitize(destination)
}

// sanitize maps characters that are not valid in stream and consumer names
func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_", "\\", "_").Replace(name)
}
