// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package busgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/health"
	"github.com/smartcommerce/busgate-go/messaging"
	"github.com/trickstertwo/xclock"
	"golang.org/x/sync/errgroup"
)

// Client is the messaging gateway: it publishes payloads to destinations
// and dispatches inbound messages to subscribed handlers
type Client struct {
	transport  messaging.Transport
	factory    *messaging.EnvelopeFactory
	senders    *messaging.SenderPool
	processors *messaging.ProcessorPool

	logger       *slog.Logger
	metrics      messaging.MetricsCollector
	clock        xclock.Clock
	defaults     messaging.ProcessorOptions
	stopTimeout  time.Duration
	closeTimeout time.Duration

	closed      atomic.Bool
	disposeOnce sync.Once
}

// New creates a gateway over transport
func New(transport messaging.Transport, options ...ClientOption) (*Client, error) {
	if transport == nil {
		return nil, &contracts.ConfigurationError{Field: "Transport", Reason: "transport is required"}
	}

	cfg := &clientConfig{
		logger:       slog.Default(),
		metrics:      messaging.NoOpMetricsCollector{},
		clock:        xclock.Default(),
		codec:        messaging.NewJSONCodec(),
		stopTimeout:  messaging.DefaultStopTimeout,
		closeTimeout: messaging.DefaultCloseTimeout,
		ackTimeout:   messaging.DefaultAckTimeout,
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.metrics == nil {
		cfg.metrics = messaging.NoOpMetricsCollector{}
	}
	if cfg.clock == nil {
		cfg.clock = xclock.Default()
	}
	if cfg.codec == nil {
		cfg.codec = messaging.NewJSONCodec()
	}
	defaults := cfg.processor.Normalize()

	c := &Client{
		transport: transport,
		factory: messaging.NewEnvelopeFactory(cfg.codec,
			messaging.WithEnvelopeClock(cfg.clock),
			messaging.WithEnvelopeSource(cfg.source),
			messaging.WithIDGenerator(cfg.idGenerator),
		),
		senders: messaging.NewSenderPool(transport,
			messaging.WithSenderPoolLogger(cfg.logger),
			messaging.WithSenderCloseTimeout(cfg.closeTimeout),
		),
		processors: messaging.NewProcessorPool(transport,
			messaging.WithProcessorPoolLogger(cfg.logger),
			messaging.WithProcessorCodec(cfg.codec),
			messaging.WithProcessorMetrics(cfg.metrics),
			messaging.WithProcessorClock(cfg.clock),
			messaging.WithAckTimeout(cfg.ackTimeout),
			messaging.WithDefaultProcessorOptions(defaults),
			messaging.WithProcessorInterceptors(cfg.interceptors),
		),
		logger:       cfg.logger,
		metrics:      cfg.metrics,
		clock:        cfg.clock,
		defaults:     defaults,
		stopTimeout:  cfg.stopTimeout,
		closeTimeout: cfg.closeTimeout,
	}

	c.logger.Info("gateway client created",
		"transport", transport.Name(),
		"maxConcurrentCalls", defaults.MaxConcurrentCalls,
		"maxLockRenewal", defaults.MaxLockRenewal)
	return c, nil
}

// Transport returns the underlying transport
func (c *Client) Transport() messaging.Transport {
	return c.transport
}

// Senders returns the sender pool
func (c *Client) Senders() *messaging.SenderPool {
	return c.senders
}

// Processors returns the processor pool
func (c *Client) Processors() *messaging.ProcessorPool {
	return c.processors
}

// Publish encodes payload into a new envelope and sends it to destination.
// It is not retried; the caller decides what to do with a failure.
func (c *Client) Publish(ctx context.Context, destination string, payload any) error {
	if c.closed.Load() {
		return contracts.ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish to %q canceled: %w", destination, err)
	}

	start := c.clock.Now()
	env, err := c.factory.Create(ctx, payload)
	if err != nil {
		c.logger.Error("failed to serialize payload",
			"destination", destination,
			"payloadType", fmt.Sprintf("%T", payload),
			"error", err)
		c.metrics.RecordPublish(destination, contracts.EventTypeOf(payload), c.clock.Since(start), err)
		return err
	}

	err = c.send(ctx, destination, env, payload)
	c.metrics.RecordPublish(destination, env.EventType(), c.clock.Since(start), err)
	if err != nil {
		return err
	}

	c.logger.Debug("message published",
		"destination", destination,
		"messageId", env.ID,
		"eventType", env.EventType())
	return nil
}

func (c *Client) send(ctx context.Context, destination string, env *contracts.Envelope, payload any) error {
	sender, err := c.senders.GetOrCreate(ctx, destination)
	if err == nil {
		err = sender.Send(ctx, env)
	}
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("publish to %q canceled: %w", destination, ctxErr)
	}
	if errors.Is(err, contracts.ErrPoolClosed) {
		return contracts.ErrClientClosed
	}

	terr := &contracts.TransportError{
		Op:          "send",
		Destination: destination,
		EventType:   env.EventType(),
		Err:         err,
		Timestamp:   c.clock.Now(),
	}
	c.logger.Error("failed to publish message",
		"destination", destination,
		"payloadType", fmt.Sprintf("%T", payload),
		"messageId", env.ID,
		"error", err)
	return terr
}

// Subscribe registers handler for payloads of type T on destination and
// starts the destination's processor if it is not running. Messages whose
// body cannot be decoded into T are dead-lettered without calling handler.
func Subscribe[T any](ctx context.Context, c *Client, destination string, handler func(context.Context, T) error, options ...SubscribeOption) (*Subscription, error) {
	var cfg subscribeConfig
	for _, opt := range options {
		opt(&cfg)
	}
	reg := messaging.TypedRegistration(cfg.eventType, messaging.Handler[T](handler))
	return c.subscribe(ctx, destination, reg, cfg)
}

// SubscribeRaw registers handler for the encoded body of messages on
// destination that no typed subscription claims
func (c *Client) SubscribeRaw(ctx context.Context, destination string, handler func(context.Context, []byte) error, options ...SubscribeOption) (*Subscription, error) {
	var cfg subscribeConfig
	for _, opt := range options {
		opt(&cfg)
	}
	return c.subscribe(ctx, destination, messaging.RawRegistration(handler), cfg)
}

func (c *Client) subscribe(ctx context.Context, destination string, reg *messaging.Registration, cfg subscribeConfig) (*Subscription, error) {
	if c.closed.Load() {
		return nil, contracts.ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe to %q canceled: %w", destination, err)
	}

	handle, err := c.processors.GetOrCreate(ctx, destination, cfg.processorOptions(c.defaults))
	if err != nil {
		if errors.Is(err, contracts.ErrPoolClosed) {
			return nil, contracts.ErrClientClosed
		}
		return nil, fmt.Errorf("failed to create processor for %q: %w", destination, err)
	}

	if err := handle.Register(reg); err != nil {
		return nil, err
	}

	if err := handle.Start(ctx); err != nil {
		remaining := handle.Unregister(reg)
		if remaining == 0 {
			c.stopIdle(handle)
		}
		if errors.Is(err, contracts.ErrPoolClosed) {
			return nil, contracts.ErrClientClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("subscribe to %q canceled: %w", destination, ctxErr)
		}
		terr := &contracts.TransportError{
			Op:          "receive",
			Destination: destination,
			EventType:   reg.EventType(),
			Err:         err,
			Timestamp:   c.clock.Now(),
		}
		c.logger.Error("failed to start processor",
			"destination", destination,
			"eventType", reg.EventType(),
			"error", err)
		return nil, terr
	}

	sub := newSubscription(c, handle, reg)
	sub.stopOnCancel(ctx)

	c.logger.Info("subscribed",
		"destination", destination,
		"eventType", reg.EventType(),
		"raw", reg.Raw())
	return sub, nil
}

// stopIdle stops and releases a processor that lost its last registration
func (c *Client) stopIdle(handle *messaging.ProcessorHandle) {
	if err := messaging.CallWithTimeout(c.stopTimeout, handle.StopIfIdle); err != nil {
		c.logger.Warn("failed to stop idle processor",
			"destination", handle.Destination(),
			"error", &contracts.ShutdownError{
				Resource:    "processor",
				Destination: handle.Destination(),
				Err:         err,
				Timestamp:   c.clock.Now(),
			})
	}
}

// Health pings the transport
func (c *Client) Health(ctx context.Context) health.CheckResult {
	return health.NewTransportChecker(c.transport).Check(ctx)
}

// HealthRegistry returns a registry with the transport and processor checks
func (c *Client) HealthRegistry() *health.Registry {
	return health.NewRegistry(
		health.NewTransportChecker(c.transport),
		health.NewComponentChecker("processors", c.checkProcessors),
	)
}

func (c *Client) checkProcessors(ctx context.Context) (health.Status, string, map[string]any, error) {
	if c.closed.Load() {
		return health.StatusUnhealthy, "Client is disposed", nil, contracts.ErrClientClosed
	}

	details := make(map[string]any)
	stalled := 0
	for destination, handle := range c.processors.Processors() {
		running := handle.Running()
		details[destination] = map[string]any{
			"running":       running,
			"registrations": handle.Registrations(),
		}
		if !running && handle.Registrations() > 0 {
			stalled++
		}
	}

	if stalled > 0 {
		return health.StatusDegraded, fmt.Sprintf("%d processor(s) with handlers are not running", stalled), details, nil
	}
	return health.StatusHealthy, fmt.Sprintf("%d processor(s)", len(details)), details, nil
}

// Dispose releases every processor, sender and the transport. It is
// bounded by the stop and close timeouts, logs failures and never
// returns an error. Safe to call more than once.
func (c *Client) Dispose() {
	c.disposeOnce.Do(c.dispose)
}

// Close calls Dispose and always returns nil
func (c *Client) Close() error {
	c.Dispose()
	return nil
}

func (c *Client) dispose() {
	c.closed.Store(true)
	start := c.clock.Now()

	processors := c.processors.Drain()
	senders := c.senders.Drain()

	c.logger.Info("disposing gateway client",
		"processors", len(processors),
		"senders", len(senders))

	var stop errgroup.Group
	for destination, handle := range processors {
		stop.Go(func() error {
			c.shutdownStep("processor", destination, c.stopTimeout, handle.Stop)
			return nil
		})
	}
	_ = stop.Wait()

	var release errgroup.Group
	for destination, sender := range senders {
		release.Go(func() error {
			c.shutdownStep("sender", destination, c.closeTimeout, sender.Close)
			return nil
		})
	}
	for destination, handle := range processors {
		release.Go(func() error {
			c.shutdownStep("receiver", destination, c.closeTimeout, handle.Close)
			return nil
		})
	}
	_ = release.Wait()

	c.shutdownStep("transport", "", c.closeTimeout, c.transport.Close)

	c.logger.Info("gateway client disposed", "duration", c.clock.Since(start))
}

// shutdownStep runs one bounded teardown call and logs its failure
func (c *Client) shutdownStep(resource, destination string, timeout time.Duration, fn func(ctx context.Context) error) {
	err := messaging.CallWithTimeout(timeout, fn)
	if err == nil {
		return
	}
	serr := &contracts.ShutdownError{
		Resource:    resource,
		Destination: destination,
		Err:         err,
		Timestamp:   c.clock.Now(),
	}
	c.logger.Error("shutdown step failed",
		"resource", resource,
		"destination", destination,
		"error", serr)
}
