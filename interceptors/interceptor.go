package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler is the end of a chain: the registered handler receiving the
// envelope and its decoded payload
type Handler interface {
	Handle(ctx context.Context, env *contracts.Envelope, value any) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, env *contracts.Envelope, value any) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, env *contracts.Envelope, value any) error {
	return f(ctx, env, value)
}

// Interceptor wraps handler invocation for one delivery
type Interceptor interface {
	// Intercept processes a message and calls the next handler in the chain
	Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, env *contracts.Envelope, value any, next Handler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, env *contracts.Envelope, value any, next Handler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
	return i.fn(ctx, env, value, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain runs interceptors in the order they were added, with the
// final handler last. It is safe for concurrent use once built.
type InterceptorChain struct {
	interceptors []Interceptor
}

// NewInterceptorChain creates a chain of the given interceptors
func NewInterceptorChain(interceptors ...Interceptor) *InterceptorChain {
	c := &InterceptorChain{}
	for _, i := range interceptors {
		c.Add(i)
	}
	return c
}

// Add appends an interceptor; nil is ignored
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	if interceptor != nil {
		c.interceptors = append(c.interceptors, interceptor)
	}
	return c
}

// Len returns the number of interceptors
func (c *InterceptorChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.interceptors)
}

// Names returns interceptor names in execution order
func (c *InterceptorChain) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.interceptors))
	for _, i := range c.interceptors {
		names = append(names, i.Name())
	}
	return names
}

// Execute runs the chain around final. A nil chain calls final directly.
func (c *InterceptorChain) Execute(ctx context.Context, env *contracts.Envelope, value any, final Handler) error {
	if c.Len() == 0 {
		return final.Handle(ctx, env, value)
	}

	// Build the chain in reverse order
	handler := final
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := handler
		handler = HandlerFunc(func(ctx context.Context, env *contracts.Envelope, value any) error {
			return interceptor.Intercept(ctx, env, value, next)
		})
	}

	return handler.Handle(ctx, env, value)
}

// LoggingInterceptor logs each handler invocation with its duration
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
	start := time.Now()

	i.logger.Debug("processing message",
		"messageId", env.ID,
		"eventType", env.EventType(),
		"correlationId", env.CorrelationID,
		"deliveryCount", env.DeliveryCount,
	)

	err := next.Handle(ctx, env, value)
	duration := time.Since(start)

	if err != nil {
		i.logger.Warn("message processing failed",
			"messageId", env.ID,
			"eventType", env.EventType(),
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Debug("message processed",
			"messageId", env.ID,
			"eventType", env.EventType(),
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// TimeoutInterceptor bounds the handler's context. The handler must honor
// its context for the bound to take effect.
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
	if i.timeout <= 0 {
		return next.Handle(ctx, env, value)
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	return next.Handle(ctx, env, value)
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// TracingInterceptor runs each handler inside a consumer span
type TracingInterceptor struct {
	tracer trace.Tracer
}

// NewTracingInterceptor creates a tracing interceptor from tracer
func NewTracingInterceptor(tracer trace.Tracer) *TracingInterceptor {
	return &TracingInterceptor{tracer: tracer}
}

// Intercept implements Interceptor
func (i *TracingInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
	ctx, span := i.tracer.Start(ctx, "process "+env.EventType(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", env.ID),
			attribute.String("messaging.message.conversation_id", env.CorrelationID),
			attribute.String("busgate.event_type", env.EventType()),
			attribute.Int("busgate.delivery_count", env.DeliveryCount),
		),
	)
	defer span.End()

	err := next.Handle(ctx, env, value)
	if err != nil && !IsShortCircuit(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Name implements Interceptor
func (i *TracingInterceptor) Name() string {
	return "TracingInterceptor"
}
