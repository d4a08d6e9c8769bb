package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/smartcommerce/busgate-go/interceptors"
	"github.com/trickstertwo/xclock"
)

// ProcessorPool lazily creates one ProcessorHandle per destination. The
// options of the first request for a destination win.
type ProcessorPool struct {
	transport  Transport
	pool       *handlePool[*ProcessorHandle]
	codec      Codec
	ack        *AckController
	ackTimeout time.Duration
	logger     *slog.Logger
	metrics    MetricsCollector
	clock      xclock.Clock
	defaults   ProcessorOptions
	closeLimit time.Duration
	chain      *interceptors.InterceptorChain
}

// ProcessorPoolOption configures a ProcessorPool
type ProcessorPoolOption func(*ProcessorPool)

// WithProcessorPoolLogger sets the logger
func WithProcessorPoolLogger(logger *slog.Logger) ProcessorPoolOption {
	return func(p *ProcessorPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProcessorCodec sets the codec used to decode typed registrations
func WithProcessorCodec(codec Codec) ProcessorPoolOption {
	return func(p *ProcessorPool) {
		if codec != nil {
			p.codec = codec
		}
	}
}

// WithProcessorMetrics sets the metrics collector
func WithProcessorMetrics(metrics MetricsCollector) ProcessorPoolOption {
	return func(p *ProcessorPool) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// WithProcessorClock sets the clock used for handler durations
func WithProcessorClock(clock xclock.Clock) ProcessorPoolOption {
	return func(p *ProcessorPool) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithAckTimeout bounds each settle call
func WithAckTimeout(timeout time.Duration) ProcessorPoolOption {
	return func(p *ProcessorPool) {
		p.ackTimeout = timeout
	}
}

// WithDefaultProcessorOptions sets the options used when a caller passes none
func WithDefaultProcessorOptions(options ProcessorOptions) ProcessorPoolOption {
	return func(p *ProcessorPool) {
		p.defaults = options
	}
}

// WithProcessorInterceptors wraps every handler invocation in chain
func WithProcessorInterceptors(chain *interceptors.InterceptorChain) ProcessorPoolOption {
	return func(p *ProcessorPool) {
		p.chain = chain
	}
}

// NewProcessorPool creates a processor pool over transport
func NewProcessorPool(transport Transport, opts ...ProcessorPoolOption) *ProcessorPool {
	p := &ProcessorPool{
		transport:  transport,
		codec:      NewJSONCodec(),
		logger:     slog.Default(),
		metrics:    NoOpMetricsCollector{},
		clock:      xclock.Default(),
		ackTimeout: DefaultAckTimeout,
		closeLimit: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ack = NewAckController(p.ackTimeout, p.logger)
	p.defaults = p.defaults.Normalize()
	p.pool = newHandlePool(p.discard)
	return p
}

// GetOrCreate returns the processor for destination, creating it with
// options on first request. Options of later requests are ignored.
func (p *ProcessorPool) GetOrCreate(ctx context.Context, destination string, options *ProcessorOptions) (*ProcessorHandle, error) {
	handle, created, err := p.pool.getOrCreate(ctx, destination, func() (*ProcessorHandle, error) {
		return p.newHandle(destination, options), nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		p.logger.Debug("processor created",
			"destination", destination,
			"transport", p.transport.Name(),
			"maxConcurrentCalls", handle.options.MaxConcurrentCalls)
	} else if options != nil && options.Normalize() != handle.options {
		p.logger.Debug("processor already configured, ignoring options",
			"destination", destination,
			"maxConcurrentCalls", handle.options.MaxConcurrentCalls)
	}
	return handle, nil
}

// Get returns the processor for destination if one exists
func (p *ProcessorPool) Get(destination string) (*ProcessorHandle, bool) {
	return p.pool.get(destination)
}

// Processors returns the live processors by destination
func (p *ProcessorPool) Processors() map[string]*ProcessorHandle {
	return p.pool.snapshot()
}

// Drain closes the pool to new processors and returns the existing ones.
// Drained processors refuse to start. The caller owns stopping and closing
// them.
func (p *ProcessorPool) Drain() map[string]*ProcessorHandle {
	handles := p.pool.drain()
	for _, h := range handles {
		h.markClosed()
	}
	return handles
}

func (p *ProcessorPool) newHandle(destination string, options *ProcessorOptions) *ProcessorHandle {
	opts := p.defaults
	if options != nil {
		opts = options.Normalize()
	}

	pipeline := NewPipeline(destination, PipelineConfig{
		Codec:          p.codec,
		Ack:            p.ack,
		Logger:         p.logger,
		Metrics:        p.metrics,
		Clock:          p.clock,
		LockDuration:   opts.LockDuration,
		MaxLockRenewal: opts.MaxLockRenewal,
		Interceptors:   p.chain,
	})

	open := func(ctx context.Context) (Receiver, error) {
		return p.transport.NewReceiver(ctx, destination, ReceiverOptions{
			MaxConcurrentCalls: opts.MaxConcurrentCalls,
			LockDuration:       opts.LockDuration,
		})
	}

	return newProcessorHandle(destination, opts, open, pipeline, p.logger, p.metrics)
}

func (p *ProcessorPool) discard(h *ProcessorHandle) {
	h.markClosed()
	if err := CallWithTimeout(p.closeLimit, h.Close); err != nil {
		p.logger.Warn("failed to close late processor", "destination", h.destination, "error", err)
	}
}
