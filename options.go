package busgate

import (
	"log/slog"
	"time"

	"github.com/smartcommerce/busgate-go/interceptors"
	"github.com/smartcommerce/busgate-go/messaging"
	"github.com/trickstertwo/xclock"
)

// clientConfig holds client configuration
type clientConfig struct {
	logger       *slog.Logger
	metrics      messaging.MetricsCollector
	source       string
	clock        xclock.Clock
	codec        messaging.Codec
	stopTimeout  time.Duration
	closeTimeout time.Duration
	ackTimeout   time.Duration
	processor    messaging.ProcessorOptions
	idGenerator  func() string
	interceptors *interceptors.InterceptorChain
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithMetrics sets the metrics collector shared by publishing and processing
func WithMetrics(metrics messaging.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = metrics
	}
}

// WithSource sets the Source property stamped on published envelopes
// (default: host name)
func WithSource(source string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.source = source
	}
}

// WithClock sets the clock used for timestamps and durations
func WithClock(clock xclock.Clock) ClientOption {
	return func(cfg *clientConfig) {
		cfg.clock = clock
	}
}

// WithCodec replaces the JSON codec
func WithCodec(codec messaging.Codec) ClientOption {
	return func(cfg *clientConfig) {
		cfg.codec = codec
	}
}

// WithStopTimeout bounds how long Dispose waits for each processor (default 30s)
func WithStopTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if timeout > 0 {
			cfg.stopTimeout = timeout
		}
	}
}

// WithCloseTimeout bounds closing each sender, receiver and the transport (default 30s)
func WithCloseTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if timeout > 0 {
			cfg.closeTimeout = timeout
		}
	}
}

// WithAckTimeout bounds settling each received message (default 30s)
func WithAckTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if timeout > 0 {
			cfg.ackTimeout = timeout
		}
	}
}

// WithProcessorOptions sets the processor defaults used when a subscription
// does not configure its own
func WithProcessorOptions(options messaging.ProcessorOptions) ClientOption {
	return func(cfg *clientConfig) {
		cfg.processor = options
	}
}

// WithIDGenerator replaces the uuid generator for message ids
func WithIDGenerator(fn func() string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.idGenerator = fn
	}
}

// WithInterceptors wraps every handler invocation in chain. A short-circuit
// completes the message; any other chain error abandons it.
func WithInterceptors(chain *interceptors.InterceptorChain) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptors = chain
	}
}

// subscribeConfig holds per-subscription settings
type subscribeConfig struct {
	eventType string
	processor messaging.ProcessorOptions
	custom    bool
}

// SubscribeOption configures a subscription
type SubscribeOption func(*subscribeConfig)

// WithMaxConcurrentCalls bounds simultaneous handler invocations on the
// destination. Only the first subscription to a destination configures it.
func WithMaxConcurrentCalls(n int) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.processor.MaxConcurrentCalls = n
		cfg.custom = true
	}
}

// WithMaxLockRenewal bounds how long a message lock is renewed while its
// handler runs. Only the first subscription to a destination configures it.
func WithMaxLockRenewal(d time.Duration) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.processor.MaxLockRenewal = d
		cfg.custom = true
	}
}

// WithLockDuration sets the broker claim duration requested for the
// destination. Only the first subscription to a destination configures it.
func WithLockDuration(d time.Duration) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.processor.LockDuration = d
		cfg.custom = true
	}
}

// WithEventType overrides the dispatch key derived from the payload type
func WithEventType(eventType string) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.eventType = eventType
	}
}

// processorOptions returns nil when the pool defaults apply
func (cfg subscribeConfig) processorOptions(defaults messaging.ProcessorOptions) *messaging.ProcessorOptions {
	if !cfg.custom {
		return nil
	}
	opts := cfg.processor
	if opts.MaxConcurrentCalls <= 0 {
		opts.MaxConcurrentCalls = defaults.MaxConcurrentCalls
	}
	if opts.MaxLockRenewal <= 0 {
		opts.MaxLockRenewal = defaults.MaxLockRenewal
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = defaults.LockDuration
	}
	opts = opts.Normalize()
	return &opts
}
