package messaging

import (
	"context"
	"log/slog"
	"time"
)

// SenderPool lazily creates one Sender per destination
type SenderPool struct {
	transport    Transport
	pool         *handlePool[Sender]
	logger       *slog.Logger
	closeTimeout time.Duration
}

// SenderPoolOption configures a SenderPool
type SenderPoolOption func(*SenderPool)

// WithSenderPoolLogger sets the logger
func WithSenderPoolLogger(logger *slog.Logger) SenderPoolOption {
	return func(p *SenderPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSenderCloseTimeout bounds closing a sender created after the pool was drained
func WithSenderCloseTimeout(timeout time.Duration) SenderPoolOption {
	return func(p *SenderPool) {
		if timeout > 0 {
			p.closeTimeout = timeout
		}
	}
}

// NewSenderPool creates a sender pool over transport
func NewSenderPool(transport Transport, opts ...SenderPoolOption) *SenderPool {
	p := &SenderPool{
		transport:    transport,
		logger:       slog.Default(),
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.pool = newHandlePool(p.discard)
	return p
}

// GetOrCreate returns the cached sender for destination, creating it on first request
func (p *SenderPool) GetOrCreate(ctx context.Context, destination string) (Sender, error) {
	sender, created, err := p.pool.getOrCreate(ctx, destination, func() (Sender, error) {
		return p.transport.NewSender(ctx, destination)
	})
	if err != nil {
		return nil, err
	}
	if created {
		p.logger.Debug("sender created", "destination", destination, "transport", p.transport.Name())
	}
	return sender, nil
}

// Senders returns the live senders by destination
func (p *SenderPool) Senders() map[string]Sender {
	return p.pool.snapshot()
}

// Drain closes the pool to new senders and returns the existing ones.
// The caller owns closing them.
func (p *SenderPool) Drain() map[string]Sender {
	return p.pool.drain()
}

func (p *SenderPool) discard(s Sender) {
	err := CallWithTimeout(p.closeTimeout, s.Close)
	if err != nil {
		p.logger.Warn("failed to close late sender", "error", err)
	}
}
