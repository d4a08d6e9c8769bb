package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
)

// AckController issues the terminal outcome of a received message
type AckController struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewAckController creates an ack controller; each settle call is bounded by timeout
func NewAckController(timeout time.Duration, logger *slog.Logger) *AckController {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AckController{timeout: timeout, logger: logger}
}

// Settle reports outcome to the broker. Failures are logged and returned;
// the broker redelivers a message whose settlement was lost.
func (a *AckController) Settle(ctx context.Context, destination string, d Delivery, outcome contracts.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	env := d.Envelope()

	var err error
	switch outcome.Kind {
	case contracts.OutcomeCompleted:
		err = d.Complete(ctx)
	case contracts.OutcomeAbandoned:
		err = d.Abandon(ctx)
	case contracts.OutcomeDeadLettered:
		err = d.DeadLetter(ctx, outcome.Reason, outcome.Description)
	default:
		err = fmt.Errorf("unknown outcome kind %d", outcome.Kind)
	}

	if err != nil {
		a.logger.Error("failed to settle message",
			"destination", destination,
			"messageId", env.ID,
			"outcome", outcome.String(),
			"error", err)
		return fmt.Errorf("failed to settle message %s as %s: %w", env.ID, outcome, err)
	}

	a.logger.Debug("message settled",
		"destination", destination,
		"messageId", env.ID,
		"outcome", outcome.String())
	return nil
}
