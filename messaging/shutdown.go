package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
)

const (
	// DefaultStopTimeout bounds waiting for a processor to stop
	DefaultStopTimeout = 30 * time.Second
	// DefaultCloseTimeout bounds releasing a sender, receiver or transport
	DefaultCloseTimeout = 30 * time.Second
	// DefaultAckTimeout bounds settling a single delivery
	DefaultAckTimeout = 30 * time.Second
)

// CallWithTimeout runs fn with a context bounded by timeout and returns
// when fn returns or the bound elapses, whichever is first. fn keeps
// running in the background after a timeout; a panic in fn is returned
// as an error.
func CallWithTimeout(timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic: %v", r)
			}
		}()
		result <- fn(ctx)
	}()

	select {
	case err := <-result:
		// fn gave up on its own deadline: report it as the same timeout
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("%w after %s: %w", contracts.ErrShutdownTimeout, timeout, err)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", contracts.ErrShutdownTimeout, timeout)
	}
}
