package interceptors

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/trickstertwo/xclock"
)

// ErrShortCircuit is returned when an interceptor ends the chain early
var ErrShortCircuit = errors.New("interceptor chain short-circuited")

// ShortCircuitError ends the chain without calling the handler. The
// message is completed, not abandoned.
type ShortCircuitError struct {
	Reason string
}

// Error implements the error interface
func (e *ShortCircuitError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return ErrShortCircuit.Error()
}

// Is matches ErrShortCircuit
func (e *ShortCircuitError) Is(target error) bool {
	return target == ErrShortCircuit
}

// IsShortCircuit checks if an error is a short-circuit error
func IsShortCircuit(err error) bool {
	return err != nil && errors.Is(err, ErrShortCircuit)
}

// ShortCircuitEvaluator determines if the chain should be short-circuited
type ShortCircuitEvaluator interface {
	ShouldShortCircuit(ctx context.Context, env *contracts.Envelope) (bool, string, error)
}

// ShortCircuitInterceptor ends the chain when its evaluator says so
type ShortCircuitInterceptor struct {
	evaluator ShortCircuitEvaluator
}

// NewShortCircuitInterceptor creates a new short-circuit interceptor
func NewShortCircuitInterceptor(evaluator ShortCircuitEvaluator) *ShortCircuitInterceptor {
	return &ShortCircuitInterceptor{evaluator: evaluator}
}

// Intercept implements Interceptor
func (i *ShortCircuitInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
	shouldShortCircuit, reason, err := i.evaluator.ShouldShortCircuit(ctx, env)
	if err != nil {
		return err
	}
	if shouldShortCircuit {
		return &ShortCircuitError{Reason: reason}
	}
	return next.Handle(ctx, env, value)
}

// Name implements Interceptor
func (i *ShortCircuitInterceptor) Name() string {
	return "ShortCircuitInterceptor"
}

// DuplicateDetector remembers processed message ids
type DuplicateDetector interface {
	IsDuplicate(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// DuplicateDetectionInterceptor completes redelivered messages whose id was
// already handled successfully
type DuplicateDetectionInterceptor struct {
	detector DuplicateDetector
}

// NewDuplicateDetectionInterceptor creates a new duplicate detection interceptor
func NewDuplicateDetectionInterceptor(detector DuplicateDetector) *DuplicateDetectionInterceptor {
	return &DuplicateDetectionInterceptor{detector: detector}
}

// Intercept implements Interceptor
func (i *DuplicateDetectionInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
	isDuplicate, err := i.detector.IsDuplicate(ctx, env.ID)
	if err != nil {
		return err
	}
	if isDuplicate {
		return &ShortCircuitError{Reason: "duplicate message detected"}
	}

	if err := next.Handle(ctx, env, value); err != nil {
		return err
	}
	return i.detector.MarkProcessed(ctx, env.ID)
}

// Name implements Interceptor
func (i *DuplicateDetectionInterceptor) Name() string {
	return "DuplicateDetectionInterceptor"
}

// MemoryDuplicateDetector keeps processed ids in memory for ttl
type MemoryDuplicateDetector struct {
	ttl   time.Duration
	clock xclock.Clock

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDuplicateDetector creates a detector remembering ids for ttl.
// A nil clock uses the system clock.
func NewMemoryDuplicateDetector(ttl time.Duration, clock xclock.Clock) *MemoryDuplicateDetector {
	if clock == nil {
		clock = xclock.Default()
	}
	return &MemoryDuplicateDetector{ttl: ttl, clock: clock, seen: make(map[string]time.Time)}
}

// IsDuplicate implements DuplicateDetector
func (d *MemoryDuplicateDetector) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.seen[messageID]
	if !ok {
		return false, nil
	}
	if d.ttl > 0 && d.clock.Since(at) > d.ttl {
		delete(d.seen, messageID)
		return false, nil
	}
	return true, nil
}

// MarkProcessed implements DuplicateDetector
func (d *MemoryDuplicateDetector) MarkProcessed(ctx context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	d.seen[messageID] = now
	if d.ttl > 0 {
		for id, at := range d.seen {
			if now.Sub(at) > d.ttl {
				delete(d.seen, id)
			}
		}
	}
	return nil
}
