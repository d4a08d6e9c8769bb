package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/internal/reliability"
	"golang.org/x/sync/semaphore"
)

// ProcessorOptions configures a processor. Fixed at creation.
type ProcessorOptions struct {
	// MaxConcurrentCalls bounds simultaneous handler invocations (default 5)
	MaxConcurrentCalls int
	// MaxLockRenewal bounds how long a lock is renewed while a handler runs (default 10m)
	MaxLockRenewal time.Duration
	// LockDuration is the broker claim duration requested from the transport
	LockDuration time.Duration
}

// Normalize fills unset fields with defaults
func (o ProcessorOptions) Normalize() ProcessorOptions {
	if o.MaxConcurrentCalls <= 0 {
		o.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if o.MaxLockRenewal <= 0 {
		o.MaxLockRenewal = DefaultMaxLockRenewal
	}
	if o.LockDuration <= 0 {
		o.LockDuration = DefaultLockDuration
	}
	return o
}

// ProcessorHandle owns the inbound channel of one destination and the
// registrations dispatched from it
type ProcessorHandle struct {
	destination string
	options     ProcessorOptions
	open        func(ctx context.Context) (Receiver, error)
	pipeline    *Pipeline
	logger      *slog.Logger
	metrics     MetricsCollector
	backoff     *reliability.ExponentialBackoff
	sem         *semaphore.Weighted
	nextID      atomic.Uint64
	// closed is set when the owning pool drains or discards the handle
	closed atomic.Bool

	mu    sync.RWMutex
	table dispatchTable

	// lifecycle serializes start, stop and receiver release
	lifecycle sync.Mutex
	receiver  Receiver
	current   *processorRun
}

// processorRun is one start..stop cycle of the receive loop
type processorRun struct {
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
}

func newProcessorHandle(destination string, options ProcessorOptions, open func(ctx context.Context) (Receiver, error), pipeline *Pipeline, logger *slog.Logger, metrics MetricsCollector) *ProcessorHandle {
	return &ProcessorHandle{
		destination: destination,
		options:     options,
		open:        open,
		pipeline:    pipeline,
		logger:      logger,
		metrics:     metrics,
		backoff:     reliability.NewExponentialBackoff(100*time.Millisecond, 30*time.Second, 2.0),
		sem:         semaphore.NewWeighted(int64(options.MaxConcurrentCalls)),
		table:       newDispatchTable(),
	}
}

// Destination returns the destination the processor reads from
func (p *ProcessorHandle) Destination() string {
	return p.destination
}

// Options returns the configuration fixed at creation
func (p *ProcessorHandle) Options() ProcessorOptions {
	return p.options
}

// Register adds reg to the dispatch table
func (p *ProcessorHandle) Register(reg *Registration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg.id = p.nextID.Add(1)
	return p.table.add(reg)
}

// Unregister removes reg and returns how many registrations remain
func (p *ProcessorHandle) Unregister(reg *Registration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table.remove(reg)
}

// Registrations returns the number of registered handlers
func (p *ProcessorHandle) Registrations() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table.len()
}

// Running reports whether the receive loop is active
func (p *ProcessorHandle) Running() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.current != nil
}

// Start opens the receiver if needed and starts the receive loop. It is a
// no-op when the loop is already running.
func (p *ProcessorHandle) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.current != nil {
		return nil
	}
	if p.closed.Load() {
		return contracts.ErrPoolClosed
	}
	if p.receiver == nil {
		receiver, err := p.open(ctx)
		if err != nil {
			return fmt.Errorf("failed to open receiver for %q: %w", p.destination, err)
		}
		// The pool may have drained while the receiver was opening.
		if p.closed.Load() {
			if err := receiver.Close(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn("failed to close receiver opened after drain",
					"destination", p.destination,
					"error", err)
			}
			return contracts.ErrPoolClosed
		}
		p.receiver = receiver
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	run := &processorRun{cancel: cancel, done: make(chan struct{})}
	p.current = run
	go p.receiveLoop(loopCtx, p.receiver, run)

	p.logger.Info("processor started",
		"destination", p.destination,
		"maxConcurrentCalls", p.options.MaxConcurrentCalls,
		"maxLockRenewal", p.options.MaxLockRenewal)
	return nil
}

// markClosed makes every later Start fail with contracts.ErrPoolClosed. It
// does not take the lifecycle lock, so it never waits on an opening receiver.
func (p *ProcessorHandle) markClosed() {
	p.closed.Store(true)
}

// Stop ends the receive loop and waits, bounded by ctx, for in-flight
// handlers. Handlers are never interrupted.
func (p *ProcessorHandle) Stop(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.stopLocked(ctx)
}

// Close releases the receiver. Unsettled messages return to the broker.
func (p *ProcessorHandle) Close(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.closeReceiverLocked(ctx)
}

// StopIfIdle fully stops the processor when no registrations remain
func (p *ProcessorHandle) StopIfIdle(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.Registrations() > 0 {
		return nil
	}
	stopErr := p.stopLocked(ctx)
	closeErr := p.closeReceiverLocked(ctx)
	return errors.Join(stopErr, closeErr)
}

func (p *ProcessorHandle) stopLocked(ctx context.Context) error {
	run := p.current
	if run == nil {
		return nil
	}
	p.current = nil
	run.cancel()

	if err := run.wait(ctx); err != nil {
		return fmt.Errorf("failed to stop processor for %q: %w", p.destination, err)
	}
	p.logger.Info("processor stopped", "destination", p.destination)
	return nil
}

func (p *ProcessorHandle) closeReceiverLocked(ctx context.Context) error {
	if p.receiver == nil {
		return nil
	}
	receiver := p.receiver
	p.receiver = nil
	if err := receiver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close receiver for %q: %w", p.destination, err)
	}
	return nil
}

func (p *ProcessorHandle) receiveLoop(ctx context.Context, receiver Receiver, run *processorRun) {
	defer close(run.done)

	// Handlers outlive the loop; they only inherit its values.
	handlerCtx := context.WithoutCancel(ctx)
	attempt := 0

	for {
		// Capacity first, so no message is claimed that cannot be processed.
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}

		delivery, err := receiver.Receive(ctx)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, contracts.ErrReceiverClosed) {
				p.logger.Warn("receiver closed, processor loop exiting", "destination", p.destination)
				return
			}

			p.metrics.RecordReceiveError(p.destination)
			delay := p.backoff.NextDelay(attempt)
			if attempt < 30 {
				attempt++
			}
			p.logger.Error("failed to receive message",
				"destination", p.destination,
				"error", err,
				"retryIn", delay)
			if reliability.Wait(ctx, delay) != nil {
				return
			}
			continue
		}
		attempt = 0

		run.inflight.Add(1)
		p.metrics.RecordInFlight(p.destination, 1)
		go func() {
			defer run.inflight.Done()
			defer p.sem.Release(1)
			defer p.metrics.RecordInFlight(p.destination, -1)
			p.dispatch(handlerCtx, delivery)
		}()
	}
}

func (p *ProcessorHandle) dispatch(ctx context.Context, d Delivery) {
	p.mu.RLock()
	reg := p.table.resolve(d.Envelope().EventType())
	p.mu.RUnlock()

	p.pipeline.Process(ctx, d, reg)
}

// wait blocks until the loop exited and in-flight handlers finished, or ctx is done
func (r *processorRun) wait(ctx context.Context) error {
	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("receive loop still running: %w", ctx.Err())
	}

	idle := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("handlers still in flight: %w", ctx.Err())
	}
}
