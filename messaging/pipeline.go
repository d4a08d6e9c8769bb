package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/interceptors"
	"github.com/trickstertwo/xclock"
)

// Pipeline runs decode, dispatch and acknowledge for one destination
type Pipeline struct {
	destination    string
	codec          Codec
	ack            *AckController
	logger         *slog.Logger
	metrics        MetricsCollector
	clock          xclock.Clock
	lockDuration   time.Duration
	maxLockRenewal time.Duration
	interceptors   *interceptors.InterceptorChain
}

// PipelineConfig carries the collaborators of a Pipeline
type PipelineConfig struct {
	Codec          Codec
	Ack            *AckController
	Logger         *slog.Logger
	Metrics        MetricsCollector
	Clock          xclock.Clock
	LockDuration   time.Duration
	MaxLockRenewal time.Duration
	Interceptors   *interceptors.InterceptorChain
}

// NewPipeline creates the processing pipeline for destination
func NewPipeline(destination string, cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		destination:    destination,
		codec:          cfg.Codec,
		ack:            cfg.Ack,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		clock:          cfg.Clock,
		lockDuration:   cfg.LockDuration,
		maxLockRenewal: cfg.MaxLockRenewal,
		interceptors:   cfg.Interceptors,
	}
	if p.codec == nil {
		p.codec = NewJSONCodec()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.ack == nil {
		p.ack = NewAckController(DefaultAckTimeout, p.logger)
	}
	if p.metrics == nil {
		p.metrics = NoOpMetricsCollector{}
	}
	if p.clock == nil {
		p.clock = xclock.Default()
	}
	if p.lockDuration <= 0 {
		p.lockDuration = DefaultLockDuration
	}
	return p
}

// Process takes one delivery to exactly one terminal outcome. It never
// returns an error; failures are logged and reflected in the outcome.
func (p *Pipeline) Process(ctx context.Context, d Delivery, reg *Registration) contracts.Outcome {
	start := p.clock.Now()
	env := d.Envelope()

	outcome := p.evaluate(withEnvelope(ctx, env), d, reg)
	_ = p.ack.Settle(ctx, p.destination, d, outcome)

	p.metrics.RecordOutcome(p.destination, env.EventType(), outcome.Kind, p.clock.Since(start))
	return outcome
}

func (p *Pipeline) evaluate(ctx context.Context, d Delivery, reg *Registration) contracts.Outcome {
	env := d.Envelope()

	if reg == nil {
		p.logger.Warn("no handler registered for event type, abandoning message",
			"destination", p.destination,
			"messageId", env.ID,
			"eventType", env.EventType())
		return contracts.Abandoned()
	}

	var value any = env.Body
	if reg.decode != nil {
		decoded, err := reg.decode(p.codec, env.Body)
		if err != nil {
			derr := &contracts.DeserializationError{EventType: reg.eventType, Err: err}
			p.logger.Warn("failed to decode message, dead-lettering",
				"destination", p.destination,
				"messageId", env.ID,
				"eventType", reg.eventType,
				"error", derr)
			return contracts.DeadLettered(contracts.ReasonDeserializationFailed, derr.Error())
		}
		value = decoded
	}

	stopRenewal := p.keepLockAlive(ctx, d)
	err := p.invoke(ctx, env, reg, value)
	stopRenewal()

	if interceptors.IsShortCircuit(err) {
		p.logger.Debug("handler short-circuited, completing message",
			"destination", p.destination,
			"messageId", env.ID,
			"eventType", env.EventType(),
			"reason", err.Error())
		return contracts.Completed()
	}
	if err != nil {
		perr := &contracts.ProcessingError{MessageID: env.ID, Destination: p.destination, Err: err}
		p.logger.Error("handler failed, abandoning message",
			"destination", p.destination,
			"messageId", env.ID,
			"eventType", env.EventType(),
			"error", perr)
		return contracts.Abandoned()
	}
	return contracts.Completed()
}

// invoke runs the interceptor chain and the handler. Panics in either become errors.
func (p *Pipeline) invoke(ctx context.Context, env *contracts.Envelope, reg *Registration, value any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return p.interceptors.Execute(ctx, env, value, interceptors.HandlerFunc(
		func(ctx context.Context, _ *contracts.Envelope, value any) error {
			return reg.invoke(ctx, value)
		}))
}

// minRenewInterval floors the renewal ticker for very short lock durations
const minRenewInterval = time.Millisecond

// keepLockAlive renews the delivery's lock every half lock duration until
// stopped or until the max renewal window has passed.
func (p *Pipeline) keepLockAlive(ctx context.Context, d Delivery) (stop func()) {
	renewer, ok := d.(LockRenewer)
	if !ok || p.maxLockRenewal <= 0 {
		return func() {}
	}

	renewCtx, cancel := context.WithTimeout(ctx, p.maxLockRenewal)
	done := make(chan struct{})
	messageID := d.Envelope().ID

	go func() {
		defer close(done)
		ticker := time.NewTicker(max(p.lockDuration/2, minRenewInterval))
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				err := renewer.RenewLock(renewCtx)
				if err == nil {
					continue
				}
				if renewCtx.Err() != nil {
					return
				}
				p.logger.Warn("failed to renew message lock",
					"destination", p.destination,
					"messageId", messageID,
					"error", err)
				if errors.Is(err, contracts.ErrLockLost) || errors.Is(err, contracts.ErrAlreadySettled) {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
