package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smartcommerce/busgate-go/contracts"
)

// ErrFiltered is returned by a FilteringInterceptor using SkipWithError
var ErrFiltered = errors.New("message filtered")

// MessageFilter decides whether a message reaches its handler
type MessageFilter interface {
	// ShouldProcess returns true if the message should be processed
	ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error)
}

// MessageFilterFunc is a function adapter for MessageFilter
type MessageFilterFunc func(ctx context.Context, env *contracts.Envelope) (bool, error)

// ShouldProcess implements MessageFilter
func (f MessageFilterFunc) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	return f(ctx, env)
}

// SkipBehavior defines what happens when a message is filtered out
type SkipBehavior int

const (
	// SkipSilently completes the message without calling the handler
	SkipSilently SkipBehavior = iota
	// SkipWithError fails the invocation with ErrFiltered, so the message is abandoned
	SkipWithError
	// SkipWithLog completes the message and logs that it was skipped
	SkipWithLog
)

// FilteringInterceptor keeps messages that fail its filter away from the handler
type FilteringInterceptor struct {
	filter       MessageFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter MessageFilter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger used by SkipWithLog
func (i *FilteringInterceptor) WithLogger(logger *slog.Logger) *FilteringInterceptor {
	if logger != nil {
		i.logger = logger
	}
	return i
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
	shouldProcess, err := i.filter.ShouldProcess(ctx, env)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		switch i.skipBehavior {
		case SkipWithError:
			return fmt.Errorf("%w: eventType=%s, id=%s", ErrFiltered, env.EventType(), env.ID)
		case SkipWithLog:
			i.logger.Info("message skipped by filter",
				"messageId", env.ID,
				"eventType", env.EventType())
			return nil
		default: // SkipSilently
			return nil
		}
	}

	return next.Handle(ctx, env, value)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []MessageFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...MessageFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, env)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []MessageFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...MessageFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, env)
		if err != nil {
			return false, err
		}
		if shouldProcess {
			return true, nil
		}
	}
	return false, nil
}

// EventTypeFilter allows only the listed event types
type EventTypeFilter struct {
	allowed map[string]bool
}

// NewEventTypeFilter creates a filter that only allows specific event types
func NewEventTypeFilter(eventTypes ...string) *EventTypeFilter {
	allowed := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		allowed[t] = true
	}
	return &EventTypeFilter{allowed: allowed}
}

// ShouldProcess implements MessageFilter
func (f *EventTypeFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	return f.allowed[env.EventType()], nil
}

// SourceFilter allows only messages published by the listed sources
type SourceFilter struct {
	allowed map[string]bool
}

// NewSourceFilter creates a filter on the Source property
func NewSourceFilter(sources ...string) *SourceFilter {
	allowed := make(map[string]bool, len(sources))
	for _, s := range sources {
		allowed[s] = true
	}
	return &SourceFilter{allowed: allowed}
}

// ShouldProcess implements MessageFilter
func (f *SourceFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	return f.allowed[env.Source()], nil
}

// ConditionalInterceptor executes an interceptor only if a condition is met
type ConditionalInterceptor struct {
	condition   MessageFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition MessageFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
	shouldExecute, err := i.condition.ShouldProcess(ctx, env)
	if err != nil {
		return err
	}

	if shouldExecute {
		return i.interceptor.Intercept(ctx, env, value, next)
	}

	return next.Handle(ctx, env, value)
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return fmt.Sprintf("ConditionalInterceptor[%s]", i.interceptor.Name())
}
