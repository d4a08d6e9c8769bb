package messaging

import (
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
)

// MetricsCollector collects gateway metrics
type MetricsCollector interface {
	// RecordPublish records a publish attempt; err is nil on success
	RecordPublish(destination, eventType string, duration time.Duration, err error)

	// RecordOutcome records the terminal state of a received message
	RecordOutcome(destination, eventType string, outcome contracts.OutcomeKind, duration time.Duration)

	// RecordInFlight adjusts the number of running handler invocations
	RecordInFlight(destination string, delta int)

	// RecordReceiveError records a failed receive on a processor loop
	RecordReceiveError(destination string)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordPublish does nothing
func (NoOpMetricsCollector) RecordPublish(string, string, time.Duration, error) {}

// RecordOutcome does nothing
func (NoOpMetricsCollector) RecordOutcome(string, string, contracts.OutcomeKind, time.Duration) {}

// RecordInFlight does nothing
func (NoOpMetricsCollector) RecordInFlight(string, int) {}

// RecordReceiveError does nothing
func (NoOpMetricsCollector) RecordReceiveError(string) {}
