// Package metrics provides a Prometheus implementation of the gateway's
// metrics collector.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/smartcommerce/busgate-go/messaging"
)

const namespace = "busgate"

// PrometheusCollector records gateway metrics as Prometheus series
type PrometheusCollector struct {
	published       *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	outcomes        *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	receiveErrors   *prometheus.CounterVec
}

var _ messaging.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collector and registers its series
// with reg. A nil reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &PrometheusCollector{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Messages published, by destination, event type and success",
		}, []string{"destination", "event_type", "success"}),

		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time to hand a message to the broker",
			Buckets:   prometheus.DefBuckets,
		}, []string{"destination"}),

		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_settled_total",
			Help:      "Received messages by terminal outcome",
		}, []string{"destination", "event_type", "outcome"}),

		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time from dispatch to settlement",
			Buckets:   prometheus.DefBuckets,
		}, []string{"destination", "outcome"}),

		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handlers_in_flight",
			Help:      "Handler invocations currently running",
		}, []string{"destination"}),

		receiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Failed receives on processor loops",
		}, []string{"destination"}),
	}

	for _, col := range []prometheus.Collector{
		c.published, c.publishDuration, c.outcomes, c.handleDuration, c.inFlight, c.receiveErrors,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func (c *PrometheusCollector) RecordPublish(destination, eventType string, duration time.Duration, err error) {
	c.published.WithLabelValues(destination, eventType, strconv.FormatBool(err == nil)).Inc()
	c.publishDuration.WithLabelValues(destination).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordOutcome(destination, eventType string, outcome contracts.OutcomeKind, duration time.Duration) {
	c.outcomes.WithLabelValues(destination, eventType, outcome.String()).Inc()
	c.handleDuration.WithLabelValues(destination, outcome.String()).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordInFlight(destination string, delta int) {
	c.inFlight.WithLabelValues(destination).Add(float64(delta))
}

func (c *PrometheusCollector) RecordReceiveError(destination string) {
	c.receiveErrors.WithLabelValues(destination).Inc()
}
