// Package reliability provides the backoff used when a broker operation
// fails in a background loop.
//
// It is used by:
//   - Processor receive loops, between failed receive attempts
//   - The RabbitMQ connection manager, between reconnection attempts
//
// The gateway itself never retries a publish or a handler; redelivery of
// abandoned messages belongs to the broker.
package reliability
