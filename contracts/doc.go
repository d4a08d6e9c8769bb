// Package contracts provides the wire model shared by the gateway and its transports.
//
// This package defines:
//   - Envelope: the broker-agnostic unit sent to and received from a destination
//   - Outcome: the terminal state of a received message (completed, abandoned, dead-lettered)
//   - The error taxonomy returned by or logged from the gateway
//   - The commerce event catalog (OrderCreated, PaymentProcessed, ...)
//
// Event payloads encode with camelCase JSON field names so every service
// reads the same shape regardless of language.
package contracts
