// Package rabbitmq holds the AMQP plumbing behind the RabbitMQ transport.
//
// This package includes:
//   - ConnectionManager: owns the connection and reconnects with exponential backoff
//   - DeclareQueues: durable queue declaration for destinations and dead-letter queues
//   - Typed errors for connection, channel, publish and consumer failures
//
// Channels are opened per sender and per receiver; the transport reopens them
// lazily after a reconnect.
package rabbitmq
