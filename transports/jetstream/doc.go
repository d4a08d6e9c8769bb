// Package jetstream implements the gateway transport on NATS JetStream.
//
// Each destination maps to a work-queue stream named BUSGATE_<destination>
// that captures the destination subject and its ".deadletter" subject. A
// durable pull consumer with explicit acknowledgment reads the destination
// subject; AckWait is the lock duration and MaxAckPending the concurrency
// limit. Complete acks, Abandon naks for redelivery, DeadLetter republishes
// to the dead-letter subject and terminates the original, and RenewLock
// signals work in progress.
package jetstream
