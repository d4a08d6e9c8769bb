// Package redisstream implements the gateway transport on Redis Streams.
//
// Each destination is a stream read through one consumer group:
//   - Send is XADD with envelope metadata as string fields and the body in "body"
//   - Complete is XACK
//   - Abandon re-adds the entry to the tail of the stream and acknowledges the original
//   - DeadLetter moves the entry to "<destination>:deadletter" with the failure reason
//
// Entries left pending by a crashed consumer are reclaimed with XCLAIM once
// idle for longer than the lock duration; RenewLock resets that idle time.
package redisstream
