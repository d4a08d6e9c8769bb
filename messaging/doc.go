// Package messaging provides the moving parts behind the gateway client.
//
// This package implements:
//   - Transport, Sender, Receiver, Delivery: the narrow broker contract every transport satisfies
//   - Codec: JSON payload encoding, with a generic Decode helper
//   - EnvelopeFactory: fresh ids, trace-derived correlation ids, fixed application properties
//   - SenderPool / ProcessorPool: one handle per destination, created exactly once under races
//   - ProcessorHandle: a semaphore-bounded receive loop and a per-destination dispatch table
//   - Pipeline / AckController: decode, dispatch and exactly one terminal outcome per message
//   - Interceptors: an optional chain around each handler call (see package interceptors)
//
// Key features:
//   - Manual settlement only; decode failures dead-letter, handler failures abandon
//   - Handlers are never interrupted by stop; shutdown waits are bounded by the caller
//   - Lock renewal for transports that support it, bounded by MaxLockRenewal
//   - No retries: redelivery of abandoned messages belongs to the broker
//
// Example usage:
//
//	pool := messaging.NewProcessorPool(transport)
//	handle, err := pool.GetOrCreate(ctx, "payments", nil)
//	if err != nil {
//		return err
//	}
//	reg := messaging.TypedRegistration("", func(ctx context.Context, p contracts.PaymentProcessed) error {
//		return ledger.Apply(ctx, p)
//	})
//	if err := handle.Register(reg); err != nil {
//		return err
//	}
//	err = handle.Start(ctx)
package messaging
