// Package interceptors wraps handler invocation with cross-cutting concerns.
//
// A chain runs after the payload was decoded and before the registered
// handler is called. The chain's error decides the outcome:
//   - nil completes the message
//   - a ShortCircuitError completes the message without the handler
//   - any other error abandons the message
//
// Built-in interceptors:
//   - LoggingInterceptor: logs each invocation with timing information
//   - TimeoutInterceptor: bounds the handler's context
//   - TracingInterceptor: runs the handler inside an OpenTelemetry consumer span
//   - FilteringInterceptor: skips messages rejected by a MessageFilter
//   - ConditionalInterceptor: applies another interceptor to matching messages
//   - ShortCircuitInterceptor: ends the chain when an evaluator says so
//   - DuplicateDetectionInterceptor: completes redelivered, already processed messages
//
// Example usage:
//
//	chain := interceptors.NewInterceptorChain(
//		interceptors.NewLoggingInterceptor(logger),
//		interceptors.NewFilteringInterceptor(
//			interceptors.NewEventTypeFilter("OrderCreated"), interceptors.SkipWithLog),
//		interceptors.NewTimeoutInterceptor(30*time.Second),
//	)
//	client, err := busgate.New(transport, busgate.WithInterceptors(chain))
package interceptors
