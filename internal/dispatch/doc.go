// Package dispatch implements the rate-limited bulk delivery core:
// a process-wide fixed-window pacing gate, an order-preserving batch
// partitioner, and a batch-sequential / intra-batch-concurrent
// dispatcher with cooperative cancellation and partial-failure
// tolerant result aggregation.
//
// The dispatcher never persists job state; a job lives for exactly one
// Run() call. Cancellation is checkpoint-based: it is honored at batch
// boundaries and inside the limiter-wait loop, but a delivery that has
// already acquired a token always runs to completion.
package dispatch
