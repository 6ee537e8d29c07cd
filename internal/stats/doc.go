// Package stats implements the per-worker counter and latency-reservoir
// bookkeeping described in spec §4.4: a stack-local batch accumulated by a
// single worker and periodically flushed into that worker's own Counters,
// plus a lock-free Snapshot that merges every worker's Counters for
// reporting.
//
// Nothing here blocks or allocates on the hot path: Batch is a plain struct
// a worker keeps on its own goroutine stack, and Counters is a block of
// atomics written by exactly one worker and read by the snapshot walk.
package stats
