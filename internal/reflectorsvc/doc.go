// Package reflectorsvc wires the classify/reflect/stats/platform/worker
// packages into a runnable reflector: it resolves the interface, picks a
// backend, sizes and pins a worker per RX queue, and exposes a lock-free
// stats snapshot (spec §4.7).
package reflectorsvc
