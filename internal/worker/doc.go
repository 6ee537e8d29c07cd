// Package worker implements the dataplane worker loop (spec §4.6): one
// goroutine pinned to one OS thread and, where configured, one CPU, driving
// a single RX queue through recv/classify/reflect/send/release each
// iteration until its context is canceled.
package worker
