//go:build linux

package worker

import "golang.org/x/sys/unix"

// pinCPU pins the calling OS thread to cpu via sched_setaffinity, mirroring
// the teacher's CPU-pinning idiom for per-queue threads.
func pinCPU(cpu int) error {
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
