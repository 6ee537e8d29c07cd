// Package platform defines the Backend trait (spec §4.5) that every
// dataplane I/O implementation satisfies: kernel-bypass AF_XDP
// (internal/platform/xdp), mmap'd PACKET_MMAP (internal/platform/ring), the
// BSD packet-filter device (internal/platform/bpf), and an in-memory Mock
// used by tests.
//
// Every descriptor RecvBatch returns is released exactly once, through
// either ReleaseRejected or ReleaseSent; the ones passed to ReleaseSent went
// through SendBatch (as part of a batch) first.
package platform
