// Package xdp implements the kernel-bypass, zero-copy poll-mode Backend
// (spec §4.5.1) over AF_XDP: a shared UMEM region partitioned into
// fixed-size frames, bound to a NIC queue through FILL, RX, TX, and
// COMPLETION rings.
package xdp
