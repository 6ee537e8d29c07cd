// Package bpf implements the BSD packet-filter Backend (spec §4.5.3) over
// /dev/bpf*: device buffer negotiation, an installed classic-BPF filter
// program, aligned-record RX iteration, and a coalescing write-side buffer.
package bpf
