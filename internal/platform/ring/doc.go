// Package ring implements the memory-mapped kernel ring Backend (spec
// §4.5.2) over Linux PACKET_MMAP: an RX ring of fixed-size slots mapped
// read/write from the kernel, in either the block-level (TPACKET_V2) or
// frame-level (TPACKET_V3) layout, plus an optional TX ring and an
// installed classic-BPF filter that checks destination MAC, EtherType, and
// IP protocol (the signature is checked in software only).
package ring
