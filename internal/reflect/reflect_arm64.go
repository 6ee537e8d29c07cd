//go:build arm64

package reflect

import (
	"encoding/binary"

	"github.com/dantte-lp/reflector/internal/codec"
)

// swapMAC rewrites the 14-byte Ethernet header's destination and source MAC
// fields. NEON is assumed present on every arm64 target (spec §4.3); the
// equivalent vtbl-shuffle has no portable pure-Go expression, so this does
// the same 12-byte stack-temporary copy as the generic path (see
// DESIGN.md).
func swapMAC(frame []byte) {
	codec.SwapMAC(frame)
}

// swapIPv4Addrs rewrites the 8-byte source+destination IPv4 address block.
func swapIPv4Addrs(frame []byte, ipOffset int) {
	codec.SwapIPv4Addrs(frame, ipOffset)
}

// swapUDPPorts exchanges the two 16-bit UDP ports as a 32-bit rotate-by-16.
func swapUDPPorts(frame []byte, udpOffset int) {
	ports := binary.BigEndian.Uint32(frame[udpOffset : udpOffset+4])
	rotated := ports<<16 | ports>>16
	binary.BigEndian.PutUint32(frame[udpOffset:udpOffset+4], rotated)
}
