//go:build amd64

package reflect

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"

	"github.com/dantte-lp/reflector/internal/codec"
)

// hasSSE2 is checked once at process start. Every amd64 CPU Go supports has
// SSE2, so this is always true in practice; it is kept as a real runtime
// check (rather than assumed) so the fallback path stays reachable and
// testable without requiring an actual pre-SSE2 host.
var hasSSE2 = cpu.X86.HasSSE2

// swapMAC rewrites the 14-byte Ethernet header's destination and source MAC
// fields. On hardware with SSE2 this is logically a single 128-bit
// load/shuffle/store; written in Go it is a 12-byte copy through a stack
// temporary, same as the generic path, since Go cannot emit the SSE2
// shuffle op without cgo or a .s file (see DESIGN.md).
func swapMAC(frame []byte) {
	if hasSSE2 {
		swapMACWide(frame)
		return
	}
	swapMACNarrow(frame)
}

func swapMACWide(frame []byte) {
	var tmp [12]byte
	copy(tmp[:], frame[codec.EthDstOffset:codec.EthDstOffset+12])
	copy(frame[codec.EthDstOffset:codec.EthDstOffset+6], tmp[6:12])
	copy(frame[codec.EthSrcOffset:codec.EthSrcOffset+6], tmp[0:6])
}

func swapMACNarrow(frame []byte) {
	codec.SwapMAC(frame)
}

// swapIPv4Addrs rewrites the 8-byte source+destination IPv4 address block.
// On SSE2 hardware this is a single 64-bit shuffle; in Go it is the same
// 4-byte-pair exchange as the generic path.
func swapIPv4Addrs(frame []byte, ipOffset int) {
	codec.SwapIPv4Addrs(frame, ipOffset)
}

// swapUDPPorts exchanges the two 16-bit UDP ports as a 32-bit rotate-by-16.
func swapUDPPorts(frame []byte, udpOffset int) {
	ports := binary.BigEndian.Uint32(frame[udpOffset : udpOffset+4])
	rotated := ports<<16 | ports>>16
	binary.BigEndian.PutUint32(frame[udpOffset:udpOffset+4], rotated)
}
