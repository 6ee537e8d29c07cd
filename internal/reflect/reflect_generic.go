//go:build !amd64 && !arm64

package reflect

import (
	"encoding/binary"

	"github.com/dantte-lp/reflector/internal/codec"
)

// swapMAC rewrites the Ethernet header's destination and source MAC fields
// using plain unaligned byte copies through a stack temporary.
func swapMAC(frame []byte) {
	codec.SwapMAC(frame)
}

func swapIPv4Addrs(frame []byte, ipOffset int) {
	codec.SwapIPv4Addrs(frame, ipOffset)
}

func swapUDPPorts(frame []byte, udpOffset int) {
	ports := binary.BigEndian.Uint32(frame[udpOffset : udpOffset+4])
	rotated := ports<<16 | ports>>16
	binary.BigEndian.PutUint32(frame[udpOffset:udpOffset+4], rotated)
}
