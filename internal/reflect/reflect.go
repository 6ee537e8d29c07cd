package reflect

import (
	"github.com/dantte-lp/reflector/internal/codec"
)

// Mode selects how much of the frame Reflect rewrites, from the Ethernet
// header outward.
type Mode uint8

const (
	// MACOnly swaps only the destination and source MAC addresses.
	MACOnly Mode = iota
	// MACPlusIP additionally swaps the source and destination IP addresses.
	MACPlusIP
	// MACPlusIPPlusUDP additionally swaps the source and destination UDP
	// ports.
	MACPlusIPPlusUDP
)

// Reflect rewrites frame in place into the reply for the frame it received,
// per the swap rules for mode (spec §4.3). ipVer, ipOffset, and udpOffset
// come from a prior classify.Result; callers never re-parse the frame.
//
// If frame is shorter than the headers the chosen mode touches, Reflect
// does nothing at all for that header and returns without touching later
// bytes: partial swaps are forbidden, so every swap up to the point of
// truncation has already happened and is never rolled back.
func Reflect(frame []byte, ipVer, ipOffset, udpOffset int, mode Mode, softwareChecksum bool) {
	if len(frame) < codec.EthHeaderLen {
		return
	}
	swapMAC(frame)

	if mode == MACOnly {
		return
	}

	switch ipVer {
	case 4:
		if len(frame) < ipOffset+codec.IPv4MinHeaderLen {
			return
		}
		swapIPv4Addrs(frame, ipOffset)
		if softwareChecksum {
			recomputeIPv4Checksum(frame, ipOffset)
		}
	case 6:
		if len(frame) < ipOffset+codec.IPv6HeaderLen {
			return
		}
		codec.SwapIPv6Addrs(frame, ipOffset)
	default:
		return
	}

	if mode == MACPlusIP {
		return
	}

	if len(frame) < udpOffset+codec.UDPHeaderLen {
		return
	}
	swapUDPPorts(frame, udpOffset)

	if !softwareChecksum {
		return
	}
	switch ipVer {
	case 4:
		recomputeUDPChecksum(frame, ipOffset, udpOffset)
	case 6:
		recomputeUDP6Checksum(frame, ipOffset, udpOffset)
	}
}

func recomputeIPv4Checksum(frame []byte, ipOffset int) {
	header := frame[ipOffset : ipOffset+codec.IPv4MinHeaderLen]
	header[codec.IPv4ChecksumOffset] = 0
	header[codec.IPv4ChecksumOffset+1] = 0
	cks := codec.IPv4Checksum(header)
	header[codec.IPv4ChecksumOffset] = byte(cks >> 8)
	header[codec.IPv4ChecksumOffset+1] = byte(cks)
}

func recomputeUDPChecksum(frame []byte, ipOffset, udpOffset int) {
	header := frame[ipOffset : ipOffset+codec.IPv4MinHeaderLen]
	udpSeg := frame[udpOffset:]
	udpSeg[codec.UDPChecksumOffset] = 0
	udpSeg[codec.UDPChecksumOffset+1] = 0
	cks := codec.UDPChecksum(header, udpSeg)
	udpSeg[codec.UDPChecksumOffset] = byte(cks >> 8)
	udpSeg[codec.UDPChecksumOffset+1] = byte(cks)
}

func recomputeUDP6Checksum(frame []byte, ipOffset, udpOffset int) {
	header := frame[ipOffset : ipOffset+codec.IPv6HeaderLen]
	udpSeg := frame[udpOffset:]
	udpSeg[codec.UDPChecksumOffset] = 0
	udpSeg[codec.UDPChecksumOffset+1] = 0
	cks := codec.UDP6Checksum(header, udpSeg)
	udpSeg[codec.UDPChecksumOffset] = byte(cks >> 8)
	udpSeg[codec.UDPChecksumOffset+1] = byte(cks)
}
