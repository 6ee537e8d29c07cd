package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Wire layout constants
// -------------------------------------------------------------------------

// EthHeaderLen is the length of an untagged Ethernet header in bytes:
// 6 (destination MAC) + 6 (source MAC) + 2 (EtherType).
const EthHeaderLen = 14

// VLANTagLen is the length in bytes of a single 802.1Q/802.1ad VLAN tag
// inserted after the source MAC and before the (inner) EtherType.
const VLANTagLen = 4

// EthDstOffset and EthSrcOffset are the byte offsets of the destination
// and source MAC address fields in an Ethernet header.
const (
	EthDstOffset = 0
	EthSrcOffset = 6
	EthTypeOffset = 12
)

// VLANInnerEtherTypeOffset is the offset of the inner EtherType field when
// a single 802.1Q/802.1ad tag is present (EthHeaderLen-2 + VLANTagLen).
const VLANInnerEtherTypeOffset = 16

// EtherType values relevant to classification and parsing.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeIPv6 uint16 = 0x86DD
	EtherTypeVLAN uint16 = 0x8100 // 802.1Q
	EtherTypeVLANAd uint16 = 0x88A8 // 802.1ad (Q-in-Q single outer tag only)
)

// IPv4 header field offsets and lengths (RFC 791).
const (
	IPv4MinHeaderLen   = 20
	IPv4VerIHLOffset   = 0
	IPv4ChecksumOffset = 10
	IPv4ProtoOffset    = 9
	IPv4SrcOffset      = 12
	IPv4DstOffset      = 16
	IPv4AddrLen        = 4
)

// IPv6 header field offsets and lengths (RFC 8200).
const (
	IPv6HeaderLen      = 40
	IPv6NextHdrOffset  = 6
	IPv6SrcOffset      = 8
	IPv6DstOffset      = 24
	IPv6AddrLen        = 16
)

// UDP header field offsets and lengths (RFC 768).
const (
	UDPHeaderLen       = 8
	UDPSrcPortOffset   = 0
	UDPDstPortOffset   = 2
	UDPLengthOffset    = 4
	UDPChecksumOffset  = 6
	UDPPayloadOffset   = 8
)

// ProtoUDP is the IPv4/IPv6 next-header/protocol value for UDP.
const ProtoUDP uint8 = 17

// VendorPrefixLen and SignatureLen describe the ITO/custom test-frame
// payload layout: a 5-byte vendor prefix followed by a 7-byte signature,
// both measured from the start of the UDP payload.
const (
	VendorPrefixLen = 5
	SignatureLen    = 7
	SignatureOffset = VendorPrefixLen
)

// Errors returned by Parse. These describe structural failures only;
// classification-level rejects (wrong MAC, wrong port, ...) are reported
// by the classify package, not here.
var (
	ErrTooShort       = errors.New("codec: frame too short")
	ErrBadIPVersion   = errors.New("codec: unsupported or malformed IP version/IHL")
	ErrBadEtherType   = errors.New("codec: unrecognized EtherType")
)

// Parsed holds the fields a caller needs after walking the Ethernet/VLAN/IP
// header chain of a frame. It is not a wire structure — just a cursor into
// buf plus the decoded fields needed to classify and reflect the frame.
type Parsed struct {
	HasVLAN  bool
	IPOffset int // 14 (untagged) or 18 (single VLAN tag)
	IPVer    int // 4 or 6
	IHL      int // IPv4 header words (>=5); zero for IPv6
	Proto    uint8
	UDPOffset int
}

// Parse walks the Ethernet header of frame, following a single VLAN tag if
// present, and decodes just enough of the IPv4/IPv6 header to locate the
// UDP header. It never mutates frame and fails, without partial state,
// when a required slice would extend past the end of frame.
//
// enableVLAN and enableIPv6 gate whether VLAN-tagged or IPv6 frames are
// walked at all; when disabled, such frames return ErrBadEtherType exactly
// as the classifier would reject them, so callers that only need Parse's
// result can rely on the same error taxonomy as classify.Classify.
func Parse(frame []byte, enableVLAN, enableIPv6 bool) (Parsed, error) {
	var p Parsed

	if len(frame) < EthHeaderLen {
		return p, fmt.Errorf("ethernet header: %w", ErrTooShort)
	}

	etherType := binary.BigEndian.Uint16(frame[EthTypeOffset:])
	ipOffset := EthHeaderLen

	if etherType == EtherTypeVLAN || etherType == EtherTypeVLANAd {
		if !enableVLAN {
			return p, fmt.Errorf("VLAN tag present but disabled: %w", ErrBadEtherType)
		}
		if len(frame) < EthHeaderLen+VLANTagLen {
			return p, fmt.Errorf("VLAN tag: %w", ErrTooShort)
		}
		p.HasVLAN = true
		ipOffset = EthHeaderLen + VLANTagLen
		etherType = binary.BigEndian.Uint16(frame[VLANInnerEtherTypeOffset:])
	}

	p.IPOffset = ipOffset

	switch etherType {
	case EtherTypeIPv4:
		p.IPVer = 4
		if err := parseIPv4(frame, ipOffset, &p); err != nil {
			return Parsed{}, err
		}
	case EtherTypeIPv6:
		if !enableIPv6 {
			return p, fmt.Errorf("IPv6 frame but disabled: %w", ErrBadEtherType)
		}
		p.IPVer = 6
		if err := parseIPv6(frame, ipOffset, &p); err != nil {
			return Parsed{}, err
		}
	default:
		return p, fmt.Errorf("ethertype 0x%04x: %w", etherType, ErrBadEtherType)
	}

	return p, nil
}

func parseIPv4(frame []byte, ipOffset int, p *Parsed) error {
	if len(frame) < ipOffset+IPv4MinHeaderLen {
		return fmt.Errorf("IPv4 header: %w", ErrTooShort)
	}

	verIHL := frame[ipOffset+IPv4VerIHLOffset]
	version := int(verIHL >> 4)
	ihl := int(verIHL & 0x0F)

	if version != 4 || ihl < 5 {
		return fmt.Errorf("version=%d ihl=%d: %w", version, ihl, ErrBadIPVersion)
	}

	ipHeaderLen := ihl * 4
	if len(frame) < ipOffset+ipHeaderLen {
		return fmt.Errorf("IPv4 options: %w", ErrTooShort)
	}

	p.IHL = ihl
	p.Proto = frame[ipOffset+IPv4ProtoOffset]
	p.UDPOffset = ipOffset + ipHeaderLen

	return nil
}

func parseIPv6(frame []byte, ipOffset int, p *Parsed) error {
	if len(frame) < ipOffset+IPv6HeaderLen {
		return fmt.Errorf("IPv6 header: %w", ErrTooShort)
	}

	p.Proto = frame[ipOffset+IPv6NextHdrOffset]
	p.UDPOffset = ipOffset + IPv6HeaderLen

	return nil
}

// -------------------------------------------------------------------------
// In-place header swaps
// -------------------------------------------------------------------------

// SwapMAC exchanges the destination and source MAC address fields of an
// Ethernet header in place. frame must be at least EthHeaderLen bytes.
func SwapMAC(frame []byte) {
	var tmp [6]byte
	copy(tmp[:], frame[EthDstOffset:EthDstOffset+6])
	copy(frame[EthDstOffset:EthDstOffset+6], frame[EthSrcOffset:EthSrcOffset+6])
	copy(frame[EthSrcOffset:EthSrcOffset+6], tmp[:])
}

// SwapIPv4Addrs exchanges the source and destination IPv4 addresses in
// place. ipOffset is the start of the IPv4 header within frame.
func SwapIPv4Addrs(frame []byte, ipOffset int) {
	src := ipOffset + IPv4SrcOffset
	dst := ipOffset + IPv4DstOffset

	var tmp [IPv4AddrLen]byte
	copy(tmp[:], frame[src:src+IPv4AddrLen])
	copy(frame[src:src+IPv4AddrLen], frame[dst:dst+IPv4AddrLen])
	copy(frame[dst:dst+IPv4AddrLen], tmp[:])
}

// SwapIPv6Addrs exchanges the source and destination IPv6 addresses in
// place. ipOffset is the start of the IPv6 header within frame.
func SwapIPv6Addrs(frame []byte, ipOffset int) {
	src := ipOffset + IPv6SrcOffset
	dst := ipOffset + IPv6DstOffset

	var tmp [IPv6AddrLen]byte
	copy(tmp[:], frame[src:src+IPv6AddrLen])
	copy(frame[src:src+IPv6AddrLen], frame[dst:dst+IPv6AddrLen])
	copy(frame[dst:dst+IPv6AddrLen], tmp[:])
}

// SwapUDPPorts exchanges the source and destination UDP ports in place.
// udpOffset is the start of the UDP header within frame.
func SwapUDPPorts(frame []byte, udpOffset int) {
	src := udpOffset + UDPSrcPortOffset
	dst := udpOffset + UDPDstPortOffset

	var tmp [2]byte
	copy(tmp[:], frame[src:src+2])
	copy(frame[src:src+2], frame[dst:dst+2])
	copy(frame[dst:dst+2], tmp[:])
}

// -------------------------------------------------------------------------
// Checksums
// -------------------------------------------------------------------------

// IPv4Checksum computes the RFC 791 header checksum of header: the 16-bit
// one's complement of the one's-complement sum of the header, treating the
// existing checksum field (bytes 10-11) as zero for the purpose of the sum.
// It does not write the result back; callers clear the field and store the
// return value themselves (see reflect.Reflect).
func IPv4Checksum(header []byte) uint16 {
	sum := sumSkippingField(header, IPv4ChecksumOffset)
	return foldChecksum(sum)
}

// UDPChecksum computes the RFC 768 UDP checksum over udpSegment (header +
// payload) using the IPv4 pseudo-header derived from ipv4Header. The
// checksum field (udpSegment bytes 6-7) is treated as zero for the sum. A
// computed value of zero is emitted as 0xFFFF, since zero on the wire means
// "no checksum computed".
func UDPChecksum(ipv4Header, udpSegment []byte) uint16 {
	sum := pseudoHeaderSumV4(ipv4Header, len(udpSegment))
	sum += sumSkippingField(udpSegment, UDPChecksumOffset)

	cks := foldChecksum(sum)
	if cks == 0 {
		return 0xFFFF
	}
	return cks
}

// UDP6Checksum computes the RFC 8200 UDP checksum over udpSegment using the
// IPv6 pseudo-header derived from ipv6Header. Per RFC 8200, the UDP
// checksum is mandatory for IPv6 and is never transmitted as zero; a
// computed value of zero is emitted as 0xFFFF, matching UDPChecksum.
func UDP6Checksum(ipv6Header, udpSegment []byte) uint16 {
	sum := pseudoHeaderSumV6(ipv6Header, len(udpSegment))
	sum += sumSkippingField(udpSegment, UDPChecksumOffset)

	cks := foldChecksum(sum)
	if cks == 0 {
		return 0xFFFF
	}
	return cks
}

// pseudoHeaderSumV4 accumulates the RFC 768 IPv4 pseudo-header sum: source
// address, destination address, zero byte, protocol, and UDP length.
func pseudoHeaderSumV4(ipv4Header []byte, udpLen int) uint32 {
	var sum uint32

	sum += sum16(ipv4Header[IPv4SrcOffset:])
	sum += sum16(ipv4Header[IPv4SrcOffset+2:])
	sum += sum16(ipv4Header[IPv4DstOffset:])
	sum += sum16(ipv4Header[IPv4DstOffset+2:])
	sum += uint32(ProtoUDP)
	//nolint:gosec // udpLen is bounded by a 16-bit wire length field in all callers.
	sum += uint32(uint16(udpLen))

	return sum
}

// pseudoHeaderSumV6 accumulates the RFC 8200 IPv6 pseudo-header sum: source
// address, destination address, upper-layer packet length, zero padding,
// and next header value.
func pseudoHeaderSumV6(ipv6Header []byte, udpLen int) uint32 {
	var sum uint32

	src := ipv6Header[IPv6SrcOffset : IPv6SrcOffset+IPv6AddrLen]
	dst := ipv6Header[IPv6DstOffset : IPv6DstOffset+IPv6AddrLen]
	for i := 0; i < IPv6AddrLen; i += 2 {
		sum += sum16(src[i:])
		sum += sum16(dst[i:])
	}

	//nolint:gosec // udpLen is bounded by a 16-bit wire length field in all callers.
	sum += uint32(uint16(udpLen))
	sum += uint32(ProtoUDP)

	return sum
}

// sumSkippingField sums buf as 16-bit big-endian words, treating the 2
// bytes at fieldOffset as zero (the checksum field itself must not
// contribute to its own computation).
func sumSkippingField(buf []byte, fieldOffset int) uint32 {
	var sum uint32

	i := 0
	for ; i+1 < len(buf); i += 2 {
		if i == fieldOffset {
			continue
		}
		sum += uint32(buf[i])<<8 | uint32(buf[i+1])
	}

	if i < len(buf) {
		// Odd trailing byte: pad with a zero low byte.
		if i == fieldOffset {
			// The checksum field can't be the lone trailing byte in any
			// layout this package handles (it is always a full 16-bit
			// field well inside the buffer), but guard anyway.
		} else {
			sum += uint32(buf[i]) << 8
		}
	}

	return sum
}

// sum16 reads a big-endian uint16 at the start of buf and returns it widened
// to uint32 for accumulation.
func sum16(buf []byte) uint32 {
	return uint32(binary.BigEndian.Uint16(buf))
}

// foldChecksum folds a 32-bit accumulated sum down to the 16-bit one's
// complement checksum per RFC 791/RFC 768.
func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
