package codec_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dantte-lp/reflector/internal/codec"
)

// -------------------------------------------------------------------------
// TestParse
// -------------------------------------------------------------------------

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		frame      []byte
		enableVLAN bool
		enableIPv6 bool
		wantErr    error
		wantVer    int
		wantUDPOff int
	}{
		{
			name:    "too short for ethernet header",
			frame:   make([]byte, 10),
			wantErr: codec.ErrTooShort,
		},
		{
			name:       "untagged ipv4 udp",
			frame:      ipv4UDPFrame(nil),
			enableVLAN: false,
			enableIPv6: false,
			wantVer:    4,
			wantUDPOff: codec.EthHeaderLen + codec.IPv4MinHeaderLen,
		},
		{
			name:       "vlan tagged but disabled",
			frame:      vlanTaggedFrame(ipv4UDPFrame(nil)),
			enableVLAN: false,
			wantErr:    codec.ErrBadEtherType,
		},
		{
			name:       "vlan tagged and enabled",
			frame:      vlanTaggedFrame(ipv4UDPFrame(nil)),
			enableVLAN: true,
			wantVer:    4,
			wantUDPOff: codec.EthHeaderLen + codec.VLANTagLen + codec.IPv4MinHeaderLen,
		},
		{
			name:       "ipv6 disabled",
			frame:      ipv6UDPFrame(),
			enableIPv6: false,
			wantErr:    codec.ErrBadEtherType,
		},
		{
			name:       "ipv6 enabled",
			frame:      ipv6UDPFrame(),
			enableIPv6: true,
			wantVer:    6,
			wantUDPOff: codec.EthHeaderLen + codec.IPv6HeaderLen,
		},
		{
			name:    "bad ihl",
			frame:   ipv4UDPFrame(func(f []byte) { f[codec.EthHeaderLen] = 0x43 }), // IHL=3
			wantErr: codec.ErrBadIPVersion,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := codec.Parse(tc.frame, tc.enableVLAN, tc.enableIPv6)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Parse() err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if p.IPVer != tc.wantVer {
				t.Errorf("IPVer = %d, want %d", p.IPVer, tc.wantVer)
			}
			if p.UDPOffset != tc.wantUDPOff {
				t.Errorf("UDPOffset = %d, want %d", p.UDPOffset, tc.wantUDPOff)
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestSwapRoundTrip — swapping twice must restore the original bytes.
// -------------------------------------------------------------------------

func TestSwapRoundTrip(t *testing.T) {
	t.Parallel()

	frame := ipv4UDPFrame(nil)
	orig := append([]byte(nil), frame...)

	codec.SwapMAC(frame)
	codec.SwapIPv4Addrs(frame, codec.EthHeaderLen)
	codec.SwapUDPPorts(frame, codec.EthHeaderLen+codec.IPv4MinHeaderLen)

	codec.SwapMAC(frame)
	codec.SwapIPv4Addrs(frame, codec.EthHeaderLen)
	codec.SwapUDPPorts(frame, codec.EthHeaderLen+codec.IPv4MinHeaderLen)

	for i := range orig {
		if frame[i] != orig[i] {
			t.Fatalf("byte %d: got 0x%02x, want 0x%02x (round-trip mismatch)", i, frame[i], orig[i])
		}
	}
}

func TestSwapSingleExchange(t *testing.T) {
	t.Parallel()

	frame := ipv4UDPFrame(nil)
	wantDst := append([]byte(nil), frame[codec.EthSrcOffset:codec.EthSrcOffset+6]...)
	wantSrc := append([]byte(nil), frame[codec.EthDstOffset:codec.EthDstOffset+6]...)

	codec.SwapMAC(frame)

	if string(frame[codec.EthDstOffset:codec.EthDstOffset+6]) != string(wantDst) {
		t.Errorf("destination MAC not swapped correctly")
	}
	if string(frame[codec.EthSrcOffset:codec.EthSrcOffset+6]) != string(wantSrc) {
		t.Errorf("source MAC not swapped correctly")
	}
}

// -------------------------------------------------------------------------
// TestIPv4Checksum — verifies against an independently computed sum.
// -------------------------------------------------------------------------

func TestIPv4ChecksumVerifies(t *testing.T) {
	t.Parallel()

	frame := ipv4UDPFrame(nil)
	header := frame[codec.EthHeaderLen : codec.EthHeaderLen+codec.IPv4MinHeaderLen]

	binary.BigEndian.PutUint16(header[codec.IPv4ChecksumOffset:], 0)
	cks := codec.IPv4Checksum(header)
	binary.BigEndian.PutUint16(header[codec.IPv4ChecksumOffset:], cks)

	if got := fullOnesComplementSum(header); got != 0xFFFF {
		t.Errorf("header checksum does not verify: folded sum = 0x%04x, want 0xffff", got)
	}
}

func TestUDPChecksumNeverZero(t *testing.T) {
	t.Parallel()

	frame := ipv4UDPFrame(nil)
	ipHeader := frame[codec.EthHeaderLen : codec.EthHeaderLen+codec.IPv4MinHeaderLen]
	udpSeg := frame[codec.EthHeaderLen+codec.IPv4MinHeaderLen:]

	cks := codec.UDPChecksum(ipHeader, udpSeg)
	if cks == 0 {
		t.Errorf("UDPChecksum returned 0, want 0xffff substitution")
	}
}

func TestUDP6ChecksumNeverZero(t *testing.T) {
	t.Parallel()

	frame := ipv6UDPFrame()
	ipHeader := frame[codec.EthHeaderLen : codec.EthHeaderLen+codec.IPv6HeaderLen]
	udpSeg := frame[codec.EthHeaderLen+codec.IPv6HeaderLen:]

	cks := codec.UDP6Checksum(ipHeader, udpSeg)
	if cks == 0 {
		t.Fatalf("UDP6Checksum returned 0, which RFC 8200 forbids on the wire")
	}
}

// -------------------------------------------------------------------------
// Test fixtures
// -------------------------------------------------------------------------

// ipv4UDPFrame builds a minimal 64-byte Ethernet/IPv4/UDP frame carrying a
// PROBEOT signature, matching the S1 scenario in spec §8. mutate, if
// non-nil, is applied after the base frame is constructed.
func ipv4UDPFrame(mutate func([]byte)) []byte {
	f := make([]byte, 64)

	copy(f[codec.EthDstOffset:], []byte{0x00, 0x01, 0x55, 0x17, 0x1e, 0x1b})
	copy(f[codec.EthSrcOffset:], []byte{0x00, 0xc0, 0x17, 0x54, 0x05, 0x98})
	binary.BigEndian.PutUint16(f[codec.EthTypeOffset:], codec.EtherTypeIPv4)

	ip := f[codec.EthHeaderLen:]
	ip[0] = 0x45 // version 4, IHL 5
	ip[1] = 0x00
	binary.BigEndian.PutUint16(ip[2:], 0x0027) // total length
	binary.BigEndian.PutUint16(ip[4:], 0x0000) // id
	binary.BigEndian.PutUint16(ip[6:], 0x4000) // flags/frag
	ip[8] = 0x40                               // TTL
	ip[9] = codec.ProtoUDP
	copy(ip[codec.IPv4SrcOffset:], []byte{192, 168, 0, 10})
	copy(ip[codec.IPv4DstOffset:], []byte{192, 168, 0, 1})

	udp := f[codec.EthHeaderLen+codec.IPv4MinHeaderLen:]
	binary.BigEndian.PutUint16(udp[codec.UDPSrcPortOffset:], 0x0f02)
	binary.BigEndian.PutUint16(udp[codec.UDPDstPortOffset:], 0x0f03)
	binary.BigEndian.PutUint16(udp[codec.UDPLengthOffset:], 0x0013)

	copy(udp[codec.UDPPayloadOffset+codec.SignatureOffset:], []byte("PROBEOT"))

	if mutate != nil {
		mutate(f)
	}

	return f
}

// vlanTaggedFrame inserts a single 802.1Q tag into an existing untagged
// frame, shifting the IP header chain by VLANTagLen bytes.
func vlanTaggedFrame(base []byte) []byte {
	out := make([]byte, len(base)+codec.VLANTagLen)
	copy(out, base[:codec.EthHeaderLen-2])
	binary.BigEndian.PutUint16(out[codec.EthTypeOffset:], codec.EtherTypeVLAN)
	binary.BigEndian.PutUint16(out[14:], 0x0064) // VLAN tag (PCP/DEI/VID)
	binary.BigEndian.PutUint16(out[16:], codec.EtherTypeIPv4)
	copy(out[18:], base[codec.EthHeaderLen:])
	return out
}

// ipv6UDPFrame builds a minimal Ethernet/IPv6/UDP frame carrying a PROBEOT
// signature, per spec S3.
func ipv6UDPFrame() []byte {
	f := make([]byte, 14+40+8+5+7)

	copy(f[codec.EthDstOffset:], []byte{0x00, 0x01, 0x55, 0x17, 0x1e, 0x1b})
	copy(f[codec.EthSrcOffset:], []byte{0x00, 0xc0, 0x17, 0x54, 0x05, 0x98})
	binary.BigEndian.PutUint16(f[codec.EthTypeOffset:], codec.EtherTypeIPv6)

	ip6 := f[codec.EthHeaderLen:]
	ip6[0] = 0x60 // version 6
	binary.BigEndian.PutUint16(ip6[4:], 15)
	ip6[6] = codec.ProtoUDP
	ip6[7] = 64
	copy(ip6[codec.IPv6SrcOffset:], makeV6Addr(0x20, 0x01))
	copy(ip6[codec.IPv6DstOffset:], makeV6Addr(0x20, 0x02))

	udp := f[codec.EthHeaderLen+codec.IPv6HeaderLen:]
	binary.BigEndian.PutUint16(udp[codec.UDPSrcPortOffset:], 0x0f02)
	binary.BigEndian.PutUint16(udp[codec.UDPDstPortOffset:], 0x0f03)
	binary.BigEndian.PutUint16(udp[codec.UDPLengthOffset:], 15)
	copy(udp[codec.UDPPayloadOffset+codec.SignatureOffset:], []byte("PROBEOT"))

	return f
}

func makeV6Addr(a, b byte) []byte {
	addr := make([]byte, 16)
	addr[0], addr[1] = a, b
	addr[15] = 1
	return addr
}

// fullOnesComplementSum sums buf (including whatever value currently sits
// in the checksum field) as 16-bit words and folds it, independently of
// codec's own skip-the-field logic, as a cross-check that a correctly
// computed and installed checksum folds to all-ones.
func fullOnesComplementSum(buf []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(buf); i += 2 {
		sum += uint32(buf[i])<<8 | uint32(buf[i+1])
	}
	if len(buf)%2 == 1 {
		sum += uint32(buf[len(buf)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum)
}
