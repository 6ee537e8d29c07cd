package classify_test

import (
	"encoding/binary"
	"testing"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/codec"
)

var localMAC = [6]byte{0x00, 0x01, 0x55, 0x17, 0x1e, 0x1b}
var peerOUI = [3]byte{0x00, 0xc0, 0x17}

func baseConfig() *classify.Config {
	return &classify.Config{
		MAC:        localMAC,
		ITOPort:    0x0f03,
		EnableVLAN: true,
		EnableIPv6: true,
		Filter:     classify.FilterAll,
	}
}

// -------------------------------------------------------------------------
// S1: untagged IPv4/UDP PROBEOT — accept.
// -------------------------------------------------------------------------

func TestClassify_S1_AcceptIPv4PROBEOT(t *testing.T) {
	t.Parallel()

	f := ipv4Frame(nil)
	res := classify.Classify(f, baseConfig())

	if res.Reason != classify.Accept {
		t.Fatalf("Reason = %v, want Accept", res.Reason)
	}
	if res.IPVer != 4 {
		t.Errorf("IPVer = %d, want 4", res.IPVer)
	}
	if res.IPOffset != codec.EthHeaderLen {
		t.Errorf("IPOffset = %d, want %d", res.IPOffset, codec.EthHeaderLen)
	}

	sig := f[res.UDPOffset+codec.UDPPayloadOffset+codec.SignatureOffset:]
	if got := classify.SignatureType(sig[:codec.SignatureLen]); got != classify.SigPROBEOT {
		t.Errorf("SignatureType = %v, want SigPROBEOT", got)
	}
}

// -------------------------------------------------------------------------
// S2: 802.1Q VLAN-tagged IPv4/UDP — accept when enabled, reject when not.
// -------------------------------------------------------------------------

func TestClassify_S2_VLANTagged(t *testing.T) {
	t.Parallel()

	f := vlanFrame(ipv4Frame(nil))

	cfg := baseConfig()
	res := classify.Classify(f, cfg)
	if res.Reason != classify.Accept {
		t.Fatalf("VLAN enabled: Reason = %v, want Accept", res.Reason)
	}
	if res.IPOffset != codec.EthHeaderLen+codec.VLANTagLen {
		t.Errorf("IPOffset = %d, want %d", res.IPOffset, codec.EthHeaderLen+codec.VLANTagLen)
	}

	cfg.EnableVLAN = false
	res = classify.Classify(f, cfg)
	if res.Reason != classify.RejectBadEtherType {
		t.Fatalf("VLAN disabled: Reason = %v, want RejectBadEtherType", res.Reason)
	}
}

// -------------------------------------------------------------------------
// S3: IPv6/UDP — accept when enabled, reject when not.
// -------------------------------------------------------------------------

func TestClassify_S3_IPv6(t *testing.T) {
	t.Parallel()

	f := ipv6Frame()

	cfg := baseConfig()
	res := classify.Classify(f, cfg)
	if res.Reason != classify.Accept {
		t.Fatalf("IPv6 enabled: Reason = %v, want Accept", res.Reason)
	}
	if res.IPVer != 6 {
		t.Errorf("IPVer = %d, want 6", res.IPVer)
	}

	cfg.EnableIPv6 = false
	res = classify.Classify(f, cfg)
	if res.Reason != classify.RejectBadEtherType {
		t.Fatalf("IPv6 disabled: Reason = %v, want RejectBadEtherType", res.Reason)
	}
}

// -------------------------------------------------------------------------
// Boundary / reject-path coverage
// -------------------------------------------------------------------------

func TestClassify_RejectReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  func() *classify.Config
		f    []byte
		want classify.Reason
	}{
		{
			name: "too short",
			cfg:  baseConfig,
			f:    make([]byte, 10),
			want: classify.RejectTooShort,
		},
		{
			name: "wrong destination MAC",
			cfg:  baseConfig,
			f: ipv4Frame(func(f []byte) {
				f[codec.EthDstOffset] = 0xFF
			}),
			want: classify.RejectBadMac,
		},
		{
			name: "OUI filter mismatch",
			cfg: func() *classify.Config {
				c := baseConfig()
				c.FilterOUI = true
				c.OUI = [3]byte{0xde, 0xad, 0xbe}
				return c
			},
			f:    ipv4Frame(nil),
			want: classify.RejectBadMac,
		},
		{
			name: "OUI filter match",
			cfg: func() *classify.Config {
				c := baseConfig()
				c.FilterOUI = true
				c.OUI = peerOUI
				return c
			},
			f:    ipv4Frame(nil),
			want: classify.Accept,
		},
		{
			name: "unknown ethertype",
			cfg:  baseConfig,
			f: ipv4Frame(func(f []byte) {
				binary.BigEndian.PutUint16(f[codec.EthTypeOffset:], 0x1234)
			}),
			want: classify.RejectBadEtherType,
		},
		{
			name: "IPv4 IHL < 5",
			cfg:  baseConfig,
			f: ipv4Frame(func(f []byte) {
				f[codec.EthHeaderLen+codec.IPv4VerIHLOffset] = 0x43 // version 4, IHL 3
			}),
			want: classify.RejectBadProtocol,
		},
		{
			name: "IPv4 wrong version",
			cfg:  baseConfig,
			f: ipv4Frame(func(f []byte) {
				f[codec.EthHeaderLen+codec.IPv4VerIHLOffset] = 0x55 // version 5, IHL 5
			}),
			want: classify.RejectBadProtocol,
		},
		{
			name: "non-UDP transport",
			cfg:  baseConfig,
			f: ipv4Frame(func(f []byte) {
				f[codec.EthHeaderLen+codec.IPv4ProtoOffset] = 6 // TCP
			}),
			want: classify.RejectBadProtocol,
		},
		{
			name: "destination port mismatch",
			cfg:  baseConfig,
			f: ipv4Frame(func(f []byte) {
				udp := f[codec.EthHeaderLen+codec.IPv4MinHeaderLen:]
				binary.BigEndian.PutUint16(udp[codec.UDPDstPortOffset:], 0x1234)
			}),
			want: classify.RejectBadProtocol,
		},
		{
			name: "ito_port == 0 disables port filter",
			cfg: func() *classify.Config {
				c := baseConfig()
				c.ITOPort = 0
				return c
			},
			f: ipv4Frame(func(f []byte) {
				udp := f[codec.EthHeaderLen+codec.IPv4MinHeaderLen:]
				binary.BigEndian.PutUint16(udp[codec.UDPDstPortOffset:], 0x1234)
			}),
			want: classify.Accept,
		},
		{
			name: "unknown signature",
			cfg:  baseConfig,
			f: ipv4Frame(func(f []byte) {
				udp := f[codec.EthHeaderLen+codec.IPv4MinHeaderLen:]
				copy(udp[codec.UDPPayloadOffset+codec.SignatureOffset:], []byte("BOGUSXX"))
			}),
			want: classify.RejectBadSignature,
		},
		{
			name: "frame truncated before signature",
			cfg:  baseConfig,
			f:    ipv4Frame(nil)[:codec.EthHeaderLen+codec.IPv4MinHeaderLen+codec.UDPHeaderLen+3],
			want: classify.RejectTooShort,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := classify.Classify(tc.f, tc.cfg())
			if res.Reason != tc.want {
				t.Fatalf("Reason = %v, want %v", res.Reason, tc.want)
			}
		})
	}
}

func TestSignatureFilterKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filter classify.FilterKind
		sig    string
		accept bool
	}{
		{classify.FilterITO, "PROBEOT", true},
		{classify.FilterITO, "DATA:OT", true},
		{classify.FilterITO, "LATENCY", true},
		{classify.FilterITO, "RFC2544", false},
		{classify.FilterRFC2544, "RFC2544", true},
		{classify.FilterRFC2544, "PROBEOT", false},
		{classify.FilterY1564, "Y.1564 ", true},
		{classify.FilterY1564, "RFC2544", false},
		{classify.FilterCustom, "RFC2544", true},
		{classify.FilterCustom, "Y.1564 ", true},
		{classify.FilterCustom, "PROBEOT", false},
		{classify.FilterAll, "PROBEOT", true},
		{classify.FilterAll, "Y.1564 ", true},
	}

	for _, tc := range tests {
		t.Run(tc.filter.String()+"/"+tc.sig, func(t *testing.T) {
			t.Parallel()

			cfg := baseConfig()
			cfg.Filter = tc.filter

			f := ipv4Frame(func(f []byte) {
				udp := f[codec.EthHeaderLen+codec.IPv4MinHeaderLen:]
				copy(udp[codec.UDPPayloadOffset+codec.SignatureOffset:], []byte(tc.sig))
			})

			res := classify.Classify(f, cfg)
			gotAccept := res.Reason == classify.Accept
			if gotAccept != tc.accept {
				t.Fatalf("Classify() accept = %v, want %v (reason %v)", gotAccept, tc.accept, res.Reason)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Fixtures
// -------------------------------------------------------------------------

func ipv4Frame(mutate func([]byte)) []byte {
	f := make([]byte, 64)

	copy(f[codec.EthDstOffset:], localMAC[:])
	copy(f[codec.EthSrcOffset:], []byte{peerOUI[0], peerOUI[1], peerOUI[2], 0x54, 0x05, 0x98})
	binary.BigEndian.PutUint16(f[codec.EthTypeOffset:], codec.EtherTypeIPv4)

	ip := f[codec.EthHeaderLen:]
	ip[codec.IPv4VerIHLOffset] = 0x45
	ip[codec.IPv4ProtoOffset] = codec.ProtoUDP
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

func vlanFrame(base []byte) []byte {
	out := make([]byte, len(base)+codec.VLANTagLen)
	copy(out, base[:codec.EthHeaderLen-2])
	binary.BigEndian.PutUint16(out[codec.EthTypeOffset:], codec.EtherTypeVLAN)
	binary.BigEndian.PutUint16(out[14:], 0x0064)
	binary.BigEndian.PutUint16(out[16:], codec.EtherTypeIPv4)
	copy(out[18:], base[codec.EthHeaderLen:])
	return out
}

func ipv6Frame() []byte {
	f := make([]byte, 14+40+8+5+7)

	copy(f[codec.EthDstOffset:], localMAC[:])
	copy(f[codec.EthSrcOffset:], []byte{peerOUI[0], peerOUI[1], peerOUI[2], 0x54, 0x05, 0x98})
	binary.BigEndian.PutUint16(f[codec.EthTypeOffset:], codec.EtherTypeIPv6)

	ip6 := f[codec.EthHeaderLen:]
	ip6[0] = 0x60
	ip6[codec.IPv6NextHdrOffset] = codec.ProtoUDP
	ip6[7] = 64
	copy(ip6[codec.IPv6SrcOffset:], make16(0x20, 0x01))
	copy(ip6[codec.IPv6DstOffset:], make16(0x20, 0x02))

	udp := f[codec.EthHeaderLen+codec.IPv6HeaderLen:]
	binary.BigEndian.PutUint16(udp[codec.UDPSrcPortOffset:], 0x0f02)
	binary.BigEndian.PutUint16(udp[codec.UDPDstPortOffset:], 0x0f03)
	binary.BigEndian.PutUint16(udp[codec.UDPLengthOffset:], 15)
	copy(udp[codec.UDPPayloadOffset+codec.SignatureOffset:], []byte("PROBEOT"))

	return f
}

func make16(a, b byte) []byte {
	addr := make([]byte, 16)
	addr[0], addr[1] = a, b
	addr[15] = 1
	return addr
}
