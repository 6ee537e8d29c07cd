package classify

import (
	"encoding/binary"

	"github.com/dantte-lp/reflector/internal/codec"
)

// Coarse minimum-frame-length thresholds per candidate layout (spec §4.2
// step 1). These are a fast, structure-agnostic pre-check; the precise
// "enough bytes for vendor prefix + signature" check (step 8) runs again
// once the actual header chain is known.
const (
	MinFrameIPv4     = 54
	MinFrameIPv4VLAN = 58
	MinFrameIPv6     = 69
)

// Reason is the outcome of Classify. Unlike an error, it costs nothing to
// return by value and carries no allocation, so the hot path can call
// Classify once per received frame without pressure on the allocator.
type Reason uint8

const (
	// Accept means the frame passed every check and should be reflected.
	Accept Reason = iota
	RejectTooShort
	RejectBadMac
	RejectBadEtherType
	RejectBadProtocol
	RejectBadSignature
)

// String names a Reason for logging and metrics labels.
func (r Reason) String() string {
	switch r {
	case Accept:
		return "accept"
	case RejectTooShort:
		return "too_short"
	case RejectBadMac:
		return "bad_mac"
	case RejectBadEtherType:
		return "bad_ethertype"
	case RejectBadProtocol:
		return "bad_protocol"
	case RejectBadSignature:
		return "bad_signature"
	default:
		return "unknown"
	}
}

// SigType identifies which of the five known signatures a frame carries.
// It is used only for counter bucketing (spec §4.2): it is never consulted
// to make an accept/reject decision, that is Classify's job alone.
type SigType uint8

const (
	SigUnknown SigType = iota
	SigPROBEOT
	SigDataOT
	SigLatency
	SigRFC2544
	SigY1564
)

func (s SigType) String() string {
	switch s {
	case SigPROBEOT:
		return "PROBEOT"
	case SigDataOT:
		return "DATA:OT"
	case SigLatency:
		return "LATENCY"
	case SigRFC2544:
		return "RFC2544"
	case SigY1564:
		return "Y.1564"
	default:
		return "unknown"
	}
}

// The seven-byte signatures, bytewise ASCII, per spec §3 and §6.1.
var (
	sigPROBEOT = [7]byte{'P', 'R', 'O', 'B', 'E', 'O', 'T'}
	sigDataOT  = [7]byte{'D', 'A', 'T', 'A', ':', 'O', 'T'}
	sigLatency = [7]byte{'L', 'A', 'T', 'E', 'N', 'C', 'Y'}
	sigRFC2544 = [7]byte{'R', 'F', 'C', '2', '5', '4', '4'}
	sigY1564   = [7]byte{'Y', '.', '1', '5', '6', '4', ' '}
)

// FilterKind selects which signature set a Config accepts (spec §4.2 table).
type FilterKind uint8

const (
	FilterAll FilterKind = iota
	FilterITO
	FilterRFC2544
	FilterY1564
	FilterCustom
)

var filterNames = [...]string{"all", "ito", "rfc2544", "y1564", "custom"}

// String names a FilterKind using the filter.signature config spelling.
func (f FilterKind) String() string {
	if int(f) < len(filterNames) {
		return filterNames[f]
	}
	return "unknown"
}

// Config is the subset of the reflector configuration that Classify reads.
// It is shared-immutable across all workers once the reflector starts.
type Config struct {
	MAC        [6]byte
	FilterOUI  bool
	OUI        [3]byte
	ITOPort    uint16 // 0 disables the destination-port check
	EnableVLAN bool
	EnableIPv6 bool
	Filter     FilterKind
}

// Result is the outcome of Classify: the accept/reject Reason plus, on
// Accept, the header offsets the caller needs to reflect the frame without
// re-walking the Ethernet/IP/UDP chain.
type Result struct {
	Reason    Reason
	IPOffset  int
	UDPOffset int
	IPVer     int
}

// Classify decides whether frame is a reflectable test packet under cfg.
// It never allocates and never panics; every reject is a plain Reason
// value representing a distinct counter bucket.
//
// Validation follows spec §4.2's short-circuit order exactly; the common
// case (every check passes) is the straight-line path with no reject
// branch taken, and each reject returns as soon as its check fails.
func Classify(frame []byte, cfg *Config) Result {
	if len(frame) < MinFrameIPv4 {
		return Result{Reason: RejectTooShort}
	}

	if !macEqual(frame[codec.EthDstOffset:codec.EthDstOffset+6], cfg.MAC) {
		return Result{Reason: RejectBadMac}
	}

	if cfg.FilterOUI && !ouiEqual(frame[codec.EthSrcOffset:codec.EthSrcOffset+3], cfg.OUI) {
		return Result{Reason: RejectBadMac}
	}

	etherType := binary.BigEndian.Uint16(frame[codec.EthTypeOffset:])
	ipOffset := codec.EthHeaderLen

	if etherType == codec.EtherTypeVLAN || etherType == codec.EtherTypeVLANAd {
		if !cfg.EnableVLAN {
			return Result{Reason: RejectBadEtherType}
		}
		if len(frame) < MinFrameIPv4VLAN {
			return Result{Reason: RejectTooShort}
		}
		ipOffset = codec.EthHeaderLen + codec.VLANTagLen
		etherType = binary.BigEndian.Uint16(frame[codec.VLANInnerEtherTypeOffset:])
	}

	switch etherType {
	case codec.EtherTypeIPv4:
		return classifyIPv4(frame, ipOffset, cfg)
	case codec.EtherTypeIPv6:
		if !cfg.EnableIPv6 {
			return Result{Reason: RejectBadEtherType}
		}
		return classifyIPv6(frame, ipOffset, cfg)
	default:
		return Result{Reason: RejectBadEtherType}
	}
}

func classifyIPv4(frame []byte, ipOffset int, cfg *Config) Result {
	if len(frame) < ipOffset+codec.IPv4MinHeaderLen {
		return Result{Reason: RejectTooShort}
	}

	verIHL := frame[ipOffset+codec.IPv4VerIHLOffset]
	version := verIHL >> 4
	ihl := int(verIHL & 0x0F)
	if version != 4 || ihl < 5 {
		return Result{Reason: RejectBadProtocol}
	}

	udpOffset := ipOffset + ihl*4
	if len(frame) < udpOffset+codec.UDPHeaderLen {
		return Result{Reason: RejectTooShort}
	}

	if frame[ipOffset+codec.IPv4ProtoOffset] != codec.ProtoUDP {
		return Result{Reason: RejectBadProtocol}
	}

	return finishClassify(frame, ipOffset, udpOffset, 4, cfg)
}

func classifyIPv6(frame []byte, ipOffset int, cfg *Config) Result {
	if len(frame) < ipOffset+codec.IPv6HeaderLen {
		return Result{Reason: RejectTooShort}
	}

	udpOffset := ipOffset + codec.IPv6HeaderLen
	if len(frame) < udpOffset+codec.UDPHeaderLen {
		return Result{Reason: RejectTooShort}
	}

	if frame[ipOffset+codec.IPv6NextHdrOffset] != codec.ProtoUDP {
		return Result{Reason: RejectBadProtocol}
	}

	return finishClassify(frame, ipOffset, udpOffset, 6, cfg)
}

// finishClassify applies the UDP-port filter, the vendor-prefix/signature
// length check, and the signature-filter match (spec §4.2 steps 7-9).
func finishClassify(frame []byte, ipOffset, udpOffset, ipVer int, cfg *Config) Result {
	if cfg.ITOPort != 0 {
		dstPort := binary.BigEndian.Uint16(frame[udpOffset+codec.UDPDstPortOffset:])
		if dstPort != cfg.ITOPort {
			return Result{Reason: RejectBadProtocol}
		}
	}

	sigStart := udpOffset + codec.UDPPayloadOffset + codec.SignatureOffset
	if len(frame) < sigStart+codec.SignatureLen {
		return Result{Reason: RejectTooShort}
	}

	sig := frame[sigStart : sigStart+codec.SignatureLen]
	if !signatureAccepted(sig, cfg.Filter) {
		return Result{Reason: RejectBadSignature}
	}

	return Result{Reason: Accept, IPOffset: ipOffset, UDPOffset: udpOffset, IPVer: ipVer}
}

// signatureAccepted reports whether sig is a member of the signature set
// accepted by filter, per the spec §4.2 table. Match order follows the
// table's listed order; the first hit wins (matters only for documentation
// purposes since the five signatures are pairwise distinct).
func signatureAccepted(sig []byte, filter FilterKind) bool {
	switch filter {
	case FilterAll:
		return sigEqual(sig, sigPROBEOT) || sigEqual(sig, sigDataOT) || sigEqual(sig, sigLatency) ||
			sigEqual(sig, sigRFC2544) || sigEqual(sig, sigY1564)
	case FilterITO:
		return sigEqual(sig, sigPROBEOT) || sigEqual(sig, sigDataOT) || sigEqual(sig, sigLatency)
	case FilterRFC2544:
		return sigEqual(sig, sigRFC2544)
	case FilterY1564:
		return sigEqual(sig, sigY1564)
	case FilterCustom:
		return sigEqual(sig, sigRFC2544) || sigEqual(sig, sigY1564)
	default:
		return false
	}
}

// SignatureType identifies which of the five known signatures sig carries,
// or SigUnknown. sig must be exactly codec.SignatureLen bytes; callers pass
// the slice located at Result.UDPOffset + codec.UDPPayloadOffset +
// codec.SignatureOffset.
func SignatureType(sig []byte) SigType {
	switch {
	case sigEqual(sig, sigPROBEOT):
		return SigPROBEOT
	case sigEqual(sig, sigDataOT):
		return SigDataOT
	case sigEqual(sig, sigLatency):
		return SigLatency
	case sigEqual(sig, sigRFC2544):
		return SigRFC2544
	case sigEqual(sig, sigY1564):
		return SigY1564
	default:
		return SigUnknown
	}
}

func macEqual(got []byte, want [6]byte) bool {
	for i := 0; i < 6; i++ {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func ouiEqual(got []byte, want [3]byte) bool {
	return got[0] == want[0] && got[1] == want[1] && got[2] == want[2]
}

func sigEqual(got []byte, want [7]byte) bool {
	if len(got) != 7 {
		return false
	}
	for i := 0; i < 7; i++ {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
