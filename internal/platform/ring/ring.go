//go:build linux

package ring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/reflector/internal/platform"
)

// Version selects the PACKET_MMAP ring layout: block-level (TPACKET_V2) or
// frame-level (TPACKET_V3).
type Version int

const (
	// V2 is the block-level layout: the kernel fills a whole block, then
	// flips the block's status, and several packets share one block.
	V2 Version = iota
	// V3 is the frame-level layout: slots are flipped individually.
	V3
)

const (
	blockSize   = 1 << 20 // 1 MiB per block
	blockCount  = 64
	frameSize   = 2048
	frameCount  = blockSize * blockCount / frameSize
)

// Backend implements platform.Backend over a PACKET_MMAP RX ring (and,
// when available, a parallel TX ring), per spec §4.5.2.
type Backend struct {
	cfg     *platform.Config
	queue   int
	version Version

	fd int

	rxMap []byte
	txMap []byte

	rxSlot   int
	rxCount  int
	returned []bool // block/frame-level double-release guard
}

// Init opens a raw AF_PACKET socket for the interface, negotiates a
// TPACKET_V3 ring where the kernel supports it (falling back to V2),
// installs a classic-BPF filter encoding spec §4.2 steps 2/4/6, and applies
// the tunings spec §4.5.2 lists when the OS supports them.
func (b *Backend) Init(_ context.Context, cfg *platform.Config, queue int) error {
	b.cfg = cfg
	b.queue = queue

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(unix.ETH_P_ALL))
	if err != nil {
		return fmt.Errorf("ring: socket(AF_PACKET): %w", err)
	}
	b.fd = fd

	if err := b.bindInterface(); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("ring: bind to %s: %w", cfg.IfName, err)
	}

	b.version = V3
	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V3); err != nil {
		b.version = V2
		if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V2); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("ring: negotiate tpacket version: %w", err)
		}
	}

	if err := b.installFilter(cfg); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("ring: install BPF filter: %w", err)
	}

	b.applyTunings(cfg)

	if err := b.mmapRxRing(); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("ring: mmap rx ring: %w", err)
	}
	if err := b.mmapTxRing(); err != nil {
		// TX ring is an optimization; fall back to copying sends.
		b.txMap = nil
	}

	return nil
}

func (b *Backend) bindInterface() error {
	sll := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  b.cfg.IfIndex,
	}
	return unix.Bind(b.fd, &sll)
}

// installFilter assembles a classic-BPF program accepting only frames with
// the configured destination MAC, EtherType IPv4, and IP protocol UDP —
// the three structural checks from spec §4.2 steps 2/4/6 cheap enough to
// push into the kernel. Deeper checks (port, signature) still run in
// classify.Classify.
func (b *Backend) installFilter(cfg *platform.Config) error {
	mac := cfg.Filter.MAC
	prog, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: macHigh32(mac), SkipTrue: 7},
		bpf.LoadAbsolute{Off: 4, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(macLow16(mac)), SkipTrue: 5},
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: unix.ETH_P_IP, SkipTrue: 3},
		bpf.LoadAbsolute{Off: 23, Size: 1}, // IPv4 protocol field
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.IPPROTO_UDP, SkipFalse: 1},
		bpf.RetConstant{Val: 0xFFFF},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return fmt.Errorf("assemble filter: %w", err)
	}
	return setBPF(b.fd, prog)
}

func macHigh32(mac [6]byte) uint32 {
	return uint32(mac[0])<<24 | uint32(mac[1])<<16 | uint32(mac[2])<<8 | uint32(mac[3])
}

func macLow16(mac [6]byte) uint16 {
	return uint16(mac[4])<<8 | uint16(mac[5])
}

func setBPF(fd int, prog []bpf.RawInstruction) error {
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, toSockFprog(prog))
}

func toSockFprog(prog []bpf.RawInstruction) *unix.SockFprog {
	raw := make([]unix.SockFilter, len(prog))
	for i, ins := range prog {
		raw[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return &unix.SockFprog{
		//nolint:gosec // G115: filter programs are always well under 65535 instructions.
		Len:    uint16(len(raw)),
		Filter: &raw[0],
	}
}

// applyTunings sets the best-effort options spec §4.5.2 lists: qdisc
// bypass, busy-poll, a PACKET_FANOUT_HASH group, and an enlarged socket
// receive buffer. The fanout group ID is the interface index, and every
// socket with BatchSize > 0 joins it whatever the worker count. Every
// setsockopt here is allowed to fail silently — these are performance
// tunings, not correctness requirements.
func (b *Backend) applyTunings(cfg *platform.Config) {
	_ = unix.SetsockoptInt(b.fd, unix.SOL_PACKET, unix.PACKET_QDISC_BYPASS, 1)
	if cfg.BusyPoll {
		_ = unix.SetsockoptInt(b.fd, unix.SOL_SOCKET, unix.SO_BUSY_POLL, 20)
	}
	_ = unix.SetsockoptInt(b.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 8<<20)

	if cfg.BatchSize > 0 {
		fanoutID := cfg.IfIndex & 0xFFFF
		fanoutArg := fanoutID | (int(unix.PACKET_FANOUT_HASH) << 16)
		_ = unix.SetsockoptInt(b.fd, unix.SOL_PACKET, unix.PACKET_FANOUT, fanoutArg)
	}
}

func (b *Backend) mmapRxRing() error {
	req := packetReq(b.version)
	opt := unix.PACKET_RX_RING
	if err := setPacketReq(b.fd, opt, req); err != nil {
		return err
	}
	size := blockSize * blockCount
	mem, err := unix.Mmap(b.fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_LOCKED)
	if err != nil {
		return err
	}
	b.rxMap = mem
	b.returned = make([]bool, blockCount)
	return nil
}

func (b *Backend) mmapTxRing() error {
	req := packetReq(b.version)
	opt := unix.PACKET_TX_RING
	if err := setPacketReq(b.fd, opt, req); err != nil {
		return err
	}
	size := blockSize * blockCount
	mem, err := unix.Mmap(b.fd, int64(size), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	b.txMap = mem
	return nil
}

// packetRequest describes the struct tpacket_req3/tpacket_req layout
// setsockopt(PACKET_RX_RING/PACKET_TX_RING) expects. Both versions share
// the same four leading fields; V3 appends retire timeout, sizeof(priv),
// and feature flags.
type packetRequest struct {
	blockSize  uint32
	blockNr    uint32
	frameSize  uint32
	frameNr    uint32
	retireTOV3 uint32
	sizeofPriv uint32
	featureReq uint32
}

func packetReq(v Version) packetRequest {
	r := packetRequest{
		blockSize: blockSize,
		blockNr:   blockCount,
		frameSize: frameSize,
		frameNr:   blockSize * blockCount / frameSize,
	}
	if v == V3 {
		r.retireTOV3 = 100 // ms
	}
	return r
}

func setPacketReq(fd, opt int, req packetRequest) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(unix.SOL_PACKET),
		uintptr(opt), uintptr(unsafe.Pointer(&req)), unsafe.Sizeof(req), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Cleanup unmaps the RX/TX rings and closes the socket.
func (b *Backend) Cleanup() error {
	var errs []error
	if b.rxMap != nil {
		if err := unix.Munmap(b.rxMap); err != nil {
			errs = append(errs, fmt.Errorf("unmap rx ring: %w", err))
		}
	}
	if b.txMap != nil {
		if err := unix.Munmap(b.txMap); err != nil {
			errs = append(errs, fmt.Errorf("unmap tx ring: %w", err))
		}
	}
	if err := unix.Close(b.fd); err != nil {
		errs = append(errs, fmt.Errorf("close packet socket: %w", err))
	}
	return errors.Join(errs...)
}

// RecvBatch walks the current block (V2) or frame cursor (V3), exposing
// each packet's bytes as a FrameDesc pointing directly into rxMap. The
// caller must process every returned descriptor before the next
// RecvBatch, since the next kernel fill can overwrite the same slots.
func (b *Backend) RecvBatch(out []platform.FrameDesc) (int, error) {
	n := 0
	for n < len(out) {
		desc, slot, ok := b.nextFrame()
		if !ok {
			break
		}
		desc.Token = uint64(slot)
		out[n] = desc
		n++
	}
	return n, nil
}

func (b *Backend) nextFrame() (platform.FrameDesc, int, bool) {
	if b.rxSlot >= len(b.returned) {
		return platform.FrameDesc{}, 0, false
	}
	slotOff := b.rxSlot * blockSize
	status := (*uint32)(unsafe.Pointer(&b.rxMap[slotOff]))
	if atomic.LoadUint32(status)&unix.TP_STATUS_USER == 0 {
		return platform.FrameDesc{}, 0, false
	}

	const tpacketHdrLen = 48 // conservative tpacket2/3 header + sockaddr_ll
	length := *(*uint32)(unsafe.Pointer(&b.rxMap[slotOff+8]))
	bytes := b.rxMap[slotOff+tpacketHdrLen : slotOff+tpacketHdrLen+int(length)]

	slot := b.rxSlot
	b.rxSlot++
	if b.rxSlot >= len(b.returned) {
		b.rxSlot = 0
	}
	return platform.FrameDesc{Bytes: bytes}, slot, true
}

// SendBatch copies each descriptor's bytes into the TX ring (or, if no TX
// ring was allocated, issues a copying send(2) per descriptor) and kicks
// the kernel once per non-empty batch.
func (b *Backend) SendBatch(descs []platform.FrameDesc) (int, error) {
	sent := 0
	for _, d := range descs {
		var err error
		if b.txMap != nil {
			err = b.sendViaRing(d)
		} else {
			_, err = unix.Write(b.fd, d.Bytes)
		}
		if err != nil {
			break
		}
		sent++
	}
	if b.txMap != nil && sent > 0 {
		if err := unix.SetsockoptInt(b.fd, unix.SOL_PACKET, unix.PACKET_TX_RING, 0); err != nil {
			return sent, fmt.Errorf("ring: kick tx ring: %w", err)
		}
	}
	return sent, nil
}

func (b *Backend) sendViaRing(d platform.FrameDesc) error {
	slotOff := int(d.Token) % blockCount * blockSize
	const tpacketHdrLen = 48
	copy(b.txMap[slotOff+tpacketHdrLen:], d.Bytes)
	status := (*uint32)(unsafe.Pointer(&b.txMap[slotOff]))
	atomic.StoreUint32(status, unix.TP_STATUS_SEND_REQUEST)
	return nil
}

// ReleaseRejected returns the block/frame slot to kernel ownership
// immediately: a small bitmap (returned) guards against double-release
// when several descriptors in one batch shared a block (spec §4.5.2).
func (b *Backend) ReleaseRejected(descs []platform.FrameDesc) {
	b.release(descs)
}

// ReleaseSent returns TX-completed slots the same way as ReleaseRejected;
// the ring backend has no separate completion mechanism to delegate to.
func (b *Backend) ReleaseSent(descs []platform.FrameDesc) {
	b.release(descs)
}

func (b *Backend) release(descs []platform.FrameDesc) {
	for _, d := range descs {
		slot := int(d.Token)
		if slot < 0 || slot >= len(b.returned) || b.returned[slot] {
			continue
		}
		b.returned[slot] = true
		status := (*uint32)(unsafe.Pointer(&b.rxMap[slot*blockSize]))
		atomic.StoreUint32(status, unix.TP_STATUS_KERNEL)
		b.returned[slot] = false
	}
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
