//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package bpf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/reflector/internal/platform"
)

// bufferSizes is the device buffer size ladder Init tries, largest first,
// per spec §4.5.3.
var bufferSizes = []int{1 << 20, 512 << 10, 256 << 10}

const coalesceMax = 64 << 10

// bpfWordAlign mirrors the BSD BPF_WORDALIGN macro: round up to the
// platform's BPF alignment unit (the size of a long).
const bpfWordAlign = int(unsafe.Sizeof(uintptr(0)))

func wordAlign(n int) int {
	return (n + bpfWordAlign - 1) &^ (bpfWordAlign - 1)
}

// Backend implements platform.Backend over a pair of /dev/bpf* device
// handles for one interface: one opened for reads, one for writes, so a
// blocking read on the RX handle never delays a transmit.
type Backend struct {
	cfg *platform.Config

	rxFile *os.File
	txFile *os.File

	bufLen int
	rxBuf  []byte

	kq int

	txCoalesce []byte
}

// Init opens two /dev/bpf* handles (the first free device for each),
// binds both to the interface, negotiates the largest accepted buffer
// size on the read handle, installs the classify filter, and configures
// batching-friendly device options (spec §4.5.3).
func (b *Backend) Init(_ context.Context, cfg *platform.Config, _ int) error {
	b.cfg = cfg

	rx, err := openDevice()
	if err != nil {
		return fmt.Errorf("bpf: open rx device: %w", err)
	}
	b.rxFile = rx

	tx, err := openDevice()
	if err != nil {
		_ = rx.Close()
		return fmt.Errorf("bpf: open tx device: %w", err)
	}
	b.txFile = tx

	if err := b.negotiateBuffer(); err != nil {
		b.closeAll()
		return fmt.Errorf("bpf: negotiate buffer size: %w", err)
	}

	if err := bindIf(int(b.rxFile.Fd()), cfg.IfName); err != nil {
		b.closeAll()
		return fmt.Errorf("bpf: bind rx to %s: %w", cfg.IfName, err)
	}
	if err := bindIf(int(b.txFile.Fd()), cfg.IfName); err != nil {
		b.closeAll()
		return fmt.Errorf("bpf: bind tx to %s: %w", cfg.IfName, err)
	}

	if err := setImmediate(int(b.rxFile.Fd()), 0); err != nil {
		b.closeAll()
		return fmt.Errorf("bpf: disable immediate mode: %w", err)
	}
	if err := setSeeSent(int(b.rxFile.Fd()), 0); err != nil {
		b.closeAll()
		return fmt.Errorf("bpf: disable see-sent: %w", err)
	}
	if cfg.PollTimeoutMS > 0 {
		if err := setReadTimeout(int(b.rxFile.Fd()), time.Duration(cfg.PollTimeoutMS)*time.Millisecond); err != nil {
			b.closeAll()
			return fmt.Errorf("bpf: set read timeout: %w", err)
		}
	}

	if err := b.installFilter(cfg); err != nil {
		b.closeAll()
		return fmt.Errorf("bpf: install filter: %w", err)
	}

	kq, err := unix.Kqueue()
	if err != nil {
		b.closeAll()
		return fmt.Errorf("bpf: kqueue: %w", err)
	}
	b.kq = kq
	if err := registerReadEvent(kq, int(b.rxFile.Fd())); err != nil {
		b.closeAll()
		return fmt.Errorf("bpf: register kqueue read event: %w", err)
	}

	b.rxBuf = make([]byte, b.bufLen)
	b.txCoalesce = make([]byte, 0, coalesceMax)

	return nil
}

func (b *Backend) closeAll() {
	if b.rxFile != nil {
		_ = b.rxFile.Close()
	}
	if b.txFile != nil {
		_ = b.txFile.Close()
	}
	if b.kq != 0 {
		_ = unix.Close(b.kq)
	}
}

// negotiateBuffer tries bufferSizes largest-first via BIOCSBLEN, keeping
// the first size the kernel accepts (spec §4.5.3).
func (b *Backend) negotiateBuffer() error {
	for _, size := range bufferSizes {
		if err := setBufLen(int(b.rxFile.Fd()), size); err == nil {
			b.bufLen = size
			return nil
		}
	}
	return fmt.Errorf("no accepted buffer size among %v", bufferSizes)
}

// installFilter assembles a classic-BPF program accepting only frames with
// the configured destination MAC, EtherType IPv4, and IP protocol UDP. The
// kernel filter does not look at the signature; signature and all deeper
// checks run in classify.Classify.
func (b *Backend) installFilter(cfg *platform.Config) error {
	mac := cfg.Filter.MAC
	prog, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: macHigh32(mac), SkipTrue: 7},
		bpf.LoadAbsolute{Off: 4, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(macLow16(mac)), SkipTrue: 5},
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: unix.ETHERTYPE_IP, SkipTrue: 3},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.IPPROTO_UDP, SkipFalse: 1},
		bpf.RetConstant{Val: 0xFFFF},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return fmt.Errorf("assemble filter: %w", err)
	}
	return setProgram(int(b.rxFile.Fd()), prog)
}

func macHigh32(mac [6]byte) uint32 {
	return uint32(mac[0])<<24 | uint32(mac[1])<<16 | uint32(mac[2])<<8 | uint32(mac[3])
}

func macLow16(mac [6]byte) uint16 {
	return uint16(mac[4])<<8 | uint16(mac[5])
}

// Cleanup closes both device handles and the kqueue.
func (b *Backend) Cleanup() error {
	var errs []error
	if err := b.rxFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close rx device: %w", err))
	}
	if err := b.txFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tx device: %w", err))
	}
	if err := unix.Close(b.kq); err != nil {
		errs = append(errs, fmt.Errorf("close kqueue: %w", err))
	}
	return errors.Join(errs...)
}

// RecvBatch waits on the kqueue up to the configured timeout, then reads
// one buffer's worth of variable-length, word-aligned records and exposes
// each as a FrameDesc pointing directly into rxBuf. Every descriptor must
// be processed before the next RecvBatch call, since that call overwrites
// rxBuf (spec §4.5.3); the worker loop's one-iteration-per-batch structure
// guarantees this.
func (b *Backend) RecvBatch(out []platform.FrameDesc) (int, error) {
	timeout := time.Duration(b.cfg.PollTimeoutMS) * time.Millisecond
	ready, err := waitReadable(b.kq, timeout)
	if err != nil {
		return 0, fmt.Errorf("bpf: kqueue wait: %w", err)
	}
	if !ready {
		return 0, nil
	}

	n, err := b.rxFile.Read(b.rxBuf)
	if err != nil {
		return 0, fmt.Errorf("bpf: read: %w", err)
	}

	return b.walkRecords(b.rxBuf[:n], out), nil
}

// walkRecords iterates the word-aligned bpf_hdr-prefixed records a single
// read fills rxBuf with, exposing each as a FrameDesc pointing directly
// into buf (spec §4.5.3).
func (b *Backend) walkRecords(buf []byte, out []platform.FrameDesc) int {
	n := 0
	off := 0
	for off+int(unix.SizeofBpfHdr) <= len(buf) && n < len(out) {
		hdr := (*unix.BpfHdr)(unsafe.Pointer(&buf[off]))
		capLen := int(hdr.Caplen)
		hdrLen := int(hdr.Hdrlen)
		if hdrLen == 0 || off+hdrLen+capLen > len(buf) {
			break
		}
		out[n] = platform.FrameDesc{Bytes: buf[off+hdrLen : off+hdrLen+capLen]}
		n++
		off = wordAlign(off + hdrLen + capLen)
	}
	return n
}

// SendBatch appends each descriptor to the coalescing buffer, flushing
// with a single write(2) once the buffer would exceed coalesceMax or after
// the whole batch has been queued (spec §4.5.3).
func (b *Backend) SendBatch(descs []platform.FrameDesc) (int, error) {
	sent := 0
	for _, d := range descs {
		if len(b.txCoalesce)+len(d.Bytes) > coalesceMax {
			if err := b.flushTX(); err != nil {
				return sent, err
			}
		}
		b.txCoalesce = append(b.txCoalesce, d.Bytes...)
		sent++
	}
	if err := b.flushTX(); err != nil {
		return sent, err
	}
	return sent, nil
}

func (b *Backend) flushTX() error {
	if len(b.txCoalesce) == 0 {
		return nil
	}
	if _, err := b.txFile.Write(b.txCoalesce); err != nil {
		return fmt.Errorf("bpf: write: %w", err)
	}
	b.txCoalesce = b.txCoalesce[:0]
	return nil
}

// ReleaseRejected and ReleaseSent are no-ops: the descriptors RecvBatch
// returns are views into rxBuf, which the next read overwrites, and
// SendBatch copies frames into the coalescing buffer, so there is no buffer
// pool token to return.
func (b *Backend) ReleaseRejected(_ []platform.FrameDesc) {}
func (b *Backend) ReleaseSent(_ []platform.FrameDesc)     {}
