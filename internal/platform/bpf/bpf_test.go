//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package bpf

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/reflector/internal/platform"
)

func TestWordAlign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{0, 0},
		{1, bpfWordAlign},
		{bpfWordAlign, bpfWordAlign},
		{bpfWordAlign + 1, 2 * bpfWordAlign},
	}
	for _, tt := range tests {
		if got := wordAlign(tt.in); got != tt.want {
			t.Errorf("wordAlign(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMacSplit(t *testing.T) {
	t.Parallel()

	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	if got, want := macHigh32(mac), uint32(0xAABBCCDD); got != want {
		t.Errorf("macHigh32 = 0x%08x, want 0x%08x", got, want)
	}
	if got, want := macLow16(mac), uint16(0xEEFF); got != want {
		t.Errorf("macLow16 = 0x%04x, want 0x%04x", got, want)
	}
}

// buildRecord writes one word-aligned bpf_hdr-prefixed record into buf at
// off, returning the offset of the next record.
func buildRecord(buf []byte, off int, payload []byte) int {
	hdr := (*unix.BpfHdr)(unsafe.Pointer(&buf[off]))
	*hdr = unix.BpfHdr{
		Caplen: uint32(len(payload)),
		Hdrlen: uint16(unix.SizeofBpfHdr),
	}
	copy(buf[off+int(unix.SizeofBpfHdr):], payload)
	return wordAlign(off + int(unix.SizeofBpfHdr) + len(payload))
}

func TestWalkRecordsMultiple(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 4096)
	p1 := []byte{1, 2, 3, 4, 5}
	p2 := []byte{9, 9}

	end := buildRecord(buf, 0, p1)
	end = buildRecord(buf, end, p2)

	b := &Backend{}
	out := make([]platform.FrameDesc, 4)
	n := b.walkRecords(buf[:end], out)

	if n != 2 {
		t.Fatalf("walkRecords returned %d records, want 2", n)
	}
	if string(out[0].Bytes) != string(p1) {
		t.Errorf("record 0 = %v, want %v", out[0].Bytes, p1)
	}
	if string(out[1].Bytes) != string(p2) {
		t.Errorf("record 1 = %v, want %v", out[1].Bytes, p2)
	}
}

func TestWalkRecordsStopsAtOutCapacity(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 4096)
	end := buildRecord(buf, 0, []byte{1})
	end = buildRecord(buf, end, []byte{2})

	b := &Backend{}
	out := make([]platform.FrameDesc, 1)
	n := b.walkRecords(buf[:end], out)

	if n != 1 {
		t.Fatalf("walkRecords returned %d records, want 1", n)
	}
}

func TestFlushTXEmptyBufferIsNoop(t *testing.T) {
	t.Parallel()

	// Only flushTX's empty-buffer short circuit is checked here; SendBatch
	// itself is not exercised, because a device-backed round trip needs a
	// real /dev/bpf handle.
	b := &Backend{txCoalesce: make([]byte, 0, coalesceMax)}
	if err := b.flushTX(); err != nil {
		t.Fatalf("flushTX on empty buffer: %v", err)
	}
}
