package platform_test

import (
	"context"
	"testing"

	"github.com/dantte-lp/reflector/internal/platform"
)

// runConformance exercises the invariant every Backend must satisfy (spec
// §8.1): every descriptor RecvBatch hands out is eventually passed to
// exactly one of ReleaseRejected or ReleaseSent, and the ones passed to
// ReleaseSent first went through SendBatch (as part of a batch whose length
// covers them).
func runConformance(t *testing.T, b platform.Backend, enqueue func(data []byte)) {
	t.Helper()

	cfg := &platform.Config{FrameSize: 128, FrameCount: 16, BatchSize: 8}
	if err := b.Init(context.Background(), cfg, 0); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer func() {
		if err := b.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error: %v", err)
		}
	}()

	frames := [][]byte{
		append([]byte("frame-one-"), make([]byte, 54)...),
		append([]byte("frame-two-"), make([]byte, 54)...),
		append([]byte("frame-three"), make([]byte, 53)...),
	}
	for _, f := range frames {
		enqueue(f)
	}

	out := make([]platform.FrameDesc, 8)
	n, err := b.RecvBatch(out)
	if err != nil {
		t.Fatalf("RecvBatch() error: %v", err)
	}
	if n != len(frames) {
		t.Fatalf("RecvBatch() returned %d, want %d", n, len(frames))
	}

	// Split: first frame "rejected", rest sent.
	rejected := out[:1]
	toSend := out[1:n]

	b.ReleaseRejected(rejected)

	sent, err := b.SendBatch(toSend)
	if err != nil {
		t.Fatalf("SendBatch() error: %v", err)
	}
	if sent != len(toSend) {
		t.Fatalf("SendBatch() sent %d, want %d", sent, len(toSend))
	}
	b.ReleaseSent(toSend)
}

func TestMockConformance(t *testing.T) {
	t.Parallel()

	m := platform.NewMock(16, 128)
	runConformance(t, m, m.Enqueue)

	if got := m.Released(); got != 3 {
		t.Errorf("Released() = %d, want 3 (1 rejected + 2 sent)", got)
	}
	if len(m.Sent) != 2 {
		t.Errorf("len(Sent) = %d, want 2", len(m.Sent))
	}
}

func TestMockRecvBatchEmptyIsCheap(t *testing.T) {
	t.Parallel()

	m := platform.NewMock(4, 128)
	if err := m.Init(context.Background(), &platform.Config{FrameSize: 128}, 0); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer func() { _ = m.Cleanup() }()

	out := make([]platform.FrameDesc, 8)
	n, err := m.RecvBatch(out)
	if err != nil {
		t.Fatalf("RecvBatch() error: %v", err)
	}
	if n != 0 {
		t.Fatalf("RecvBatch() on empty queue returned %d, want 0", n)
	}
}
