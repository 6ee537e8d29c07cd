package platform

import (
	"context"
	"errors"

	"github.com/dantte-lp/reflector/internal/classify"
)

// FrameDesc is a handle to one received frame's bytes, produced by
// RecvBatch and consumed by exactly one of SendBatch, ReleaseRejected, or
// ReleaseSent (spec §3 Frame descriptor). Bytes remains valid and
// exclusively owned by the worker until the descriptor is handed to one of
// those three calls; after that it must not be read or written.
type FrameDesc struct {
	Bytes []byte
	// Token is an opaque backend handle used to return the buffer: a UMEM
	// frame address, a ring slot index, or unused (zero) for backends
	// that copy on RecvBatch.
	Token uint64
	// RecvNS is the receive timestamp in nanoseconds since the Unix
	// epoch. None of this module's backends sets it, with or without
	// Config.MeasureLatency, so it stays zero and the worker records no
	// latency samples.
	RecvNS int64
}

// Config is the subset of the reflector configuration (spec §3) a Backend
// reads at Init. It is shared-read-only after Init returns.
type Config struct {
	IfName        string
	IfIndex       int
	FrameSize     int
	FrameCount    int
	BatchSize     int
	PollTimeoutMS int
	HugePages     bool
	BusyPoll      bool
	MeasureLatency bool

	// Filter mirrors classify.Config so a backend that installs an
	// in-kernel filter (spec §4.2 steps 2/4/6) can encode the same
	// accept criteria the software classifier applies.
	Filter classify.Config
}

// Backend is the uniform batched RX/TX/release interface implemented by
// each platform I/O mechanism (spec §4.5). queue identifies which RX queue
// this instance of the backend serves; implementations that need one-time,
// cross-queue setup gate it so only the first caller (queue 0) performs it.
type Backend interface {
	// Init prepares this backend instance to serve queue under cfg.
	Init(ctx context.Context, cfg *Config, queue int) error

	// Cleanup releases every resource Init acquired. Cleanup is called at
	// most once and only after the worker using this backend has stopped
	// calling the other methods.
	Cleanup() error

	// RecvBatch fills out with up to len(out) received frames and returns
	// the count filled. It is non-blocking beyond Config.PollTimeoutMS; a
	// zero return is cheap and holds no resources.
	RecvBatch(out []FrameDesc) (int, error)

	// SendBatch transmits descs and returns the number actually
	// transmitted, always a prefix of descs. The caller is responsible
	// for the untransmitted tail via ReleaseSent.
	SendBatch(descs []FrameDesc) (int, error)

	// ReleaseRejected returns rejected (never transmitted) descriptors to
	// the backend's buffer pool. This is the immediate-recycle path: each
	// descriptor here was never handed to SendBatch.
	ReleaseRejected(descs []FrameDesc)

	// ReleaseSent returns descriptors that were (or were attempted to be)
	// transmitted by SendBatch — both the transmitted prefix and the
	// untransmitted tail — to the backend's buffer pool. Backends that
	// recycle post-TX buffers via a separate completion mechanism treat
	// this call as a hint rather than an immediate recycle.
	ReleaseSent(descs []FrameDesc)
}

// ErrInitFailed names a backend Init failure. No backend in this module
// returns it: the xdp backend reports setup failures as xdp.ErrSocketFailed,
// and KindAuto falls back to the mmap ring backend on any xdp Init error
// (spec §4.7).
var ErrInitFailed = errors.New("platform: backend init failed")
