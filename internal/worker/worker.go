package worker

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/codec"
	"github.com/dantte-lp/reflector/internal/platform"
	"github.com/dantte-lp/reflector/internal/reflect"
	"github.com/dantte-lp/reflector/internal/stats"
)

// Config holds everything one Worker needs that the supervisor owns: the
// backend handle for this queue, the classify/reflect parameters, and the
// local-to-supervisor plumbing (queue id, CPU pin, counters, logger).
type Config struct {
	QueueID int
	CPUID   int // -1 disables affinity pinning

	Backend   platform.Backend
	BatchSize int

	Classify         classify.Config
	ReflectMode      reflect.Mode
	SoftwareChecksum bool
	MeasureLatency   bool

	Counters *stats.Counters
	Logger   *slog.Logger
}

// Worker drives one RX queue through recv/classify/reflect/send/release
// until its Run context is canceled (spec §4.6).
type Worker struct {
	cfg Config

	descs  []platform.FrameDesc
	reject []platform.FrameDesc
	txList []platform.FrameDesc
}

// New allocates the per-iteration scratch slices for one Worker. Batch
// size is fixed for the Worker's lifetime, matching the backend's
// RecvBatch contract.
func New(cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		descs:  make([]platform.FrameDesc, cfg.BatchSize),
		reject: make([]platform.FrameDesc, 0, cfg.BatchSize),
		txList: make([]platform.FrameDesc, 0, cfg.BatchSize),
	}
}

// Run pins the calling goroutine to its OS thread (and, if CPUID >= 0, to
// that CPU) and executes the worker loop until ctx is canceled. It is
// meant to be launched with `go w.Run(ctx)` by the supervisor, one call
// per RX queue.
func (w *Worker) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.cfg.CPUID >= 0 {
		if err := pinCPU(w.cfg.CPUID); err != nil {
			w.cfg.Logger.Warn("failed to pin worker to CPU",
				slog.Int("queue", w.cfg.QueueID),
				slog.Int("cpu", w.cfg.CPUID),
				slog.String("error", err.Error()),
			)
		}
	}

	w.cfg.Logger.Info("worker started",
		slog.Int("queue", w.cfg.QueueID),
		slog.Int("cpu", w.cfg.CPUID),
	)

	var batch stats.Batch

	for {
		select {
		case <-ctx.Done():
			batch.Flush(w.cfg.Counters)
			w.cfg.Logger.Info("worker stopped", slog.Int("queue", w.cfg.QueueID))
			return
		default:
		}

		w.runIteration(&batch)

		if batch.Tick() {
			batch.Flush(w.cfg.Counters)
		}

		select {
		case <-ctx.Done():
			batch.Flush(w.cfg.Counters)
			w.cfg.Logger.Info("worker stopped", slog.Int("queue", w.cfg.QueueID))
			return
		default:
		}
	}
}

// runIteration executes steps 1-5 of the worker loop (spec §4.6); step 6
// (batch counter / periodic flush) is handled by Run.
func (w *Worker) runIteration(batch *stats.Batch) {
	n, err := w.cfg.Backend.RecvBatch(w.descs)
	if err != nil {
		batch.RecordNoMemory()
		w.cfg.Logger.Warn("recv_batch failed",
			slog.Int("queue", w.cfg.QueueID),
			slog.String("error", err.Error()),
		)
		return
	}
	if n == 0 {
		// An empty result is counted as a poll timeout. Only the bpf
		// backend waits up to Config.PollTimeoutMS before returning empty;
		// xdp and ring return at once when nothing is ready.
		w.cfg.Counters.RecordPollTimeout()
		return
	}

	w.reject = w.reject[:0]
	w.txList = w.txList[:0]

	for i := 0; i < n; i++ {
		d := w.descs[i]
		if i+1 < n {
			_ = w.descs[i+1].Bytes[0] // touch the next descriptor's first byte
		}

		batch.RecordRX(len(d.Bytes))

		res := classify.Classify(d.Bytes, &w.cfg.Classify)
		if res.Reason != classify.Accept {
			batch.RecordReject(res.Reason)
			w.reject = append(w.reject, d)
			continue
		}

		sig := signatureBytes(d.Bytes, res.UDPOffset)
		sigType := classify.SignatureType(sig)
		batch.RecordAccept(sigType)

		var recvNS int64
		if w.cfg.MeasureLatency {
			recvNS = d.RecvNS
		}

		reflect.Reflect(d.Bytes, res.IPVer, res.IPOffset, res.UDPOffset, w.cfg.ReflectMode, w.cfg.SoftwareChecksum)

		if w.cfg.MeasureLatency && recvNS > 0 {
			batch.RecordLatency(time.Duration(nowNS() - recvNS))
		}

		w.txList = append(w.txList, d)
	}

	sent, err := w.cfg.Backend.SendBatch(w.txList)
	if err != nil {
		batch.RecordNoMemory()
		w.cfg.Logger.Warn("send_batch failed",
			slog.Int("queue", w.cfg.QueueID),
			slog.String("error", err.Error()),
		)
	}
	for i := 0; i < sent; i++ {
		batch.RecordTX(len(w.txList[i].Bytes))
	}
	for i := sent; i < len(w.txList); i++ {
		batch.RecordTXFailure()
	}
	if len(w.txList) > 0 {
		// The full slice, not just [:sent]: ReleaseSent's contract covers
		// both the transmitted prefix and the untransmitted tail (short
		// sends happen whenever a TX ring/queue fills up), and the backend
		// owns deciding how each is recycled.
		w.cfg.Backend.ReleaseSent(w.txList)
	}

	w.cfg.Backend.ReleaseRejected(w.reject)
}

// signatureBytes extracts the 7-byte vendor signature from an already
// classified (Accept) frame without re-walking the header chain.
func signatureBytes(frame []byte, udpOffset int) []byte {
	start := udpOffset + codec.UDPPayloadOffset + codec.SignatureOffset
	end := start + codec.SignatureLen
	if end > len(frame) {
		return nil
	}
	return frame[start:end]
}

// nowNS returns the current monotonic-ish wall clock in nanoseconds, for
// diffing against a FrameDesc.RecvNS timestamp captured at receive time.
func nowNS() int64 {
	return time.Now().UnixNano()
}
