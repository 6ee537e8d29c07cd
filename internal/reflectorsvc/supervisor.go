package reflectorsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/netdiscover"
	"github.com/dantte-lp/reflector/internal/platform"
	"github.com/dantte-lp/reflector/internal/reflect"
	"github.com/dantte-lp/reflector/internal/stats"
	"github.com/dantte-lp/reflector/internal/worker"
)

// maxWorkers clamps the worker count derived from the interface's RX queue
// count (spec §4.7).
const maxWorkers = 16

// BackendKind selects which platform.Backend implementation a Supervisor
// uses. KindAuto picks the best available for the host OS, falling back on
// kernel-bypass init failure.
type BackendKind uint8

const (
	KindAuto BackendKind = iota
	KindXDP
	KindRing
	KindBPF
)

func (k BackendKind) String() string {
	switch k {
	case KindXDP:
		return "xdp"
	case KindRing:
		return "ring"
	case KindBPF:
		return "bpf"
	default:
		return "auto"
	}
}

// ErrAlreadyStarted is returned by Reset when called after Start.
var ErrAlreadyStarted = errors.New("reflectorsvc: reset is only valid before start")

// ErrNoWorkers is returned when RX queue discovery yields zero usable
// queues for the interface.
var ErrNoWorkers = errors.New("reflectorsvc: resolved zero worker queues")

// Config is everything a Supervisor needs to resolve an interface, pick a
// backend, and configure every worker it spawns.
type Config struct {
	IfName string

	Backend BackendKind

	// WorkerCount overrides the RX-queue-derived worker count when > 0.
	WorkerCount int
	// CPUPins, if non-empty, assigns CPUPins[i] to worker i (round-robin
	// if shorter than the worker count). Empty disables pinning.
	CPUPins []int

	BatchSize        int
	FrameSize        int
	FrameCount       int
	PollTimeoutMS    int
	HugePages        bool
	BusyPoll         bool
	MeasureLatency   bool
	SoftwareChecksum bool

	ReflectMode reflect.Mode
	Classify    classify.Config

	Logger *slog.Logger
}

// Supervisor owns a Config's set of Worker goroutines, one per resolved RX
// queue, and aggregates their stats.Counters without locking (spec §4.7).
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	started  bool
	stopped  bool
	backends []platform.Backend
	counters []*stats.Counters
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	logger *slog.Logger

	// newBackend is overridden in tests to inject platform.Mock instances
	// instead of resolving a real OS-specific backend.
	newBackend func(ctx context.Context, kind BackendKind, cfg *platform.Config, queue int, logger *slog.Logger) (platform.Backend, BackendKind, error)
}

// Option configures optional Supervisor parameters, mirroring the
// functional-options constructors used elsewhere in this codebase.
type Option func(*Supervisor)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSupervisor returns a Supervisor ready for Start. No goroutines are
// spawned and no interface/backend resolution happens until Start is
// called.
func NewSupervisor(cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		logger:     slog.Default(),
		newBackend: newBackend,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "reflectorsvc"))
	return s
}

// Start resolves the interface, picks a backend, spawns one worker per
// resolved RX queue (clamped to maxWorkers), and returns once every worker
// goroutine has been launched. A second call after a successful Start
// returns an error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("reflectorsvc: already started")
	}

	info, err := netdiscover.InterfaceInfo(s.cfg.IfName)
	if err != nil {
		return fmt.Errorf("reflectorsvc: resolve interface %q: %w", s.cfg.IfName, err)
	}

	if allZero(s.cfg.Classify.MAC[:]) {
		copy(s.cfg.Classify.MAC[:], info.MAC)
	}

	workerCount := s.cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = info.RXQueues
	}
	if workerCount > maxWorkers {
		workerCount = maxWorkers
	}
	if workerCount <= 0 {
		return ErrNoWorkers
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for q := 0; q < workerCount; q++ {
		pc := platform.Config{
			IfName:        s.cfg.IfName,
			IfIndex:       info.Index,
			FrameSize:     s.cfg.FrameSize,
			FrameCount:    s.cfg.FrameCount,
			BatchSize:     s.cfg.BatchSize,
			PollTimeoutMS: s.cfg.PollTimeoutMS,
			HugePages:     s.cfg.HugePages,
			BusyPoll:      s.cfg.BusyPoll,
			MeasureLatency: s.cfg.MeasureLatency,
			Filter:        s.cfg.Classify,
		}

		backend, kind, err := s.newBackend(ctx, s.cfg.Backend, &pc, q, s.logger)
		if err != nil {
			cancel()
			s.stopBackends(s.backends)
			return fmt.Errorf("reflectorsvc: init backend for queue %d: %w", q, err)
		}

		counters := stats.NewCounters()
		w := worker.New(worker.Config{
			QueueID:          q,
			CPUID:            s.cpuForQueue(q),
			Backend:          backend,
			BatchSize:        s.cfg.BatchSize,
			Classify:         s.cfg.Classify,
			ReflectMode:      s.cfg.ReflectMode,
			SoftwareChecksum: s.cfg.SoftwareChecksum,
			MeasureLatency:   s.cfg.MeasureLatency,
			Counters:         counters,
			Logger:           s.logger,
		})

		s.backends = append(s.backends, backend)
		s.counters = append(s.counters, counters)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(runCtx)
		}()

		s.logger.Info("worker spawned",
			slog.Int("queue", q),
			slog.String("backend", kind.String()),
		)
	}

	s.started = true
	return nil
}

// cpuForQueue returns the CPU to pin queue q's worker to, or -1 if no
// pinning is configured. CPUPins shorter than the worker count wraps
// round-robin.
func (s *Supervisor) cpuForQueue(q int) int {
	if len(s.cfg.CPUPins) == 0 {
		return -1
	}
	return s.cfg.CPUPins[q%len(s.cfg.CPUPins)]
}

// Snapshot returns a merged, lock-free view across every worker's
// counters (spec §4.7's get_stats).
func (s *Supervisor) Snapshot() stats.Snapshot {
	s.mu.Lock()
	counters := s.counters
	s.mu.Unlock()
	return stats.Merge(counters)
}

// Reset is only valid before Start; it drops the counters the supervisor
// holds, so Stats reports an empty snapshot until Start. Spec §4.7's reset_stats is undefined once workers are
// running, so this returns ErrAlreadyStarted after Start.
func (s *Supervisor) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.counters = nil
	return nil
}

// Close cancels every worker, waits for them to return, and tears down
// every backend. Close is idempotent: subsequent calls are no-ops.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	backends := s.backends
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	return s.stopBackends(backends)
}

func (s *Supervisor) stopBackends(backends []platform.Backend) error {
	var errs []error
	for _, b := range backends {
		if b == nil {
			continue
		}
		if err := b.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
