package stats

import (
	"sync/atomic"
	"time"

	"github.com/dantte-lp/reflector/internal/classify"
)

// FlushBatches is the default number of receive iterations a worker
// accumulates into its Batch before flushing into Counters (spec §4.4:
// "8 by default, ≈512 frames" at the default batch size of 64).
const FlushBatches = 8

// Batch is a stack-local accumulator a single worker writes to on every
// receive iteration. It holds no atomics and is never shared across
// goroutines; Flush is the only point where its contents cross into shared
// state.
type Batch struct {
	RXPackets uint64
	RXBytes   uint64
	TXPackets uint64
	TXBytes   uint64

	SigCounts [numSigTypes]uint64
	ErrCounts [numErrKinds]uint64

	LatencyCount uint64
	LatencySumNS uint64
	LatencyMinNS uint64
	LatencyMaxNS uint64

	iterations int
}

// ErrKind enumerates the per-error counters (spec §3 Stats), five of which
// mirror classify.Reason 1:1 and two (TXFailure, NoMemory) that originate
// at the worker/backend layer, past classification.
type ErrKind uint8

const (
	ErrBadMAC ErrKind = iota
	ErrBadEtherType
	ErrBadProtocol
	ErrBadSignature
	ErrTooShort
	ErrTXFailure
	ErrNoMemory
	numErrKinds
)

// String names an ErrKind for logging and metrics labels.
func (e ErrKind) String() string {
	switch e {
	case ErrBadMAC:
		return "bad_mac"
	case ErrBadEtherType:
		return "bad_ethertype"
	case ErrBadProtocol:
		return "bad_protocol"
	case ErrBadSignature:
		return "bad_signature"
	case ErrTooShort:
		return "too_short"
	case ErrTXFailure:
		return "tx_failure"
	case ErrNoMemory:
		return "no_memory"
	default:
		return "unknown"
	}
}

const numSigTypes = int(classify.SigY1564) + 1

// RecordRX accounts a received frame's length.
func (b *Batch) RecordRX(n int) {
	b.RXPackets++
	//nolint:gosec // frame lengths fit well within uint64.
	b.RXBytes += uint64(n)
}

// RecordAccept accounts an accepted frame's signature type.
func (b *Batch) RecordAccept(sig classify.SigType) {
	b.SigCounts[sig]++
}

// RecordReject accounts a classify.Reason other than Accept.
func (b *Batch) RecordReject(reason classify.Reason) {
	if k, ok := errKindForReason(reason); ok {
		b.ErrCounts[k]++
	}
}

// RecordTX accounts a successfully transmitted frame's length.
func (b *Batch) RecordTX(n int) {
	b.TXPackets++
	//nolint:gosec // frame lengths fit well within uint64.
	b.TXBytes += uint64(n)
}

// RecordTXFailure accounts a descriptor that send_batch did not transmit.
func (b *Batch) RecordTXFailure() {
	b.ErrCounts[ErrTXFailure]++
}

// RecordNoMemory accounts a backend allocation/recycle failure.
func (b *Batch) RecordNoMemory() {
	b.ErrCounts[ErrNoMemory]++
}

// RecordLatency folds a single timestamp-diff sample into the mini
// reservoir: count and sum accumulate, max/min reduce per spec §4.4.
func (b *Batch) RecordLatency(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	b.LatencyCount++
	b.LatencySumNS += ns
	if ns > b.LatencyMaxNS {
		b.LatencyMaxNS = ns
	}
	if b.LatencyCount == 1 || ns < b.LatencyMinNS {
		b.LatencyMinNS = ns
	}
}

// Tick marks one receive iteration; it reports whether FlushBatches
// iterations have elapsed since the last Flush, which is the worker's cue
// to call Flush.
func (b *Batch) Tick() bool {
	b.iterations++
	return b.iterations >= FlushBatches
}

// Flush folds the batch into c and resets the batch to zero, ready for the
// next FlushBatches iterations. Only the worker that owns c ever calls
// Flush on it.
func (b *Batch) Flush(c *Counters) {
	if b.RXPackets != 0 {
		c.rxPackets.Add(b.RXPackets)
		c.rxBytes.Add(b.RXBytes)
	}
	if b.TXPackets != 0 {
		c.txPackets.Add(b.TXPackets)
		c.txBytes.Add(b.TXBytes)
	}
	for i, n := range b.SigCounts {
		if n != 0 {
			c.sigCounts[i].Add(n)
		}
	}
	for i, n := range b.ErrCounts {
		if n != 0 {
			c.errCounts[i].Add(n)
		}
	}
	if b.LatencyCount != 0 {
		c.latCount.Add(b.LatencyCount)
		c.latSumNS.Add(b.LatencySumNS)
		atomicMax(&c.latMaxNS, b.LatencyMaxNS)
		atomicMinNonZero(&c.latMinNS, b.LatencyMinNS)
	}
	c.lastUpdate.Store(time.Now().UnixNano())

	*b = Batch{}
}

func errKindForReason(r classify.Reason) (ErrKind, bool) {
	switch r {
	case classify.RejectBadMac:
		return ErrBadMAC, true
	case classify.RejectBadEtherType:
		return ErrBadEtherType, true
	case classify.RejectBadProtocol:
		return ErrBadProtocol, true
	case classify.RejectBadSignature:
		return ErrBadSignature, true
	case classify.RejectTooShort:
		return ErrTooShort, true
	default:
		return 0, false
	}
}

// Counters is one worker's shared-read stats structure: a block of atomics
// written only by the worker that owns it and read concurrently by
// Snapshot. Every field is a monotonic counter (or a max/min-reduced
// reservoir bound), so a torn read across fields yields a value consistent
// with "somewhere between the previous and current flush", which spec §4.4
// explicitly accepts.
type Counters struct {
	startTime  int64
	lastUpdate atomic.Int64

	rxPackets atomic.Uint64
	rxBytes   atomic.Uint64
	txPackets atomic.Uint64
	txBytes   atomic.Uint64

	sigCounts [numSigTypes]atomic.Uint64
	errCounts [numErrKinds]atomic.Uint64

	latCount atomic.Uint64
	latSumNS atomic.Uint64
	latMinNS atomic.Uint64
	latMaxNS atomic.Uint64

	// legacyPollTimeout has no structured counterpart — it is the one
	// legacy counter (spec §9) that isn't derivable from the error
	// breakdown above, so it is tracked independently.
	legacyPollTimeout atomic.Uint64
}

// NewCounters returns a Counters with its start timestamp set to now.
func NewCounters() *Counters {
	c := &Counters{startTime: time.Now().UnixNano()}
	c.lastUpdate.Store(c.startTime)
	return c
}

// RecordPollTimeout accounts one recv_batch call that returned empty after
// waiting the full poll timeout. Called directly by the worker/backend,
// bypassing Batch, since it is not part of the per-frame hot path.
func (c *Counters) RecordPollTimeout() {
	c.legacyPollTimeout.Add(1)
}

// Snapshot is a point-in-time, merged view over every worker's Counters.
type Snapshot struct {
	StartTime  time.Time
	LastUpdate time.Time

	RXPackets uint64
	RXBytes   uint64
	TXPackets uint64
	TXBytes   uint64

	SigCounts map[classify.SigType]uint64
	ErrCounts map[ErrKind]uint64

	LatencyCount  uint64
	LatencySumNS  uint64
	LatencyMinNS  uint64
	LatencyMaxNS  uint64
	LatencyAvgNS  float64

	// Legacy flat counters, spec §9.
	LegacyRXInvalid   uint64
	LegacyRXNoMem     uint64
	LegacyTXErrors    uint64
	LegacyPollTimeout uint64
}

// Merge walks workers summing counters and min/max-reducing the latency
// reservoir, per spec §4.4's supervisor aggregation rules. It never locks:
// each worker only ever increases its own counters, so Merge observes
// values in [previous, current] for each field independently.
func Merge(workers []*Counters) Snapshot {
	snap := Snapshot{
		SigCounts: make(map[classify.SigType]uint64, numSigTypes),
		ErrCounts: make(map[ErrKind]uint64, numErrKinds),
	}

	var earliestStart int64
	var latestUpdate int64
	var minLatSet bool

	for _, c := range workers {
		if earliestStart == 0 || c.startTime < earliestStart {
			earliestStart = c.startTime
		}
		if u := c.lastUpdate.Load(); u > latestUpdate {
			latestUpdate = u
		}

		snap.RXPackets += c.rxPackets.Load()
		snap.RXBytes += c.rxBytes.Load()
		snap.TXPackets += c.txPackets.Load()
		snap.TXBytes += c.txBytes.Load()

		for i := range c.sigCounts {
			snap.SigCounts[classify.SigType(i)] += c.sigCounts[i].Load()
		}
		for i := range c.errCounts {
			snap.ErrCounts[ErrKind(i)] += c.errCounts[i].Load()
		}

		snap.LatencyCount += c.latCount.Load()
		snap.LatencySumNS += c.latSumNS.Load()
		if mx := c.latMaxNS.Load(); mx > snap.LatencyMaxNS {
			snap.LatencyMaxNS = mx
		}
		if mn := c.latMinNS.Load(); mn != 0 {
			if !minLatSet || mn < snap.LatencyMinNS {
				snap.LatencyMinNS = mn
				minLatSet = true
			}
		}

		snap.LegacyPollTimeout += c.legacyPollTimeout.Load()
	}

	if snap.LatencyCount != 0 {
		snap.LatencyAvgNS = float64(snap.LatencySumNS) / float64(snap.LatencyCount)
	}
	if earliestStart != 0 {
		snap.StartTime = time.Unix(0, earliestStart)
	}
	if latestUpdate != 0 {
		snap.LastUpdate = time.Unix(0, latestUpdate)
	}

	// Legacy counters mirror their structured counterparts: rx_invalid is
	// every classify reject, too-short included, rx_nomem is ErrNoMemory,
	// tx_errors is ErrTXFailure, poll_timeout is tracked independently via
	// Counters.RecordPollTimeout and merged above.
	snap.LegacyRXInvalid = snap.ErrCounts[ErrBadMAC] + snap.ErrCounts[ErrBadEtherType] +
		snap.ErrCounts[ErrBadProtocol] + snap.ErrCounts[ErrBadSignature] + snap.ErrCounts[ErrTooShort]
	snap.LegacyRXNoMem = snap.ErrCounts[ErrNoMemory]
	snap.LegacyTXErrors = snap.ErrCounts[ErrTXFailure]

	return snap
}

func atomicMax(a *atomic.Uint64, v uint64) {
	for {
		cur := a.Load()
		if v <= cur {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}

func atomicMinNonZero(a *atomic.Uint64, v uint64) {
	for {
		cur := a.Load()
		if cur != 0 && v >= cur {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}
