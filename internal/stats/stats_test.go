package stats_test

import (
	"testing"
	"time"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/stats"
)

func TestBatchFlushAccumulates(t *testing.T) {
	t.Parallel()

	c := stats.NewCounters()
	var b stats.Batch

	b.RecordRX(64)
	b.RecordAccept(classify.SigPROBEOT)
	b.RecordTX(64)
	b.RecordLatency(10 * time.Microsecond)
	b.Flush(c)

	b.RecordRX(64)
	b.RecordReject(classify.RejectBadSignature)
	b.RecordLatency(30 * time.Microsecond)
	b.Flush(c)

	snap := stats.Merge([]*stats.Counters{c})

	if snap.RXPackets != 2 {
		t.Errorf("RXPackets = %d, want 2", snap.RXPackets)
	}
	if snap.TXPackets != 1 {
		t.Errorf("TXPackets = %d, want 1", snap.TXPackets)
	}
	if snap.SigCounts[classify.SigPROBEOT] != 1 {
		t.Errorf("SigCounts[PROBEOT] = %d, want 1", snap.SigCounts[classify.SigPROBEOT])
	}
	if snap.ErrCounts[stats.ErrBadSignature] != 1 {
		t.Errorf("ErrCounts[BadSignature] = %d, want 1", snap.ErrCounts[stats.ErrBadSignature])
	}
	if snap.LatencyCount != 2 {
		t.Fatalf("LatencyCount = %d, want 2", snap.LatencyCount)
	}
	if snap.LatencyMinNS != uint64(10*time.Microsecond) {
		t.Errorf("LatencyMinNS = %d, want %d", snap.LatencyMinNS, uint64(10*time.Microsecond))
	}
	if snap.LatencyMaxNS != uint64(30*time.Microsecond) {
		t.Errorf("LatencyMaxNS = %d, want %d", snap.LatencyMaxNS, uint64(30*time.Microsecond))
	}
	wantAvg := float64(10+30) / 2 * float64(time.Microsecond)
	if snap.LatencyAvgNS != wantAvg {
		t.Errorf("LatencyAvgNS = %f, want %f", snap.LatencyAvgNS, wantAvg)
	}
}

func TestBatchFlushResetsBatch(t *testing.T) {
	t.Parallel()

	c := stats.NewCounters()
	var b stats.Batch
	b.RecordRX(64)
	b.Flush(c)

	if b.RXPackets != 0 {
		t.Fatalf("batch not reset after Flush: RXPackets = %d", b.RXPackets)
	}
}

func TestTickReportsFlushBoundary(t *testing.T) {
	t.Parallel()

	var b stats.Batch
	for i := 0; i < stats.FlushBatches-1; i++ {
		if b.Tick() {
			t.Fatalf("Tick() returned true early at iteration %d", i)
		}
	}
	if !b.Tick() {
		t.Fatalf("Tick() did not report the flush boundary at iteration %d", stats.FlushBatches)
	}
}

func TestMergeAcrossWorkers(t *testing.T) {
	t.Parallel()

	c1 := stats.NewCounters()
	c2 := stats.NewCounters()

	var b1, b2 stats.Batch
	b1.RecordRX(100)
	b1.RecordLatency(5 * time.Microsecond)
	b1.Flush(c1)

	b2.RecordRX(200)
	b2.RecordLatency(50 * time.Microsecond)
	b2.Flush(c2)

	snap := stats.Merge([]*stats.Counters{c1, c2})

	if snap.RXPackets != 2 {
		t.Errorf("RXPackets = %d, want 2", snap.RXPackets)
	}
	if snap.RXBytes != 300 {
		t.Errorf("RXBytes = %d, want 300", snap.RXBytes)
	}
	if snap.LatencyMinNS != uint64(5*time.Microsecond) {
		t.Errorf("LatencyMinNS = %d, want min across workers", snap.LatencyMinNS)
	}
	if snap.LatencyMaxNS != uint64(50*time.Microsecond) {
		t.Errorf("LatencyMaxNS = %d, want max across workers", snap.LatencyMaxNS)
	}
}

func TestLegacyCountersMirrorStructured(t *testing.T) {
	t.Parallel()

	c := stats.NewCounters()
	var b stats.Batch
	b.RecordReject(classify.RejectBadMac)
	b.RecordReject(classify.RejectTooShort)
	b.RecordTXFailure()
	b.RecordNoMemory()
	b.Flush(c)

	c.RecordPollTimeout()

	snap := stats.Merge([]*stats.Counters{c})

	if snap.LegacyRXInvalid != 2 {
		t.Errorf("LegacyRXInvalid = %d, want 2 (BadMac + TooShort)", snap.LegacyRXInvalid)
	}
	if snap.LegacyRXNoMem != 1 {
		t.Errorf("LegacyRXNoMem = %d, want 1", snap.LegacyRXNoMem)
	}
	if snap.LegacyTXErrors != 1 {
		t.Errorf("LegacyTXErrors = %d, want 1", snap.LegacyTXErrors)
	}
	if snap.LegacyPollTimeout != 1 {
		t.Errorf("LegacyPollTimeout = %d, want 1", snap.LegacyPollTimeout)
	}
}

func TestMergeEmptyWorkerList(t *testing.T) {
	t.Parallel()

	snap := stats.Merge(nil)
	if snap.RXPackets != 0 || snap.LatencyCount != 0 {
		t.Fatalf("Merge(nil) produced non-zero snapshot: %+v", snap)
	}
}
