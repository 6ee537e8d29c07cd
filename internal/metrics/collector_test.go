package reflectormetrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/reflector/internal/classify"
	reflectormetrics "github.com/dantte-lp/reflector/internal/metrics"
	"github.com/dantte-lp/reflector/internal/stats"
)

func fixedSnapshot() stats.Snapshot {
	counters := stats.NewCounters()

	b := &stats.Batch{}
	b.RecordRX(128)
	b.RecordRX(256)
	b.RecordAccept(classify.SigPROBEOT)
	b.RecordAccept(classify.SigPROBEOT)
	b.RecordReject(classify.RejectBadMac)
	b.RecordTX(128)
	b.RecordLatency(10 * time.Microsecond)
	b.Flush(counters)

	return stats.Merge([]*stats.Counters{counters})
}

func TestCollector_ExportsCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := reflectormetrics.NewCollector(fixedSnapshot, nil)
	reg.MustRegister(c)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("Gather() returned no metric families")
	}
}

func TestCollector_SignatureAndRejectLabels(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := reflectormetrics.NewCollector(fixedSnapshot, nil)
	reg.MustRegister(c)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	var sawProbeOT, sawBadMAC bool
	for _, mf := range families {
		switch mf.GetName() {
		case "reflector_dataplane_signature_total":
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "signature" && lp.GetValue() == "PROBEOT" && m.GetCounter().GetValue() == 2 {
						sawProbeOT = true
					}
				}
			}
		case "reflector_dataplane_reject_total":
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "reason" && lp.GetValue() == "bad_mac" && m.GetCounter().GetValue() == 1 {
						sawBadMAC = true
					}
				}
			}
		}
	}

	if !sawProbeOT {
		t.Error("signature_total did not export PROBEOT=2")
	}
	if !sawBadMAC {
		t.Error("reject_total did not export bad_mac=1")
	}
}
