// Package reflectormetrics bridges stats.Snapshot into Prometheus metrics.
//
// Counters are accumulated lock-free in internal/stats; Collector pulls a
// fresh Snapshot on every scrape rather than keeping its own Prometheus
// state, so registration cost is paid once and scrape cost is one Merge.
package reflectormetrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/stats"
)

const (
	namespace = "reflector"
	subsystem = "dataplane"
)

// SnapshotFunc returns the current merged counters across every worker.
// It is called once per scrape; Collect must tolerate being called
// concurrently with worker goroutines still incrementing counters (the
// counters are monotonic atomics, per internal/stats).
type SnapshotFunc func() stats.Snapshot

// Collector implements prometheus.Collector over a SnapshotFunc. It holds
// no running totals of its own: every field in a Snapshot is already a
// cumulative counter, so each scrape just re-exports the latest values.
type Collector struct {
	snapshot SnapshotFunc
	logger   *slog.Logger

	rxPackets     *prometheus.Desc
	rxBytes       *prometheus.Desc
	txPackets     *prometheus.Desc
	txBytes       *prometheus.Desc
	sigCount      *prometheus.Desc
	errCount      *prometheus.Desc
	latencyCount  *prometheus.Desc
	latencySumNS  *prometheus.Desc
	latencyMinNS  *prometheus.Desc
	latencyMaxNS  *prometheus.Desc
	latencyAvgNS  *prometheus.Desc
	uptimeSeconds *prometheus.Desc
}

// NewCollector returns a Collector that calls snapshot on every scrape.
// logger is used to report a zero Snapshot.StartTime as a scrape warning; it
// defaults to slog.Default() if nil.
func NewCollector(snapshot SnapshotFunc, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	fq := func(name string) string {
		return prometheus.BuildFQName(namespace, subsystem, name)
	}

	return &Collector{
		snapshot: snapshot,
		logger:   logger,

		rxPackets: prometheus.NewDesc(fq("rx_packets_total"),
			"Total frames received across every worker.", nil, nil),
		rxBytes: prometheus.NewDesc(fq("rx_bytes_total"),
			"Total bytes received across every worker.", nil, nil),
		txPackets: prometheus.NewDesc(fq("tx_packets_total"),
			"Total frames transmitted across every worker.", nil, nil),
		txBytes: prometheus.NewDesc(fq("tx_bytes_total"),
			"Total bytes transmitted across every worker.", nil, nil),
		sigCount: prometheus.NewDesc(fq("signature_total"),
			"Accepted frames by signature type.", []string{"signature"}, nil),
		errCount: prometheus.NewDesc(fq("reject_total"),
			"Rejected or failed frames by reason.", []string{"reason"}, nil),
		latencyCount: prometheus.NewDesc(fq("latency_samples_total"),
			"Number of latency samples recorded (only when measure_latency is enabled).", nil, nil),
		latencySumNS: prometheus.NewDesc(fq("latency_sum_nanoseconds"),
			"Sum of recorded send-side latency in nanoseconds.", nil, nil),
		latencyMinNS: prometheus.NewDesc(fq("latency_min_nanoseconds"),
			"Minimum recorded send-side latency in nanoseconds.", nil, nil),
		latencyMaxNS: prometheus.NewDesc(fq("latency_max_nanoseconds"),
			"Maximum recorded send-side latency in nanoseconds.", nil, nil),
		latencyAvgNS: prometheus.NewDesc(fq("latency_avg_nanoseconds"),
			"Average recorded send-side latency in nanoseconds (sum/count).", nil, nil),
		uptimeSeconds: prometheus.NewDesc(fq("uptime_seconds"),
			"Seconds since the earliest worker started.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rxPackets
	ch <- c.rxBytes
	ch <- c.txPackets
	ch <- c.txBytes
	ch <- c.sigCount
	ch <- c.errCount
	ch <- c.latencyCount
	ch <- c.latencySumNS
	ch <- c.latencyMinNS
	ch <- c.latencyMaxNS
	ch <- c.latencyAvgNS
	ch <- c.uptimeSeconds
}

// Collect implements prometheus.Collector, pulling one fresh Snapshot.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()

	if snap.StartTime.IsZero() {
		c.logger.Warn("metrics scrape: no workers have reported yet")
	}

	ch <- prometheus.MustNewConstMetric(c.rxPackets, prometheus.CounterValue, float64(snap.RXPackets))
	ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(snap.RXBytes))
	ch <- prometheus.MustNewConstMetric(c.txPackets, prometheus.CounterValue, float64(snap.TXPackets))
	ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(snap.TXBytes))

	for sig := classify.SigUnknown; sig <= classify.SigY1564; sig++ {
		ch <- prometheus.MustNewConstMetric(c.sigCount, prometheus.CounterValue,
			float64(snap.SigCounts[sig]), sig.String())
	}

	for kind := stats.ErrBadMAC; kind <= stats.ErrNoMemory; kind++ {
		ch <- prometheus.MustNewConstMetric(c.errCount, prometheus.CounterValue,
			float64(snap.ErrCounts[kind]), kind.String())
	}

	ch <- prometheus.MustNewConstMetric(c.latencyCount, prometheus.CounterValue, float64(snap.LatencyCount))
	ch <- prometheus.MustNewConstMetric(c.latencySumNS, prometheus.CounterValue, float64(snap.LatencySumNS))
	ch <- prometheus.MustNewConstMetric(c.latencyMinNS, prometheus.GaugeValue, float64(snap.LatencyMinNS))
	ch <- prometheus.MustNewConstMetric(c.latencyMaxNS, prometheus.GaugeValue, float64(snap.LatencyMaxNS))
	ch <- prometheus.MustNewConstMetric(c.latencyAvgNS, prometheus.GaugeValue, snap.LatencyAvgNS)

	if !snap.StartTime.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue,
			snap.LastUpdate.Sub(snap.StartTime).Seconds())
	}
}
