package statsprint

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/stats"
)

// Text writes a human-readable multi-line rendering of snap to w, in the
// field order spec §3 Stats lists them.
func Text(w io.Writer, snap stats.Snapshot) error {
	lines := []string{
		fmt.Sprintf("uptime:        %s", snap.LastUpdate.Sub(snap.StartTime)),
		fmt.Sprintf("rx:            %d packets, %d bytes", snap.RXPackets, snap.RXBytes),
		fmt.Sprintf("tx:            %d packets, %d bytes", snap.TXPackets, snap.TXBytes),
	}
	for sig := classify.SigUnknown; sig <= classify.SigY1564; sig++ {
		lines = append(lines, fmt.Sprintf("sig %-8s %d", sig.String()+":", snap.SigCounts[sig]))
	}
	for kind := stats.ErrBadMAC; kind <= stats.ErrNoMemory; kind++ {
		lines = append(lines, fmt.Sprintf("err %-12s %d", kind.String()+":", snap.ErrCounts[kind]))
	}
	lines = append(lines,
		fmt.Sprintf("latency:       count=%d sum_ns=%d min_ns=%d max_ns=%d avg_ns=%.1f",
			snap.LatencyCount, snap.LatencySumNS, snap.LatencyMinNS, snap.LatencyMaxNS, snap.LatencyAvgNS),
		fmt.Sprintf("legacy:        rx_invalid=%d rx_nomem=%d tx_errors=%d poll_timeout=%d",
			snap.LegacyRXInvalid, snap.LegacyRXNoMem, snap.LegacyTXErrors, snap.LegacyPollTimeout),
	)

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("statsprint: write text line: %w", err)
		}
	}
	return nil
}

// jsonSnapshot is Snapshot re-shaped for stable JSON field names: the
// classify.SigType/stats.ErrKind map keys are not valid unquoted JSON keys
// once marshaled through encoding/json's default map handling, so this
// flattens them to their String() names explicitly.
type jsonSnapshot struct {
	StartTimeUnixNS  int64             `json:"start_time_unix_ns"`
	LastUpdateUnixNS int64             `json:"last_update_unix_ns"`
	RXPackets        uint64            `json:"rx_packets"`
	RXBytes          uint64            `json:"rx_bytes"`
	TXPackets        uint64            `json:"tx_packets"`
	TXBytes          uint64            `json:"tx_bytes"`
	Signatures       map[string]uint64 `json:"signatures"`
	Errors           map[string]uint64 `json:"errors"`
	LatencyCount     uint64            `json:"latency_count"`
	LatencySumNS     uint64            `json:"latency_sum_ns"`
	LatencyMinNS     uint64            `json:"latency_min_ns"`
	LatencyMaxNS     uint64            `json:"latency_max_ns"`
	LatencyAvgNS     float64           `json:"latency_avg_ns"`

	LegacyRXInvalid   uint64 `json:"rx_invalid"`
	LegacyRXNoMem     uint64 `json:"rx_nomem"`
	LegacyTXErrors    uint64 `json:"tx_errors"`
	LegacyPollTimeout uint64 `json:"poll_timeout"`
}

func toJSONSnapshot(snap stats.Snapshot) jsonSnapshot {
	sigs := make(map[string]uint64, len(snap.SigCounts))
	for sig, n := range snap.SigCounts {
		sigs[sig.String()] = n
	}
	errs := make(map[string]uint64, len(snap.ErrCounts))
	for kind, n := range snap.ErrCounts {
		errs[kind.String()] = n
	}

	return jsonSnapshot{
		StartTimeUnixNS:   snap.StartTime.UnixNano(),
		LastUpdateUnixNS:  snap.LastUpdate.UnixNano(),
		RXPackets:         snap.RXPackets,
		RXBytes:           snap.RXBytes,
		TXPackets:         snap.TXPackets,
		TXBytes:           snap.TXBytes,
		Signatures:        sigs,
		Errors:            errs,
		LatencyCount:      snap.LatencyCount,
		LatencySumNS:      snap.LatencySumNS,
		LatencyMinNS:      snap.LatencyMinNS,
		LatencyMaxNS:      snap.LatencyMaxNS,
		LatencyAvgNS:      snap.LatencyAvgNS,
		LegacyRXInvalid:   snap.LegacyRXInvalid,
		LegacyRXNoMem:     snap.LegacyRXNoMem,
		LegacyTXErrors:    snap.LegacyTXErrors,
		LegacyPollTimeout: snap.LegacyPollTimeout,
	}
}

// JSON writes snap to w as a single JSON object via encoding/json.
func JSON(w io.Writer, snap stats.Snapshot) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(toJSONSnapshot(snap)); err != nil {
		return fmt.Errorf("statsprint: encode json: %w", err)
	}
	return nil
}

// CSV writes snap to w as a two-row CSV (header, values) via encoding/csv.
func CSV(w io.Writer, snap stats.Snapshot) error {
	cw := csv.NewWriter(w)

	header := []string{"rx_packets", "rx_bytes", "tx_packets", "tx_bytes"}
	row := []string{
		fmt.Sprint(snap.RXPackets),
		fmt.Sprint(snap.RXBytes),
		fmt.Sprint(snap.TXPackets),
		fmt.Sprint(snap.TXBytes),
	}

	for sig := classify.SigUnknown; sig <= classify.SigY1564; sig++ {
		header = append(header, "sig_"+sig.String())
		row = append(row, fmt.Sprint(snap.SigCounts[sig]))
	}
	for kind := stats.ErrBadMAC; kind <= stats.ErrNoMemory; kind++ {
		header = append(header, "err_"+kind.String())
		row = append(row, fmt.Sprint(snap.ErrCounts[kind]))
	}

	header = append(header,
		"latency_count", "latency_sum_ns", "latency_min_ns", "latency_max_ns", "latency_avg_ns",
		"rx_invalid", "rx_nomem", "tx_errors", "poll_timeout",
	)
	row = append(row,
		fmt.Sprint(snap.LatencyCount), fmt.Sprint(snap.LatencySumNS),
		fmt.Sprint(snap.LatencyMinNS), fmt.Sprint(snap.LatencyMaxNS),
		fmt.Sprintf("%.1f", snap.LatencyAvgNS),
		fmt.Sprint(snap.LegacyRXInvalid), fmt.Sprint(snap.LegacyRXNoMem),
		fmt.Sprint(snap.LegacyTXErrors), fmt.Sprint(snap.LegacyPollTimeout),
	)

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("statsprint: write csv header: %w", err)
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("statsprint: write csv row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
