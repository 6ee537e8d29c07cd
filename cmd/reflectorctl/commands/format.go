package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/reflector/internal/rpc"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStats renders a StatsResponse in the requested format.
func formatStats(stats *rpc.StatsResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStatsJSON(stats)
	case formatTable:
		return formatStatsTable(stats), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatsJSON(stats *rpc.StatsResponse) (string, error) {
	b, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	return string(b), nil
}

func formatStatsTable(stats *rpc.StatsResponse) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "UPTIME\t%.1fs\n", stats.UptimeSeconds)
	fmt.Fprintf(w, "RX\t%d packets, %d bytes\n", stats.RXPackets, stats.RXBytes)
	fmt.Fprintf(w, "TX\t%d packets, %d bytes\n", stats.TXPackets, stats.TXBytes)
	fmt.Fprintf(w, "LATENCY\tcount=%d avg_ns=%.1f\n", stats.LatencyCount, stats.LatencyAvgNS)

	for _, sig := range sortedKeys(stats.Signatures) {
		fmt.Fprintf(w, "SIG %s\t%d\n", sig, stats.Signatures[sig])
	}
	for _, reason := range sortedKeys(stats.Errors) {
		fmt.Fprintf(w, "ERR %s\t%d\n", reason, stats.Errors[reason])
	}

	_ = w.Flush()
	return buf.String()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
