package statsprint_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/stats"
	"github.com/dantte-lp/reflector/internal/statsprint"
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

func TestText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := statsprint.Text(&buf, fixedSnapshot()); err != nil {
		t.Fatalf("Text() error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"rx:", "tx:", "PROBEOT", "bad_mac", "latency:", "legacy:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Text() output missing %q, got:\n%s", want, out)
		}
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := statsprint.JSON(&buf, fixedSnapshot()); err != nil {
		t.Fatalf("JSON() error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode JSON output: %v", err)
	}

	if decoded["rx_packets"].(float64) != 2 {
		t.Errorf("rx_packets = %v, want 2", decoded["rx_packets"])
	}
	sigs, ok := decoded["signatures"].(map[string]any)
	if !ok {
		t.Fatalf("signatures field missing or wrong type: %v", decoded["signatures"])
	}
	if sigs["PROBEOT"].(float64) != 2 {
		t.Errorf("signatures.PROBEOT = %v, want 2", sigs["PROBEOT"])
	}

	for _, legacyKey := range []string{"rx_invalid", "rx_nomem", "tx_errors", "poll_timeout"} {
		if _, ok := decoded[legacyKey]; !ok {
			t.Errorf("legacy field %q missing from JSON output", legacyKey)
		}
	}
}

func TestCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := statsprint.CSV(&buf, fixedSnapshot()); err != nil {
		t.Fatalf("CSV() error: %v", err)
	}

	r := csv.NewReader(&buf)
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse CSV output: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d CSV records, want 2 (header + row)", len(records))
	}
	header, row := records[0], records[1]
	if len(header) != len(row) {
		t.Fatalf("header has %d columns, row has %d", len(header), len(row))
	}

	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("column %q not found in CSV header %v", name, header)
		return ""
	}

	if col("rx_packets") != "2" {
		t.Errorf("rx_packets = %q, want 2", col("rx_packets"))
	}
	if col("rx_invalid") == "" {
		t.Error("rx_invalid legacy column missing")
	}
}
