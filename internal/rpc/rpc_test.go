package rpc_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/reflect"
	"github.com/dantte-lp/reflector/internal/reflectorsvc"
	"github.com/dantte-lp/reflector/internal/rpc"
)

func setupTestServer(t *testing.T) string {
	t.Helper()

	sup := reflectorsvc.NewSupervisor(reflectorsvc.Config{
		IfName:      "lo",
		WorkerCount: 1,
		BatchSize:   8,
		FrameSize:   128,
		ReflectMode: reflect.MACOnly,
		Classify:    classify.Config{Filter: classify.FilterAll},
	})

	path, handler := rpc.NewHandler(sup, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv.URL
}

func TestGetStats_EmptySnapshot(t *testing.T) {
	t.Parallel()

	url := setupTestServer(t)
	client := newUnaryClient[rpc.StatsRequest, rpc.StatsResponse](url, "GetStats")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.CallUnary(ctx, connect.NewRequest(&rpc.StatsRequest{}))
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if resp.Msg.RXPackets != 0 {
		t.Errorf("RXPackets = %d, want 0 on a fresh supervisor", resp.Msg.RXPackets)
	}
}

func TestResetStats_BeforeStartSucceeds(t *testing.T) {
	t.Parallel()

	url := setupTestServer(t)
	client := newUnaryClient[rpc.ResetRequest, rpc.ResetResponse](url, "ResetStats")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.CallUnary(ctx, connect.NewRequest(&rpc.ResetRequest{}))
	if err != nil {
		t.Fatalf("ResetStats: %v", err)
	}
	if !resp.Msg.Applied {
		t.Errorf("Applied = false, want true: %s", resp.Msg.Error)
	}
}

// testJSONCodec mirrors rpc's unexported jsonCodec: plain encoding/json
// over the request/response structs, no proto.Message requirement.
type testJSONCodec struct{}

func (testJSONCodec) Name() string                      { return "json" }
func (testJSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (testJSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func newUnaryClient[Req, Res any](baseURL, procedure string) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](
		http.DefaultClient,
		baseURL+"/reflector.v1.ReflectorService/"+procedure,
		connect.WithCodec(testJSONCodec{}),
	)
}
