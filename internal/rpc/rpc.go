// Package rpc exposes the reflector's control surface over ConnectRPC
// without generated protobuf stubs: requests and responses are plain Go
// structs marshaled with encoding/json via a custom connect.Codec. The
// surface is intentionally narrow -- it only exposes Snapshot()/Reset(),
// never packet contents (spec §11 Non-goals).
package rpc

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/dantte-lp/reflector/internal/reflectorsvc"
	"github.com/dantte-lp/reflector/internal/stats"
)

// ServiceName identifies this service for grpc.health.v1 reporting.
const ServiceName = "reflector.v1.ReflectorService"

// DefaultAddr is the default listen address for the control server.
const DefaultAddr = ":7443"

const (
	basePath       = "/" + ServiceName + "/"
	getStatsPath   = basePath + "GetStats"
	resetStatsPath = basePath + "ResetStats"
)

// StatsRequest takes no parameters; GetStats always returns the full
// current snapshot.
type StatsRequest struct{}

// StatsResponse is a flattened, JSON-friendly view of stats.Snapshot.
// Map keys use the classify.SigType/stats.ErrKind String() names rather
// than their numeric values, matching internal/statsprint's JSON shape.
type StatsResponse struct {
	UptimeSeconds float64           `json:"uptime_seconds"`
	RXPackets     uint64            `json:"rx_packets"`
	RXBytes       uint64            `json:"rx_bytes"`
	TXPackets     uint64            `json:"tx_packets"`
	TXBytes       uint64            `json:"tx_bytes"`
	Signatures    map[string]uint64 `json:"signatures"`
	Errors        map[string]uint64 `json:"errors"`
	LatencyCount  uint64            `json:"latency_count"`
	LatencyAvgNS  float64           `json:"latency_avg_ns"`
}

// ResetRequest takes no parameters.
type ResetRequest struct{}

// ResetResponse reports whether the reset was applied. Resetting after
// Start always fails: reflectorsvc.Reset is only valid pre-start.
type ResetResponse struct {
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

func toStatsResponse(snap stats.Snapshot) *StatsResponse {
	sigs := make(map[string]uint64, len(snap.SigCounts))
	for sig, n := range snap.SigCounts {
		sigs[sig.String()] = n
	}
	errs := make(map[string]uint64, len(snap.ErrCounts))
	for kind, n := range snap.ErrCounts {
		errs[kind.String()] = n
	}
	return &StatsResponse{
		UptimeSeconds: snap.LastUpdate.Sub(snap.StartTime).Seconds(),
		RXPackets:     snap.RXPackets,
		RXBytes:       snap.RXBytes,
		TXPackets:     snap.TXPackets,
		TXBytes:       snap.TXBytes,
		Signatures:    sigs,
		Errors:        errs,
		LatencyCount:  snap.LatencyCount,
		LatencyAvgNS:  snap.LatencyAvgNS,
	}
}

// NewHandler builds the control server's mux and returns the base path it
// should be mounted at (matching the grpchealth.NewStaticChecker service
// name passed alongside it).
func NewHandler(sup *reflectorsvc.Supervisor, logger *slog.Logger) (string, http.Handler) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "rpc"))

	getStats := connect.NewUnaryHandler(
		getStatsPath,
		func(_ context.Context, _ *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error) {
			return connect.NewResponse(toStatsResponse(sup.Snapshot())), nil
		},
		connect.WithCodec(jsonCodec{}),
	)

	resetStats := connect.NewUnaryHandler(
		resetStatsPath,
		func(_ context.Context, _ *connect.Request[ResetRequest]) (*connect.Response[ResetResponse], error) {
			if err := sup.Reset(); err != nil {
				logger.Warn("reset rejected", slog.String("error", err.Error()))
				return connect.NewResponse(&ResetResponse{Applied: false, Error: err.Error()}), nil
			}
			return connect.NewResponse(&ResetResponse{Applied: true}), nil
		},
		connect.WithCodec(jsonCodec{}),
	)

	mux := http.NewServeMux()
	mux.Handle(getStatsPath, getStats)
	mux.Handle(resetStatsPath, resetStats)

	return basePath, mux
}
