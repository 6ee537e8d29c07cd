// Reflector daemon -- userspace Layer-2 active-measurement packet reflector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/reflector/internal/classify"
	"github.com/dantte-lp/reflector/internal/config"
	reflectormetrics "github.com/dantte-lp/reflector/internal/metrics"
	"github.com/dantte-lp/reflector/internal/reflect"
	"github.com/dantte-lp/reflector/internal/reflectorsvc"
	"github.com/dantte-lp/reflector/internal/rpc"
	"github.com/dantte-lp/reflector/internal/statsprint"
	appversion "github.com/dantte-lp/reflector/internal/version"
)

// shutdownTimeout bounds how long the metrics and control servers get to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg := config.DefaultConfig()
	cfg.Interface.Name = opts.ifName
	cfg.Filter.Port = opts.port
	cfg.Filter.OUIEnable = !opts.noOUIFilter
	cfg.Filter.OUI = opts.oui
	cfg.Reflect.Mode = opts.mode
	cfg.Reflect.MeasureLatency = opts.latency
	cfg.Runtime.StatsIntervalSec = opts.statsIntervalSec
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	logger.Info("reflector starting",
		slog.String("version", appversion.Version),
		slog.String("interface", cfg.Interface.Name),
		slog.String("mode", cfg.Reflect.Mode),
		slog.Int("port", int(cfg.Filter.Port)),
	)

	svcCfg, err := toSupervisorConfig(cfg, logger)
	if err != nil {
		logger.Error("invalid reflector configuration", slog.String("error", err.Error()))
		return 1
	}

	sup := reflectorsvc.NewSupervisor(svcCfg, reflectorsvc.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start reflector", slog.String("error", err.Error()))
		return 1
	}

	dropPrivileges(logger)

	if err := runServers(ctx, cfg, sup, logger, opts); err != nil {
		logger.Error("reflector exited with error", slog.String("error", err.Error()))
		_ = sup.Close()
		return 1
	}

	if err := sup.Close(); err != nil {
		logger.Warn("error stopping backends", slog.String("error", err.Error()))
	}

	printFinalStats(os.Stdout, sup, opts)

	logger.Info("reflector stopped")
	return 0
}

// runServers starts the metrics and control servers plus the systemd
// watchdog goroutine, and blocks until ctx is cancelled and every server
// has drained.
func runServers(ctx context.Context, cfg *config.Config, sup *reflectorsvc.Supervisor, logger *slog.Logger, opts *cliOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(reflectormetrics.NewCollector(sup.Snapshot, logger))

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	controlSrv := newControlServer(sup, logger)

	g, gCtx := errgroup.WithContext(ctx)
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", rpc.DefaultAddr))
		return listenAndServe(gCtx, &lc, controlSrv, rpc.DefaultAddr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	g.Go(func() error {
		runStatsTicker(gCtx, sup, opts)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv, controlSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newControlServer wires the protobuf-free ConnectRPC stats/reset surface
// (internal/rpc) behind h2c, plus a grpc.health.v1 checker.
func newControlServer(sup *reflectorsvc.Supervisor, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := rpc.NewHandler(sup, logger)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(grpchealth.HealthV1ServiceName, rpc.ServiceName)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              rpc.DefaultAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("shutdown server: %w", err)
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Systemd Integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// dropPrivileges drops to an unprivileged user once the backend is
// initialized (spec §6.3). Best-effort: failure is logged as a warning,
// never fatal, since a container or test harness may already run
// unprivileged or lack CAP_SETUID entirely.
func dropPrivileges(logger *slog.Logger) {
	const unprivilegedUID = 65534 // nobody
	const unprivilegedGID = 65534 // nogroup

	if os.Getuid() != 0 {
		logger.Debug("not running as root, skipping privilege drop")
		return
	}

	if err := syscall.Setgid(unprivilegedGID); err != nil {
		logger.Warn("failed to drop group privileges", slog.String("error", err.Error()))
		return
	}
	if err := syscall.Setuid(unprivilegedUID); err != nil {
		logger.Warn("failed to drop user privileges", slog.String("error", err.Error()))
		return
	}
	logger.Info("dropped privileges", slog.Int("uid", unprivilegedUID), slog.Int("gid", unprivilegedGID))
}

// -------------------------------------------------------------------------
// Config / wiring helpers
// -------------------------------------------------------------------------

func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func toSupervisorConfig(cfg *config.Config, logger *slog.Logger) (reflectorsvc.Config, error) {
	var mode reflect.Mode
	switch cfg.Reflect.Mode {
	case "mac":
		mode = reflect.MACOnly
	case "mac-ip":
		mode = reflect.MACPlusIP
	default:
		mode = reflect.MACPlusIPPlusUDP
	}

	var oui [3]byte
	if cfg.Filter.OUIEnable {
		parsed, err := config.ParseOUI(cfg.Filter.OUI)
		if err != nil {
			return reflectorsvc.Config{}, err
		}
		oui = parsed
	}

	var filter classify.FilterKind
	switch cfg.Filter.Signature {
	case "ito":
		filter = classify.FilterITO
	case "rfc2544":
		filter = classify.FilterRFC2544
	case "y1564":
		filter = classify.FilterY1564
	case "custom":
		filter = classify.FilterCustom
	default:
		filter = classify.FilterAll
	}

	var backend reflectorsvc.BackendKind
	switch cfg.Interface.Backend {
	case "xdp":
		backend = reflectorsvc.KindXDP
	case "ring":
		backend = reflectorsvc.KindRing
	case "bpf":
		backend = reflectorsvc.KindBPF
	default:
		backend = reflectorsvc.KindAuto
	}

	return reflectorsvc.Config{
		IfName:           cfg.Interface.Name,
		Backend:          backend,
		WorkerCount:      cfg.Runtime.Workers,
		CPUPins:          cfg.Runtime.CPUPins,
		BatchSize:        cfg.Runtime.BatchSize,
		FrameSize:        cfg.Runtime.FrameSize,
		FrameCount:       cfg.Runtime.FrameCount,
		PollTimeoutMS:    cfg.Runtime.PollTimeoutMS,
		HugePages:        cfg.Runtime.HugePages,
		BusyPoll:         cfg.Runtime.BusyPoll,
		MeasureLatency:   cfg.Reflect.MeasureLatency,
		SoftwareChecksum: cfg.Reflect.SoftwareChecksum,
		ReflectMode:      mode,
		Classify: classify.Config{
			FilterOUI:  cfg.Filter.OUIEnable,
			OUI:        oui,
			ITOPort:    cfg.Filter.Port,
			EnableVLAN: cfg.Filter.EnableVLAN,
			EnableIPv6: cfg.Filter.EnableIPv6,
			Filter:     filter,
		},
		Logger: logger,
	}, nil
}

// runStatsTicker prints a stats snapshot to stdout every
// opts.statsIntervalSec until ctx is cancelled. A non-positive interval
// disables periodic printing; the final snapshot is still printed on
// shutdown by printFinalStats.
func runStatsTicker(ctx context.Context, sup *reflectorsvc.Supervisor, opts *cliOptions) {
	if opts.statsIntervalSec <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(opts.statsIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printFinalStats(os.Stdout, sup, opts)
		}
	}
}

func printFinalStats(w *os.File, sup *reflectorsvc.Supervisor, opts *cliOptions) {
	snap := sup.Snapshot()
	var err error
	switch {
	case opts.jsonStats:
		err = statsprint.JSON(w, snap)
	case opts.csvStats:
		err = statsprint.CSV(w, snap)
	default:
		err = statsprint.Text(w, snap)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to print final stats: %v\n", err)
	}
}
