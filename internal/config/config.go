// Package config manages the reflector daemon configuration using koanf/v2.
//
// Supports a YAML file, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete reflector configuration (spec §3 Reflector
// configuration). It is read-shared by every worker once Supervisor.Start
// returns and is never mutated afterward.
type Config struct {
	Interface InterfaceConfig `koanf:"interface"`
	Reflect   ReflectConfig   `koanf:"reflect"`
	Filter    FilterConfig    `koanf:"filter"`
	Runtime   RuntimeConfig   `koanf:"runtime"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// InterfaceConfig names the NIC the reflector attaches to.
type InterfaceConfig struct {
	// Name is the interface to attach to (e.g. "eth0"). Required.
	Name string `koanf:"name"`
	// Backend overrides auto-detection: "auto", "xdp", "ring", or "bpf".
	Backend string `koanf:"backend"`
}

// ReflectConfig controls how much of an accepted frame gets rewritten and
// how the reflected frame's cost is measured.
type ReflectConfig struct {
	// Mode is "mac", "mac-ip", or "all" (MAC+IP+UDP), spec §3 reflection mode.
	Mode string `koanf:"mode"`
	// SoftwareChecksum forces UDP checksum recomputation in software instead
	// of relying on NIC checksum offload.
	SoftwareChecksum bool `koanf:"software_checksum"`
	// MeasureLatency enables the worker's latency recording, which reads
	// the receive timestamp in FrameDesc.RecvNS; no backend in this module
	// sets that timestamp, so no latency samples are recorded.
	MeasureLatency bool `koanf:"measure_latency"`
}

// FilterConfig controls which frames Classify accepts (spec §4.2 table).
type FilterConfig struct {
	// Port is the required destination UDP port; 0 accepts any port.
	Port uint16 `koanf:"port"`
	// Signature selects which signature set is accepted: "all", "ito",
	// "rfc2544", "y1564", or "custom".
	Signature string `koanf:"signature"`
	// OUIEnable gates the source-MAC OUI check.
	OUIEnable bool `koanf:"oui_enable"`
	// OUI is the 3-byte vendor prefix, formatted "XX:XX:XX".
	OUI string `koanf:"oui"`
	// EnableVLAN accepts frames with a single 802.1Q or 802.1ad tag in addition to untagged ones.
	EnableVLAN bool `koanf:"enable_vlan"`
	// EnableIPv6 accepts IPv6-carried frames in addition to IPv4.
	EnableIPv6 bool `koanf:"enable_ipv6"`
}

// RuntimeConfig controls dataplane sizing and polling behavior.
type RuntimeConfig struct {
	// Workers overrides the RX-queue-derived worker count; 0 auto-sizes.
	Workers int `koanf:"workers"`
	// CPUPins assigns worker i to CPUPins[i] (round-robin if shorter);
	// empty disables affinity pinning.
	CPUPins []int `koanf:"cpu_pins"`
	// BatchSize is the number of frames each RecvBatch/SendBatch call handles.
	BatchSize int `koanf:"batch_size"`
	// FrameSize and FrameCount size a backend's owned buffer pool.
	FrameSize  int `koanf:"frame_size"`
	FrameCount int `koanf:"frame_count"`
	// PollTimeoutMS bounds how long a backend's RecvBatch blocks when idle.
	PollTimeoutMS int `koanf:"poll_timeout_ms"`
	HugePages     bool `koanf:"huge_pages"`
	BusyPoll      bool `koanf:"busy_poll"`
	// StatsIntervalSec is how often the CLI prints a stats snapshot.
	StatsIntervalSec int `koanf:"stats_interval_sec"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the defaults from spec §6.2's
// CLI surface: accept-all signature filter, required destination port 3842,
// default OUI 00:c0:17, reflection mode "all", 10s stats interval.
func DefaultConfig() *Config {
	return &Config{
		Interface: InterfaceConfig{
			Backend: "auto",
		},
		Reflect: ReflectConfig{
			Mode: "all",
		},
		Filter: FilterConfig{
			Port:      3842,
			Signature: "all",
			OUIEnable: true,
			OUI:       "00:c0:17",
		},
		Runtime: RuntimeConfig{
			BatchSize:        64,
			FrameSize:        2048,
			FrameCount:       4096,
			PollTimeoutMS:    100,
			StatsIntervalSec: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for reflector configuration.
// Variables are named REFLECTOR_<section>_<key>, e.g. REFLECTOR_FILTER_PORT.
const envPrefix = "REFLECTOR_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (REFLECTOR_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips the
// file layer and loads defaults + environment only.
//
// Environment variable mapping:
//
//	REFLECTOR_INTERFACE_NAME   -> interface.name
//	REFLECTOR_FILTER_PORT      -> filter.port
//	REFLECTOR_REFLECT_MODE     -> reflect.mode
//	REFLECTOR_LOG_LEVEL        -> log.level
//
// Uses koanf/v2 with file + env providers and a YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms REFLECTOR_FILTER_PORT -> filter.port.
// Strips the REFLECTOR_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"interface.name":           defaults.Interface.Name,
		"interface.backend":        defaults.Interface.Backend,
		"reflect.mode":             defaults.Reflect.Mode,
		"reflect.software_checksum": defaults.Reflect.SoftwareChecksum,
		"reflect.measure_latency":  defaults.Reflect.MeasureLatency,
		"filter.port":              defaults.Filter.Port,
		"filter.signature":         defaults.Filter.Signature,
		"filter.oui_enable":        defaults.Filter.OUIEnable,
		"filter.oui":               defaults.Filter.OUI,
		"filter.enable_vlan":       defaults.Filter.EnableVLAN,
		"filter.enable_ipv6":       defaults.Filter.EnableIPv6,
		"runtime.workers":          defaults.Runtime.Workers,
		"runtime.batch_size":       defaults.Runtime.BatchSize,
		"runtime.frame_size":       defaults.Runtime.FrameSize,
		"runtime.frame_count":      defaults.Runtime.FrameCount,
		"runtime.poll_timeout_ms":  defaults.Runtime.PollTimeoutMS,
		"runtime.huge_pages":       defaults.Runtime.HugePages,
		"runtime.busy_poll":        defaults.Runtime.BusyPoll,
		"runtime.stats_interval_sec": defaults.Runtime.StatsIntervalSec,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyInterface indicates no interface name was configured.
	ErrEmptyInterface = errors.New("interface.name must not be empty")

	// ErrInvalidBackend indicates an unrecognized backend override.
	ErrInvalidBackend = errors.New("interface.backend must be auto, xdp, ring, or bpf")

	// ErrInvalidReflectMode indicates an unrecognized reflection mode.
	ErrInvalidReflectMode = errors.New("reflect.mode must be mac, mac-ip, or all")

	// ErrInvalidSignatureFilter indicates an unrecognized signature filter.
	ErrInvalidSignatureFilter = errors.New("filter.signature must be all, ito, rfc2544, y1564, or custom")

	// ErrInvalidOUI indicates the OUI string is not three colon-separated hex bytes.
	ErrInvalidOUI = errors.New("filter.oui must be three colon-separated hex bytes, e.g. 00:c0:17")

	// ErrInvalidBatchSize indicates a non-positive batch size.
	ErrInvalidBatchSize = errors.New("runtime.batch_size must be > 0")

	// ErrInvalidFrameSize indicates a non-positive frame size.
	ErrInvalidFrameSize = errors.New("runtime.frame_size must be > 0")

	// ErrCPUPinOutOfRange indicates a configured CPU pin is negative.
	ErrCPUPinOutOfRange = errors.New("runtime.cpu_pins entries must be >= 0")
)

// ValidBackends lists the recognized interface.backend values.
var ValidBackends = map[string]bool{
	"auto": true, "xdp": true, "ring": true, "bpf": true,
}

// ValidReflectModes lists the recognized reflect.mode values.
var ValidReflectModes = map[string]bool{
	"mac": true, "mac-ip": true, "all": true,
}

// ValidSignatureFilters lists the recognized filter.signature values.
var ValidSignatureFilters = map[string]bool{
	"all": true, "ito": true, "rfc2544": true, "y1564": true, "custom": true,
}

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Interface.Name == "" {
		return ErrEmptyInterface
	}

	if !ValidBackends[cfg.Interface.Backend] {
		return ErrInvalidBackend
	}

	if !ValidReflectModes[cfg.Reflect.Mode] {
		return ErrInvalidReflectMode
	}

	if !ValidSignatureFilters[cfg.Filter.Signature] {
		return ErrInvalidSignatureFilter
	}

	if cfg.Filter.OUIEnable {
		if _, err := ParseOUI(cfg.Filter.OUI); err != nil {
			return err
		}
	}

	if cfg.Runtime.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if cfg.Runtime.FrameSize <= 0 {
		return ErrInvalidFrameSize
	}

	for _, c := range cfg.Runtime.CPUPins {
		if c < 0 {
			return ErrCPUPinOutOfRange
		}
	}

	return nil
}

// ParseOUI parses a "XX:XX:XX" hex string into a 3-byte vendor prefix.
func ParseOUI(s string) ([3]byte, error) {
	var oui [3]byte
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return oui, fmt.Errorf("%w: got %q", ErrInvalidOUI, s)
	}
	for i, p := range parts {
		var b int
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil || b < 0 || b > 0xff {
			return oui, fmt.Errorf("%w: got %q", ErrInvalidOUI, s)
		}
		oui[i] = byte(b)
	}
	return oui, nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
