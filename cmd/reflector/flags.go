package main

import (
	"flag"
	"fmt"
	"os"
)

// cliOptions mirrors the CLI surface of spec §6.2, kept for wire
// compatibility with existing deployment scripts that invoke this binary.
type cliOptions struct {
	ifName string

	verbose bool

	jsonStats bool
	csvStats  bool

	latency          bool
	statsIntervalSec int

	port        uint16
	noOUIFilter bool
	oui         string

	mode string
}

func parseFlags(args []string) (*cliOptions, error) {
	fs := flag.NewFlagSet("reflector", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: reflector [options] <interface>\n\noptions:\n")
		fs.PrintDefaults()
	}

	opts := &cliOptions{}

	var port int
	fs.IntVar(&port, "port", 3842, "required UDP destination port, 0 = any")

	fs.BoolVar(&opts.verbose, "v", false, "raise log level to debug")
	fs.BoolVar(&opts.verbose, "verbose", false, "raise log level to debug")

	fs.BoolVar(&opts.jsonStats, "json", false, "print final stats as JSON")
	fs.BoolVar(&opts.csvStats, "csv", false, "print final stats as CSV")

	fs.BoolVar(&opts.latency, "latency", false, "enable receive timestamps and latency measurement")
	fs.IntVar(&opts.statsIntervalSec, "stats-interval", 10, "stats snapshot interval in seconds")

	fs.BoolVar(&opts.noOUIFilter, "no-oui-filter", false, "disable source-MAC OUI check")
	fs.StringVar(&opts.oui, "oui", "00:c0:17", "vendor OUI prefix, XX:XX:XX")

	fs.StringVar(&opts.mode, "mode", "all", "reflection mode: mac, mac-ip, or all")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if port < 0 || port > 0xffff {
		return nil, fmt.Errorf("--port must be between 0 and 65535, got %d", port)
	}
	opts.port = uint16(port)

	if opts.jsonStats && opts.csvStats {
		return nil, fmt.Errorf("--json and --csv are mutually exclusive")
	}

	switch opts.mode {
	case "mac", "mac-ip", "all":
	default:
		return nil, fmt.Errorf("--mode must be mac, mac-ip, or all, got %q", opts.mode)
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected exactly one positional argument (interface name), got %d", len(rest))
	}
	opts.ifName = rest[0]

	return opts, nil
}
