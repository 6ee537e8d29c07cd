// Package commands implements the reflectorctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/reflector/internal/rpc"
)

var (
	// statsClient queries the reflector's GetStats procedure.
	statsClient *connect.Client[rpc.StatsRequest, rpc.StatsResponse]
	// resetClient queries the reflector's ResetStats procedure.
	resetClient *connect.Client[rpc.ResetRequest, rpc.ResetResponse]

	// outputFormat controls the output format for stats rendering: table or json.
	outputFormat string

	// serverAddr is the daemon's control server address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for reflectorctl.
var rootCmd = &cobra.Command{
	Use:   "reflectorctl",
	Short: "CLI client for the reflector daemon",
	Long:  "reflectorctl communicates with the reflector daemon's control surface via ConnectRPC to query and reset dataplane stats.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		base := "http://" + serverAddr
		statsClient = connect.NewClient[rpc.StatsRequest, rpc.StatsResponse](
			http.DefaultClient, base+"/"+rpc.ServiceName+"/GetStats",
			connect.WithCodec(ctlJSONCodec{}),
		)
		resetClient = connect.NewClient[rpc.ResetRequest, rpc.ResetResponse](
			http.DefaultClient, base+"/"+rpc.ServiceName+"/ResetStats",
			connect.WithCodec(ctlJSONCodec{}),
		)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:7443",
		"reflector daemon control address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
