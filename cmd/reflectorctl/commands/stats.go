package commands

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/reflector/internal/rpc"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the reflector's current dataplane stats snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := statsClient.CallUnary(cmd.Context(), connect.NewRequest(&rpc.StatsRequest{}))
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}

			out, err := formatStats(resp.Msg, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Println(out)
			return nil
		},
	}
}

// fetchStats is a small helper shared with monitor.go.
func fetchStats(ctx context.Context) (*rpc.StatsResponse, error) {
	resp, err := statsClient.CallUnary(ctx, connect.NewRequest(&rpc.StatsRequest{}))
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return resp.Msg, nil
}
