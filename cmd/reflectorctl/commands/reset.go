package commands

import (
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/reflector/internal/rpc"
)

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the reflector's dataplane counters",
		Long:  "Resets every worker's stats counters. Only valid before the reflector's workers have started; the daemon rejects this once running.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := resetClient.CallUnary(cmd.Context(), connect.NewRequest(&rpc.ResetRequest{}))
			if err != nil {
				return fmt.Errorf("reset stats: %w", err)
			}
			if !resp.Msg.Applied {
				return fmt.Errorf("reset rejected: %s", resp.Msg.Error)
			}
			fmt.Println("stats reset")
			return nil
		},
	}
}
