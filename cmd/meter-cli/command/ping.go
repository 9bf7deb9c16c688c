package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the listener accepts connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		elapsed, err := newClient().Ping(cmd.Context())
		if err != nil {
			return fmt.Errorf("✗ %s is not reachable: %w", serverAddr, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Connected to %s in %d ms\n", serverAddr, elapsed.Milliseconds())
		return nil
	},
}
