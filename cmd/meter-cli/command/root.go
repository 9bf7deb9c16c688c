package command

// root.go defines the root command for meter-cli and its global flags.

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meterhub/cmd/meter-cli/command/client"
)

var (
	serverAddr string        // meter listener host:port
	timeout    time.Duration // connect and per-ack timeout
	seed       uint64        // 0 = time based
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meter-cli",
	Short: "meter-cli - test client for the meter ingest server",
	Long: `meter-cli sends meter reports to a meterhub listener the way field
gateways do and prints the acknowledgments. It can:
- send a single generated or custom message
- send a batch of messages over one connection
- run a concurrent load test
- check that the listener accepts connections
- mint a bearer token for the admin API

Use "meter-cli command -h" to see the flags of a command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "addr", "a", envOr("METER_ADDR", "127.0.0.1:461"), "meter listener address (host:port)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "connect and response timeout")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "seed for generated messages (0 = random)")

	rootCmd.AddCommand(sendCmd, batchCmd, loadCmd, pingCmd, tokenCmd)
}

func newClient() *client.MeterClient {
	return client.NewMeterClient(serverAddr, timeout)
}

func newGenerator() *client.Generator {
	s := seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	return client.NewGenerator(s)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// truncate keeps table cells on one line.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
