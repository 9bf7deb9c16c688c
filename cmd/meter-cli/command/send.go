package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message and print the acknowledgment",
	Long: `Send one generated meter report, or a custom JSON object given with
--json or read from --file ("-" for stdin).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sn, _ := cmd.Flags().GetString("sn")
		raw, _ := cmd.Flags().GetString("json")
		file, _ := cmd.Flags().GetString("file")

		payload, err := customPayload(cmd.InOrStdin(), raw, file)
		if err != nil {
			return err
		}
		if payload == nil {
			g := newGenerator()
			if sn == "" {
				sn = g.RandomSN()
			}
			payload = g.Payload(sn, 1)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Sending to %s:\n%s\n\n", serverAddr, payload)

		res := newClient().Send(cmd.Context(), payload)
		if res.Response != "" {
			fmt.Fprintf(out, "Response (%d ms):\n%s\n", res.Elapsed.Milliseconds(), res.Response)
		}
		if res.Err != nil {
			return res.Err
		}
		fmt.Fprintln(out, "✓ Message acknowledged")
		return nil
	},
}

// customPayload returns nil when no custom message was requested.
func customPayload(stdin io.Reader, raw, file string) ([]byte, error) {
	var payload []byte
	switch {
	case raw != "" && file != "":
		return nil, fmt.Errorf("use either --json or --file, not both")
	case raw != "":
		payload = []byte(raw)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		payload = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		payload = b
	default:
		return nil, nil
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("invalid JSON message")
	}
	return payload, nil
}

func init() {
	sendCmd.Flags().String("sn", "", "serial number (default random)")
	sendCmd.Flags().String("json", "", "custom JSON message")
	sendCmd.Flags().StringP("file", "f", "", "read custom JSON message from file, - for stdin")
}
