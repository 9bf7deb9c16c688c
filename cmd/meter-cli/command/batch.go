package command

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Send several messages over one connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		sn, _ := cmd.Flags().GetString("sn")
		delay, _ := cmd.Flags().GetDuration("delay")

		if count <= 0 {
			return fmt.Errorf("--count must be a positive number")
		}

		g := newGenerator()
		if sn == "" {
			sn = g.RandomSN()
		}

		session, err := newClient().Open(cmd.Context())
		if err != nil {
			return err
		}
		defer session.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tTIME\tSN\tSTATUS\tMS\tRESPONSE")

		ok, failed := 0, 0
		for i := 1; i <= count; i++ {
			res := session.Send(g.Payload(sn, i))
			status := "OK"
			detail := res.Response
			if res.Success {
				ok++
			} else {
				failed++
				status = "FAIL"
				if res.Err != nil && detail == "" {
					detail = res.Err.Error()
				}
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
				i, time.Now().Format("15:04:05.000"), sn, status, res.Elapsed.Milliseconds(), truncate(detail, 40))
			w.Flush()

			if res.Err != nil && res.Ack == nil {
				// connection is unusable after a transport error
				break
			}
			if i < count && delay > 0 {
				select {
				case <-time.After(delay):
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d, succeeded: %d, failed: %d\n", count, ok, failed)
		if failed > 0 {
			return fmt.Errorf("%d message(s) failed", failed)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntP("count", "n", 5, "number of messages")
	batchCmd.Flags().String("sn", "", "serial number (default random)")
	batchCmd.Flags().Duration("delay", time.Second, "delay between messages")
}
