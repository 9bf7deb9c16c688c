package command

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"meterhub/cmd/meter-cli/command/client"
)

// LoadSummary aggregates a load test.
type LoadSummary struct {
	Messages  int
	Succeeded int
	Failed    int
	Total     time.Duration
	ackTime   time.Duration
}

// AvgAck is the mean round trip of successful messages.
func (s LoadSummary) AvgAck() time.Duration {
	if s.Succeeded == 0 {
		return 0
	}
	return s.ackTime / time.Duration(s.Succeeded)
}

// Rate is messages per second over the whole run.
func (s LoadSummary) Rate() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Messages) / s.Total.Seconds()
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Send many messages across concurrent connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if count <= 0 || concurrency <= 0 {
			return fmt.Errorf("--count and --concurrency must be positive")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Load test: %d messages over %d connections to %s\n", count, concurrency, serverAddr)
		summary := runLoad(cmd, newClient(), count, concurrency)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "\n=== Load test results ===")
		fmt.Fprintf(out, "  Messages:        %d\n", summary.Messages)
		fmt.Fprintf(out, "  Succeeded:       %d\n", summary.Succeeded)
		fmt.Fprintf(out, "  Failed:          %d\n", summary.Failed)
		fmt.Fprintf(out, "  Total time:      %d ms\n", summary.Total.Milliseconds())
		fmt.Fprintf(out, "  Avg per message: %.2f ms\n", float64(summary.AvgAck().Microseconds())/1000)
		fmt.Fprintf(out, "  Messages/sec:    %.2f\n", summary.Rate())
		if summary.Failed > 0 {
			return fmt.Errorf("%d message(s) failed", summary.Failed)
		}
		return nil
	},
}

// runLoad spreads count messages over concurrency connections, each with its
// own serial number and generator.
func runLoad(cmd *cobra.Command, c *client.MeterClient, count, concurrency int) LoadSummary {
	if concurrency > count {
		concurrency = count
	}
	jobs := make(chan int)
	var mu sync.Mutex
	summary := LoadSummary{Messages: count}
	progressStep := count/10 + 1
	done := 0

	record := func(ok bool, elapsed time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			summary.Succeeded++
			summary.ackTime += elapsed
		} else {
			summary.Failed++
		}
		done++
		if done%progressStep == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\rProgress: %d/%d (%d%%)   ", done, count, done*100/count)
		}
	}

	start := time.Now()
	var g errgroup.Group
	base := newGenerator()
	for w := 0; w < concurrency; w++ {
		gen := client.NewGenerator(uint64(w) + uint64(start.UnixNano()))
		sn := base.RandomSN()
		g.Go(func() error {
			session, err := c.Open(cmd.Context())
			if err != nil {
				for range jobs {
					record(false, 0)
				}
				return nil
			}
			defer session.Close()
			for i := range jobs {
				res := session.Send(gen.Payload(sn, i))
				record(res.Success, res.Elapsed)
			}
			return nil
		})
	}
	for i := 1; i <= count; i++ {
		jobs <- i
	}
	close(jobs)
	g.Wait()

	summary.Total = time.Since(start)
	return summary
}

func init() {
	loadCmd.Flags().IntP("count", "n", 100, "total number of messages")
	loadCmd.Flags().IntP("concurrency", "c", 10, "number of concurrent connections")
}
