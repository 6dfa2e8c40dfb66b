package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/workerproc/internal/lifecycle"
)

func benchCmd() *cobra.Command {
	var (
		calls   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Spawn a worker and report round-trip call latency",
		Long: `Bench spawns a Calculator worker, issues --calls sequential
Add calls, and reports call throughput plus p50/p95/p99 latency.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := selfAsWorker()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			h, err := lifecycle.Spawn(ctx, lifecycle.SpawnOptions{
				WorkerPath: self,
				ClassName:  "Calculator",
				Env:        map[string]string{workerModeEnv: "1"},
				Timeout:    timeout,
			})
			if err != nil {
				return fmt.Errorf("spawn Calculator: %w", err)
			}
			defer h.Terminate(context.Background())

			durations := make([]time.Duration, 0, calls)
			started := time.Now()
			for i := 0; i < calls; i++ {
				callStart := time.Now()
				if _, err := h.Call(ctx, "Add", 1); err != nil {
					return fmt.Errorf("call %d: %w", i, err)
				}
				durations = append(durations, time.Since(callStart))
			}
			elapsed := time.Since(started)

			sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CALLS\tELAPSED\tTHROUGHPUT\tP50\tP95\tP99")
			fmt.Fprintf(w, "%d\t%s\t%.0f/s\t%s\t%s\t%s\n",
				calls,
				elapsed.Round(time.Millisecond),
				float64(calls)/elapsed.Seconds(),
				percentile(durations, 0.50),
				percentile(durations, 0.95),
				percentile(durations, 0.99),
			)
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&calls, "calls", 1000, "Number of sequential calls to issue")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-call timeout")

	return cmd
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].Round(time.Microsecond)
}
