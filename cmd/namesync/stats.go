package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/namesync/namesync/internal/statsserver"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counters from a running namesync daemon",
	Long: `Fetch /stats from the daemon's stats server and print it.

Example usage:
  namesync stats
  namesync stats --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StatsPort <= 0 {
			return fmt.Errorf("stats_port is disabled in the configuration")
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://localhost:%d/stats", cfg.StatsPort))
		if err != nil {
			return fmt.Errorf("is the daemon running? %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("stats server returned %s", resp.Status)
		}

		var snap statsserver.StatsSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return fmt.Errorf("failed to decode stats: %w", err)
		}

		if statsJSON {
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		b, r := snap.Bridge, snap.Resolver
		fmt.Printf("namesync stats at %s\n\n", snap.Time.Format(time.RFC3339))

		fmt.Println("Bridge:")
		fmt.Printf("  cursor            %d\n", b.Cursor)
		fmt.Printf("  queue depth       %d\n", b.QueueDepth)
		fmt.Printf("  polls             %d (%d errors)\n", b.Polls, b.PollErrors)
		fmt.Printf("  tasks enqueued    %d\n", b.TasksEnqueued)
		fmt.Printf("  tasks applied     %d (%d errors, %d retries, %d abandoned)\n",
			b.TasksApplied, b.ApplyErrors, b.Retries, b.Abandoned)
		fmt.Printf("  retrieval errors  %d\n", b.RetrievalErrors)

		fmt.Println("\nResolver:")
		fmt.Printf("  queries           %d\n", r.TotalQueries)
		fmt.Printf("  cache hit rate    %.1f%%\n", r.CacheHitRate)
		fmt.Printf("  fast tier         %d queries (%d errors), avg %s\n",
			r.FastQueries, r.FastErrors, r.AvgFastLatency)
		fmt.Printf("  authoritative     %d queries (%d errors), avg %s\n",
			r.AuthQueries, r.AuthErrors, r.AvgAuthLatency)
		if r.SpeedupRatio > 0 {
			fmt.Printf("  speedup           %.1fx\n", r.SpeedupRatio)
		}
		if r.ConsistencyWarnings > 0 {
			fmt.Printf("  consistency warnings  %d\n", r.ConsistencyWarnings)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the raw JSON snapshot")
	rootCmd.AddCommand(statsCmd)
}
