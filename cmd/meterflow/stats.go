package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/MeterFlow/internal/adapters/observability"
)

var (
	statsURL      string
	statsInterval time.Duration
)

var statsMetrics = []string{
	observability.RecordsAccepted,
	observability.RecordsRejected,
	observability.ConnectionState,
	observability.ReconnectAttempts,
	observability.ExportsSucceeded,
	observability.QueueLength,
	observability.WALSizeBytes,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Poll the Prometheus metrics endpoint and print live counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", statsURL)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				values, err := fetchMetrics(statsURL)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "stats error: %v\n", err)
					continue
				}
				fmt.Fprintln(out, formatStats(time.Now(), values))
			}
		}
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsURL, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	statsCmd.Flags().DurationVar(&statsInterval, "interval", 2*time.Second, "Refresh interval")
}

func fetchMetrics(url string) (map[string]float64, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics picks the statsMetrics samples out of the text exposition format.
func parseMetrics(r io.Reader) (map[string]float64, error) {
	values := make(map[string]float64, len(statsMetrics))
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsMetrics {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	return values, scanner.Err()
}

func formatStats(at time.Time, v map[string]float64) string {
	return fmt.Sprintf("[%s] accepted=%.0f rejected=%.0f state=%.0f reconnects=%.0f exports=%.0f queue=%.0f wal_bytes=%.0f",
		at.Format(time.RFC3339),
		v[observability.RecordsAccepted],
		v[observability.RecordsRejected],
		v[observability.ConnectionState],
		v[observability.ReconnectAttempts],
		v[observability.ExportsSucceeded],
		v[observability.QueueLength],
		v[observability.WALSizeBytes],
	)
}
