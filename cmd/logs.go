package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect and purge the recognition log",
}

var logsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recognition events",
	Long: `Summarize recognition events recorded since a point in time.

Examples:
  face-attendance logs stats
  face-attendance logs stats --since 168h --json`,
	Args: cobra.NoArgs,
	RunE: runLogsStats,
}

var logsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old recognition events",
	Long: `Delete recognition events older than the retention window
(LOG_RETENTION_DAYS, overridable with --days). "serve" runs this every night.`,
	Args: cobra.NoArgs,
	RunE: runLogsPurge,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsStatsCmd, logsPurgeCmd)

	logsStatsCmd.Flags().Duration("since", 24*time.Hour, "Look back this far")
	logsStatsCmd.Flags().Bool("json", false, "Output as JSON")
	logsPurgeCmd.Flags().Int("days", 0, "Retention in days (0 = LOG_RETENTION_DAYS)")
}

func runLogsStats(cmd *cobra.Command, args []string) error {
	since := mustGetDuration(cmd, "since")
	if since <= 0 {
		return fmt.Errorf("--since must be positive, got %s", since)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	from := time.Now().Add(-since)
	stats, err := a.store.Statistics(ctx, from)
	if err != nil {
		return fmt.Errorf("loading recognition stats: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(map[string]any{"since": from, "stats": stats})
	}

	fmt.Printf("Recognition events since %s\n\n", from.Local().Format("2006-01-02 15:04"))
	fmt.Printf("  Total:          %d\n", stats.Total)
	fmt.Printf("  Recognized:     %d\n", stats.Recognized)
	fmt.Printf("  Duplicates:     %d\n", stats.Duplicates)
	fmt.Printf("  Low confidence: %d\n", stats.LowConfidence)
	fmt.Printf("  Unknown:        %d\n", stats.Unknown)
	if stats.Total > 0 {
		fmt.Printf("  Confidence:     avg %.2f%%, min %.2f%%, max %.2f%%\n",
			stats.AverageConfidence*100, stats.MinConfidence*100, stats.MaxConfidence*100)
	}
	return nil
}

func runLogsPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if days := mustGetInt(cmd, "days"); days > 0 {
		a.cfg.Log.RetentionDays = days
	}
	removed, err := a.purgeRecognitionLogs(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d recognition events older than %d days\n", removed, a.cfg.Log.RetentionDays)
	return nil
}
