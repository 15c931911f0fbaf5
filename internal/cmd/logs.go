package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/jnlpcache/internal/config"
	"github.com/Iron-Ham/jnlpcache/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View launcher logs",
	Long: `View and filter the launcher log kept in the cache directory.

Rotated backups, including compressed ones, are read as well.

Examples:
  # Show the last 50 entries
  jnlpcache logs

  # Show everything logged for one resource
  jnlpcache logs -n 0 --resource lib.jar

  # Show warnings and errors from the last hour as CSV
  jnlpcache logs --level warn --since 1h --format csv`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail      int
	logsLevel     string
	logsSince     string
	logsResource  string
	logsOperation string
	logsGrep      string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsResource, "resource", "", "Show entries whose resource contains this string")
	logsCmd.Flags().StringVar(&logsOperation, "op", "", "Show entries of one operation (fetch, publish, clean, ...)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Show entries whose message contains this string")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format (text/json/csv)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	filter, err := buildLogFilter(time.Now())
	if err != nil {
		return err
	}

	entries, err := logging.ReadLogs(cfg.Cache.ResolveDir())
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}
	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	return logging.WriteEntries(cmd.OutOrStdout(), entries, logsFormat)
}

func buildLogFilter(now time.Time) (logging.LogFilter, error) {
	filter := logging.LogFilter{
		Level:           logsLevel,
		Resource:        logsResource,
		Operation:       logsOperation,
		MessageContains: logsGrep,
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid --since duration %q: %w", logsSince, err)
		}
		filter.StartTime = now.Add(-d)
	}
	return filter, nil
}
