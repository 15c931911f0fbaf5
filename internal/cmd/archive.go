package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/jnlpcache/internal/jardiff"
	"github.com/Iron-Ham/jnlpcache/internal/logging"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <prior> <diff> <out>",
	Short: "Apply an archive diff to an archive",
	Long: `Apply an archive diff to a prior archive and write the result to out.

The diff's index entry lists the entries to remove and rename. Every other
entry of the diff replaces or adds to the prior archive. The output is
written to a temporary file and renamed into place, so out is left
untouched if the merge fails.`,
	Args: cobra.ExactArgs(3),
	RunE: runMerge,
}

var diffCmd = &cobra.Command{
	Use:   "diff <prior> <next> <out>",
	Short: "Create an archive diff between two archives",
	Long: `Create an archive diff that turns prior into next when merged.

Entries whose content is unchanged are left out. Removed entries are
recorded in the diff's index entry.`,
	Args: cobra.ExactArgs(3),
	RunE: runDiff,
}

var archiveVerbose bool

func init() {
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(diffCmd)

	mergeCmd.Flags().BoolVarP(&archiveVerbose, "verbose", "v", false, "Log each merged entry to stderr")
}

func runMerge(cmd *cobra.Command, args []string) error {
	logger := logging.NopLogger()
	if archiveVerbose {
		logger = logging.NewWriterLogger(cmd.ErrOrStderr(), logging.LevelDebug)
	}

	if err := jardiff.MergeFilesLogged(args[0], args[1], args[2], logger); err != nil {
		return fmt.Errorf("failed to merge %s: %w", args[1], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Merged %s into %s (%s)\n", args[1], args[2], fileSize(args[2]))
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	if err := jardiff.DiffFiles(args[0], args[1], args[2]); err != nil {
		return fmt.Errorf("failed to diff %s and %s: %w", args[0], args[1], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote diff %s (%s, next is %s)\n", args[2], fileSize(args[2]), fileSize(args[1]))
	return nil
}

func fileSize(path string) string {
	st, err := os.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return humanize.Bytes(uint64(st.Size()))
}
