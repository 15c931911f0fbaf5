package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Iron-Ham/jnlpcache/internal/cache"
	"github.com/Iron-Ham/jnlpcache/internal/watch"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the cache",
	Long: `Inspect and maintain the shared cache directory.

Every subcommand takes the cache lock where it reads or rewrites the
index, so it is safe to run while launchers are downloading.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached resources",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "remove <location>",
	Short: "Remove a cached resource",
	Long: `Remove a cached resource and its files.

Without --version only the unversioned entry is removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheRemove,
}

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify <location>",
	Short: "Check cached content against its recorded size and digest",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheVerify,
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Reclaim space",
	Long: `Drop deleted and incomplete entries, evict least recently used entries
beyond the size bound and remove files no entry owns.

The size bound is cache.max_size_mb unless --max-size-mb is given.`,
	Args: cobra.NoArgs,
	RunE: runCacheClean,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached resource",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cacheWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print changes to the cache as they happen",
	Args:  cobra.NoArgs,
	RunE:  runCacheWatch,
}

var (
	cacheKey       keyFlags
	cacheListAll   bool
	cacheMaxSizeMB int64
)

// keyFlags selects one version of a resource.
type keyFlags struct {
	version string
}

func (k *keyFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&k.version, "version", "", "Version of the resource")
}

func (k *keyFlags) Key(location string) cache.Key {
	return cache.Key{Location: location, Version: k.version}
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheRemoveCmd)
	cacheCmd.AddCommand(cacheVerifyCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheWatchCmd)

	cacheListCmd.Flags().BoolVarP(&cacheListAll, "all", "a", false, "Include entries marked deleted")
	for _, c := range []*cobra.Command{cacheRemoveCmd, cacheVerifyCmd} {
		cacheKey.AddFlags(c.Flags())
	}
	cacheCleanCmd.Flags().Int64Var(&cacheMaxSizeMB, "max-size-mb", 0, "Size bound in megabytes (-1 for none)")
}

func runCacheList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.cache.Entries(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}
	printEntries(cmd.OutOrStdout(), e.cache, entries, cacheListAll)
	return nil
}

func printEntries(w io.Writer, c *cache.Cache, entries []cache.Entry, all bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, labelStyle.Render("ID")+"\tLOCATION\tVERSION\tSIZE\tLAST USED\tSTATUS")

	var shown int
	var total int64
	for _, entry := range entries {
		if entry.Deleted && !all {
			continue
		}
		shown++
		size, status := "-", "live"
		if info, err := c.Describe(entry); err == nil {
			size = humanize.Bytes(uint64(info.Size))
			if !entry.Deleted {
				total += info.Size
			}
		} else {
			status = "incomplete"
		}
		if entry.Deleted {
			status = "deleted"
		}
		version := entry.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", entry.ID, entry.Location, version, size,
			humanize.Time(entry.LastAccessed), status)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d entries, %s\n", shown, humanize.Bytes(uint64(total)))
}

func runCacheRemove(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	key := cacheKey.Key(args[0])
	n, err := e.cache.Remove(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	if n == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not cached\n", key)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%d entries)\n", key, n)
	return nil
}

func runCacheVerify(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	key := cacheKey.Key(args[0])
	info, err := e.cache.Verify(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("verification of %s failed: %w", key, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, blake3 %s)\n", okStyle.Render("ok"), key,
		humanize.Bytes(uint64(info.Size)), info.DigestHex())
	return nil
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	maxBytes := e.cfg.Cache.MaxBytes()
	if cmd.Flags().Changed("max-size-mb") {
		maxBytes = cache.Unlimited
		if cacheMaxSizeMB >= 0 {
			maxBytes = cacheMaxSizeMB << 20
		}
	}

	report, err := e.cache.Clean(cmd.Context(), maxBytes)
	if err != nil {
		return fmt.Errorf("failed to clean cache: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Kept %d entries (%s)\n", report.Kept, humanize.Bytes(uint64(report.KeptBytes)))
	fmt.Fprintf(out, "Evicted %d, dropped %d, removed %d orphans\n", report.Evicted, report.Dropped, report.Orphans)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.cache.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", e.cache.Root())
	return nil
}

func runCacheWatch(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	w, err := watch.New(e.cache.Root(), func(b watch.Batch) {
		for _, ev := range b.Events {
			fmt.Fprintf(out, "%s %-8s %s\n", dimStyle.Render(b.Time.Format("15:04:05.000")), ev.Op, ev.Path)
		}
		if b.IndexChanged {
			if entries, err := e.cache.Entries(context.Background()); err == nil {
				fmt.Fprintf(out, "%s index now holds %d entries\n", labelStyle.Render("»"), len(entries))
			}
		}
	}, watch.WithLogger(e.logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", e.cache.Root())
	return w.Run(ctx)
}
