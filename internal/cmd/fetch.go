package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/jnlpcache/internal/fetch"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <location>",
	Short: "Download a resource into the cache",
	Long: `Download a resource into the cache and print where it was stored.

The versioned forms of the location are tried first, and https variants
before plain http when prefer_https is set. The first candidate in that
order that succeeds wins. When the server answers with an archive diff,
it is applied to the cached --current-version.

Examples:
  jnlpcache fetch https://example.com/app/lib.jar
  jnlpcache fetch https://example.com/app/lib.jar --version 2.1
  jnlpcache fetch https://example.com/app/lib.jar --version 2.1 --current-version 2.0`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var (
	fetchVersion        string
	fetchCurrentVersion string
	fetchQuiet          bool
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchVersion, "version", "", "Version to request")
	fetchCmd.Flags().StringVar(&fetchCurrentVersion, "current-version", "", "Cached version to request a diff against")
	fetchCmd.Flags().BoolVarP(&fetchQuiet, "quiet", "q", false, "Do not render a progress bar")
}

var (
	labelStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	reusedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// progressBar renders fetch progress on a single terminal line.
type progressBar struct {
	mu    sync.Mutex
	w     io.Writer
	bar   progress.Model
	shown int64
	drawn bool
}

func newProgressBar(w io.Writer) *progressBar {
	return &progressBar{
		w:   w,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Progress implements fetch.Sink. Candidates racing for the same location
// report independently, so only forward movement is drawn.
func (p *progressBar) Progress(_ string, transferred, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if transferred < p.shown {
		return
	}
	p.shown = transferred
	p.drawn = true

	if total > 0 {
		pct := float64(transferred) / float64(total)
		fmt.Fprintf(p.w, "\r%s %s / %s", p.bar.ViewAs(min(pct, 1)),
			humanize.Bytes(uint64(transferred)), humanize.Bytes(uint64(total)))
		return
	}
	fmt.Fprintf(p.w, "\r%s", dimStyle.Render(humanize.Bytes(uint64(transferred))+" received"))
}

// Done terminates the progress line if anything was drawn.
func (p *progressBar) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	opts := []fetch.Option{
		fetch.WithClient(fetch.NewClient(e.cfg.Fetch.ConnectTimeout(), e.cfg.Fetch.ReadTimeout())),
		fetch.WithLogger(e.logger),
		fetch.WithMaxCandidates(e.cfg.Fetch.MaxCandidates),
		fetch.WithProgressChunks(e.cfg.Progress.KnownChunk(), e.cfg.Progress.UnknownChunk()),
	}
	var bar *progressBar
	if !fetchQuiet {
		bar = newProgressBar(cmd.ErrOrStderr())
		opts = append(opts, fetch.WithSink(bar))
	}
	f := fetch.New(e.cache, opts...)
	// HTTP candidates stop on cancellation, so this does not hang the command.
	defer f.Settle()

	res, err := f.Fetch(cmd.Context(), fetch.Request{
		Location:       args[0],
		Version:        fetchVersion,
		CurrentVersion: fetchCurrentVersion,
		PreferHTTPS:    e.cfg.Fetch.PreferHTTPS,
	})
	if bar != nil {
		bar.Done()
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", args[0], err)
	}

	printFetchResult(cmd.OutOrStdout(), res)
	return nil
}

func printFetchResult(w io.Writer, res fetch.Result) {
	status := okStyle.Render("downloaded")
	if res.Reused {
		status = reusedStyle.Render("up to date")
	}
	fmt.Fprintf(w, "%s %s\n", status, res.Location)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("path:"), res.Path)
	if res.Version != "" {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("version:"), res.Version)
	}
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("url:"), res.URL)
	fmt.Fprintf(w, "  %s %s", labelStyle.Render("size:"), humanize.Bytes(uint64(res.Info.Size)))
	if !res.Reused {
		fmt.Fprintf(w, " (%s transferred)", humanize.Bytes(uint64(res.Transferred)))
	}
	fmt.Fprintln(w)
	if len(res.Info.Digest) > 0 {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("blake3:"), res.Info.DigestHex())
	}
}
