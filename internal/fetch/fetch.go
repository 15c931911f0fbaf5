// Package fetch downloads resources into the cache. Every candidate URL of
// a request is tried concurrently; the most preferred URL that succeeds
// wins and the others are cancelled.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/jnlpcache/internal/cache"
	"github.com/Iron-Ham/jnlpcache/internal/errors"
	"github.com/Iron-Ham/jnlpcache/internal/filelock"
	"github.com/Iron-Ham/jnlpcache/internal/jardiff"
	"github.com/Iron-Ham/jnlpcache/internal/logging"
	"github.com/Iron-Ham/jnlpcache/internal/progress"
	"github.com/Iron-Ham/jnlpcache/internal/race"
)

// Protocol header and content types.
const (
	VersionHeader    = "x-java-jnlp-version-id"
	ErrorContentType = "application/x-java-jnlp-error"
	DiffContentType  = "application/x-java-archive-diff"
	JarContentType   = "application/java-archive"
)

// maxErrorBody bounds how much of a server error response is kept.
const maxErrorBody = 4096

// Sink receives download progress. Calls for one location are sequential;
// calls for different candidates of one request may interleave.
type Sink interface {
	Progress(location string, transferred, total int64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(location string, transferred, total int64)

// Progress calls f.
func (f SinkFunc) Progress(location string, transferred, total int64) {
	f(location, transferred, total)
}

// Download is what a candidate produced: either a staged file waiting to be
// published, or a reference to cache content that is already current.
type Download struct {
	URL string
	// Version is the version the server reported, or the requested one.
	Version string
	// Path is the staged file. Empty when Reused.
	Path string
	Info cache.Info
	// Reused is set when the cached content was up to date and nothing was
	// transferred.
	Reused bool
	// Transferred counts bytes read off the wire, before decoding.
	Transferred int64
}

// CandidateSource produces the race candidates for a request.
type CandidateSource interface {
	Candidates(ctx context.Context, req Request) ([]race.Candidate[*Download], error)
}

// Result describes the outcome of a successful Fetch.
type Result struct {
	Location string
	Version  string
	URL      string
	// Path is the cached content.
	Path        string
	Info        cache.Info
	Reused      bool
	Transferred int64
}

// Fetcher downloads resources into a Cache.
type Fetcher struct {
	cache         *cache.Cache
	client        *http.Client
	logger        *logging.Logger
	sink          Sink
	source        CandidateSource
	maxCandidates int
	chunks        []progress.Option

	// cleanup tracks removal of losing candidates' staged files.
	cleanup conc.WaitGroup
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client. The default is NewClient(0, 0).
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithSink sets the progress receiver.
func WithSink(s Sink) Option {
	return func(f *Fetcher) {
		f.sink = s
	}
}

// WithCandidateSource replaces the URL based candidate factory.
func WithCandidateSource(s CandidateSource) Option {
	return func(f *Fetcher) {
		f.source = s
	}
}

// WithMaxCandidates caps how many URLs are tried per request. Zero or less
// means no cap.
func WithMaxCandidates(n int) Option {
	return func(f *Fetcher) {
		f.maxCandidates = n
	}
}

// WithProgressChunks sets the progress granularity for responses of known
// and unknown length.
func WithProgressChunks(known, unknown int64) Option {
	return func(f *Fetcher) {
		f.chunks = []progress.Option{progress.WithChunks(known, unknown)}
	}
}

// NewClient returns an HTTP client with the given dial and response-header
// timeouts. Zero disables a timeout. Transparent gzip decoding is off, since
// the Fetcher negotiates and decodes content codings itself.
func NewClient(connectTimeout, readTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = readTimeout
	transport.DisableCompression = true
	return &http.Client{Transport: transport}
}

// New returns a Fetcher storing into c.
func New(c *cache.Cache, opts ...Option) *Fetcher {
	f := &Fetcher{
		cache:  c,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = NewClient(0, 0)
	}
	if f.source == nil {
		f.source = urlSource{f}
	}
	return f
}

// Fetch obtains req and returns where its content lives in the cache.
// If every candidate fails the error is a RaceError holding each failure.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	log := f.logger.WithResource(req.Location, req.Version).WithOperation("fetch")
	cands, err := f.source.Candidates(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if f.maxCandidates > 0 && len(cands) > f.maxCandidates {
		cands = cands[:f.maxCandidates]
	}

	r, err := race.Start(ctx, cands, race.WithLogger(log))
	if err != nil {
		return Result{}, err
	}
	out := r.Wait(ctx)
	// Losers may take arbitrarily long to notice cancellation; their files
	// are removed once they return, without holding up the caller.
	claimed := out.OK()
	f.cleanup.Go(func() { f.discard(r, log, claimed) })

	if !out.OK() {
		log.Error("fetch failed", "error", out.Err, "kind", errors.Kind(out.Err))
		return Result{}, out.Err
	}

	d := out.Value
	res := Result{
		Location:    req.Location,
		Version:     d.Version,
		URL:         d.URL,
		Info:        d.Info,
		Reused:      d.Reused,
		Transferred: d.Transferred,
	}
	key := cache.Key{Location: req.Location, Version: d.Version}
	if d.Reused {
		e, info, err := f.cache.Info(ctx, key)
		if err != nil {
			return Result{}, err
		}
		res.Path, res.Info = f.cache.Path(e), info
		log.Info("cached resource is current", "url", d.URL, "path", res.Path)
		return res, nil
	}

	path, err := f.cache.PublishFile(ctx, key, d.Info, d.Path)
	if err != nil {
		_ = os.Remove(d.Path)
		return Result{}, err
	}
	_, info, err := f.cache.Info(ctx, key)
	if err == nil {
		res.Info = info
	}
	res.Path = path
	log.Info("resource fetched", "url", d.URL, "rank", out.Rank, "bytes", d.Transferred)
	return res, nil
}

// Settle blocks until the staged files left by losing candidates of earlier
// Fetch calls have been removed. That happens only after those candidates
// return.
func (f *Fetcher) Settle() {
	f.cleanup.Wait()
}

// discard removes the staged files of candidates that did not win. Unless
// the caller claimed the winner, its file is removed as well.
func (f *Fetcher) discard(r *race.Race[*Download], log *logging.Logger, claimed bool) {
	for _, d := range r.Leftovers() {
		if d != nil && d.Path != "" {
			log.Debug("discarding losing download", "url", d.URL)
			_ = os.Remove(d.Path)
		}
	}
	if claimed {
		return
	}
	if out := r.Wait(context.Background()); out.OK() && out.Value != nil && out.Value.Path != "" {
		log.Debug("discarding abandoned download", "url", out.Value.URL)
		_ = os.Remove(out.Value.Path)
	}
}

// urlSource turns each candidate URL into one download.
type urlSource struct {
	f *Fetcher
}

func (s urlSource) Candidates(_ context.Context, req Request) ([]race.Candidate[*Download], error) {
	urls, err := URLCandidates(req)
	if err != nil {
		return nil, err
	}
	cands := make([]race.Candidate[*Download], len(urls))
	for i, u := range urls {
		cands[i] = race.Candidate[*Download]{
			Rank: i,
			Name: u,
			Run: func(ctx context.Context) (*Download, error) {
				return s.f.Download(filelock.NewOwner(ctx), req, u)
			},
		}
	}
	return cands, nil
}

// Download fetches req from one URL into a staged file. It does not publish
// the result. A response whose Last-Modified shows the cached content is
// current yields a Reused download without reading the body.
func (f *Fetcher) Download(ctx context.Context, req Request, rawURL string) (*Download, error) {
	log := f.logger.WithResource(req.Location, req.Version).With(logging.KeyCandidate, rawURL)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "build request for %s: %v", rawURL, err)
	}
	hreq.Header.Set("Accept-Encoding", AcceptEncoding)

	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, errors.NewIOError("request", err).WithPath(rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewIOError("request", fmt.Errorf("server returned %s", resp.Status)).
			WithPath(rawURL).WithRetryable(resp.StatusCode >= 500)
	}
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, ErrorContentType) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.NewIOError("request", fmt.Errorf("server error: %s", strings.TrimSpace(string(msg)))).
			WithPath(rawURL).WithRetryable(false)
	}

	version := resp.Header.Get(VersionHeader)
	if version == "" {
		version = req.Version
	}
	var lastModified time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		lastModified, _ = http.ParseTime(lm)
	}

	d := &Download{URL: rawURL, Version: version}
	key := cache.Key{Location: req.Location, Version: version}
	if !lastModified.IsZero() {
		current, err := f.cache.IsUpToDate(ctx, key, lastModified)
		if err != nil {
			return nil, err
		}
		if current {
			d.Reused = true
			return d, nil
		}
	}

	total := resp.ContentLength
	counter := progress.NewReader(resp.Body, total, func(n int64) {
		if f.sink != nil {
			f.sink.Progress(req.Location, n, total)
		}
	}, f.chunks...)

	staged, err := f.stage(counter, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	d.Transferred = counter.Transferred()
	if total > 0 && d.Transferred < total {
		_ = os.Remove(staged)
		return nil, errors.NewIOError("read body",
			fmt.Errorf("read %d bytes from server but expected %d", d.Transferred, total)).WithPath(rawURL)
	}

	d.Path = staged
	d.Info = cache.Info{LastModified: lastModified, ContentType: contentType}
	if strings.HasPrefix(contentType, DiffContentType) {
		if err := f.applyDiff(ctx, req, d, log); err != nil {
			_ = os.Remove(staged)
			return nil, err
		}
	}
	log.Debug("candidate downloaded", "bytes", d.Transferred, "content_type", contentType)
	return d, nil
}

// stage copies the decoded body into a new staging file and returns its
// path. The file is removed on failure.
func (f *Fetcher) stage(body io.Reader, encoding string) (path string, err error) {
	dec, release, err := decoder(body, encoding)
	if err != nil {
		return "", err
	}
	defer release()

	tmp, err := f.cache.CreateTemp("fetch-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := io.Copy(tmp, dec); err != nil {
		return "", errors.NewIOError("read body", err).WithPath(tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return "", errors.NewIOError("close staged file", err).WithPath(tmp.Name())
	}
	return tmp.Name(), nil
}

// applyDiff merges the staged diff in d against the cached current version
// and replaces d.Path with the merged archive.
func (f *Fetcher) applyDiff(ctx context.Context, req Request, d *Download, log *logging.Logger) error {
	if req.CurrentVersion == "" {
		return errors.NewFormatError("received an archive diff without requesting one").WithSource(d.URL)
	}
	prior, ok, err := f.cache.Find(ctx, cache.Key{Location: req.Location, Version: req.CurrentVersion})
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrNotCached, "diff base %s@%s", req.Location, req.CurrentVersion)
	}

	out, err := f.cache.CreateTemp("merge-*")
	if err != nil {
		return err
	}
	merged := out.Name()
	_ = out.Close()

	if err := jardiff.MergeFilesLogged(f.cache.Path(prior), d.Path, merged, log); err != nil {
		_ = os.Remove(merged)
		return err
	}
	_ = os.Remove(d.Path)
	d.Path = merged
	d.Info.ContentType = JarContentType
	return nil
}
