// Package cache stores downloaded resources on disk, shared by every
// launcher process that uses the same cache root.
//
// The layout is:
//
//	<root>/recently_used    index of entries, one tab-separated line each
//	<root>/<i>/<j>/<name>   content of the entry with id "i/j"
//	<root>/<i>/<j>/.info    CBOR metadata for that content
//	<root>/.staging/        private files of downloads in progress
//
// All index reads and writes go through a recordstore, so they are
// serialized across processes by the index lock. Publishing new content
// always uses a fresh entry directory; the previous entry for the same key
// is marked deleted in the same index update and its files are reclaimed
// by Clean.
package cache

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
	"github.com/Iron-Ham/jnlpcache/internal/filelock"
	"github.com/Iron-Ham/jnlpcache/internal/logging"
	"github.com/Iron-Ham/jnlpcache/internal/recordstore"
)

const (
	// IndexFile is the name of the index inside the cache root.
	IndexFile = "recently_used"

	stagingDir = ".staging"

	// fanOut bounds both levels of entry directories.
	fanOut = 250

	defaultFileName = "resource"
)

// Cache is a handle on one cache root. It holds no state across calls
// besides configuration, so any number of Cache values (in any number of
// processes) may share a root.
type Cache struct {
	root   string
	index  *recordstore.Typed[Entry]
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for access and download times.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Open returns a Cache rooted at root, creating the directory if needed.
func Open(root string, opts ...Option) (*Cache, error) {
	if root == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "cache root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.NewIOError("create cache root", err).WithPath(root)
	}
	c := &Cache{
		root:   root,
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	store, err := recordstore.Open(filepath.Join(root, IndexFile))
	if err != nil {
		return nil, err
	}
	c.index = recordstore.NewTyped[Entry](store, entryCodec{},
		recordstore.WithDropInvalid[Entry](func(line string, err error) {
			c.logger.Warn("dropping unreadable index line", "line", line, "error", err)
		}))
	return c, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Dir returns the directory holding the files of e.
func (c *Cache) Dir(e Entry) string {
	return filepath.Join(c.root, filepath.FromSlash(e.ID))
}

// Path returns the content file of e.
func (c *Cache) Path(e Entry) string {
	return filepath.Join(c.Dir(e), FileName(e.Location))
}

// FileName derives the content file name from the last path segment of a
// resource location.
func FileName(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	switch {
	case name == "" || name == "." || name == ".." || name == "/":
		return defaultFileName
	case strings.HasPrefix(name, "."):
		// Dot names are reserved for metadata and temporaries.
		return "_" + name
	}
	return name
}

// Entries returns every index entry, including deleted ones, in index order.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	return c.index.All(ctx)
}

// Find returns the live entry for key without touching its access time.
func (c *Cache) Find(ctx context.Context, key Key) (Entry, bool, error) {
	entries, err := c.index.All(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.matches(key) {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Lookup returns the live entry for key and records the access.
func (c *Cache) Lookup(ctx context.Context, key Key) (Entry, bool, error) {
	var found Entry
	var ok bool
	err := c.index.Update(ctx, func(entries []Entry) ([]Entry, bool, error) {
		for i := range entries {
			if entries[i].matches(key) {
				entries[i].LastAccessed = c.now()
				found, ok = entries[i], true
				return entries, true, nil
			}
		}
		return nil, false, nil
	})
	return found, ok, err
}

// Info returns the metadata of the live entry for key, or ErrNotCached.
func (c *Cache) Info(ctx context.Context, key Key) (Entry, Info, error) {
	e, ok, err := c.Find(ctx, key)
	if err != nil {
		return Entry{}, Info{}, err
	}
	if !ok {
		return Entry{}, Info{}, errors.Wrapf(errors.ErrNotCached, "%s", key)
	}
	info, err := readInfo(c.Dir(e))
	if err != nil {
		return e, Info{}, err
	}
	return e, info, nil
}

// Describe returns the metadata stored beside e.
func (c *Cache) Describe(e Entry) (Info, error) {
	return readInfo(c.Dir(e))
}

// IsCached reports whether key has a live entry whose content and metadata
// are both present.
func (c *Cache) IsCached(ctx context.Context, key Key) (bool, error) {
	e, ok, err := c.Find(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	cached := c.complete(e)
	c.logger.WithResource(key.Location, key.Version).Debug("cache check", "cached", cached)
	return cached, nil
}

// IsUpToDate reports whether key is cached with content at least as new as
// lastModified. It records the access.
func (c *Cache) IsUpToDate(ctx context.Context, key Key, lastModified time.Time) (bool, error) {
	e, ok, err := c.Lookup(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if !c.complete(e) {
		return false, nil
	}
	info, err := readInfo(c.Dir(e))
	if err != nil {
		return false, nil
	}
	current := info.IsCurrent(lastModified)
	c.logger.WithResource(key.Location, key.Version).Debug("freshness check", "up_to_date", current)
	return current, nil
}

func (c *Cache) complete(e Entry) bool {
	st, err := os.Stat(c.Path(e))
	if err != nil || !st.Mode().IsRegular() {
		return false
	}
	_, err = os.Stat(filepath.Join(c.Dir(e), InfoFile))
	return err == nil
}

// CreateTemp creates a private file under the cache root for staging a
// download. Files created here can be handed to PublishFile without a copy.
func (c *Cache) CreateTemp(pattern string) (*os.File, error) {
	dir := filepath.Join(c.root, stagingDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewIOError("create staging directory", err).WithPath(dir)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, errors.NewIOError("create staging file", err).WithPath(dir)
	}
	return f, nil
}

// Publish copies src into the cache as the new content for key and returns
// the published content path. Size and Digest of info are computed from
// the bytes written.
func (c *Cache) Publish(ctx context.Context, key Key, info Info, src io.Reader) (string, error) {
	tmp, err := c.CreateTemp("publish-*")
	if err != nil {
		return "", err
	}
	staged := tmp.Name()
	defer func() { _ = os.Remove(staged) }()

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", errors.NewIOError("stage content", err).WithPath(staged)
	}
	info.Size = n
	info.Digest = h.Sum(nil)
	return c.publish(ctx, key, info, staged)
}

// PublishFile moves the file at staged into the cache as the new content
// for key. staged should come from CreateTemp so the move is a rename. On
// success the file no longer exists at staged.
func (c *Cache) PublishFile(ctx context.Context, key Key, info Info, staged string) (string, error) {
	size, digest, err := hashFile(staged)
	if err != nil {
		return "", err
	}
	info.Size = size
	info.Digest = digest
	return c.publish(ctx, key, info, staged)
}

func (c *Cache) publish(ctx context.Context, key Key, info Info, staged string) (string, error) {
	if key.Location == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "cache key has no location")
	}
	if info.DownloadedAt.IsZero() {
		info.DownloadedAt = c.now()
	}
	log := c.logger.WithResource(key.Location, key.Version).WithOperation("publish")

	var published string
	ctx = filelock.WithOwner(ctx)
	err := c.index.Store().Lock().Do(ctx, func(ctx context.Context) error {
		entries, err := c.index.All(ctx)
		if err != nil {
			return err
		}
		id, err := c.claimDir(entries)
		if err != nil {
			return err
		}
		e := Entry{ID: id, Location: key.Location, Version: key.Version, LastAccessed: c.now()}
		dir := c.Dir(e)

		fail := func(err error) error {
			_ = os.RemoveAll(dir)
			return err
		}
		if err := os.Rename(staged, c.Path(e)); err != nil {
			return fail(errors.NewIOError("publish content", err).WithPath(c.Path(e)))
		}
		if err := writeInfo(dir, info); err != nil {
			return fail(err)
		}
		err = c.index.Update(ctx, func(entries []Entry) ([]Entry, bool, error) {
			for i := range entries {
				if entries[i].matches(key) {
					entries[i].Deleted = true
				}
			}
			return append(entries, e), true, nil
		})
		if err != nil {
			return fail(err)
		}
		published = c.Path(e)
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Info("resource cached", "path", published, "size", info.Size, "digest", info.DigestHex())
	return published, nil
}

// claimDir creates and returns the first free entry directory. The caller
// holds the index lock.
func (c *Cache) claimDir(entries []Entry) (string, error) {
	used := make(map[string]bool, len(entries))
	for _, e := range entries {
		used[e.ID] = true
	}
	for i := range fanOut {
		parent := filepath.Join(c.root, fmt.Sprint(i))
		for j := range fanOut {
			id := formatID(i, j)
			if used[id] {
				continue
			}
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return "", errors.NewIOError("create cache directory", err).WithPath(parent)
			}
			dir := filepath.Join(parent, fmt.Sprint(j))
			err := os.Mkdir(dir, 0o755)
			if err == nil {
				return id, nil
			}
			if !os.IsExist(err) {
				return "", errors.NewIOError("create cache directory", err).WithPath(dir)
			}
		}
	}
	return "", errors.NewIOError("create cache directory", fmt.Errorf("all %d entry directories are in use", fanOut*fanOut))
}

// Invalidate marks the live entry for key deleted so it is no longer
// served. It reports whether an entry was marked.
func (c *Cache) Invalidate(ctx context.Context, key Key) (bool, error) {
	var marked bool
	err := c.index.Update(ctx, func(entries []Entry) ([]Entry, bool, error) {
		for i := range entries {
			if entries[i].matches(key) {
				entries[i].Deleted = true
				marked = true
			}
		}
		return entries, marked, nil
	})
	if marked {
		c.logger.WithResource(key.Location, key.Version).Info("cache entry invalidated")
	}
	return marked, err
}

// Remove deletes every entry for key, live or deleted, and its files. It
// reports how many entries were removed.
func (c *Cache) Remove(ctx context.Context, key Key) (int, error) {
	var removed []Entry
	ctx = filelock.WithOwner(ctx)
	err := c.index.Store().Lock().Do(ctx, func(ctx context.Context) error {
		err := c.index.Update(ctx, func(entries []Entry) ([]Entry, bool, error) {
			kept := entries[:0]
			for _, e := range entries {
				if e.Location == key.Location && e.Version == key.Version {
					removed = append(removed, e)
					continue
				}
				kept = append(kept, e)
			}
			return kept, len(removed) > 0, nil
		})
		if err != nil {
			return err
		}
		return c.removeDirs(removed)
	})
	if len(removed) > 0 {
		c.logger.WithResource(key.Location, key.Version).Info("cache entry removed", "entries", len(removed))
	}
	return len(removed), err
}

func (c *Cache) removeDirs(entries []Entry) error {
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(c.Dir(e)); err != nil {
			errs = append(errs, errors.NewIOError("remove cache directory", err).WithPath(c.Dir(e)))
		}
	}
	return errors.Join(errs...)
}

// Verify recomputes the digest of the cached content for key and compares
// it, and the size, with the stored metadata. A mismatch is a FormatError.
func (c *Cache) Verify(ctx context.Context, key Key) (Info, error) {
	e, info, err := c.Info(ctx, key)
	if err != nil {
		return Info{}, err
	}
	return info, c.verifyEntry(e, info)
}

func (c *Cache) verifyEntry(e Entry, info Info) error {
	p := c.Path(e)
	size, digest, err := hashFile(p)
	if err != nil {
		return err
	}
	if size != info.Size {
		return errors.NewFormatError(fmt.Sprintf("size is %d, recorded %d", size, info.Size)).WithSource(p)
	}
	if !slices.Equal(digest, info.Digest) {
		return errors.NewFormatError("content digest does not match").WithSource(p)
	}
	return nil
}

func hashFile(p string) (int64, []byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, nil, errors.NewIOError("open content", err).WithPath(p)
	}
	defer func() { _ = f.Close() }()
	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, nil, errors.NewIOError("hash content", err).WithPath(p)
	}
	return n, h.Sum(nil), nil
}
