package cache

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
	"github.com/Iron-Ham/jnlpcache/internal/filelock"
)

// Unlimited disables the size bound of Clean.
const Unlimited int64 = -1

// staleStaging is how old a staging file must be before Clean treats it as
// abandoned by a crashed download.
const staleStaging = 24 * time.Hour

// CleanReport summarizes what Clean did.
type CleanReport struct {
	// Kept and KeptBytes describe the live entries that remain.
	Kept      int
	KeptBytes int64
	// Evicted counts entries dropped to honor the size bound.
	Evicted int
	// Dropped counts deleted or incomplete entries.
	Dropped int
	// Orphans counts directories and files that no index entry owned.
	Orphans int
}

// Clean reclaims space. Deleted entries and entries with missing files are
// dropped. Live entries are then kept most recently used first until
// maxBytes would be exceeded; the rest are evicted. Directories that no
// entry owns and stray files inside entry directories are removed. A
// negative maxBytes means no size bound.
func (c *Cache) Clean(ctx context.Context, maxBytes int64) (CleanReport, error) {
	var report CleanReport
	log := c.logger.WithOperation("clean")
	ctx = filelock.WithOwner(ctx)

	err := c.index.Store().Lock().Do(ctx, func(ctx context.Context) error {
		var doomed []Entry
		owned := make(map[string]bool)
		var live []Entry
		err := c.index.Update(ctx, func(entries []Entry) ([]Entry, bool, error) {
			order := slices.Clone(entries)
			slices.SortStableFunc(order, func(a, b Entry) int {
				return b.LastAccessed.Compare(a.LastAccessed)
			})

			keep := make(map[string]bool, len(order))
			var used int64
			for _, e := range order {
				if e.Deleted || !c.complete(e) {
					report.Dropped++
					doomed = append(doomed, e)
					continue
				}
				st, err := os.Stat(c.Path(e))
				if err != nil {
					report.Dropped++
					doomed = append(doomed, e)
					continue
				}
				if maxBytes >= 0 && used+st.Size() > maxBytes {
					log.Debug("evicting entry", "id", e.ID, "location", e.Location, "size", st.Size(), "used", used)
					report.Evicted++
					doomed = append(doomed, e)
					continue
				}
				used += st.Size()
				keep[e.ID] = true
			}
			report.Kept = len(keep)
			report.KeptBytes = used

			kept := make([]Entry, 0, len(keep))
			for _, e := range entries {
				if keep[e.ID] {
					kept = append(kept, e)
					owned[e.ID] = true
					live = append(live, e)
				}
			}
			return kept, len(kept) != len(entries), nil
		})
		if err != nil {
			return err
		}

		var errs []error
		if err := c.removeDirs(doomed); err != nil {
			errs = append(errs, err)
		}
		for _, e := range live {
			n, err := c.removeStrays(e)
			report.Orphans += n
			if err != nil {
				errs = append(errs, err)
			}
		}
		n, err := c.removeOrphanDirs(owned)
		report.Orphans += n
		if err != nil {
			errs = append(errs, err)
		}
		report.Orphans += c.removeStaleStaging()
		return errors.Join(errs...)
	})

	log.Info("cache cleaned",
		"kept", report.Kept, "kept_bytes", report.KeptBytes,
		"evicted", report.Evicted, "dropped", report.Dropped, "orphans", report.Orphans)
	return report, err
}

// Clear removes every entry and all cache content.
func (c *Cache) Clear(ctx context.Context) error {
	ctx = filelock.WithOwner(ctx)
	return c.index.Store().Lock().Do(ctx, func(ctx context.Context) error {
		if err := c.index.Store().Clear(ctx); err != nil {
			return err
		}
		if _, err := c.removeOrphanDirs(nil); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(c.root, stagingDir)); err != nil {
			return errors.NewIOError("remove staging directory", err)
		}
		c.logger.Info("cache cleared", "root", c.root)
		return nil
	})
}

// removeStrays deletes files in the directory of e other than its content
// and metadata.
func (c *Cache) removeStrays(e Entry) (int, error) {
	dir := c.Dir(e)
	names, err := os.ReadDir(dir)
	if err != nil {
		return 0, nil
	}
	content := FileName(e.Location)
	var n int
	var errs []error
	for _, d := range names {
		if d.Name() == content || d.Name() == InfoFile {
			continue
		}
		c.logger.Debug("removing stray file", "path", filepath.Join(dir, d.Name()))
		if err := os.RemoveAll(filepath.Join(dir, d.Name())); err != nil {
			errs = append(errs, errors.NewIOError("remove stray file", err).WithPath(filepath.Join(dir, d.Name())))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// removeOrphanDirs deletes numbered entry directories not in owned, then
// numbered first-level directories left empty. The caller holds the index
// lock.
func (c *Cache) removeOrphanDirs(owned map[string]bool) (int, error) {
	levelOne, err := os.ReadDir(c.root)
	if err != nil {
		return 0, errors.NewIOError("list cache root", err).WithPath(c.root)
	}
	var n int
	var errs []error
	for _, d1 := range levelOne {
		i, ok := entryIndex(d1)
		if !ok {
			continue
		}
		parent := filepath.Join(c.root, d1.Name())
		levelTwo, err := os.ReadDir(parent)
		if err != nil {
			errs = append(errs, errors.NewIOError("list cache directory", err).WithPath(parent))
			continue
		}
		remaining := len(levelTwo)
		for _, d2 := range levelTwo {
			j, ok := entryIndex(d2)
			if !ok || owned[formatID(i, j)] {
				continue
			}
			dir := filepath.Join(parent, d2.Name())
			c.logger.Debug("removing orphan directory", "path", dir)
			if err := os.RemoveAll(dir); err != nil {
				errs = append(errs, errors.NewIOError("remove orphan directory", err).WithPath(dir))
				continue
			}
			remaining--
			n++
		}
		if remaining == 0 {
			if err := os.Remove(parent); err != nil && !os.IsNotExist(err) {
				errs = append(errs, errors.NewIOError("remove empty directory", err).WithPath(parent))
			}
		}
	}
	return n, errors.Join(errs...)
}

func (c *Cache) removeStaleStaging() int {
	dir := filepath.Join(c.root, stagingDir)
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var n int
	cutoff := time.Now().Add(-staleStaging)
	for _, d := range files {
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.RemoveAll(filepath.Join(dir, d.Name())) == nil {
			n++
		}
	}
	return n
}

// entryIndex parses a numbered cache directory name.
func entryIndex(d os.DirEntry) (int, bool) {
	if !d.IsDir() {
		return 0, false
	}
	n, err := strconv.Atoi(d.Name())
	if err != nil || n < 0 || n >= fanOut || strconv.Itoa(n) != d.Name() {
		return 0, false
	}
	return n, true
}
