// Package jardiff applies and produces incremental archive updates.
//
// A diff archive holds the entries that are new or changed relative to a
// prior archive, plus an index (META-INF/INDEX.JD) naming entries to remove
// and entries to rename. Merging copies, in order, the new and changed
// entries, the renamed entries, and every other prior entry that was neither
// replaced, removed, nor renamed. Each output path comes from exactly one of
// those three sets.
package jardiff

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
	"github.com/Iron-Ham/jnlpcache/internal/logging"
)

// Merge writes the archive described by applying diff to prior into out.
//
// It fails with a FormatError if the index is missing or malformed or if two
// rules would produce the same output path, and with a MissingEntryError if
// a move names an entry prior does not have. out is closed on every path,
// so on failure it holds a finalized but incomplete archive; use MergeFiles
// to avoid publishing such output.
func Merge(prior, diff *zip.Reader, out *zip.Writer) error {
	return merge(prior, diff, out, logging.NopLogger())
}

func merge(prior, diff *zip.Reader, out *zip.Writer, logger *logging.Logger) (err error) {
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.NewIOError("finalize merged archive", cerr)
		}
	}()

	idx, err := readIndex(diff)
	if err != nil {
		return err
	}

	priorFiles := make(map[string]*zip.File, len(prior.File))
	for _, f := range prior.File {
		if _, dup := priorFiles[f.Name]; !dup {
			priorFiles[f.Name] = f
		}
	}

	written := make(map[string]string)
	emit := func(f *zip.File, name, rule string) error {
		if prev, dup := written[name]; dup {
			return errors.NewFormatError(fmt.Sprintf("entry %q produced by both %s and %s", name, prev, rule))
		}
		written[name] = rule
		logger.Debug("jardiff entry", "entry", name, "rule", rule)
		return copyEntry(out, f, name)
	}

	changed := make(map[string]bool)
	for _, f := range diff.File {
		if f.Name == IndexEntry {
			continue
		}
		changed[f.Name] = true
		if err := emit(f, f.Name, "new"); err != nil {
			return err
		}
	}

	movedFrom := make(map[string]bool, len(idx.Moves))
	for _, m := range idx.Moves {
		f, ok := priorFiles[m.Old]
		if !ok {
			return errors.NewMissingEntryError(m.Old)
		}
		movedFrom[m.Old] = true
		if err := emit(f, m.New, "move"); err != nil {
			return err
		}
	}

	removed := make(map[string]bool, len(idx.Removed))
	for _, p := range idx.Removed {
		removed[p] = true
	}

	for _, f := range prior.File {
		if changed[f.Name] || removed[f.Name] || movedFrom[f.Name] {
			continue
		}
		if err := emit(f, f.Name, "unmodified"); err != nil {
			return err
		}
	}
	return nil
}

func readIndex(diff *zip.Reader) (*Index, error) {
	for _, f := range diff.File {
		if f.Name != IndexEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.NewIOError("open index", err).WithPath(IndexEntry)
		}
		defer func() { _ = rc.Close() }()
		return ParseIndex(rc)
	}
	return nil, errors.NewFormatError("diff archive has no index").WithSource(IndexEntry)
}

// copyEntry copies f into out under name without recompressing it.
func copyEntry(out *zip.Writer, f *zip.File, name string) error {
	fh := f.FileHeader
	fh.Name = name

	src, err := f.OpenRaw()
	if err != nil {
		return errors.NewIOError("open entry", err).WithPath(f.Name)
	}
	dst, err := out.CreateRaw(&fh)
	if err != nil {
		return errors.NewIOError("create entry", err).WithPath(name)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return errors.NewIOError("copy entry", err).WithPath(name)
	}
	return nil
}

// MergeFiles merges the archives at priorPath and diffPath into outPath.
// The result is written to a temporary file beside outPath and renamed into
// place only on success, so a failed merge never leaves a partial archive at
// outPath.
func MergeFiles(priorPath, diffPath, outPath string) error {
	return MergeFilesLogged(priorPath, diffPath, outPath, logging.NopLogger())
}

// MergeFilesLogged is MergeFiles with per-entry debug logging.
func MergeFilesLogged(priorPath, diffPath, outPath string, logger *logging.Logger) (err error) {
	prior, err := zip.OpenReader(priorPath)
	if err != nil {
		return errors.NewIOError("open prior archive", err).WithPath(priorPath)
	}
	defer func() { _ = prior.Close() }()

	diff, err := zip.OpenReader(diffPath)
	if err != nil {
		return errors.NewIOError("open diff archive", err).WithPath(diffPath)
	}
	defer func() { _ = diff.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(outPath), "."+filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return errors.NewIOError("create merge output", err).WithPath(outPath)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := merge(&prior.Reader, &diff.Reader, zip.NewWriter(tmp), logger); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return errors.NewIOError("sync merge output", err).WithPath(tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIOError("close merge output", err).WithPath(tmp.Name())
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return errors.NewIOError("publish merge output", err).WithPath(outPath)
	}
	logger.Info("jardiff merged", "prior", priorPath, "diff", diffPath, "out", outPath)
	return nil
}
