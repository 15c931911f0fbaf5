package jardiff

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

// Diff writes a diff archive that turns prior into next when merged.
// Entries whose content is unchanged are omitted, entries that only changed
// name become moves, and entries missing from next become removals.
func Diff(prior, next *zip.Reader, out *zip.Writer) (err error) {
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.NewIOError("finalize diff archive", cerr)
		}
	}()

	priorFiles := make(map[string]*zip.File, len(prior.File))
	for _, f := range prior.File {
		priorFiles[f.Name] = f
	}
	nextNames := make(map[string]bool, len(next.File))
	for _, f := range next.File {
		if f.Name == IndexEntry {
			return errors.NewFormatError("archive already contains a diff index").WithSource(IndexEntry)
		}
		nextNames[f.Name] = true
	}

	// Prior entries absent from next may be move sources; otherwise removed.
	var gone []*zip.File
	for _, f := range prior.File {
		if !nextNames[f.Name] {
			gone = append(gone, f)
		}
	}
	usedAsSource := make(map[string]bool)

	idx := &Index{}
	var changed []*zip.File
	for _, f := range next.File {
		if old, ok := priorFiles[f.Name]; ok {
			same, err := sameContent(old, f)
			if err != nil {
				return err
			}
			if !same {
				changed = append(changed, f)
			}
			continue
		}

		moved := false
		for _, g := range gone {
			if usedAsSource[g.Name] || isDir(g.Name) != isDir(f.Name) {
				continue
			}
			same, err := sameContent(g, f)
			if err != nil {
				return err
			}
			if same {
				idx.Moves = append(idx.Moves, Move{Old: g.Name, New: f.Name})
				usedAsSource[g.Name] = true
				moved = true
				break
			}
		}
		if !moved {
			changed = append(changed, f)
		}
	}
	for _, g := range gone {
		if !usedAsSource[g.Name] {
			idx.Removed = append(idx.Removed, g.Name)
		}
	}

	w, err := out.Create(IndexEntry)
	if err != nil {
		return errors.NewIOError("create index", err)
	}
	if err := idx.Write(w); err != nil {
		return errors.NewIOError("write index", err)
	}
	for _, f := range changed {
		if err := copyEntry(out, f, f.Name); err != nil {
			return err
		}
	}
	return nil
}

// DiffFiles writes the diff from priorPath to nextPath into outPath.
func DiffFiles(priorPath, nextPath, outPath string) (err error) {
	prior, err := zip.OpenReader(priorPath)
	if err != nil {
		return errors.NewIOError("open prior archive", err).WithPath(priorPath)
	}
	defer func() { _ = prior.Close() }()

	next, err := zip.OpenReader(nextPath)
	if err != nil {
		return errors.NewIOError("open new archive", err).WithPath(nextPath)
	}
	defer func() { _ = next.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(outPath), "."+filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return errors.NewIOError("create diff output", err).WithPath(outPath)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := Diff(&prior.Reader, &next.Reader, zip.NewWriter(tmp)); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIOError("close diff output", err).WithPath(tmp.Name())
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return errors.NewIOError("publish diff output", err).WithPath(outPath)
	}
	return nil
}

func isDir(name string) bool {
	return strings.HasSuffix(name, "/")
}

func sameContent(a, b *zip.File) (bool, error) {
	if a.CRC32 != b.CRC32 || a.UncompressedSize64 != b.UncompressedSize64 {
		return false, nil
	}
	da, err := readAll(a)
	if err != nil {
		return false, err
	}
	db, err := readAll(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.NewIOError("open entry", err).WithPath(f.Name)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.NewIOError("read entry", err).WithPath(f.Name)
	}
	return data, nil
}
