// Package recordstore persists a set of text records, one per line, in a file
// shared by every launcher process using the same cache.
//
// Each operation takes the file's lock, reloads the whole file, applies the
// change, rewrites the file if it changed, and releases the lock. Nothing is
// cached across lock boundaries, so a Store observes writes made by other
// Stores and other processes as soon as their lock is released.
package recordstore

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"slices"
	"strings"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
	"github.com/Iron-Ham/jnlpcache/internal/filelock"
)

const (
	lockSuffix = ".lock"
	tmpSuffix  = ".tmp"
)

// Store is a line-oriented, set-like record collection backed by one file.
// It is safe for concurrent use by goroutines and processes.
type Store struct {
	path string
	lock *filelock.Lock
}

// Open returns a Store for the file at path. The file need not exist; a
// missing file reads as empty. The lock lives in a sidecar "<path>.lock" so
// that rewriting the file by rename never replaces the locked inode.
func Open(path string) (*Store, error) {
	lk, err := filelock.For(path + lockSuffix)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, lock: lk}, nil
}

// Path returns the path of the record file.
func (s *Store) Path() string {
	return s.path
}

// Lock returns the lock guarding the record file. Callers that need several
// operations to be atomic hold it with Do and pass the resulting context.
func (s *Store) Lock() *filelock.Lock {
	return s.lock
}

// Add inserts line if it is not already present.
func (s *Store) Add(ctx context.Context, line string) error {
	if err := validate(line); err != nil {
		return err
	}
	return s.Update(ctx, func(lines []string) ([]string, bool) {
		if slices.Contains(lines, line) {
			return lines, false
		}
		return append(lines, line), true
	})
}

// Remove deletes every occurrence of line and reports whether any existed.
func (s *Store) Remove(ctx context.Context, line string) (bool, error) {
	var removed bool
	err := s.Update(ctx, func(lines []string) ([]string, bool) {
		kept := slices.DeleteFunc(lines, func(l string) bool { return l == line })
		removed = len(kept) != len(lines)
		return kept, removed
	})
	return removed, err
}

// Contains reports whether line is present.
func (s *Store) Contains(ctx context.Context, line string) (bool, error) {
	lines, err := s.Lines(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(lines, line), nil
}

// Lines returns every record in file order.
func (s *Store) Lines(ctx context.Context) ([]string, error) {
	var lines []string
	err := s.lock.Do(ctx, func(context.Context) error {
		var err error
		lines, err = s.read()
		return err
	})
	return lines, err
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	return s.Update(ctx, func(lines []string) ([]string, bool) {
		return nil, len(lines) > 0
	})
}

// Update runs fn on the current records while holding the lock. If fn
// reports a change, the returned records replace the file contents. fn must
// not retain the slice.
func (s *Store) Update(ctx context.Context, fn func(lines []string) ([]string, bool)) error {
	return s.lock.Do(ctx, func(context.Context) error {
		lines, err := s.read()
		if err != nil {
			return err
		}
		next, changed := fn(lines)
		if !changed {
			return nil
		}
		for _, l := range next {
			if err := validate(l); err != nil {
				return err
			}
		}
		return s.write(next)
	})
}

// read loads the file. The caller holds the lock.
func (s *Store) read() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("read records", err).WithPath(s.path)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.NewIOError("scan records", err).WithPath(s.path)
	}
	return lines, nil
}

// write replaces the file atomically: data is written to a temporary file
// first, then renamed into place. The caller holds the lock.
func (s *Store) write(lines []string) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}

	tmp := s.path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.NewIOError("create temp file", err).WithPath(tmp)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.NewIOError("write temp file", err).WithPath(tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.NewIOError("sync temp file", err).WithPath(tmp)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.NewIOError("close temp file", err).WithPath(tmp)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return errors.NewIOError("rename temp file", err).WithPath(s.path)
	}
	return nil
}

func validate(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return errors.NewFormatError("record contains a line break").WithSource(line)
	}
	if strings.TrimSpace(line) == "" {
		return errors.NewFormatError("record is blank")
	}
	return nil
}
