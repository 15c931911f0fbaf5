//go:build !unix

package filelock

import (
	"context"
	"os"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

var errWouldBlock = errors.New("lock held by another process")

// Without flock the lock only excludes goroutines of this process.
func flockTry(*os.File) error                  { return nil }
func flockWait(context.Context, *os.File) error { return nil }
func release(f *os.File) error                  { return f.Close() }
func accessWrite(string) bool                   { return false }
