//go:build unix

package filelock

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

var errWouldBlock = errors.New("lock held by another process")

// flockTry attempts a non-blocking exclusive flock.
func flockTry(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.EWOULDBLOCK:
			return errWouldBlock
		default:
			return err
		}
	}
}

// flockWait blocks until the exclusive flock is acquired. A context that can
// be cancelled is honoured by polling, since flock(2) itself cannot be
// interrupted from Go.
func flockWait(ctx context.Context, f *os.File) error {
	err := flockTry(f)
	if err != errWouldBlock {
		return err
	}

	if ctx.Done() == nil {
		for {
			err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
			if err != unix.EINTR {
				return err
			}
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.Wrapf(errors.ErrCanceled, "waiting for flock: %v", ctx.Err())
		case <-ticker.C:
		}
		err := flockTry(f)
		if err != errWouldBlock {
			return err
		}
	}
}

// release drops the flock and closes the descriptor.
func release(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func accessWrite(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
