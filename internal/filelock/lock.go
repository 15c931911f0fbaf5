package filelock

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

// checkWritable reports whether the lock file can be used for an OS lock.
// Tests replace it to simulate read-only media.
var checkWritable = writable

// Lock is a reentrant lock on one file, shared by every goroutine of the
// process and, through flock(2), by every process using the same file.
// Obtain instances through For; do not copy.
type Lock struct {
	path string

	// sem admits one in-process holder at a time.
	sem chan struct{}

	mu       sync.Mutex
	owner    *Owner
	depth    int
	file     *os.File
	readOnly bool
}

func newLock(path string) *Lock {
	return &Lock{
		path: path,
		sem:  make(chan struct{}, 1),
	}
}

// Path returns the canonical path of the lock file.
func (l *Lock) Path() string {
	return l.path
}

// ReadOnly reports whether the current (or most recent) hold degraded to
// in-process exclusion because the file was not writable.
func (l *Lock) ReadOnly() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readOnly
}

// Held reports whether the owner carried by ctx currently holds the lock.
func (l *Lock) Held(ctx context.Context) bool {
	o := OwnerFrom(ctx)
	if o == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == o && l.depth > 0
}

// Lock acquires the lock, blocking until it is available or ctx is done.
// If the owner in ctx already holds the lock, the hold depth is incremented
// and Lock returns immediately. ctx must carry an owner (see WithOwner).
func (l *Lock) Lock(ctx context.Context) error {
	o, err := l.ownerOf(ctx)
	if err != nil {
		return err
	}
	if l.reenter(o) {
		return nil
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrapf(errors.ErrCanceled, "waiting for %s: %v", l.path, ctx.Err())
	}

	file, readOnly, err := l.acquire(ctx, true)
	if err != nil {
		<-l.sem
		return err
	}
	l.hold(o, file, readOnly)
	return nil
}

// TryLock acquires the lock if it is immediately available. It returns
// false without error if another owner, in this or another process, holds it.
// ctx must carry an owner (see WithOwner).
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	o, err := l.ownerOf(ctx)
	if err != nil {
		return false, err
	}
	if l.reenter(o) {
		return true, nil
	}

	select {
	case l.sem <- struct{}{}:
	default:
		return false, nil
	}

	file, readOnly, err := l.acquire(ctx, false)
	if err != nil {
		<-l.sem
		if errors.Is(err, errWouldBlock) {
			return false, nil
		}
		return false, err
	}
	l.hold(o, file, readOnly)
	return true, nil
}

// Unlock releases one level of the hold taken by the owner in ctx. The OS
// lock is released when the depth reaches zero. Unlock by an owner that does
// not hold the lock, or by a context without an owner, is a no-op.
func (l *Lock) Unlock(ctx context.Context) error {
	o := OwnerFrom(ctx)
	if o == nil {
		return nil
	}

	l.mu.Lock()
	if l.depth == 0 || l.owner != o {
		l.mu.Unlock()
		return nil
	}
	l.depth--
	if l.depth > 0 {
		l.mu.Unlock()
		return nil
	}
	file := l.file
	l.file = nil
	l.owner = nil
	l.mu.Unlock()

	var err error
	if file != nil {
		err = release(file)
	}
	<-l.sem
	if err != nil {
		return errors.NewIOError("release lock", err).WithPath(l.path)
	}
	return nil
}

// Do runs fn while holding the lock. The context passed to fn carries the
// owner, so fn may take the same lock again.
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx = WithOwner(ctx)
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := l.Unlock(ctx); err == nil {
			err = uerr
		}
	}()
	return fn(ctx)
}

// ownerOf returns the owner carried by ctx. A hold without an owner could
// be released by anyone, so it is refused.
func (l *Lock) ownerOf(ctx context.Context) (*Owner, error) {
	if o := OwnerFrom(ctx); o != nil {
		return o, nil
	}
	return nil, errors.Wrapf(errors.ErrInvalidInput, "lock %s: context carries no owner, use WithOwner or Do", l.path)
}

// reenter increments the depth if o already holds the lock.
func (l *Lock) reenter(o *Owner) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth > 0 && l.owner == o {
		l.depth++
		return true
	}
	return false
}

func (l *Lock) hold(o *Owner, file *os.File, readOnly bool) {
	l.mu.Lock()
	l.owner = o
	l.depth = 1
	l.file = file
	l.readOnly = readOnly
	l.mu.Unlock()
}

// acquire takes the OS-level lock unless the file is not writable. The
// caller holds sem.
func (l *Lock) acquire(ctx context.Context, wait bool) (*os.File, bool, error) {
	if !checkWritable(l.path) {
		return nil, true, nil
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, false, errors.NewLockError("open lock file", err).WithPath(l.path)
	}

	if wait {
		err = flockWait(ctx, file)
	} else {
		err = flockTry(file)
	}
	if err != nil {
		_ = file.Close()
		if errors.Is(err, errWouldBlock) || errors.Is(err, errors.ErrCanceled) {
			return nil, false, err
		}
		return nil, false, errors.NewLockError("flock", err).WithPath(l.path)
	}
	return file, false, nil
}

// writable reports whether path can be opened for writing, or created when
// it does not exist yet. A missing parent directory counts as writable so
// that the open fails with a LockError instead of silently degrading.
func writable(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return accessWrite(path)
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		return true
	}
	return accessWrite(dir)
}
