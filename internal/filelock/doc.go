// Package filelock provides reentrant, cross-goroutine and cross-process
// mutual exclusion on a single on-disk file.
//
// Several launcher processes may share one cache directory. Every mutation of
// the shared index files happens while holding the [Lock] for that file, which
// combines an in-process semaphore with an advisory flock(2) on the file.
//
// # One Lock Per Path
//
// Within a process, [For] returns the same [Lock] for every spelling of a
// canonical path. Two call sites therefore never hold independent OS locks on
// the same file. The registry keeps only weak references; a Lock nobody uses
// any more is reclaimed by the garbage collector.
//
// # Ownership and Reentrancy
//
// Goroutines have no identity, so ownership travels in the context. A context
// returned by [WithOwner] identifies one logical owner; that owner may call
// Lock again while holding the lock and must call Unlock the same number of
// times. The OS lock is taken by the outermost Lock and released when the
// depth returns to zero. Lock and TryLock refuse a context without an owner
// with errors.ErrInvalidInput, and Unlock through such a context does
// nothing. [Lock.Do] supplies an owner itself.
//
// # Read-Only Installations
//
// When the lock file (or its parent directory, if the file does not exist) is
// not writable, the Lock degrades to in-process exclusion only. It neither
// creates the file nor calls flock.
//
// # Basic Usage
//
//	lk, err := filelock.For(filepath.Join(cacheDir, "recently_used.lock"))
//	if err != nil {
//	    return err
//	}
//	err = lk.Do(ctx, func(ctx context.Context) error {
//	    // read-modify-write the shared file
//	    return nil
//	})
package filelock
