package filelock

import (
	"path/filepath"
	"runtime"
	"sync"
	"weak"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

// registry maps canonical paths to the process-wide Lock for that path.
// Entries are weak so an unreferenced Lock can be collected; a cleanup
// removes the stale map entry afterwards.
var registry = struct {
	mu    sync.Mutex
	locks map[string]weak.Pointer[Lock]
}{
	locks: make(map[string]weak.Pointer[Lock]),
}

// For returns the process-wide Lock for path. Every path that resolves to
// the same canonical file yields the same *Lock.
func For(path string) (*Lock, error) {
	canon, err := Canonical(path)
	if err != nil {
		return nil, err
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if wp, ok := registry.locks[canon]; ok {
		if l := wp.Value(); l != nil {
			return l, nil
		}
	}

	l := newLock(canon)
	registry.locks[canon] = weak.Make(l)
	runtime.AddCleanup(l, forget, canon)
	return l, nil
}

// forget drops the registry entry for key if its Lock has been collected.
// A new Lock may already have been registered under the same key.
func forget(key string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if wp, ok := registry.locks[key]; ok && wp.Value() == nil {
		delete(registry.locks, key)
	}
}

// registered returns the number of live registry entries.
func registered() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	n := 0
	for _, wp := range registry.locks {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

// Canonical returns the absolute path of path with symlinks resolved. The
// file itself may not exist yet; in that case only its directory is resolved.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewIOError("resolve lock path", err).WithPath(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	dir, base := filepath.Split(abs)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, base), nil
	}
	return abs, nil
}
