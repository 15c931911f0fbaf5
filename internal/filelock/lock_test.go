package filelock

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

const helperEnv = "JNLPCACHE_FILELOCK_HELPER"

func newTestLock(t *testing.T) *Lock {
	t.Helper()
	l, err := For(filepath.Join(t.TempDir(), "index.lock"))
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	return l
}

func TestFor_SameCanonicalPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	a, err := For(filepath.Join(dir, "index.lock"))
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	b, err := For(filepath.Join(dir, "sub", "..", "index.lock"))
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if a != b {
		t.Error("paths that clean to the same file should share one Lock")
	}

	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(dir, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	c, err := For(filepath.Join(link, "index.lock"))
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if a != c {
		t.Error("a symlinked directory should resolve to the same Lock")
	}
}

func TestFor_DistinctPaths(t *testing.T) {
	dir := t.TempDir()
	a, _ := For(filepath.Join(dir, "a.lock"))
	b, _ := For(filepath.Join(dir, "b.lock"))
	if a == b {
		t.Error("different files must not share a Lock")
	}
}

func TestLock_Reentrant(t *testing.T) {
	l := newTestLock(t)
	ctx := WithOwner(context.Background())
	other := NewOwner(context.Background())

	if err := l.Lock(ctx); err != nil {
		t.Fatalf("Lock 1: %v", err)
	}
	if err := l.Lock(ctx); err != nil {
		t.Fatalf("Lock 2 (reentrant): %v", err)
	}
	if ok, _ := l.TryLock(ctx); !ok {
		t.Fatal("TryLock by the holder should succeed")
	}
	if !l.Held(ctx) {
		t.Error("Held should be true while locked")
	}

	// Depth is 3; two unlocks keep the hold.
	for i := 0; i < 2; i++ {
		if err := l.Unlock(ctx); err != nil {
			t.Fatalf("Unlock: %v", err)
		}
		if ok, _ := l.TryLock(other); ok {
			t.Fatalf("other owner acquired the lock at depth %d", 2-i)
		}
	}

	if err := l.Unlock(ctx); err != nil {
		t.Fatalf("final Unlock: %v", err)
	}
	if l.Held(ctx) {
		t.Error("Held should be false after the final Unlock")
	}
	ok, err := l.TryLock(other)
	if err != nil || !ok {
		t.Fatalf("TryLock after release = %v, %v; want true, nil", ok, err)
	}
	_ = l.Unlock(other)
}

func TestLock_RequiresOwner(t *testing.T) {
	l := newTestLock(t)
	ctx := context.Background()

	if err := l.Lock(ctx); !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("Lock without owner = %v, want ErrInvalidInput", err)
	}
	if ok, err := l.TryLock(ctx); ok || !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("TryLock without owner = %v, %v; want false, ErrInvalidInput", ok, err)
	}

	// The refused calls must leave the lock free.
	holder := WithOwner(ctx)
	if ok, err := l.TryLock(holder); err != nil || !ok {
		t.Fatalf("TryLock with owner = %v, %v; want true, nil", ok, err)
	}
	_ = l.Unlock(holder)
}

func TestLock_StrayUnlockKeepsHold(t *testing.T) {
	l := newTestLock(t)
	holder := WithOwner(context.Background())
	if err := l.Lock(holder); err != nil {
		t.Fatal(err)
	}
	defer l.Unlock(holder) //nolint:errcheck

	// A goroutine that never locked calls Unlock with and without an owner.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Unlock(context.Background())
		_ = l.Unlock(WithOwner(context.Background()))
	}()
	<-done

	if !l.Held(holder) {
		t.Fatal("stray Unlock released the holder's lock")
	}
	if ok, _ := l.TryLock(NewOwner(context.Background())); ok {
		t.Error("third owner acquired the lock after a stray Unlock")
	}
}

func TestLock_UnlockWithoutLock(t *testing.T) {
	l := newTestLock(t)
	if err := l.Unlock(context.Background()); err != nil {
		t.Errorf("Unlock without Lock should be a no-op, got %v", err)
	}
	if err := l.Unlock(WithOwner(context.Background())); err != nil {
		t.Errorf("Unlock by a non-holder should be a no-op, got %v", err)
	}
}

func TestLock_UnlockByNonHolderKeepsHold(t *testing.T) {
	l := newTestLock(t)
	holder := WithOwner(context.Background())
	if err := l.Lock(holder); err != nil {
		t.Fatal(err)
	}
	defer l.Unlock(holder) //nolint:errcheck

	_ = l.Unlock(NewOwner(context.Background()))
	if !l.Held(holder) {
		t.Error("Unlock by another owner released the lock")
	}
}

func TestLock_SerializesGoroutines(t *testing.T) {
	l := newTestLock(t)

	var inside atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				err := l.Do(context.Background(), func(ctx context.Context) error {
					if inside.Add(1) > 1 {
						overlaps.Add(1)
					}
					time.Sleep(100 * time.Microsecond)
					inside.Add(-1)
					return nil
				})
				if err != nil {
					t.Errorf("Do: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if n := overlaps.Load(); n != 0 {
		t.Errorf("%d overlapping critical sections", n)
	}
}

func TestLock_DoIsReentrant(t *testing.T) {
	l := newTestLock(t)
	err := l.Do(context.Background(), func(ctx context.Context) error {
		return l.Do(ctx, func(ctx context.Context) error {
			if !l.Held(ctx) {
				t.Error("nested Do should hold the lock")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestLock_ContextCancelled(t *testing.T) {
	l := newTestLock(t)
	holder := WithOwner(context.Background())
	if err := l.Lock(holder); err != nil {
		t.Fatal(err)
	}
	defer l.Unlock(holder) //nolint:errcheck

	ctx, cancel := context.WithTimeout(NewOwner(context.Background()), 20*time.Millisecond)
	defer cancel()
	err := l.Lock(ctx)
	if !errors.Is(err, errors.ErrCanceled) {
		t.Fatalf("Lock with expired context = %v, want ErrCanceled", err)
	}
}

func TestLock_CreatesLockFile(t *testing.T) {
	l := newTestLock(t)
	ctx := WithOwner(context.Background())
	if err := l.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := os.Stat(l.Path()); err != nil {
		t.Errorf("lock file should exist: %v", err)
	}
	if l.ReadOnly() {
		t.Error("lock in a writable temp dir should not be read-only")
	}
	_ = l.Unlock(ctx)
}

func TestLock_MissingDirectoryFails(t *testing.T) {
	l, err := For(filepath.Join(t.TempDir(), "missing", "index.lock"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := WithOwner(context.Background())
	err = l.Lock(ctx)
	if !errors.Is(err, errors.ErrLockUnavailable) {
		t.Fatalf("Lock = %v, want ErrLockUnavailable", err)
	}
	if ok, err := l.TryLock(ctx); ok || !errors.Is(err, errors.ErrLockUnavailable) {
		t.Fatalf("TryLock = %v, %v; want false, ErrLockUnavailable", ok, err)
	}
	// A failed Lock must leave the lock free for the next caller.
	if ok, _ := l.TryLock(ctx); ok {
		t.Fatal("TryLock should still fail, not succeed on a broken path")
	}
}

func TestLock_ReadOnlyDegradesToInProcess(t *testing.T) {
	orig := checkWritable
	checkWritable = func(string) bool { return false }
	t.Cleanup(func() { checkWritable = orig })

	l := newTestLock(t)
	a := WithOwner(context.Background())
	b := NewOwner(context.Background())

	if err := l.Lock(a); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !l.ReadOnly() {
		t.Error("ReadOnly should be true")
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Errorf("read-only lock must not create the file, stat err = %v", err)
	}
	if ok, _ := l.TryLock(b); ok {
		t.Error("read-only lock must still exclude other owners in-process")
	}
	if err := l.Unlock(a); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if ok, _ := l.TryLock(b); !ok {
		t.Error("TryLock after Unlock should succeed")
	}
	_ = l.Unlock(b)
}

func TestRegistry_ReclaimsUnusedLocks(t *testing.T) {
	dir := t.TempDir()
	before := registered()

	func() {
		for i := 0; i < 4; i++ {
			if _, err := For(filepath.Join(dir, "tmp", "..", "r.lock")); err != nil {
				t.Fatal(err)
			}
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for registered() > before {
		if time.Now().After(deadline) {
			t.Fatalf("registry still holds %d entries, want %d", registered(), before)
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLock_CrossProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock is unix-only")
	}
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "index.lock")
	ready := filepath.Join(dir, "ready")
	release := filepath.Join(dir, "release")

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), helperEnv+"="+dir)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start helper: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill(); _ = cmd.Wait() })

	waitForFile(t, ready)

	l, err := For(lockPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := WithOwner(context.Background())
	if ok, err := l.TryLock(ctx); err != nil || ok {
		t.Fatalf("TryLock while another process holds the lock = %v, %v; want false, nil", ok, err)
	}

	if err := os.WriteFile(release, nil, 0644); err != nil {
		t.Fatal(err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := l.Lock(lockCtx); err != nil {
		t.Fatalf("Lock after helper released: %v", err)
	}
	_ = l.Unlock(lockCtx)
}

// TestHelperProcess is not a real test. It is run as a subprocess by
// TestLock_CrossProcess and holds the lock until told to release it.
func TestHelperProcess(t *testing.T) {
	dir := os.Getenv(helperEnv)
	if dir == "" {
		t.Skip("helper process only")
	}

	l, err := For(filepath.Join(dir, "index.lock"))
	if err != nil {
		os.Exit(2)
	}
	ctx := WithOwner(context.Background())
	if err := l.Lock(ctx); err != nil {
		os.Exit(3)
	}
	if err := os.WriteFile(filepath.Join(dir, "ready"), nil, 0644); err != nil {
		os.Exit(4)
	}
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, "release")); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = l.Unlock(ctx)
	os.Exit(0)
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
