package recordstore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
	"github.com/Iron-Ham/jnlpcache/internal/filelock"
)

const helperEnv = "JNLPCACHE_RECORDSTORE_HELPER"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "records"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStore_AddContainsRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if ok, err := s.Contains(ctx, "a"); err != nil || ok {
		t.Fatalf("Contains on empty store = %v, %v", ok, err)
	}

	for _, l := range []string{"a", "b", "a", "c"} {
		if err := s.Add(ctx, l); err != nil {
			t.Fatalf("Add(%q): %v", l, err)
		}
	}

	lines, err := s.Lines(ctx)
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	if got := strings.Join(lines, ","); got != "a,b,c" {
		t.Errorf("Lines = %q, want %q (set-like, insertion order)", got, "a,b,c")
	}

	removed, err := s.Remove(ctx, "b")
	if err != nil || !removed {
		t.Fatalf("Remove(b) = %v, %v; want true, nil", removed, err)
	}
	removed, err = s.Remove(ctx, "b")
	if err != nil || removed {
		t.Fatalf("second Remove(b) = %v, %v; want false, nil", removed, err)
	}
	if ok, _ := s.Contains(ctx, "b"); ok {
		t.Error("b should be gone")
	}
	if ok, _ := s.Contains(ctx, "c"); !ok {
		t.Error("c should remain")
	}
}

func TestStore_RejectsInvalidLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, l := range []string{"a\nb", "a\rb", "", "   "} {
		if err := s.Add(ctx, l); !errors.Is(err, errors.ErrFormat) {
			t.Errorf("Add(%q) = %v, want ErrFormat", l, err)
		}
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("rejected adds must not create the file")
	}
}

func TestStore_FileFormat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Add(ctx, "one")
	_ = s.Add(ctx, "two")

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("file = %q", data)
	}
	if _, err := os.Stat(s.Path() + tmpSuffix); !os.IsNotExist(err) {
		t.Error("temp file should not survive a write")
	}
}

func TestStore_IgnoresBlankLinesAndCRLF(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("a\r\n\n  \nb\n"), 0644); err != nil {
		t.Fatal(err)
	}
	lines, err := s.Lines(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(lines, ",") != "a,b" {
		t.Errorf("Lines = %q", lines)
	}
}

func TestStore_SeesOtherInstancesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")
	a, _ := Open(path)
	b, _ := Open(path)
	ctx := context.Background()

	if err := a.Add(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.Contains(ctx, "x"); !ok {
		t.Error("second store should observe the first store's add")
	}
	if _, err := b.Remove(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.Contains(ctx, "x"); ok {
		t.Error("first store should observe the second store's remove")
	}
	if a.Lock() != b.Lock() {
		t.Error("stores on the same file must share one lock")
	}
}

func TestStore_UpdateNoChangeDoesNotWrite(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), func(lines []string) ([]string, bool) {
		return append(lines, "ignored"), false
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("an unchanged update must not write the file")
	}
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Add(ctx, "a")
	_ = s.Add(ctx, "b")
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	lines, _ := s.Lines(ctx)
	if len(lines) != 0 {
		t.Errorf("Lines after Clear = %q", lines)
	}
}

func TestStore_OperationsInsideHeldLock(t *testing.T) {
	s := newTestStore(t)
	err := s.Lock().Do(context.Background(), func(ctx context.Context) error {
		if err := s.Add(ctx, "a"); err != nil {
			return err
		}
		ok, err := s.Contains(ctx, "a")
		if err != nil {
			return err
		}
		if !ok {
			t.Error("add inside a held lock should be visible")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestStore_ConcurrentGoroutinesAreLinearizable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s, err := Open(path)
			if err != nil {
				t.Error(err)
				return
			}
			ctx := context.Background()
			for i := 0; i < perWorker; i++ {
				keep := fmt.Sprintf("keep-%d-%d", w, i)
				drop := fmt.Sprintf("drop-%d-%d", w, i)
				if err := s.Add(ctx, keep); err != nil {
					t.Error(err)
				}
				if err := s.Add(ctx, drop); err != nil {
					t.Error(err)
				}
				if _, err := s.Remove(ctx, drop); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	assertKeepOnly(t, path, workers, perWorker)
}

func TestStore_ConcurrentProcessesAreLinearizable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock is unix-only")
	}
	path := filepath.Join(t.TempDir(), "records")
	const procs, perWorker = 3, 20

	var cmds []*exec.Cmd
	for p := 0; p < procs; p++ {
		cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
		cmd.Env = append(os.Environ(),
			helperEnv+"="+path,
			"JNLPCACHE_HELPER_ID="+strconv.Itoa(p),
			"JNLPCACHE_HELPER_COUNT="+strconv.Itoa(perWorker),
		)
		if err := cmd.Start(); err != nil {
			t.Fatalf("start helper: %v", err)
		}
		cmds = append(cmds, cmd)
	}
	for _, cmd := range cmds {
		if err := cmd.Wait(); err != nil {
			t.Fatalf("helper failed: %v", err)
		}
	}

	assertKeepOnly(t, path, procs, perWorker)
}

// TestHelperProcess is run as a subprocess by
// TestStore_ConcurrentProcessesAreLinearizable.
func TestHelperProcess(t *testing.T) {
	path := os.Getenv(helperEnv)
	if path == "" {
		t.Skip("helper process only")
	}
	id, _ := strconv.Atoi(os.Getenv("JNLPCACHE_HELPER_ID"))
	count, _ := strconv.Atoi(os.Getenv("JNLPCACHE_HELPER_COUNT"))

	s, err := Open(path)
	if err != nil {
		os.Exit(2)
	}
	ctx := filelock.WithOwner(context.Background())
	for i := 0; i < count; i++ {
		if err := s.Add(ctx, fmt.Sprintf("keep-%d-%d", id, i)); err != nil {
			os.Exit(3)
		}
		if err := s.Add(ctx, fmt.Sprintf("drop-%d-%d", id, i)); err != nil {
			os.Exit(3)
		}
		if _, err := s.Remove(ctx, fmt.Sprintf("drop-%d-%d", id, i)); err != nil {
			os.Exit(4)
		}
	}
	os.Exit(0)
}

func assertKeepOnly(t *testing.T, path string, workers, perWorker int) {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	lines, err := s.Lines(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != workers*perWorker {
		t.Fatalf("got %d records, want %d", len(lines), workers*perWorker)
	}
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			want := fmt.Sprintf("keep-%d-%d", w, i)
			if ok, _ := s.Contains(context.Background(), want); !ok {
				t.Errorf("missing %s", want)
			}
		}
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "drop-") {
			t.Errorf("removed record %s survived", l)
		}
	}
}
