// Package watch reports changes made to a cache root by any process.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/jnlpcache/internal/cache"
	"github.com/Iron-Ham/jnlpcache/internal/errors"
	"github.com/Iron-Ham/jnlpcache/internal/logging"
)

// DefaultDebounce is how long the watcher waits for further events before
// reporting a batch.
const DefaultDebounce = 50 * time.Millisecond

// Event is one changed path below the cache root.
type Event struct {
	// Path is relative to the cache root, with forward slashes.
	Path string
	Op   fsnotify.Op
}

// Batch groups the events seen within one debounce window.
type Batch struct {
	Events []Event
	// IndexChanged is set when the index file was rewritten.
	IndexChanged bool
	Time         time.Time
}

// Watcher watches a cache root and its entry directories.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	onChange func(Batch)
	logger   *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period that ends a batch.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher on root. onChange is called from the watcher's
// goroutine for every batch.
func New(root string, onChange func(Batch), opts ...Option) (*Watcher, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewIOError("cache root does not exist", err).WithPath(root)
	}
	if !st.IsDir() {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "cache root %s is not a directory", root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("create watcher", err)
	}
	w := &Watcher{
		watcher:  fw,
		root:     root,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logging.NopLogger(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return nil, errors.NewIOError("watch cache root", err).WithPath(root)
	}
	dirs, _ := os.ReadDir(root)
	for _, d := range dirs {
		if d.IsDir() && numbered(d.Name()) {
			_ = fw.Add(filepath.Join(root, d.Name()))
		}
	}
	return w, nil
}

// Start begins delivering batches.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.Start()
	select {
	case <-ctx.Done():
	case <-w.done:
	}
	w.Stop()
	<-w.done
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	timer := time.NewTimer(0)
	<-timer.C

	pending := make(map[string]Event)
	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			rel, keep := w.relevant(ev)
			if !keep {
				continue
			}
			if ev.Has(fsnotify.Create) && isLevelOne(rel) {
				_ = w.watcher.Add(ev.Name)
			}
			prev := pending[rel]
			pending[rel] = Event{Path: rel, Op: prev.Op | ev.Op}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := Batch{Time: time.Now()}
			for _, ev := range pending {
				batch.Events = append(batch.Events, ev)
				if ev.Path == cache.IndexFile {
					batch.IndexChanged = true
				}
			}
			slices.SortFunc(batch.Events, func(a, b Event) int { return strings.Compare(a.Path, b.Path) })
			pending = make(map[string]Event)
			w.logger.Debug("cache changed", "events", len(batch.Events), "index_changed", batch.IndexChanged)
			if w.onChange != nil {
				w.onChange(batch)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// relevant maps an event to its root-relative path and filters out lock
// files, staging files and temporaries.
func (w *Watcher) relevant(ev fsnotify.Event) (string, bool) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	switch {
	case strings.HasPrefix(rel, ".staging"):
		return "", false
	case strings.HasSuffix(base, ".lock"), strings.HasSuffix(base, ".tmp"):
		return "", false
	case strings.HasPrefix(base, logging.FileName):
		return "", false
	}
	return rel, true
}

func isLevelOne(rel string) bool {
	return !strings.Contains(rel, "/") && numbered(rel)
}

func numbered(name string) bool {
	n, err := strconv.Atoi(name)
	return err == nil && n >= 0 && strconv.Itoa(n) == name
}
