// Package scriptwatch watches local worker script files and reacts when one
// changes: the running version of every worker using it is doomed and the
// worker is stopped once idle.
package scriptwatch

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/workerhost/internal/event"
	"github.com/Iron-Ham/workerhost/internal/logging"
)

// DefaultDebounce coalesces the burst of events editors produce for a save.
const DefaultDebounce = 50 * time.Millisecond

// ChangeFunc is called with the cleaned path of a changed file.
type ChangeFunc func(path string)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithBus publishes a ScriptChangedEvent for every change.
func WithBus(bus *event.Bus) Option {
	return func(w *Watcher) { w.bus = bus }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// Watcher reports changes to a fixed set of files. It watches their parent
// directories so that files replaced by rename are still seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	onChange ChangeFunc
	debounce time.Duration
	logger   *logging.Logger
	bus      *event.Bus

	startOnce sync.Once
	started   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates a Watcher for paths. onChange runs on the watcher goroutine.
func New(paths []string, onChange ChangeFunc, opts ...Option) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("scriptwatch: no paths to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("scriptwatch: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		files:    make(map[string]struct{}, len(paths)),
		onChange: onChange,
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NopLogger()
	}
	w.logger = w.logger.WithComponent("scriptwatch")

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("scriptwatch: resolve %s: %w", p, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("scriptwatch: watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Start begins watching in a new goroutine.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.watchLoop()
	})
}

// Stop stops watching and waits for the watcher goroutine to exit. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	pending := make(map[string]fsnotify.Op)

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Clean(ev.Name)
			if _, watched := w.files[name]; !watched {
				continue
			}
			pending[name] |= ev.Op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			changed := pending
			pending = make(map[string]fsnotify.Op)
			for _, path := range sortedKeys(changed) {
				w.handle(path, changed[path])
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(path string, op fsnotify.Op) {
	w.logger.Info("script changed", "path", path, "op", op.String())
	w.bus.Publish(event.NewScriptChangedEvent(path, op.String()))
	if w.onChange != nil {
		w.onChange(path)
	}
}

func sortedKeys(m map[string]fsnotify.Op) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
