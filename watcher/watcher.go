// Package watcher implements the filesystem-event watcher interface spec
// §4.6 and §6 describe: a stream of (path, kind) events translated into
// aggregated (changed, removed) batches after quiescence, with ancestor-
// directory change propagation and an ignore predicate.
//
// Grounded on the teacher's serve.fileWatcher (fsnotify.Watcher wrapped
// in a translate-events goroutine, debounce timer, buffered event
// channel, done-channel shutdown) generalized from "debounce to one
// combined FileEvent" to the aggregate-timeout batching and explicit
// tracked-path-set semantics spec §6's Watcher options name.
package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/loom-build/loom/internal/logging"
	"github.com/loom-build/loom/internal/set"
)

// Options mirrors spec §6's watcher options: `{ follow_symlinks?,
// poll_interval?, aggregate_timeout?, ignored }`.
type Options struct {
	FollowSymlinks   bool
	PollInterval     time.Duration // not read by Watcher; events come from fsnotify only
	AggregateTimeout time.Duration
	// Ignored is a list of gitignore-syntax patterns; a path matching
	// any pattern is discarded before it ever reaches the tracked-path
	// check (spec §6: `ignored: none | path | path[] | regex`; here a
	// real gitignore-syntax implementation backs it instead of a hand-
	// rolled matcher).
	Ignored []string
}

// DefaultAggregateTimeout is used when Options.AggregateTimeout is zero.
const DefaultAggregateTimeout = 200 * time.Millisecond

// Batch is one quiescence-triggered report: the changed and removed
// paths observed since the previous batch (spec §4.6: "[the watcher]
// produces (changed_files, removed_files) batches after quiescence").
type Batch struct {
	Changed []string
	Removed []string
}

// Watcher tracks three ordered path sets (files, directories, missing)
// and emits Batch values on its Events channel after AggregateTimeout of
// quiescence following the first event of a burst.
type Watcher struct {
	fsw    *fsnotify.Watcher
	ignore *gitignore.GitIgnore
	opts   Options

	mu       sync.Mutex
	files    set.Set[string]
	dirs     set.Set[string]
	missing  set.Set[string]
	pending  map[string]bool // path -> removed?
	timer    *time.Timer

	events chan Batch
	done   chan struct{}
	logger *logging.Logger
}

// New returns a Watcher with no tracked paths yet; call Track to start
// watching.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.AggregateTimeout <= 0 {
		opts.AggregateTimeout = DefaultAggregateTimeout
	}

	var ignore *gitignore.GitIgnore
	if len(opts.Ignored) > 0 {
		ignore = gitignore.CompileIgnoreLines(opts.Ignored...)
	}

	w := &Watcher{
		fsw:     fsw,
		ignore:  ignore,
		opts:    opts,
		files:   set.New[string](),
		dirs:    set.New[string](),
		missing: set.New[string](),
		pending: map[string]bool{},
		events:  make(chan Batch, 16),
		done:    make(chan struct{}),
		logger:  logging.Default(),
	}
	go w.loop()
	return w, nil
}

// Track registers three ordered sets of paths to watch (spec §4.6: "The
// watcher accepts three ordered sets of paths (files, directories,
// missing) to track"). Directories are added to the underlying fsnotify
// watch list directly (non-recursive: fsnotify only reports events for
// paths it is explicitly told about, so a tracked directory's immediate
// children are covered but deeper descendants need their own directory
// entries, matching the teacher's filewatcher.Watch recursive-add
// pattern at the directory-tree level one layer up, in package
// compilation's caller).
func (w *Watcher) Track(files, dirs, missing []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, f := range files {
		if w.files.Has(f) {
			continue
		}
		w.files.Add(f)
		if err := w.fsw.Add(filepath.Dir(f)); err != nil {
			w.logger.Warning("watcher: add %q: %v", f, err)
		}
	}
	for _, d := range dirs {
		if w.dirs.Has(d) {
			continue
		}
		w.dirs.Add(d)
		if err := w.fsw.Add(d); err != nil {
			w.logger.Warning("watcher: add %q: %v", d, err)
		}
	}
	for _, m := range missing {
		w.missing.Add(m)
		if err := w.fsw.Add(filepath.Dir(m)); err != nil {
			w.logger.Warning("watcher: add %q: %v", m, err)
		}
	}
	return nil
}

// Events returns the channel Batch values are delivered on.
func (w *Watcher) Events() <-chan Batch { return w.events }

// Close stops the watcher and closes Events.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	close(w.done)
	time.Sleep(10 * time.Millisecond)
	close(w.events)
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.ignored(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isTracked(ev.Name) {
		// spec §4.6: "Events for files that belong to no tracked set
		// are discarded."
		return
	}

	removed := ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	w.pending[ev.Name] = removed

	// spec §4.6: "When a directory change is observed, the watcher must
	// propagate an implicit change event for every ancestor directory
	// that is itself registered, because changes inside a watched
	// directory count as changes of the directory."
	for dir := filepath.Dir(ev.Name); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if w.dirs.Has(dir) {
			if _, already := w.pending[dir]; !already {
				w.pending[dir] = false
			}
		}
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.AggregateTimeout, w.flush)
}

func (w *Watcher) isTracked(path string) bool {
	if w.files.Has(path) || w.missing.Has(path) {
		return true
	}
	for dir := range w.dirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(path string) bool {
	if w.ignore == nil {
		return false
	}
	return w.ignore.MatchesPath(path)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if len(w.pending) == 0 {
		return
	}

	var changed, removed []string
	for p, isRemoved := range w.pending {
		if isRemoved {
			removed = append(removed, p)
		} else {
			changed = append(changed, p)
		}
	}
	w.pending = map[string]bool{}

	select {
	case w.events <- Batch{Changed: changed, Removed: removed}:
	case <-w.done:
	default:
		w.logger.Debug("watcher: dropped batch (channel full)")
	}
}
