// Package watcher turns raw filesystem notifications for a document tree
// into a stream of settled Added, Changed and Removed events.
//
// Every directory under the root is watched with fsnotify. Raw events for a
// file arm a per-path stability timer; an event is only emitted once the
// file's size and modification time stop changing for a full window, so a
// document that is still being written produces a single event.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/bloxciting/internal/entry"
	"github.com/conneroisu/bloxciting/internal/errors"
	"github.com/conneroisu/bloxciting/internal/logging"
	"github.com/conneroisu/bloxciting/internal/validation"
)

// EventType represents the type of a settled change
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeChanged
	EventTypeRemoved
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeAdded:
		return "added"
	case EventTypeChanged:
		return "changed"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one settled change to a document, or the removal of a directory
// when IsDir is set.
type Event struct {
	Type        EventType
	Path        string
	LogicalPath string
	ModTime     time.Time
	Size        int64
	IsDir       bool
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// Options configure a FileWatcher.
type Options struct {
	// Root is the directory tree to watch.
	Root string
	// Extension selects documents, ".md" by default.
	Extension string
	// Ignore lists directories whose contents never produce events, such as
	// the shadow output directory when it lives under Root.
	Ignore []string
	// StabilityWindow is how long a file must stay unchanged before its
	// event is emitted.
	StabilityWindow time.Duration
	// BufferSize is the capacity of the Events channel.
	BufferSize int
}

// FileWatcher watches a document tree.
type FileWatcher struct {
	root    string
	ignore  []string
	window  time.Duration
	watcher *fsnotify.Watcher
	filters []FileFilter
	logger  logging.Logger
	errs    *errors.ErrorHandler

	events chan Event
	done   chan struct{}

	mutex   sync.Mutex
	pending map[string]*pendingFile
	watched map[string]bool
	known   map[string]bool

	// emitMu orders emission: decisions and sends happen under it, so two
	// events for one path can never reach the channel out of order.
	emitMu sync.Mutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// pendingFile is a path waiting for its stability window to elapse.
type pendingFile struct {
	timer  *time.Timer
	gen    uint64
	exists bool
	size   int64
	mod    time.Time
}

// New creates a watcher for opts.Root. The root must be an existing
// directory.
func New(opts Options, logger logging.Logger) (*FileWatcher, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.NewWatchError(opts.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewWatchError(root, err)
	}
	if !info.IsDir() {
		return nil, errors.NewWatchError(root, os.ErrInvalid).WithContext("reason", "root is not a directory")
	}

	ext := opts.Extension
	if ext == "" {
		ext = ".md"
	}
	buffer := opts.BufferSize
	if buffer <= 0 {
		buffer = 256
	}

	ignore := make([]string, 0, len(opts.Ignore))
	for _, dir := range opts.Ignore {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		ignore = append(ignore, abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewWatchError(root, err)
	}

	logger = logger.WithComponent("watcher")
	return &FileWatcher{
		root:    root,
		ignore:  ignore,
		window:  opts.StabilityWindow,
		watcher: fsw,
		filters: []FileFilter{DocumentFilter(ext)},
		logger:  logger,
		errs:    errors.NewErrorHandler(logger),
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingFile),
		watched: make(map[string]bool),
		known:   make(map[string]bool),
	}, nil
}

// Root returns the absolute watched root.
func (fw *FileWatcher) Root() string {
	return fw.root
}

// AddFilter adds a file filter. Filters must be added before Start.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// Events returns the settled event stream. It is closed by Stop.
func (fw *FileWatcher) Events() <-chan Event {
	return fw.events
}

// Start watches every directory under the root and emits an Added event for
// each existing document. Watching ends when ctx is cancelled or Stop is
// called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	var initial []string
	fw.addTree(ctx, fw.root, func(path string) {
		initial = append(initial, path)
	})

	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		for _, path := range initial {
			fw.emitInitial(path)
		}
		fw.watchLoop(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = fw.Stop()
		case <-fw.done:
		}
	}()

	fw.logger.Info(ctx, "Watching content tree", "root", fw.root, "documents", len(initial))
	return nil
}

// Stop closes the fsnotify watcher, cancels pending timers and closes the
// event channel. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()

		fw.mutex.Lock()
		for path, p := range fw.pending {
			p.timer.Stop()
			delete(fw.pending, path)
		}
		fw.mutex.Unlock()

		fw.wg.Wait()

		fw.emitMu.Lock()
		fw.closed = true
		close(fw.events)
		fw.emitMu.Unlock()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.errs.Handle(ctx, errors.NewWatchError(fw.root, err))
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if fw.skip(path) {
		return
	}

	fw.mutex.Lock()
	wasDir := fw.watched[path]
	fw.mutex.Unlock()

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && wasDir {
		fw.removeTree(ctx, path)
		return
	}

	if event.Op&fsnotify.Create != 0 {
		// Stat follows symlinks, so a linked directory is walked too.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			fw.addTree(ctx, path, fw.observe)
			return
		}
	}

	if event.Op == fsnotify.Chmod {
		return
	}
	if !fw.accept(path) {
		return
	}
	fw.observe(path)
}

// skip reports whether path is outside the root, hidden, or ignored.
func (fw *FileWatcher) skip(path string) bool {
	logical, err := entry.LogicalPath(fw.root, path)
	if err != nil {
		return true
	}
	if logical != "" && entry.IsHidden(logical) {
		return true
	}
	for _, dir := range fw.ignore {
		if validation.Within(dir, path) {
			return true
		}
	}
	return false
}

func (fw *FileWatcher) accept(path string) bool {
	fw.mutex.Lock()
	filters := fw.filters
	fw.mutex.Unlock()

	for _, filter := range filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// addTree watches dir and every directory below it, following symbolic
// links, and passes each accepted document to found.
func (fw *FileWatcher) addTree(ctx context.Context, dir string, found func(path string)) {
	visited := make(map[string]bool)

	var walk func(dir string)
	walk = func(dir string) {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			fw.errs.Handle(ctx, errors.NewWatchError(dir, err))
			return
		}
		if visited[real] {
			return
		}
		visited[real] = true

		if err := fw.watcher.Add(dir); err != nil {
			fw.errs.Handle(ctx, errors.NewWatchError(dir, err))
			return
		}
		fw.mutex.Lock()
		fw.watched[dir] = true
		fw.mutex.Unlock()

		entries, err := os.ReadDir(dir)
		if err != nil {
			fw.errs.Handle(ctx, errors.NewWatchError(dir, err))
			return
		}
		for _, de := range entries {
			path := filepath.Join(dir, de.Name())
			if fw.skip(path) {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				fw.errs.Handle(ctx, errors.NewWatchError(path, err))
				continue
			}
			if info.IsDir() {
				walk(path)
				continue
			}
			if info.Mode().IsRegular() && fw.accept(path) {
				found(path)
			}
		}
	}

	walk(dir)
}

// removeTree forgets a deleted directory and emits one directory Removed
// event; the consumer drops every document below it.
func (fw *FileWatcher) removeTree(ctx context.Context, dir string) {
	prefix := dir + string(filepath.Separator)

	fw.mutex.Lock()
	for path := range fw.watched {
		if path == dir || strings.HasPrefix(path, prefix) {
			delete(fw.watched, path)
			_ = fw.watcher.Remove(path)
		}
	}
	for path := range fw.known {
		if strings.HasPrefix(path, prefix) {
			delete(fw.known, path)
		}
	}
	for path, p := range fw.pending {
		if strings.HasPrefix(path, prefix) {
			p.timer.Stop()
			delete(fw.pending, path)
		}
	}
	fw.mutex.Unlock()

	logical, err := entry.LogicalPath(fw.root, dir)
	if err != nil {
		return
	}
	fw.logger.Debug(ctx, "Directory removed", "path", logical)
	fw.send(Event{Type: EventTypeRemoved, Path: dir, LogicalPath: logical, IsDir: true})
}

// observe (re)arms the stability timer for path with a fresh stat.
func (fw *FileWatcher) observe(path string) {
	info, statErr := os.Stat(path)

	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	select {
	case <-fw.done:
		return
	default:
	}

	p, ok := fw.pending[path]
	if !ok {
		p = &pendingFile{}
		fw.pending[path] = p
	} else {
		p.timer.Stop()
	}
	p.exists = statErr == nil
	if p.exists {
		p.size = info.Size()
		p.mod = info.ModTime()
	}
	fw.arm(path, p)
}

// arm must be called with mutex held.
func (fw *FileWatcher) arm(path string, p *pendingFile) {
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(fw.window, func() {
		fw.settle(path, gen)
	})
}

// settle runs when a stability window elapses. If the file moved on since
// the last observation the window starts over; otherwise the event is
// emitted.
func (fw *FileWatcher) settle(path string, gen uint64) {
	fw.emitMu.Lock()
	defer fw.emitMu.Unlock()
	if fw.closed {
		return
	}

	info, statErr := os.Stat(path)
	exists := statErr == nil && !info.IsDir()

	fw.mutex.Lock()
	p, ok := fw.pending[path]
	if !ok || p.gen != gen {
		fw.mutex.Unlock()
		return
	}
	if exists != p.exists || (exists && (info.Size() != p.size || !info.ModTime().Equal(p.mod))) {
		p.exists = exists
		if exists {
			p.size = info.Size()
			p.mod = info.ModTime()
		}
		fw.arm(path, p)
		fw.mutex.Unlock()
		return
	}
	delete(fw.pending, path)

	wasKnown := fw.known[path]
	var ev Event
	switch {
	case !exists && wasKnown:
		delete(fw.known, path)
		ev = Event{Type: EventTypeRemoved, Path: path}
	case !exists:
		// Created and deleted inside one window.
		fw.mutex.Unlock()
		return
	case wasKnown:
		ev = Event{Type: EventTypeChanged, Path: path, ModTime: info.ModTime(), Size: info.Size()}
	default:
		fw.known[path] = true
		ev = Event{Type: EventTypeAdded, Path: path, ModTime: info.ModTime(), Size: info.Size()}
	}
	fw.mutex.Unlock()

	logical, err := entry.LogicalPath(fw.root, path)
	if err != nil {
		return
	}
	ev.LogicalPath = logical
	fw.deliver(ev)
}

// emitInitial emits an Added event for a document found by the startup scan.
func (fw *FileWatcher) emitInitial(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	logical, err := entry.LogicalPath(fw.root, path)
	if err != nil {
		return
	}

	fw.mutex.Lock()
	if fw.known[path] {
		fw.mutex.Unlock()
		return
	}
	fw.known[path] = true
	fw.mutex.Unlock()

	fw.send(Event{
		Type:        EventTypeAdded,
		Path:        path,
		LogicalPath: logical,
		ModTime:     info.ModTime(),
		Size:        info.Size(),
	})
}

func (fw *FileWatcher) send(ev Event) {
	fw.emitMu.Lock()
	defer fw.emitMu.Unlock()
	if fw.closed {
		return
	}
	fw.deliver(ev)
}

// deliver must be called with emitMu held.
func (fw *FileWatcher) deliver(ev Event) {
	select {
	case fw.events <- ev:
	case <-fw.done:
	}
}

// Common file filters

// DocumentFilter accepts files with the given extension.
func DocumentFilter(ext string) FileFilter {
	return func(path string) bool {
		return entry.IsDocument(path, ext)
	}
}

// NoHiddenFilter rejects dotfiles.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}
