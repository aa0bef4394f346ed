package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ExportWatcher watches export files with fsnotify, polling when fsnotify is
// unavailable or Options.ForcePolling is set.
type ExportWatcher struct {
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	root      string

	events chan []FileEvent
	errors chan error
	stopCh chan struct{}

	mu      sync.Mutex
	stopped bool
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ Watcher = (*ExportWatcher)(nil)

// New creates a watcher.
func New(opts Options) (*ExportWatcher, error) {
	opts = opts.WithDefaults()

	w := &ExportWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			w.fsWatcher = fsw
		}
	}
	return w, nil
}

// Polling reports whether the watcher scans instead of using fsnotify.
func (w *ExportWatcher) Polling() bool {
	return w.fsWatcher == nil
}

// Start watches path until Stop or ctx is done. It blocks, and closes the
// event and error channels on return.
func (w *ExportWatcher) Start(ctx context.Context, path string) error {
	w.mu.Lock()
	if w.stopped || w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()
	defer func() {
		w.requestStop()
		w.finish()
		close(w.done)
	}()

	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", root)
	}
	w.root = root

	w.wg.Add(1)
	go w.forward()

	if w.fsWatcher != nil {
		err := w.addRecursive(root)
		if err == nil {
			return w.runFsnotify(ctx)
		}
		slog.Warn("fsnotify_add_failed_polling",
			slog.String("root", root),
			slog.String("error", err.Error()))
		_ = w.fsWatcher.Close()
		w.fsWatcher = nil
	}
	return w.runPolling(ctx)
}

func (w *ExportWatcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *ExportWatcher) runPolling(ctx context.Context) error {
	state := snapshotTree(w.root, w.opts)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case now := <-ticker.C:
			cur := snapshotTree(w.root, w.opts)
			for _, ev := range diffSnapshots(state, cur, now) {
				w.debouncer.Add(ev)
			}
			state = cur
		}
	}
}

// handle converts one fsnotify event.
func (w *ExportWatcher) handle(ev fsnotify.Event) {
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if ev.Op&fsnotify.Create != 0 && !w.opts.skipDir(w.root, ev.Name) {
			if err := w.addRecursive(ev.Name); err != nil {
				w.emitError(err)
			}
		}
		return
	}
	if !w.opts.matchesFile(ev.Name) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: ev.Name, Operation: op, Timestamp: time.Now()})
}

func (w *ExportWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.opts.skipDir(w.root, path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// forward moves debounced batches to the public channel.
func (w *ExportWatcher) forward() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			select {
			case w.events <- batch:
			case <-w.stopCh:
				return
			}
		}
	}
}

func (w *ExportWatcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		slog.Warn("watch_error_dropped", slog.String("error", err.Error()))
	}
}

// Stop stops watching and waits for Start to return. Safe to call
// multiple times.
func (w *ExportWatcher) Stop() error {
	started := w.requestStop()
	if started {
		<-w.done
		return nil
	}

	w.mu.Lock()
	first := !w.started
	w.started = true
	w.mu.Unlock()
	if first {
		w.finish()
		close(w.done)
	}
	return nil
}

// requestStop closes stopCh once and reports whether Start is running.
func (w *ExportWatcher) requestStop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	return w.started
}

// finish releases resources once the run loop has exited.
func (w *ExportWatcher) finish() {
	w.debouncer.Stop()
	w.wg.Wait()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	close(w.events)
	close(w.errors)
}

// Events implements Watcher.
func (w *ExportWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors implements Watcher.
func (w *ExportWatcher) Errors() <-chan error {
	return w.errors
}
