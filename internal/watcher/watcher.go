package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpRename indicates a file was renamed away; a create follows for the
	// new name when it stays inside the watched tree.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Removes reports whether the file is gone after op.
func (op Operation) Removes() bool {
	return op == OpDelete || op == OpRename
}

// FileEvent represents a change to one export file.
type FileEvent struct {
	// Path is the absolute path of the file.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Watcher watches a directory tree for export file changes.
type Watcher interface {
	// Start watches path recursively until Stop is called or ctx is done.
	Start(ctx context.Context, path string) error

	// Stop releases resources. Safe to call multiple times.
	Stop() error

	// Events returns debounced batches. Closed when the watcher stops.
	Events() <-chan []FileEvent

	// Errors returns non-fatal errors. Closed when the watcher stops.
	Errors() <-chan error
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval in polling mode.
	// Default: 5s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 64
	EventBufferSize int

	// Extensions selects watched files, compared case-insensitively.
	// Default: [".json"]
	Extensions []string

	// IgnoreDirs are absolute directories never descended into, such as
	// the data directory when it lives under the watched tree.
	IgnoreDirs []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 64,
		Extensions:      []string{".json"},
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	if len(o.Extensions) == 0 {
		o.Extensions = d.Extensions
	}
	return o
}

// matchesFile reports whether path has a watched extension and is not a
// hidden or editor temporary file.
func (o Options) matchesFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	ext := filepath.Ext(base)
	for _, e := range o.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// skipDir reports whether the directory at abs must not be watched.
// The root itself is never skipped.
func (o Options) skipDir(root, abs string) bool {
	if abs == root {
		return false
	}
	if strings.HasPrefix(filepath.Base(abs), ".") {
		return true
	}
	for _, d := range o.IgnoreDirs {
		if abs == filepath.Clean(d) {
			return true
		}
	}
	return false
}
