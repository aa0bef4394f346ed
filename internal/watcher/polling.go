package watcher

import (
	"io/fs"
	"path/filepath"
	"time"
)

// fileSnapshot is what polling compares between scans.
type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// snapshotTree records every watched file under root. Unreadable entries
// are skipped.
func snapshotTree(root string, opts Options) map[string]fileSnapshot {
	state := make(map[string]fileSnapshot)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if opts.skipDir(root, path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !opts.matchesFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return state
}

// diffSnapshots returns the events that turn prev into cur.
func diffSnapshots(prev, cur map[string]fileSnapshot, now time.Time) []FileEvent {
	var events []FileEvent
	for path, s := range cur {
		old, ok := prev[path]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: path, Operation: OpCreate, Timestamp: now})
		case old != s:
			events = append(events, FileEvent{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	for path := range prev {
		if _, ok := cur[path]; !ok {
			events = append(events, FileEvent{Path: path, Operation: OpDelete, Timestamp: now})
		}
	}
	return events
}
