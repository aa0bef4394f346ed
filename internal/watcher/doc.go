// Package watcher reports changes to JSON export files under a directory.
//
// fsnotify is the primary mechanism; directories where it cannot be used
// (network mounts, some container volumes) fall back to polling. Events are
// debounced so an exporter rewriting a file in several steps yields one
// re-import.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, "/path/to/exports") }()
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        // ev.Path is absolute
//	    }
//	}
package watcher
