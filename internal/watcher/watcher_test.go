package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{Operation(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
	assert.True(t, OpDelete.Removes())
	assert.True(t, OpRename.Removes())
	assert.False(t, OpModify.Removes())
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{}.WithDefaults()

	assert.Equal(t, 500*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 5*time.Second, opts.PollInterval)
	assert.Equal(t, 64, opts.EventBufferSize)
	assert.Equal(t, []string{".json"}, opts.Extensions)
}

func TestOptions_Filters(t *testing.T) {
	opts := DefaultOptions()
	opts.IgnoreDirs = []string{"/exports/data"}

	assert.True(t, opts.matchesFile("/exports/manual.JSON"))
	assert.False(t, opts.matchesFile("/exports/manual.txt"))
	assert.False(t, opts.matchesFile("/exports/.partial.json"))
	assert.False(t, opts.matchesFile("/exports/manual.json~"))

	assert.False(t, opts.skipDir("/exports", "/exports"))
	assert.True(t, opts.skipDir("/exports", "/exports/.git"))
	assert.True(t, opts.skipDir("/exports", "/exports/data"))
	assert.False(t, opts.skipDir("/exports", "/exports/2026"))
}

func TestDiffSnapshots(t *testing.T) {
	t0 := time.Unix(100, 0)
	prev := map[string]fileSnapshot{
		"/x/same.json":    {modTime: t0, size: 1},
		"/x/changed.json": {modTime: t0, size: 1},
		"/x/gone.json":    {modTime: t0, size: 1},
	}
	cur := map[string]fileSnapshot{
		"/x/same.json":    {modTime: t0, size: 1},
		"/x/changed.json": {modTime: t0, size: 2},
		"/x/new.json":     {modTime: t0, size: 1},
	}

	got := map[string]Operation{}
	for _, ev := range diffSnapshots(prev, cur, time.Now()) {
		got[ev.Path] = ev.Operation
	}

	assert.Equal(t, map[string]Operation{
		"/x/changed.json": OpModify,
		"/x/new.json":     OpCreate,
		"/x/gone.json":    OpDelete,
	}, got)
}

func TestSnapshotTree_SkipsHiddenAndForeign(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))
	for _, name := range []string{"a.json", "sub/b.json", ".cache/c.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("[]"), 0o644))
	}

	state := snapshotTree(root, DefaultOptions())

	assert.Len(t, state, 2)
	assert.Contains(t, state, filepath.Join(root, "a.json"))
	assert.Contains(t, state, filepath.Join(root, "sub", "b.json"))
}

// waitFor drains batches until one reports path, or fails after timeout.
func waitFor(t *testing.T, w *ExportWatcher, path string, timeout time.Duration) FileEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case batch, ok := <-w.Events():
			require.True(t, ok, "events closed early")
			for _, ev := range batch {
				if ev.Path == path {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("no event for %s", path)
			return FileEvent{}
		}
	}
}

func runWatcher(t *testing.T, opts Options, root string) *ExportWatcher {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, root)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// give the watcher time to register directories
	time.Sleep(150 * time.Millisecond)
	return w
}

func TestExportWatcher_Fsnotify(t *testing.T) {
	// Given: a running watcher over an empty directory
	root := t.TempDir()
	w := runWatcher(t, Options{DebounceWindow: 50 * time.Millisecond}, root)
	if w.Polling() {
		t.Skip("fsnotify unavailable")
	}

	// When: an export is written and a text file is ignored
	path := filepath.Join(root, "manual.json")
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	// Then: the export is reported
	ev := waitFor(t, w, path, 3*time.Second)
	assert.False(t, ev.Operation.Removes())
}

func TestExportWatcher_Polling(t *testing.T) {
	// Given: a polling watcher over a directory with one export
	root := t.TempDir()
	existing := filepath.Join(root, "old.json")
	require.NoError(t, os.WriteFile(existing, []byte("[]"), 0o644))
	w := runWatcher(t, Options{
		ForcePolling:   true,
		PollInterval:   30 * time.Millisecond,
		DebounceWindow: 30 * time.Millisecond,
	}, root)
	require.True(t, w.Polling())

	// When: the export is removed
	require.NoError(t, os.Remove(existing))

	// Then: a delete is reported
	ev := waitFor(t, w, existing, 3*time.Second)
	assert.Equal(t, OpDelete, ev.Operation)
}

func TestExportWatcher_StartRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.json")
	require.NoError(t, os.WriteFile(file, []byte("[]"), 0o644))
	w, err := New(DefaultOptions())
	require.NoError(t, err)

	err = w.Start(context.Background(), file)

	assert.Error(t, err)
	_, ok := <-w.Events()
	assert.False(t, ok, "channels close when Start returns")
	assert.NoError(t, w.Stop())
}

func TestExportWatcher_StopBeforeStart(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
	assert.NoError(t, w.Start(context.Background(), t.TempDir()))
}
