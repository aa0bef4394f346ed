package cmd

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/config"
	"github.com/Aman-CERP/amankb/internal/output"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/watcher"
)

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newMemoryStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewStore(store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func recordCount(t *testing.T, st store.Store) int {
	t.Helper()
	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	return stats.Records
}

// =============================================================================
// TS01: Batch handling
// =============================================================================

func TestApplyBatch_ReimportsAndForgets(t *testing.T) {
	testEnv(t)
	cfg := config.NewConfig()
	st := newMemoryStore(t)
	buf := &bytes.Buffer{}
	out := output.New(buf)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeExport(t, dir, "breakers.json", breakersExport)

	// When: the file is created
	err := applyBatch(ctx, cfg, st, out, []watcher.FileEvent{{Path: path, Operation: watcher.OpCreate}})
	require.NoError(t, err)
	assert.Equal(t, 2, recordCount(t, st))
	assert.Contains(t, buf.String(), "breakers.json")

	// When: it shrinks to one entry
	require.NoError(t, os.WriteFile(path, []byte(`[{"entryId":"e1","jobTitle":"Breakers","contentMarkdown":"x","position":1}]`), 0o644))
	err = applyBatch(ctx, cfg, st, out, []watcher.FileEvent{{Path: path, Operation: watcher.OpModify}})
	require.NoError(t, err)

	// Then: stale records of the source are gone
	assert.Equal(t, 1, recordCount(t, st))

	// When: it is deleted
	err = applyBatch(ctx, cfg, st, out, []watcher.FileEvent{{Path: path, Operation: watcher.OpDelete}})
	require.NoError(t, err)
	assert.Equal(t, 0, recordCount(t, st))
	assert.Contains(t, buf.String(), "records forgotten")
}

func TestApplyBatch_BadFileReported(t *testing.T) {
	testEnv(t)
	cfg := config.NewConfig()
	st := newMemoryStore(t)
	buf := &bytes.Buffer{}
	path := writeExport(t, t.TempDir(), "bad.json", "{not json")

	err := applyBatch(context.Background(), cfg, st, output.New(buf), []watcher.FileEvent{{Path: path, Operation: watcher.OpCreate}})

	require.NoError(t, err, "a failing file does not stop the watch")
	assert.Contains(t, buf.String(), "✗ bad.json")
}

// =============================================================================
// TS02: watch command
// =============================================================================

func TestWatchCmd_InitialImportThenStops(t *testing.T) {
	// Given: a directory with one export
	dataDir := testEnv(t)
	dir := t.TempDir()
	writeExport(t, dir, "breakers.json", breakersExport)

	root := NewRootCmd()
	buf := &syncBuffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"--data-dir", dataDir, "watch", dir, "--poll"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	// When: the watcher is running
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "Watching")
	}, 10*time.Second, 20*time.Millisecond)
	cancel()

	// Then: it stops cleanly after importing the existing file
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
	_ = stopLogging(nil, nil)
	assert.Contains(t, buf.String(), "Importing 1 existing files")

	st, err := store.NewSQLiteStore(store.StorePath(dataDir))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	assert.Equal(t, 2, recordCount(t, st))
}

func TestWatchCmd_RejectsFile(t *testing.T) {
	dataDir := testEnv(t)
	path := writeExport(t, t.TempDir(), "a.json", "[]")

	_, err := run(t, dataDir, "watch", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}
