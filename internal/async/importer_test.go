package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundImporter_RunsAndPublishes(t *testing.T) {
	// Given: an importer with an injected import function
	dir := t.TempDir()
	b := NewBackgroundImporter(ImporterConfig{DataDir: dir, SourceID: "s1", SourceName: "f.json"}, nil)

	sawMarker := false
	b.ImportFunc = func(_ context.Context, publish func(ImportProgress)) error {
		sawMarker = HasIncompleteImport(dir)
		publish(ImportProgress{SourceID: "s1", Status: StatusInProgress, ImportedItems: 1})
		publish(ImportProgress{SourceID: "s1", Status: StatusImported, ImportedItems: 2})
		return nil
	}

	// When: starting and waiting
	b.Start(context.Background())
	err := b.Wait()

	// Then: the final status is terminal and the marker is gone
	require.NoError(t, err)
	assert.True(t, sawMarker)
	assert.False(t, HasIncompleteImport(dir))
	assert.False(t, b.IsRunning())

	p, ok := b.Status().Load()
	require.True(t, ok)
	assert.Equal(t, StatusImported, p.Status)
	assert.Equal(t, int64(2), p.ImportedItems)
}

func TestBackgroundImporter_StopCancelsContext(t *testing.T) {
	b := NewBackgroundImporter(ImporterConfig{SourceID: "s1"}, nil)
	started := make(chan struct{})
	b.ImportFunc = func(ctx context.Context, _ func(ImportProgress)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	b.Start(context.Background())
	<-started
	b.Stop()

	assert.ErrorIs(t, b.Wait(), context.Canceled)
}

func TestBackgroundImporter_ErrorReturned(t *testing.T) {
	b := NewBackgroundImporter(ImporterConfig{SourceID: "s1"}, nil)
	boom := errors.New("boom")
	b.ImportFunc = func(context.Context, func(ImportProgress)) error { return boom }

	b.Start(context.Background())
	assert.ErrorIs(t, b.Wait(), boom)
}

func TestBackgroundImporter_StartTwiceIsNoop(t *testing.T) {
	calls := 0
	b := NewBackgroundImporter(ImporterConfig{SourceID: "s1"}, nil)
	b.ImportFunc = func(context.Context, func(ImportProgress)) error {
		calls++
		return nil
	}

	b.Start(context.Background())
	b.Start(context.Background())
	require.NoError(t, b.Wait())
	assert.Equal(t, 1, calls)
}

func TestBackgroundImporter_StopBeforeStart(t *testing.T) {
	b := NewBackgroundImporter(ImporterConfig{SourceID: "s1"}, nil)

	done := make(chan struct{})
	go func() {
		b.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on an importer that never started")
	}
}

func TestBackgroundImporter_MarkerFailure(t *testing.T) {
	// Given: a data dir path occupied by a file
	parent := t.TempDir()
	blocked := filepath.Join(parent, "data")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0644))

	b := NewBackgroundImporter(ImporterConfig{DataDir: blocked, SourceID: "s1", SourceName: "f.json"}, nil)
	b.ImportFunc = func(context.Context, func(ImportProgress)) error { return nil }

	// When: starting
	b.Start(context.Background())

	// Then: the job fails with a terminal status
	assert.Error(t, b.Wait())
	p, ok := b.Status().Load()
	require.True(t, ok)
	assert.Equal(t, StatusFailed, p.Status)
	require.NotNil(t, p.Message)
}

func TestLastImport(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, LastImport(dir).IsZero(), "no run recorded yet")

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, RecordLastImport(dir, at))
	assert.True(t, LastImport(dir).Equal(at))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "last_import"), []byte("garbage"), 0644))
	assert.True(t, LastImport(dir).IsZero())
}
