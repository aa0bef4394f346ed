package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/amankb/internal/errors"
)

func TestImportLock_LockUnlock(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	require.NoError(t, l.TryLock())
	assert.True(t, l.IsLocked())

	_, err := os.Stat(l.Path())
	assert.NoError(t, err, "lock file is created")

	require.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())
	require.NoError(t, l.Unlock(), "double unlock is safe")
}

// TS01: A second writer is refused while the first holds the lock
func TestImportLock_Contention(t *testing.T) {
	// Given: one holder
	dir := t.TempDir()
	first := New(dir)
	require.NoError(t, first.TryLock())
	defer func() { _ = first.Unlock() }()

	// When: another handle tries
	second := New(dir)
	err := second.TryLock()

	// Then: it gets a retryable lock error
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeImportLocked, kberrors.GetCode(err))
	assert.True(t, kberrors.IsRetryable(err))
	assert.False(t, second.IsLocked())
}

func TestImportLock_LockWaitsForRelease(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	require.NoError(t, first.TryLock())

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = first.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	second := New(dir)
	require.NoError(t, second.Lock(ctx))
	assert.True(t, second.IsLocked())
	require.NoError(t, second.Unlock())
}

func TestImportLock_LockHonorsContext(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	require.NoError(t, first.TryLock())
	defer func() { _ = first.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := New(dir).Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestImportLock_CreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/data"
	l := New(dir)
	require.NoError(t, l.TryLock())
	defer func() { _ = l.Unlock() }()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
