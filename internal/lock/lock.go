// Package lock serializes writers of one knowledge store across processes.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	kberrors "github.com/Aman-CERP/amankb/internal/errors"
)

// FileName is the lock file created inside the data directory.
const FileName = ".import.lock"

// ImportLock is an exclusive cross-process lock held for the duration of an
// import or delete against a data directory. Readers never take it.
type ImportLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock for dataDir. The lock file is <dataDir>/.import.lock.
func New(dataDir string) *ImportLock {
	lockPath := filepath.Join(dataDir, FileName)
	return &ImportLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *ImportLock) Lock(ctx context.Context) error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	acquired, err := l.flock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return kberrors.New(kberrors.ErrCodeImportLocked, "another import holds the store", nil)
	}

	l.locked = true
	return nil
}

// TryLock attempts the lock once. A lock held by another process returns
// ERR_210_IMPORT_LOCKED.
func (l *ImportLock) TryLock() error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return kberrors.New(kberrors.ErrCodeImportLocked, "another import holds the store", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for the running import to finish, or use --wait")
	}

	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *ImportLock) Unlock() error {
	if !l.locked {
		return nil
	}

	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *ImportLock) Path() string {
	return l.path
}

// IsLocked returns true if this handle holds the lock.
func (l *ImportLock) IsLocked() bool {
	return l.locked
}

func (l *ImportLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return kberrors.IOError("failed to create lock directory", err)
	}
	return nil
}
