package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend represents the full-text backend type.
type Backend string

const (
	// BackendSQLite uses SQLite FTS5 inside the store database (default).
	// Enables concurrent multi-process access via WAL mode.
	BackendSQLite Backend = "sqlite"

	// BackendBleve keeps a Bleve index next to the database.
	// Single process only: BoltDB holds an exclusive file lock.
	BackendBleve Backend = "bleve"
)

// NewStore opens a store with the full-text backend named in cfg.
//
// backend options:
//   - "sqlite" (default): FTS5 table in the same database
//   - "bleve": Bleve index at <path without .db>.bleve
//
// If cfg.Path is empty, everything is in-memory.
func NewStore(cfg Config) (*SQLiteStore, error) {
	switch Backend(cfg.Backend) {
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.Path)

	case BackendBleve:
		blevePath := ""
		if cfg.Path != "" {
			blevePath = strings.TrimSuffix(cfg.Path, filepath.Ext(cfg.Path)) + ".bleve"
		}
		return newSQLiteStore(cfg.Path, func(_ *sql.DB) (FullTextIndex, error) {
			return newBleveIndex(blevePath)
		})

	default:
		return nil, fmt.Errorf("unknown full-text backend: %s (valid options: sqlite, bleve)", cfg.Backend)
	}
}

// DetectBackend reports which backend an existing store at dbPath was built
// with. Returns an empty string if no store exists.
func DetectBackend(dbPath string) Backend {
	if !fileExists(dbPath) {
		return ""
	}
	if dirExists(strings.TrimSuffix(dbPath, filepath.Ext(dbPath)) + ".bleve") {
		return BackendBleve
	}
	return BackendSQLite
}

// StorePath returns the database path inside a data directory.
func StorePath(dataDir string) string {
	return filepath.Join(dataDir, "knowledge.db")
}

// DiskUsage returns the bytes the knowledge store at dbPath occupies: the
// database, its WAL and a Bleve index directory if present.
func DiskUsage(dbPath string) int64 {
	var total int64
	for _, p := range []string{dbPath, dbPath + "-wal"} {
		if fi, err := os.Stat(p); err == nil {
			total += fi.Size()
		}
	}
	blevePath := strings.TrimSuffix(dbPath, filepath.Ext(dbPath)) + ".bleve"
	_ = filepath.WalkDir(blevePath, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
