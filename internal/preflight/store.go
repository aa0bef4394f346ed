package preflight

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amankb/internal/async"
	"github.com/Aman-CERP/amankb/internal/lock"
	"github.com/Aman-CERP/amankb/internal/store"
)

// CheckStoreIntegrity runs SQLite's quick_check on the store database.
func (c *Checker) CheckStoreIntegrity(ctx context.Context, st *store.SQLiteStore) CheckResult {
	result := CheckResult{Name: "store_integrity", Required: true}

	var verdict string
	if err := st.DB().QueryRowContext(ctx, "PRAGMA quick_check").Scan(&verdict); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("quick_check failed: %v", err)
		return result
	}
	if verdict != "ok" {
		result.Status = StatusFail
		result.Message = "database is corrupted"
		result.Details = verdict
		return result
	}

	result.Status = StatusPass
	result.Message = "ok"
	return result
}

// CheckFullTextIndex compares the full-text document count with the number
// of searchable records. With WithFix a mismatch triggers a rebuild.
func (c *Checker) CheckFullTextIndex(ctx context.Context, st *store.SQLiteStore) CheckResult {
	result := CheckResult{Name: "fulltext_index"}

	stats, err := st.Stats(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to read statistics: %v", err)
		return result
	}

	if stats.FullTextDocs == stats.Searchable {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s, %d documents", stats.FullTextBackend, stats.FullTextDocs)
		return result
	}

	result.Message = fmt.Sprintf("%s has %d documents for %d searchable records",
		stats.FullTextBackend, stats.FullTextDocs, stats.Searchable)
	if !c.fix {
		result.Status = StatusWarn
		result.Details = "Run 'amankb doctor --fix' to rebuild the index"
		return result
	}

	if err := st.RebuildFullTextIndex(ctx); err != nil {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("rebuild failed: %v", err)
		return result
	}
	slog.Info("fulltext_index_rebuilt", slog.Int("searchable", stats.Searchable))
	result.Status = StatusPass
	result.Fixed = true
	return result
}

// CheckInterruptedImport reports an import that did not finish.
func (c *Checker) CheckInterruptedImport(dataDir string) CheckResult {
	result := CheckResult{Name: "interrupted_import", Status: StatusPass, Message: "none"}
	if async.HasIncompleteImport(dataDir) {
		result.Status = StatusWarn
		result.Message = "an import was interrupted"
		result.Details = "Batches flushed before the interruption are kept; run the import again to finish it"
	}
	return result
}

// CheckImportLock reports whether another process is importing right now.
func (c *Checker) CheckImportLock(dataDir string) CheckResult {
	result := CheckResult{Name: "import_lock"}

	l := lock.New(dataDir)
	if err := l.TryLock(); err != nil {
		result.Status = StatusWarn
		result.Message = "an import or watch is running"
		result.Details = l.Path()
		return result
	}
	_ = l.Unlock()

	result.Status = StatusPass
	result.Message = "free"
	return result
}
