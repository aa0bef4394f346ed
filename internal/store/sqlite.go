package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/textnorm"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements Store on SQLite. Records are kept in a regular
// table; full-text queries go to the configured FullTextIndex.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	index  FullTextIndex
	closed bool
	retry  kberrors.RetryConfig
}

// Verify interface implementation at compile time
var _ Store = (*SQLiteStore)(nil)

const recordColumns = `id, title, content, content_normalized, search_content, source,
	content_blocks_json, page_number, bbox_json, image_uris, category, keywords`

// validateSQLiteIntegrity checks an existing database before opening it.
// Returns nil if valid or absent.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// openSQLite opens a database with the pragmas every amankb database uses.
// If path is empty, an in-memory database is returned.
func openSQLite(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps one shared connection for :memory:
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite, so set pragmas explicitly
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return db, nil
}

// NewSQLiteStore opens a store at path using SQLite FTS5 for full-text
// queries. If path is empty, the store is in-memory.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return newSQLiteStore(path, func(db *sql.DB) (FullTextIndex, error) {
		return newFTS5Index(db)
	})
}

func newSQLiteStore(path string, newIndex func(*sql.DB) (FullTextIndex, error)) (*SQLiteStore, error) {
	if path != "" {
		if err := validateSQLiteIntegrity(path); err != nil {
			slog.Warn("store_corrupted",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, "knowledge store is corrupted", err).
				WithDetail("path", path).
				WithSuggestion("Delete the store file and re-import the exports")
		}
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, path: path, retry: kberrors.DefaultRetryConfig()}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	idx, err := newIndex(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open full-text index: %w", err)
	}
	s.index = idx
	return s, nil
}

// initSchema creates the records table and the view the full-text index
// reads from. Records with an empty search key are not searchable.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS records (
		id                  INTEGER PRIMARY KEY,
		title               TEXT NOT NULL DEFAULT '',
		content             TEXT NOT NULL DEFAULT '',
		content_normalized  TEXT NOT NULL DEFAULT '',
		search_content      TEXT NOT NULL DEFAULT '',
		source              TEXT NOT NULL,
		content_blocks_json TEXT,
		page_number         INTEGER,
		bbox_json           TEXT,
		image_uris          TEXT,
		category            TEXT NOT NULL DEFAULT 'unassigned',
		keywords            TEXT NOT NULL DEFAULT '',
		title_key           TEXT NOT NULL DEFAULT '',
		search_compact      TEXT NOT NULL DEFAULT '',
		title_compact       TEXT NOT NULL DEFAULT '',
		updated_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);

	CREATE VIEW IF NOT EXISTS searchable_records AS
		SELECT id, title_key, search_content FROM records WHERE search_content != '';

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// UpsertBatch inserts or replaces records in one transaction.
// Lock contention is retried with backoff.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kberrors.StoreError("store is closed", nil)
	}

	err := kberrors.Retry(ctx, s.retry, func() error {
		err := s.upsertTx(ctx, records)
		if isBusy(err) {
			return kberrors.New(kberrors.ErrCodeStoreBusy, "database is locked", err)
		}
		return err
	})
	if err != nil {
		return kberrors.StoreError(fmt.Sprintf("failed to write batch of %d records", len(records)), err)
	}
	return nil
}

func (s *SQLiteStore) upsertTx(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (`+recordColumns+`, title_key, search_compact, title_compact, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			content_normalized = excluded.content_normalized,
			search_content = excluded.search_content,
			source = excluded.source,
			content_blocks_json = excluded.content_blocks_json,
			page_number = excluded.page_number,
			bbox_json = excluded.bbox_json,
			image_uris = excluded.image_uris,
			category = excluded.category,
			keywords = excluded.keywords,
			title_key = excluded.title_key,
			search_compact = excluded.search_compact,
			title_compact = excluded.title_compact,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		category := r.Category
		if category == "" {
			category = UnassignedCategory
		}
		titleKey := textnorm.NormalizeForSearch(r.Title)
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Title, r.Content, r.ContentNormalized, r.SearchContent, r.Source,
			nullString(r.ContentBlocksJSON), nullInt(r.PageNumber), nullString(r.BBoxJSON), nullString(r.ImageURIs),
			category, r.Keywords,
			titleKey, textnorm.StripWhitespace(r.SearchContent), textnorm.StripWhitespace(titleKey),
		); err != nil {
			return fmt.Errorf("failed to upsert record %d: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// RebuildFullTextIndex re-indexes every searchable record.
func (s *SQLiteStore) RebuildFullTextIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kberrors.StoreError("store is closed", nil)
	}
	if err := s.index.Rebuild(ctx, s.scanSearchable); err != nil {
		return kberrors.StoreError("failed to rebuild full-text index", err)
	}
	return nil
}

// scanSearchable streams records with a non-empty search key.
// Callers hold s.mu.
func (s *SQLiteStore) scanSearchable(ctx context.Context, fn func(Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE search_content != '' ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(*r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// QueryFullText returns records matching q, best first.
func (s *SQLiteStore) QueryFullText(ctx context.Context, q FullTextQuery, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if q.Empty() {
		return []Record{}, nil
	}

	ids, err := s.index.Search(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	return s.fetchByIDs(ctx, ids)
}

// QueryLikeWhitespaceInsensitive matches needle against the search key and
// the normalized title with all whitespace removed on both sides.
func (s *SQLiteStore) QueryLikeWhitespaceInsensitive(ctx context.Context, needle string, limit int) ([]Record, error) {
	needle = textnorm.StripWhitespace(needle)
	if needle == "" {
		return []Record{}, nil
	}
	pattern := "%" + EscapeLike(needle) + "%"
	return s.queryLike(ctx, `search_compact LIKE ? ESCAPE '\' OR title_compact LIKE ? ESCAPE '\'`,
		limit, pattern, pattern)
}

// QueryLikeFuzzy matches a caller-built LIKE pattern against the
// whitespace-stripped search key.
func (s *SQLiteStore) QueryLikeFuzzy(ctx context.Context, pattern string, limit int) ([]Record, error) {
	if strings.Trim(pattern, "%") == "" {
		return []Record{}, nil
	}
	return s.queryLike(ctx, `search_compact LIKE ? ESCAPE '\'`, limit, pattern)
}

func (s *SQLiteStore) queryLike(ctx context.Context, where string, limit int, args ...any) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + recordColumns + ` FROM records
		WHERE search_content != '' AND (` + where + `)
		ORDER BY length(search_content), id
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("like query failed: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetByID returns the record with id, or nil if there is none.
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteBySource removes every record of source and refreshes the index.
func (s *SQLiteStore) DeleteBySource(ctx context.Context, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, kberrors.StoreError("store is closed", nil)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE source = ?`, source)
	if err != nil {
		return 0, kberrors.StoreError("failed to delete source "+source, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := s.index.Rebuild(ctx, s.scanSearchable); err != nil {
			return int(n), kberrors.StoreError("failed to rebuild full-text index", err)
		}
	}
	return int(n), nil
}

// Sources lists every source with its record count.
func (s *SQLiteStore) Sources(ctx context.Context) ([]SourceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM records GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []SourceInfo
	for rows.Next() {
		var si SourceInfo
		if err := rows.Scan(&si.Source, &si.Records); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// Stats returns store statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &Stats{}, nil
	}

	st := &Stats{FullTextBackend: s.index.Name()}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN search_content != '' THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT source)
		FROM records`).Scan(&st.Records, &st.Searchable, &st.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	if st.FullTextDocs, err = s.index.Count(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// DB returns the underlying database so auxiliary tables (query telemetry)
// can share it. The store owns the connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// FullTextBackend names the configured full-text backend.
func (s *SQLiteStore) FullTextBackend() string {
	return s.index.Name()
}

// Close checkpoints the WAL and closes the database and index.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if s.index != nil {
		firstErr = s.index.Close()
	}
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fetchByIDs loads records preserving the order of ids. Ids without a
// searchable record are skipped.
func (s *SQLiteStore) fetchByIDs(ctx context.Context, ids []int64) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT %s FROM records WHERE search_content != '' AND id IN (%s)`,
		recordColumns, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]Record, len(ids))
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		byID[r.ID] = *r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r                       Record
		blocks, bbox, imageURIs sql.NullString
		page                    sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Title, &r.Content, &r.ContentNormalized, &r.SearchContent, &r.Source,
		&blocks, &page, &bbox, &imageURIs, &r.Category, &r.Keywords)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	if blocks.Valid {
		r.ContentBlocksJSON = &blocks.String
	}
	if page.Valid {
		p := int(page.Int64)
		r.PageNumber = &p
	}
	if bbox.Valid {
		r.BBoxJSON = &bbox.String
	}
	if imageURIs.Valid {
		r.ImageURIs = &imageURIs.String
	}
	return &r, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

// EscapeLike escapes LIKE wildcards and the escape character itself so s
// matches literally in a pattern using ESCAPE '\'.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// fts5Index is the default full-text backend: an FTS5 table whose content
// is the searchable_records view of the same database.
type fts5Index struct {
	db *sql.DB
}

func newFTS5Index(db *sql.DB) (*fts5Index, error) {
	_, err := db.Exec(`
	CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
		title_key,
		search_content,
		content='searchable_records',
		content_rowid='id',
		tokenize='unicode61'
	);`)
	if err != nil {
		return nil, err
	}
	return &fts5Index{db: db}, nil
}

func (f *fts5Index) Name() string { return string(BackendSQLite) }

// Rebuild regenerates the FTS5 index from its content view. The scan is not
// needed since FTS5 reads the view itself.
func (f *fts5Index) Rebuild(ctx context.Context, _ ScanFunc) error {
	_, err := f.db.ExecContext(ctx, `INSERT INTO records_fts(records_fts) VALUES('rebuild')`)
	return err
}

func (f *fts5Index) Search(ctx context.Context, q FullTextQuery, limit int) ([]int64, error) {
	expr := q.MatchExpression()
	if expr == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	// bm25() is negative, lower is better
	rows, err := f.db.QueryContext(ctx, `
		SELECT rowid FROM records_fts
		WHERE records_fts MATCH ?
		ORDER BY bm25(records_fts)
		LIMIT ?`, expr, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text query failed: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (f *fts5Index) Count(ctx context.Context) (int, error) {
	var n int
	err := f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records_fts_docsize`).Scan(&n)
	return n, err
}

// Close is a no-op: the database is owned by the store.
func (f *fts5Index) Close() error { return nil }
