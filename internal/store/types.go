// Package store persists knowledge records and answers the queries the search
// tiers need: full-text match, whitespace-insensitive containment and fuzzy
// in-order matching.
//
// Records always live in SQLite. The full-text index is pluggable: SQLite
// FTS5 over the same database (default) or a Bleve index next to it.
package store

import (
	"context"
	"strings"
)

// UnassignedCategory is the category of records whose entry carries none.
const UnassignedCategory = "unassigned"

// Record is one persisted knowledge unit.
// ID is a pure function of (Source, entry id, Title, position), so
// re-importing unchanged input upserts the same rows.
type Record struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Content           string  `json:"content"`
	ContentNormalized string  `json:"contentNormalized"`
	SearchContent     string  `json:"searchContent"`
	Source            string  `json:"source"`
	ContentBlocksJSON *string `json:"contentBlocksJson,omitempty"`
	PageNumber        *int    `json:"pageNumber,omitempty"`
	BBoxJSON          *string `json:"bboxJson,omitempty"`
	ImageURIs         *string `json:"imageUris,omitempty"`
	Category          string  `json:"category"`
	Keywords          string  `json:"keywords"`
}

// FullTextQuery is a full-text match over normalized search keys.
// Every term must match; with Prefix set each term also matches longer
// tokens that start with it.
type FullTextQuery struct {
	Terms  []string
	Prefix bool
}

// MatchExpression renders the query in FTS5 syntax, each term quoted so
// operator characters in user input stay literal.
func (q FullTextQuery) MatchExpression() string {
	parts := make([]string, 0, len(q.Terms))
	for _, t := range q.Terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		term := `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		if q.Prefix {
			term += "*"
		}
		parts = append(parts, term)
	}
	return strings.Join(parts, " AND ")
}

// Empty reports whether the query has no usable terms.
func (q FullTextQuery) Empty() bool {
	for _, t := range q.Terms {
		if strings.TrimSpace(t) != "" {
			return false
		}
	}
	return true
}

// Store is the persistence collaborator of ingestion and search.
// Implementations must be safe for concurrent use.
type Store interface {
	// UpsertBatch writes records atomically: either all of them or none.
	UpsertBatch(ctx context.Context, records []Record) error

	// RebuildFullTextIndex brings the full-text index in line with the
	// records table. Idempotent.
	RebuildFullTextIndex(ctx context.Context) error

	// QueryFullText returns records whose search key matches q.
	QueryFullText(ctx context.Context, q FullTextQuery, limit int) ([]Record, error)

	// QueryLikeWhitespaceInsensitive returns records whose whitespace-stripped
	// search key or title contains needle.
	QueryLikeWhitespaceInsensitive(ctx context.Context, needle string, limit int) ([]Record, error)

	// QueryLikeFuzzy returns records whose whitespace-stripped search key
	// matches the LIKE pattern. The pattern uses '\' as escape character.
	QueryLikeFuzzy(ctx context.Context, pattern string, limit int) ([]Record, error)

	// GetByID returns the record or nil when it does not exist.
	GetByID(ctx context.Context, id int64) (*Record, error)

	// DeleteBySource removes every record of a source and returns how many.
	DeleteBySource(ctx context.Context, source string) (int, error)

	// Sources lists sources with their record counts.
	Sources(ctx context.Context) ([]SourceInfo, error)

	// Stats returns store statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases resources.
	Close() error
}

// FullTextIndex is a pluggable full-text backend over the records table.
type FullTextIndex interface {
	// Name identifies the backend ("sqlite" or "bleve").
	Name() string

	// Rebuild re-indexes every record produced by scan.
	Rebuild(ctx context.Context, scan ScanFunc) error

	// Search returns matching record ids, best first.
	Search(ctx context.Context, q FullTextQuery, limit int) ([]int64, error)

	// Count returns the number of indexed documents.
	Count(ctx context.Context) (int, error)

	Close() error
}

// ScanFunc streams every searchable record to fn.
type ScanFunc func(ctx context.Context, fn func(Record) error) error

// SourceInfo summarizes one source.
type SourceInfo struct {
	Source  string `json:"source"`
	Records int    `json:"records"`
}

// Stats holds store statistics.
type Stats struct {
	Records         int    `json:"records"`
	Searchable      int    `json:"searchable"`
	Sources         int    `json:"sources"`
	FullTextBackend string `json:"fullTextBackend"`
	FullTextDocs    int    `json:"fullTextDocs"`
}

// Config configures a store.
type Config struct {
	// Path of the SQLite database. Empty means in-memory.
	Path string

	// Backend selects the full-text backend: "sqlite" (default) or "bleve".
	Backend string
}

// DefaultConfig returns an in-memory store configuration.
func DefaultConfig() Config {
	return Config{Backend: string(BackendSQLite)}
}
