package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// SearchKeyAnalyzerName is the analyzer applied to normalized search keys.
	SearchKeyAnalyzerName = "search_key_analyzer"

	bleveFieldTitle   = "title_key"
	bleveFieldContent = "search_content"

	bleveBatchSize = 500
)

func init() {
	_ = registry.RegisterTokenizer(SearchKeyTokenizerName, searchKeyTokenizerConstructor)
}

// bleveIndex is the Bleve full-text backend.
type bleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument is the document structure for Bleve indexing.
type bleveDocument struct {
	TitleKey      string `json:"title_key"`
	SearchContent string `json:"search_content"`
}

// validateIndexIntegrity checks a Bleve index directory before opening it.
// Returns nil if valid or absent.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// newBleveIndex opens or creates a Bleve index at path. If path is empty,
// the index is in-memory. A corrupted index is cleared: it is derived data
// and RebuildFullTextIndex restores it from the records table.
func newBleveIndex(path string) (*bleveIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("full-text index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("bleve_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, rebuild required"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &bleveIndex{index: idx, path: path}, nil
}

// createIndexMapping maps both document fields through the search key
// analyzer.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(SearchKeyAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     SearchKeyTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = SearchKeyAnalyzerName
	return indexMapping, nil
}

func (b *bleveIndex) Name() string { return string(BackendBleve) }

// Rebuild indexes every scanned record and deletes documents whose record is
// gone or no longer searchable.
func (b *bleveIndex) Rebuild(ctx context.Context, scan ScanFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	seen := make(map[string]struct{})
	batch := b.index.NewBatch()
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to execute batch: %w", err)
		}
		batch.Reset()
		return nil
	}

	err := scan(ctx, func(r Record) error {
		id := strconv.FormatInt(r.ID, 10)
		seen[id] = struct{}{}
		doc := bleveDocument{TitleKey: searchKeyOfTitle(r.Title), SearchContent: r.SearchContent}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("failed to index record %s: %w", id, err)
		}
		if batch.Size() >= bleveBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	existing, err := b.allIDs()
	if err != nil {
		return err
	}
	for _, id := range existing {
		if _, ok := seen[id]; !ok {
			batch.Delete(id)
		}
	}
	return flush()
}

// allIDs returns every document id in the index. Callers hold b.mu.
func (b *bleveIndex) allIDs() ([]string, error) {
	docCount, err := b.index.DocCount()
	if err != nil {
		return nil, err
	}
	if docCount == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Search requires every term in either the title or the content field.
func (b *bleveIndex) Search(ctx context.Context, q FullTextQuery, limit int) ([]int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if q.Empty() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	conjuncts := make([]query.Query, 0, len(q.Terms))
	for _, t := range q.Terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(
			termQuery(t, bleveFieldContent, q.Prefix),
			termQuery(t, bleveFieldTitle, q.Prefix),
		))
	}

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(conjuncts...))
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]int64, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func termQuery(term, field string, prefix bool) query.Query {
	if prefix {
		pq := bleve.NewPrefixQuery(term)
		pq.SetField(field)
		return pq
	}
	tq := bleve.NewTermQuery(term)
	tq.SetField(field)
	return tq
}

func (b *bleveIndex) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, nil
	}
	n, err := b.index.DocCount()
	return int(n), err
}

// Close closes the index.
func (b *bleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}
