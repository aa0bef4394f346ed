package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/store"
)

func newSQLiteFixture(t *testing.T) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertBatch(ctx, []store.Record{
		{ID: 1, Title: "检修规程", Content: "主 变 压 器 检修", SearchContent: "主 变 压 器 检修", Source: "a.json", Category: "manual"},
		{ID: 2, Title: "Breakers", Content: "Circuit breaker maintenance", SearchContent: "circuit breaker maintenance", Source: "b.json", Category: "manual"},
		{ID: 3, Title: "Pumps", Content: "pump seal replacement", SearchContent: "pump seal replacement", Source: "b.json", Category: "manual"},
	}))
	require.NoError(t, st.RebuildFullTextIndex(ctx))
	return st
}

func TestExecutor_SQLite_CJKAcrossSpaces(t *testing.T) {
	// Given: OCR text with spaces between CJK characters
	e := newExecutor(t, newSQLiteFixture(t))

	// When: searching the term without spaces
	resp, err := e.Search(context.Background(), "变压器", SearchOptions{})

	// Then: the CJK tier finds it
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, TierCJKExact, resp.Tier)
	assert.Equal(t, int64(1), resp.Hits[0].Record.ID)
	assert.Contains(t, resp.Hits[0].Snippet, "变 压 器")
}

func TestExecutor_SQLite_FullTextPrefix(t *testing.T) {
	e := newExecutor(t, newSQLiteFixture(t))

	resp, err := e.Search(context.Background(), "circuit break", SearchOptions{})

	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, TierFullText, resp.Tier)
	assert.Equal(t, int64(2), resp.Hits[0].Record.ID)
}

func TestExecutor_SQLite_FuzzyLastResort(t *testing.T) {
	// Given: a query whose runes occur in order in "pumpsealreplacement"
	// but never next to each other, so no earlier tier can answer
	e := newExecutor(t, newSQLiteFixture(t))

	// When: searching it
	resp, err := e.Search(context.Background(), "psrp", SearchOptions{})

	// Then: only the fuzzy tier matches

	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, TierFuzzy, resp.Tier)
	assert.Equal(t, int64(3), resp.Hits[0].Record.ID)
}

func TestExecutor_SQLite_AdjacentRunesStopAtLike(t *testing.T) {
	e := newExecutor(t, newSQLiteFixture(t))

	resp, err := e.Search(context.Background(), "psea", SearchOptions{})

	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, TierLike, resp.Tier, "a whitespace-stripped substring never reaches fuzzy")
	assert.Equal(t, int64(3), resp.Hits[0].Record.ID)
}

func TestExecutor_SQLite_NoMatch(t *testing.T) {
	e := newExecutor(t, newSQLiteFixture(t))

	resp, err := e.Search(context.Background(), "zzzz", SearchOptions{})

	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
	assert.Empty(t, resp.TierErrors)
}
