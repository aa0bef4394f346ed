package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/query"
	"github.com/Aman-CERP/amankb/internal/snippet"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/telemetry"
)

// fakeStore answers each query kind from canned results and records calls.
type fakeStore struct {
	mu sync.Mutex

	fullText    []store.Record
	fullTextErr error
	like        []store.Record
	likeErr     error
	fuzzy       []store.Record

	calls        []string
	likeNeedles  []string
	fuzzyPattern string
	fullTextQ    store.FullTextQuery
}

var _ store.Store = (*fakeStore)(nil)

func (f *fakeStore) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeStore) UpsertBatch(context.Context, []store.Record) error { return nil }
func (f *fakeStore) RebuildFullTextIndex(context.Context) error        { return nil }

func (f *fakeStore) QueryFullText(_ context.Context, q store.FullTextQuery, _ int) ([]store.Record, error) {
	f.record("fulltext")
	f.fullTextQ = q
	return append([]store.Record(nil), f.fullText...), f.fullTextErr
}

func (f *fakeStore) QueryLikeWhitespaceInsensitive(_ context.Context, needle string, _ int) ([]store.Record, error) {
	f.record("like")
	f.likeNeedles = append(f.likeNeedles, needle)
	return f.like, f.likeErr
}

func (f *fakeStore) QueryLikeFuzzy(_ context.Context, pattern string, _ int) ([]store.Record, error) {
	f.record("fuzzy")
	f.fuzzyPattern = pattern
	return f.fuzzy, nil
}

func (f *fakeStore) GetByID(context.Context, int64) (*store.Record, error) { return nil, nil }
func (f *fakeStore) DeleteBySource(context.Context, string) (int, error)   { return 0, nil }
func (f *fakeStore) Sources(context.Context) ([]store.SourceInfo, error)   { return nil, nil }
func (f *fakeStore) Stats(context.Context) (*store.Stats, error)           { return &store.Stats{}, nil }
func (f *fakeStore) Close() error                                          { return nil }

func newExecutor(t *testing.T, st store.Store, opts ...ExecutorOption) *Executor {
	t.Helper()
	e, err := NewExecutor(st, opts...)
	require.NoError(t, err)
	return e
}

func ptr(s string) *string { return &s }

func TestNewExecutor_NilStore(t *testing.T) {
	_, err := NewExecutor(nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestExecutor_DefaultCascadeOrder(t *testing.T) {
	e := newExecutor(t, &fakeStore{})
	assert.Equal(t, []string{TierCJKExact, TierFullText, TierLike, TierFuzzy}, e.Tiers())
}

// TS01: an empty full-text tier falls through to LIKE and stops there
func TestExecutor_ScenarioD(t *testing.T) {
	// Given: the full-text tier finds nothing and the LIKE tier finds a record
	long := strings.Repeat("filler ", 80) + "circuit breaker maintenance" + strings.Repeat(" tail", 80)
	st := &fakeStore{
		like:  []store.Record{{ID: 7, Title: "Breakers", Content: long, SearchContent: "x"}},
		fuzzy: []store.Record{{ID: 99}},
	}
	e := newExecutor(t, st)

	// When: searching a Latin query
	resp, err := e.Search(context.Background(), "Circuit Breaker", SearchOptions{})

	// Then: the LIKE results come back snippet-processed and fuzzy never ran
	require.NoError(t, err)
	assert.Equal(t, TierLike, resp.Tier)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, int64(7), resp.Hits[0].Record.ID)
	assert.Equal(t, TierLike, resp.Hits[0].Tier)
	assert.Contains(t, resp.Hits[0].Snippet, "circuit breaker")
	assert.True(t, strings.HasPrefix(resp.Hits[0].Snippet, snippet.Ellipsis))
	assert.Equal(t, -1, resp.Hits[0].FirstBlock)
	assert.Equal(t, []string{"fulltext", "like"}, st.calls)
	assert.Equal(t, []string{"circuitbreaker"}, st.likeNeedles)
}

func TestExecutor_CJKFastPath(t *testing.T) {
	// Given: a store with a CJK hit on whitespace-insensitive containment
	st := &fakeStore{like: []store.Record{{ID: 1, Content: "变 压 器 检修"}}}
	e := newExecutor(t, st)

	// When: searching with input-method residue
	resp, err := e.Search(context.Background(), "变压qi", SearchOptions{})

	// Then: the CJK tier answers with the stripped query and nothing else runs
	require.NoError(t, err)
	assert.Equal(t, TierCJKExact, resp.Tier)
	assert.Equal(t, []string{"like"}, st.calls)
	assert.Equal(t, []string{"变压"}, st.likeNeedles)
}

func TestExecutor_TierErrorFallsThrough(t *testing.T) {
	// Given: the full-text backend fails
	st := &fakeStore{
		fullTextErr: errors.New("fts5: syntax error"),
		like:        []store.Record{{ID: 3, Content: "pump seal"}},
	}
	metrics := telemetry.NewQueryMetrics(nil)
	defer metrics.Close()
	e := newExecutor(t, st, WithMetrics(metrics))

	// When: searching
	resp, err := e.Search(context.Background(), "pump", SearchOptions{})

	// Then: the failure is collected, not returned, and LIKE answers
	require.NoError(t, err)
	assert.Equal(t, TierLike, resp.Tier)
	require.Len(t, resp.TierErrors, 1)
	assert.Equal(t, kberrors.ErrCodeSearchTier, kberrors.GetCode(resp.TierErrors[0]))

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.TierCounts[TierLike])
	assert.Equal(t, int64(1), snap.TierErrors[TierFullText])
}

func TestExecutor_ExhaustedCascadeIsEmpty(t *testing.T) {
	st := &fakeStore{likeErr: errors.New("database is locked")}
	e := newExecutor(t, st)

	resp, err := e.Search(context.Background(), "zz", SearchOptions{})

	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
	assert.Equal(t, "", resp.Tier)
	assert.Len(t, resp.TierErrors, 1)
	assert.NotContains(t, st.calls, "fuzzy", "two runes is below the fuzzy bound")
}

func TestExecutor_RejectedQuery(t *testing.T) {
	st := &fakeStore{}
	e := newExecutor(t, st)

	resp, err := e.Search(context.Background(), "a", SearchOptions{})

	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
	assert.ErrorIs(t, resp.Rejected, query.ErrQueryTooShort)
	assert.Empty(t, st.calls)
}

func TestExecutor_CancelledContext(t *testing.T) {
	e := newExecutor(t, &fakeStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, "pump", SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_FirstBlock(t *testing.T) {
	st := &fakeStore{like: []store.Record{{
		ID:                1,
		Content:           "intro",
		ContentBlocksJSON: ptr(`[{"type":"text","text":"intro"},{"type":"text","text":"replace the pump seal"}]`),
	}}}
	e := newExecutor(t, st)

	resp, err := e.Search(context.Background(), "pump seal", SearchOptions{})

	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, 1, resp.Hits[0].FirstBlock)
}

func TestExecutor_FiltersAndLimit(t *testing.T) {
	st := &fakeStore{like: []store.Record{
		{ID: 1, Content: "pump", Source: "a.json", Category: "manual"},
		{ID: 2, Content: "pump", Source: "b.json", Category: "manual"},
		{ID: 3, Content: "pump", Source: "a.json", Category: "policy"},
		{ID: 4, Content: "pump", Source: "a.json", Category: "manual"},
	}}
	e := newExecutor(t, st)

	resp, err := e.Search(context.Background(), "pump", SearchOptions{
		Sources:  []string{"a.json"},
		Category: "manual",
		Limit:    1,
	})

	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, int64(1), resp.Hits[0].Record.ID)
}

func TestExecutor_FilteredOutTierFallsThrough(t *testing.T) {
	st := &fakeStore{
		fullText: []store.Record{{ID: 1, Content: "pump", Source: "other.json"}},
		like:     []store.Record{{ID: 2, Content: "pump", Source: "wanted.json"}},
	}
	e := newExecutor(t, st)

	resp, err := e.Search(context.Background(), "pump", SearchOptions{Sources: []string{"wanted.json"}})

	require.NoError(t, err)
	assert.Equal(t, TierLike, resp.Tier)
}

func TestFullTextStrategy_ShortCJKPostFilter(t *testing.T) {
	// Given: full-text hits where only one contains the term literally
	st := &fakeStore{fullText: []store.Record{
		{ID: 1, Content: "变 压 器"},
		{ID: 2, Content: "变电站 压力 器材"},
		{ID: 3, Title: "变压器 规程"},
		{ID: 4, Source: "变压器.json"},
	}}
	s := &FullTextStrategy{Store: st}
	q, err := query.Normalize("变压器")
	require.NoError(t, err)

	// When: running the tier
	recs, err := s.Search(context.Background(), q, 10)

	// Then: per-character false positives are dropped
	require.NoError(t, err)
	var ids []int64
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 3, 4}, ids)
	assert.Equal(t, store.FullTextQuery{Terms: []string{"变压器"}, Prefix: true}, st.fullTextQ)
}

func TestFullTextStrategy_LongCJKNotFiltered(t *testing.T) {
	st := &fakeStore{fullText: []store.Record{{ID: 2, Content: "unrelated"}}}
	s := &FullTextStrategy{Store: st}
	q, err := query.Normalize("变压器检修规程")
	require.NoError(t, err)

	recs, err := s.Search(context.Background(), q, 10)

	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestFuzzyStrategy(t *testing.T) {
	t.Run("pattern escapes wildcards", func(t *testing.T) {
		assert.Equal(t, `%a%\_%b%\%%\\%`, FuzzyPattern(`a_b%\`))
		assert.Equal(t, "%变%压%器%", FuzzyPattern("变压器"))
	})

	t.Run("length bounds", func(t *testing.T) {
		s := &FuzzyStrategy{MinRunes: DefaultFuzzyMinRunes, MaxRunes: DefaultFuzzyMaxRunes}
		cases := []struct {
			raw  string
			want bool
		}{
			{"ab", false},
			{"abc", true},
			{"a b c", true},
			{"abcdefghijkl", true},
			{"abcdefghijklm", false},
			{"变压器", true},
		}
		for _, tc := range cases {
			raw, want := tc.raw, tc.want
			q, err := query.Normalize(raw)
			require.NoError(t, err)
			assert.Equal(t, want, s.Applies(q), raw)
		}
	})

	t.Run("runs last", func(t *testing.T) {
		st := &fakeStore{fuzzy: []store.Record{{ID: 5, Content: "pxuxmxp"}}}
		e := newExecutor(t, st)

		resp, err := e.Search(context.Background(), "pump", SearchOptions{})

		require.NoError(t, err)
		assert.Equal(t, TierFuzzy, resp.Tier)
		assert.Equal(t, []string{"fulltext", "like", "fuzzy"}, st.calls)
		assert.Equal(t, "%p%u%m%p%", st.fuzzyPattern)
	})

	t.Run("custom bounds", func(t *testing.T) {
		st := &fakeStore{}
		e := newExecutor(t, st, WithFuzzyBounds(5, 6))

		_, err := e.Search(context.Background(), "pump", SearchOptions{})

		require.NoError(t, err)
		assert.NotContains(t, st.calls, "fuzzy")
	})
}

func TestApplyFilters_NoFilters(t *testing.T) {
	hits := []Hit{{Tier: TierLike}}
	assert.Equal(t, hits, ApplyFilters(hits, SearchOptions{}))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, normalizeLimit(0))
	assert.Equal(t, MaxLimit, normalizeLimit(MaxLimit+1))
	assert.Equal(t, 5, normalizeLimit(5))
}
