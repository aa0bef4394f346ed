package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/async"
	"github.com/Aman-CERP/amankb/internal/contentid"
	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/store"
)

// recordingStore is a store.Store that keeps copies of every batch.
type recordingStore struct {
	mu         sync.Mutex
	batches    [][]store.Record
	rows       map[int64]store.Record
	rebuilds   int
	failOnCall int
	calls      int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{rows: make(map[int64]store.Record)}
}

func (s *recordingStore) UpsertBatch(_ context.Context, records []store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOnCall > 0 && s.calls == s.failOnCall {
		return kberrors.StoreError("disk full", errors.New("write failed"))
	}
	batch := append([]store.Record(nil), records...)
	s.batches = append(s.batches, batch)
	for _, r := range batch {
		s.rows[r.ID] = r
	}
	return nil
}

func (s *recordingStore) RebuildFullTextIndex(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds++
	return nil
}

func (s *recordingStore) QueryFullText(context.Context, store.FullTextQuery, int) ([]store.Record, error) {
	return nil, nil
}

func (s *recordingStore) QueryLikeWhitespaceInsensitive(context.Context, string, int) ([]store.Record, error) {
	return nil, nil
}

func (s *recordingStore) QueryLikeFuzzy(context.Context, string, int) ([]store.Record, error) {
	return nil, nil
}

func (s *recordingStore) GetByID(_ context.Context, id int64) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *recordingStore) DeleteBySource(context.Context, string) (int, error)  { return 0, nil }
func (s *recordingStore) Sources(context.Context) ([]store.SourceInfo, error)  { return nil, nil }
func (s *recordingStore) Stats(context.Context) (*store.Stats, error)          { return &store.Stats{}, nil }
func (s *recordingStore) Close() error                                         { return nil }

func (s *recordingStore) all() []store.Record {
	var out []store.Record
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// events collects published progress in order.
type events struct {
	mu  sync.Mutex
	got []async.ImportProgress
}

func (e *events) publish(p async.ImportProgress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, p)
}

func (e *events) last() async.ImportProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.got[len(e.got)-1]
}

func run(t *testing.T, st store.Store, input string, opts Options) (Result, *events, error) {
	t.Helper()
	ev := &events{}
	opts.Publish = ev.publish
	res, err := New(st, opts).Run(context.Background(), strings.NewReader(input), Source{ID: "f1", Name: "f1.json"})
	return res, ev, err
}

// TS01: Single entry array import
func TestIngester_ScenarioA(t *testing.T) {
	// Given: a one-entry array export
	st := newRecordingStore()
	input := `[{"entryId":"e1","jobTitle":"Rule 11","contentMarkdown":"para","position":1}]`

	// When: importing it as source f1
	res, ev, err := run(t, st, input, DefaultOptions())

	// Then: one record with a stable nonzero id and default category
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, async.StatusImported, res.Status)
	assert.Equal(t, ShapeArray, res.Shape)

	recs := st.all()
	require.Len(t, recs, 1)
	r := recs[0]
	assert.NotZero(t, r.ID)
	assert.Equal(t, contentid.RecordID("f1", "e1", "Rule 11", 1), r.ID)
	assert.Equal(t, "Rule 11", r.Title)
	assert.Equal(t, "para", r.Content)
	assert.Contains(t, r.ContentNormalized, "para")
	assert.Equal(t, r.ContentNormalized, r.SearchContent)
	assert.Equal(t, store.UnassignedCategory, r.Category)
	assert.Equal(t, "f1", r.Source)

	// And: the index is rebuilt exactly once and the terminal event is imported
	assert.Equal(t, 1, st.rebuilds)
	assert.Equal(t, async.StatusImported, ev.last().Status)
	assert.Equal(t, 100, ev.last().Percent)
}

// TS02: Duplicate entries within one run
func TestIngester_ScenarioE_DuplicatesSkipped(t *testing.T) {
	// Given: two elements with identical (entryId, title, position)
	st := newRecordingStore()
	input := `[
		{"entryId":"e1","jobTitle":"Rule 11","contentMarkdown":"first","position":1},
		{"entryId":"e1","jobTitle":"Rule 11","contentMarkdown":"second","position":1}
	]`

	// When: importing
	res, _, err := run(t, st, input, DefaultOptions())

	// Then: the second is skipped and a single batch was written
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, int64(1), res.Imported)
	require.Len(t, st.all(), 1)
	assert.Equal(t, "first", st.all()[0].Content)
}

func TestIngester_ReimportProducesSameIDs(t *testing.T) {
	// Given: a real store and an export with several entries
	st, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 25; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"entryId":"e%d","jobTitle":"Rule %d","contentMarkdown":"clause %d text","position":%d}`, i, i, i, i)
	}
	sb.WriteString("]")
	input := sb.String()

	opts := DefaultOptions()
	opts.BatchSize = 10

	// When: importing the same input twice
	ctx := context.Background()
	_, err = New(st, opts).Run(ctx, strings.NewReader(input), Source{ID: "f1", Name: "f1.json"})
	require.NoError(t, err)
	before, err := st.Stats(ctx)
	require.NoError(t, err)

	_, err = New(st, opts).Run(ctx, strings.NewReader(input), Source{ID: "f1", Name: "f1.json"})
	require.NoError(t, err)
	after, err := st.Stats(ctx)
	require.NoError(t, err)

	// Then: no duplicate rows appear
	assert.Equal(t, 25, before.Records)
	assert.Equal(t, before.Records, after.Records)

	rec, err := st.GetByID(ctx, contentid.RecordID("f1", "e7", "Rule 7", 7))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "clause 7 text", rec.Content)

	hits, err := st.QueryFullText(ctx, store.FullTextQuery{Terms: []string{"clause", "7"}, Prefix: false}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestIngester_Batching(t *testing.T) {
	// Given: 25 entries and a batch size of 10
	st := newRecordingStore()
	var sb strings.Builder
	sb.WriteString(`{"entries":[`)
	for i := 0; i < 25; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"entryId":"e%d","contentMarkdown":"x"}`, i)
	}
	sb.WriteString("]}")

	opts := DefaultOptions()
	opts.BatchSize = 10

	// When: importing
	res, ev, err := run(t, st, sb.String(), opts)

	// Then: three batches of 10, 10, 5 and one rebuild
	require.NoError(t, err)
	assert.Equal(t, ShapeObjectWithEntries, res.Shape)
	require.Len(t, st.batches, 3)
	assert.Len(t, st.batches[0], 10)
	assert.Len(t, st.batches[2], 5)
	assert.Equal(t, 1, st.rebuilds)

	// And: progress knows the total for object roots
	var percents []int
	for i, p := range ev.got {
		if i > 0 {
			require.NotNil(t, p.TotalItems)
			assert.Equal(t, int64(25), *p.TotalItems)
		}
		percents = append(percents, p.Percent)
	}
	assert.Equal(t, []int{0, 40, 80, 100, 100}, percents)
	assert.True(t, sort.IntsAreSorted(percents))
}

func TestIngester_BuildersReturnToPool(t *testing.T) {
	st := newRecordingStore()
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 300; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"entryId":"e%d","contentMarkdown":"x"}`, i)
	}
	sb.WriteString("]")

	opts := DefaultOptions()
	opts.BatchSize = 50
	in := New(st, opts)
	_, err := in.Run(context.Background(), strings.NewReader(sb.String()), Source{ID: "f1"})
	require.NoError(t, err)

	// Builders are recycled per batch, so only one batch worth is ever allocated
	assert.Equal(t, 50, in.Pool().Allocated())
	assert.Equal(t, 50, in.Pool().Idle())
}

func TestIngester_FileMetadataShape(t *testing.T) {
	st := newRecordingStore()
	input := `{"fileMetadata":{"fileName":"rules.docx","category":"safety"},"entries":[
		{"entryId":"e1","unitName":"Unit A","contentMarkdown":"a"},
		{"entryId":"e2","unitName":"Unit B","contentMarkdown":"b","category":"ops"}
	]}`

	res, _, err := run(t, st, input, DefaultOptions())

	require.NoError(t, err)
	assert.Equal(t, ShapeObjectWithFileMetadata, res.Shape)
	recs := st.all()
	require.Len(t, recs, 2)
	assert.Equal(t, "Unit A", recs[0].Title)
	assert.Equal(t, "safety", recs[0].Category)
	assert.Equal(t, "ops", recs[1].Category)
	assert.Equal(t, contentid.RecordID("f1", "e1", "Unit A", 0), recs[0].ID, "position falls back to element index")
}

func TestIngester_ManifestSkipped(t *testing.T) {
	tests := []struct {
		name  string
		input string
		src   Source
	}{
		{"reserved file name", `[{"entryId":"e1"}]`, Source{ID: "manifest.json", Name: "exports/manifest.json"}},
		{"metadata index id", `[{"entryId":"e1"}]`, Source{ID: "metadata_index", Name: "metadata_index.json"}},
		{"manifest object root", `{"files":["a.json"],"version":2}`, Source{ID: "m", Name: "m.json"}},
		{"manifest first element", `[{"fileName":"manifest.json","files":[]},{"entryId":"e1"}]`, Source{ID: "m", Name: "m.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newRecordingStore()
			ev := &events{}
			opts := DefaultOptions()
			opts.Publish = ev.publish

			res, err := New(st, opts).Run(context.Background(), strings.NewReader(tt.input), tt.src)

			require.NoError(t, err)
			assert.Equal(t, async.StatusSkipped, res.Status)
			assert.Empty(t, st.batches)
			assert.Equal(t, 0, st.rebuilds)
			assert.Equal(t, async.StatusSkipped, ev.last().Status)
		})
	}
}

func TestIngester_SchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"scalar root", `"hello"`},
		{"number root", `42`},
		{"empty input", "   \n"},
		{"object without entries", `{"title":"x"}`},
		{"entries not array", `{"entries":{"a":1}}`},
		{"truncated array", `[{"entryId":"e1"},`},
		{"broken syntax", `[{"entryId":}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newRecordingStore()
			res, ev, err := run(t, st, tt.input, DefaultOptions())

			require.Error(t, err)
			assert.Equal(t, kberrors.ErrCodeSchemaUnsupported, kberrors.GetCode(err))
			assert.Equal(t, StateFailed, res.State)
			last := ev.last()
			assert.Equal(t, async.StatusFailed, last.Status)
			require.NotNil(t, last.Message)
			assert.LessOrEqual(t, len([]rune(*last.Message)), kberrors.MaxMessageRunes)
		})
	}
}

func TestIngester_BOMAccepted(t *testing.T) {
	st := newRecordingStore()
	res, _, err := run(t, st, "\uFEFF"+`[{"entryId":"e1","contentMarkdown":"x"}]`, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Imported)
}

// TS03: Malformed elements are skipped
func TestIngester_MalformedElementsPartialFailure(t *testing.T) {
	// Given: an export with one wrong-typed field and one non-object element
	st := newRecordingStore()
	input := `[
		{"entryId":"e1","contentMarkdown":"ok"},
		{"entryId":"e2","jobTitle":{"nested":true}},
		"stray string",
		{"entryId":"e3","position":"abc"},
		{"entryId":"e4","contentMarkdown":"ok too"}
	]`

	// When: importing
	res, ev, err := run(t, st, input, DefaultOptions())

	// Then: the run completes with partial_failure and keeps the good entries
	require.NoError(t, err)
	assert.Equal(t, 3, res.Malformed)
	assert.Equal(t, int64(2), res.Imported)
	assert.Equal(t, async.StatusPartialFailure, res.Status)
	assert.Equal(t, async.StatusPartialFailure, ev.last().Status)
	assert.Equal(t, 1, st.rebuilds)
}

func TestIngester_StoreErrorFailsRun(t *testing.T) {
	// Given: a store that fails on the second batch
	st := newRecordingStore()
	st.failOnCall = 2
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 5; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"entryId":"e%d","contentMarkdown":"x"}`, i)
	}
	sb.WriteString("]")
	opts := DefaultOptions()
	opts.BatchSize = 2

	// When: importing
	res, ev, err := run(t, st, sb.String(), opts)

	// Then: the run fails, the first batch stays committed
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeStoreWrite, kberrors.GetCode(err))
	assert.Equal(t, async.StatusFailed, ev.last().Status)
	assert.Equal(t, 1, res.Batches)
	assert.Len(t, st.all(), 2)
}

func TestIngester_CancelledBetweenBatches(t *testing.T) {
	// Given: a context cancelled by the first progress tick after a flush
	st := newRecordingStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 10; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"entryId":"e%d","contentMarkdown":"x"}`, i)
	}
	sb.WriteString("]")

	ev := &events{}
	opts := DefaultOptions()
	opts.BatchSize = 3
	opts.Publish = func(p async.ImportProgress) {
		ev.publish(p)
		if p.ImportedItems > 0 {
			cancel()
		}
	}

	// When: importing
	res, err := New(st, opts).Run(ctx, strings.NewReader(sb.String()), Source{ID: "f1"})

	// Then: exactly one whole batch was committed and the run failed
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Batches)
	assert.Len(t, st.all(), 3)
	last := ev.last()
	assert.Equal(t, async.StatusFailed, last.Status)
	require.NotNil(t, last.Message)
	assert.Equal(t, "import cancelled", *last.Message)

	// And: committed rows were still made searchable
	assert.Equal(t, 1, st.rebuilds)
}

func TestIngester_SearchKeySources(t *testing.T) {
	st := newRecordingStore()
	input := `[
		{"entryId":"b","contentMarkdown":"markdown text","blocks":[{"type":"text","text":"Block One"},{"type":"image","imageUri":"a.png"},{"type":"text","text":"Block Two"}]},
		{"entryId":"n","contentMarkdown":"markdown text","contentNormalized":"Normalized Text"},
		{"entryId":"m","contentMarkdown":"**Markdown** text"}
	]`

	_, _, err := run(t, st, input, DefaultOptions())
	require.NoError(t, err)

	recs := st.all()
	require.Len(t, recs, 3)
	assert.Equal(t, "block one a png block two", recs[0].SearchContent)
	require.NotNil(t, recs[0].ContentBlocksJSON)
	require.NotNil(t, recs[0].ImageURIs)
	assert.JSONEq(t, `["a.png"]`, *recs[0].ImageURIs)
	assert.Equal(t, "normalized text", recs[1].SearchContent)
	assert.Equal(t, "markdown text", recs[2].SearchContent)
}

func TestIngester_TablesRepairedAtIngestion(t *testing.T) {
	st := newRecordingStore()
	input := `[{"entryId":"t","contentMarkdown":"|A|B|C|\n|---|---|---|\n|x||z|\n|||  |"}]`

	_, _, err := run(t, st, input, DefaultOptions())
	require.NoError(t, err)

	recs := st.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "| A | C |\n|---|---|\n| x | z |", recs[0].Content)
}

func TestIngester_SuppressionEmptiesSearchKey(t *testing.T) {
	st := newRecordingStore()
	input := `[
		{"entryId":"doc_img3","jobTitle":"Pump table","contentMarkdown":"pump data"},
		{"entryId":"e2","jobTitle":"图 3 泵站","contentMarkdown":"pump data"},
		{"entryId":"e3","jobTitle":"Pump","contentMarkdown":"pump data"}
	]`

	res, _, err := run(t, st, input, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Suppressed)

	recs := st.all()
	require.Len(t, recs, 3)
	assert.Empty(t, recs[0].SearchContent)
	assert.Empty(t, recs[1].SearchContent)
	assert.Equal(t, "pump data", recs[2].SearchContent)
	assert.Equal(t, "pump data", recs[0].Content, "content is kept for rendering")
}

func TestIngester_NilSuppressionRule(t *testing.T) {
	st := newRecordingStore()
	opts := DefaultOptions()
	opts.Suppression = nil

	_, _, err := run(t, st, `[{"entryId":"doc_img3","contentMarkdown":"pump"}]`, opts)
	require.NoError(t, err)
	assert.Equal(t, "pump", st.all()[0].SearchContent)
}

func TestIngester_RunOnceSharedAcrossRuns(t *testing.T) {
	once := &RunOnce{}
	opts := DefaultOptions()
	opts.Once = once

	dup := `[{"entryId":"e1","position":1},{"entryId":"e1","position":1}]`
	_, err := New(newRecordingStore(), opts).Run(context.Background(), strings.NewReader(dup), Source{ID: "a"})
	require.NoError(t, err)
	assert.True(t, once.duplicateLogged)

	fresh := &RunOnce{}
	opts.Once = fresh
	_, err = New(newRecordingStore(), opts).Run(context.Background(), strings.NewReader(`[{"entryId":"e1"}]`), Source{ID: "b"})
	require.NoError(t, err)
	assert.False(t, fresh.duplicateLogged)
}
