package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/query"
	"github.com/Aman-CERP/amankb/internal/search"
	"github.com/Aman-CERP/amankb/internal/store"
)

func strPtr(s string) *string { return &s }

func sampleResponse() *search.Response {
	page := 3
	return &search.Response{
		Query: query.Query{Raw: "断路器", Normalized: "断路器"},
		Tier:  search.TierCJKExact,
		Hits: []search.Hit{{
			Record: store.Record{
				ID: 42, Title: "维护手册", Source: "manual.json",
				Category: "electrical", PageNumber: &page,
			},
			Tier:       search.TierCJKExact,
			Snippet:    "…检查断路器状态\n\n后续步骤…",
			FirstBlock: 1,
		}},
		Duration: 3 * time.Millisecond,
	}
}

func TestWriter_StatusHelpers(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("imported")
	w.Warningf("%d skipped", 2)
	w.Error("failed")
	w.Status("", "indented")

	assert.Equal(t, "✓ imported\n! 2 skipped\n✗ failed\n   indented\n", buf.String())
}

func TestSearchResults_Hits(t *testing.T) {
	// Given: a response with one CJK hit
	buf := &bytes.Buffer{}

	// When: printing it
	New(buf).SearchResults(sampleResponse())

	// Then: tier, location and snippet lines are shown
	out := buf.String()
	assert.Contains(t, out, "1 results via cjk_exact in 3ms")
	assert.Contains(t, out, "1. [42] 维护手册")
	assert.Contains(t, out, "manual.json · electrical · p.3 · block 1")
	assert.Contains(t, out, "   > …检查断路器状态\n   > 后续步骤…")
}

func TestSearchResults_EmptyAndRejected(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.SearchResults(&search.Response{Query: query.Query{Raw: "xyzzy"}})
	w.SearchResults(&search.Response{Rejected: query.ErrQueryTooShort})

	out := buf.String()
	assert.Contains(t, out, `No results for "xyzzy"`)
	assert.Contains(t, out, "query not searched")
}

func TestSearchResults_TierErrorsWarned(t *testing.T) {
	buf := &bytes.Buffer{}
	resp := sampleResponse()
	resp.TierErrors = []error{errors.New("fulltext: index busy")}

	New(buf).SearchResults(resp)

	assert.Contains(t, buf.String(), "! fulltext: index busy")
}

func TestNewSearchResponseJSON(t *testing.T) {
	// Given: a response converted for --json
	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).JSON(NewSearchResponseJSON(sampleResponse())))

	// Then: it decodes with hits flattened and CJK unescaped
	var decoded SearchResponseJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "cjk_exact", decoded.Tier)
	require.Len(t, decoded.Hits, 1)
	assert.Equal(t, int64(42), decoded.Hits[0].ID)
	assert.Equal(t, 1, decoded.Hits[0].FirstBlock)
	assert.Contains(t, buf.String(), "维护手册")

	rejected := NewSearchResponseJSON(&search.Response{Rejected: query.ErrEmptyQuery})
	assert.NotEmpty(t, rejected.Rejected)
	assert.NotNil(t, rejected.Hits)
}

func TestRecord_RenderAndBlocks(t *testing.T) {
	// Given: a record with a fenced table and three blocks
	rec := &store.Record{
		ID:      7,
		Title:   "Wiring",
		Source:  "guide.json",
		Content: "Intro\n```\n| a | b |\n|---|---|\n| 1 | 2 |\n```",
		ContentBlocksJSON: strPtr(`[
			{"type":"text","text":"Intro"},
			{"type":"text","text":"Check the breaker"},
			{"type":"image","uri":"img/1.png"}
		]`),
		Category:      "unassigned",
		SearchContent: "intro",
	}
	buf := &bytes.Buffer{}

	// When: showing it rendered with blocks and a hit
	err := New(buf).Record(rec, RecordOptions{Render: true, Blocks: true, Hit: "breaker"})

	// Then: the table is unfenced and the matching block is marked
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "# Wiring")
	assert.NotContains(t, out, "```")
	assert.Contains(t, out, "| a | b |")
	assert.Contains(t, out, "## Blocks (3)")
	assert.Contains(t, out, "▶   1 text")
	assert.Contains(t, out, "Check the breaker")
}

func TestRecord_HitOnlyShowsMatchingBlock(t *testing.T) {
	rec := &store.Record{
		ID:                1,
		ContentBlocksJSON: strPtr(`[{"text":"alpha"},{"text":"beta"}]`),
	}
	buf := &bytes.Buffer{}

	require.NoError(t, New(buf).Record(rec, RecordOptions{Hit: "beta"}))

	out := buf.String()
	assert.Contains(t, out, "(untitled)")
	assert.Contains(t, out, "search:   excluded")
	assert.Contains(t, out, "▶   1")
	assert.NotContains(t, out, "alpha  ")
}

func TestRecord_NoBlocks(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, New(buf).Record(&store.Record{ID: 1, Title: "t"}, RecordOptions{Blocks: true}))

	assert.Contains(t, buf.String(), "(no blocks)")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\t c", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}
