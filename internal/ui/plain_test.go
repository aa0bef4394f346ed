package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amankb/internal/async"
)

func TestPlainRenderer_PrintsStateChangesOnly(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: the same snapshot arrives twice, then a small step, then a 10% step
	r.Update([]async.ImportProgress{job("a", async.StatusInProgress, 10, total(100))})
	r.Update([]async.ImportProgress{job("a", async.StatusInProgress, 10, total(100))})
	r.Update([]async.ImportProgress{job("a", async.StatusInProgress, 15, total(100))})
	r.Update([]async.ImportProgress{job("a", async.StatusInProgress, 20, total(100))})

	// Then: only two lines are printed
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"[IMPORT] a.json: 10/100 (10%)",
		"[IMPORT] a.json: 20/100 (20%)",
	}, lines)
}

func TestPlainRenderer_TerminalStatuses(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Update([]async.ImportProgress{
		job("a", async.StatusImported, 3, total(3)),
		job("b", async.StatusFailed, 1, nil).WithMessage("entries[2]: malformed"),
		job("c", async.StatusInProgress, 7, nil),
	})

	out := buf.String()
	assert.Contains(t, out, "[DONE] a.json: 3/3 (100%)")
	assert.Contains(t, out, "[FAIL] b.json: 1 items - entries[2]: malformed")
	assert.Contains(t, out, "[IMPORT] c.json: 7 items")
	assert.NotContains(t, out, "\x1b[", "plain output must not contain ANSI codes")
}

func TestPlainRenderer_Complete(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(Summary{
		Jobs: 3, Imported: 1, Partial: 1, Failed: 1, Items: 42,
		Duration: 1500 * time.Millisecond,
		Failures: map[string]string{"bad.json": "unsupported document shape"},
	})

	out := buf.String()
	assert.Contains(t, out, "Complete: 3 files, 42 items imported in 1.5s (1 partial, 0 skipped, 1 failed)")
	assert.Contains(t, out, "FAIL bad.json: unsupported document shape")
}
