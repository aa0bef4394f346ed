package ui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/async"
)

func TestNewTUIRenderer_RejectsNonTTY(t *testing.T) {
	r, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))

	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestImportModel_Waiting(t *testing.T) {
	m := newImportModel("exports")
	m.styles = NoColorStyles()

	view := m.View()

	assert.Contains(t, view, "amankb import • exports")
	assert.Contains(t, view, "waiting for files")
}

func TestImportModel_RendersJobs(t *testing.T) {
	// Given: a model that received a snapshot
	m := newImportModel("")
	m.styles = NoColorStyles()
	_, _ = m.Update(jobsMsg{
		job("manual", async.StatusInProgress, 40, total(100)),
		job("guide", async.StatusFailed, 1, nil),
	})

	// When: rendering
	view := m.View()

	// Then: each job shows its progress and status
	assert.Contains(t, view, "manual.json")
	assert.Contains(t, view, " 40%")
	assert.Contains(t, view, "40/100")
	assert.Contains(t, view, "failed")
}

func TestImportModel_CompleteQuits(t *testing.T) {
	m := newImportModel("")
	m.styles = NoColorStyles()

	_, cmd := m.Update(completeMsg(Summary{Jobs: 2, Items: 9, Duration: time.Second}))

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	view := m.View()
	assert.Contains(t, view, "Import complete")
	assert.Contains(t, view, "9")
}

func TestImportModel_QuitKey(t *testing.T) {
	m := newImportModel("")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	require.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestVisibleJobs_KeepsRunning(t *testing.T) {
	jobs := []async.ImportProgress{
		job("a", async.StatusImported, 1, nil),
		job("b", async.StatusInProgress, 1, nil),
		job("c", async.StatusImported, 1, nil),
		job("d", async.StatusImported, 1, nil),
	}

	got := visibleJobs(jobs, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SourceID)
	assert.Equal(t, "d", got[1].SourceID)
}

func TestTruncateName(t *testing.T) {
	assert.Equal(t, "short.json", truncateName("short.json", 20))
	assert.Equal(t, "…手册.json", truncateName("产品使用手册.json", 8))
}
