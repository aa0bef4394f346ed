package table

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squash(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func TestSplitRow_KeepsTrailingEmptyCells(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"regular", "| a | b |", []string{"a", "b"}},
		{"empty middle", "|x||z|", []string{"x", "", "z"}},
		{"all empty", "|||  |", []string{"", "", ""}},
		{"trailing empty", "| a | | |", []string{"a", "", ""}},
		{"no closing pipe", "| a | b", []string{"a", "b"}},
		{"escaped pipe", `| a \| b | c |`, []string{`a \| b`, "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitRow(tt.line))
		})
	}
}

func TestIsTableLine(t *testing.T) {
	assert.True(t, IsTableLine("| a | b |"))
	assert.True(t, IsTableLine("  |a|"))
	assert.False(t, IsTableLine("| lone pipe"))
	assert.False(t, IsTableLine("a | b | c"))
	assert.False(t, IsTableLine(""))
}

func TestNormalize_WellFormedTableUnchanged(t *testing.T) {
	input := "| Name | Value |\n| --- | --- |\n| a | 1 |\n| b | 2 |"

	got := Normalize(input, PolicyFence)

	assert.Equal(t, squash(input), squash(got))
	assert.Len(t, strings.Split(got, "\n"), 4)
}

func TestNormalize_DropsEmptyColumnAndRow(t *testing.T) {
	// Given column B empty in every data row and an all-empty last row
	input := "|A|B|C|\n|---|---|---|\n|x||z|\n|||  |"

	// When normalized
	got := Normalize(input, PolicyFence)

	// Then only A and C survive with one data row
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "| A | C |", lines[0])
	assert.Equal(t, "|---|---|", lines[1])
	assert.Equal(t, "| x | z |", lines[2])
}

func TestNormalize_KeepsAlignmentTokens(t *testing.T) {
	input := "| a | | b |\n|:---|---|---:|\n| 1 | | 2 |"

	got := Normalize(input, PolicyFence)

	assert.Equal(t, "| a | b |\n|:---|---:|\n| 1 | 2 |", got)
}

func TestNormalize_EmptySeparatorCellDefaults(t *testing.T) {
	input := "| a | b |\n| --- | |\n| 1 | 2 |"

	got := Normalize(input, PolicyFence)

	assert.Equal(t, "| a | b |\n|---|---|\n| 1 | 2 |", got)
}

func TestNormalize_PadsRaggedRows(t *testing.T) {
	input := "| a | b | c |\n|---|---|---|\n| 1 | 2 |\n| 3 | 4 | 5 |"

	got := Normalize(input, PolicyFence)

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "| 1 | 2 |  |", lines[2])
	assert.Equal(t, "| 3 | 4 | 5 |", lines[3])
}

func TestNormalize_NoSeparatorIsVerbatim(t *testing.T) {
	input := "| not | a table |\n| just | pipes |"

	assert.Equal(t, input, Normalize(input, PolicyFence))
}

func TestNormalize_SurroundingTextPreserved(t *testing.T) {
	input := "intro\n\n|A|B|C|\n|---|---|---|\n|x||z|\n\noutro"

	got := Normalize(input, PolicyFence)

	assert.Equal(t, "intro\n\n| A | C |\n|---|---|\n| x | z |\n\noutro", got)
}

func TestNormalize_Degrade(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		policy DegradePolicy
		want   string
	}{
		{
			name:   "single column fenced",
			input:  "| a | |\n|---|---|\n| 1 | |",
			policy: PolicyFence,
			want:   "```\n| a | |\n|---|---|\n| 1 | |\n```",
		},
		{
			name:   "header only fenced",
			input:  "| a | b |\n|---|---|",
			policy: PolicyFence,
			want:   "```\n| a | b |\n|---|---|\n```",
		},
		{
			name:   "single column flattened",
			input:  "| a | |\n|---|---|\n| ![img](x.png) | |",
			policy: PolicyFlatten,
			want:   "a\n![img](x.png)",
		},
		{
			name:   "header only flattened",
			input:  "| a | b |\n|---|---|\n| | |",
			policy: PolicyFlatten,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input, tt.policy))
		})
	}
}

func TestNormalize_TooManyColumnsDegrades(t *testing.T) {
	cells := make([]string, MaxColumns+1)
	seps := make([]string, MaxColumns+1)
	for i := range cells {
		cells[i] = "c"
		seps[i] = "---"
	}
	row := "|" + strings.Join(cells, "|") + "|"
	input := row + "\n|" + strings.Join(seps, "|") + "|\n" + row

	got := Normalize(input, PolicyFence)

	assert.True(t, strings.HasPrefix(got, "```\n"))
	assert.True(t, strings.HasSuffix(got, "\n```"))
}

func TestNormalize_IgnoresFencedCode(t *testing.T) {
	input := "```\n|a||\n|---|---|\n```"

	assert.Equal(t, input, Normalize(input, PolicyFence))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"|A|B|C|\n|---|---|---|\n|x||z|\n|||  |",
		"| a | |\n|---|---|\n| 1 | |",
		"text only",
	}
	for _, in := range inputs {
		once := Normalize(in, PolicyFence)
		assert.Equal(t, once, Normalize(once, PolicyFence), "input %q", in)
	}
}

func TestUnfenceTables(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "fenced table is unfenced",
			input: "before\n```\n| a | b |\n|---|---|\n| 1 | 2 |\n```\nafter",
			want:  "before\n| a | b |\n|---|---|\n| 1 | 2 |\nafter",
		},
		{
			name:  "real code stays fenced",
			input: "```go\nfunc main() {}\n| a | b |\n```",
			want:  "```go\nfunc main() {}\n| a | b |\n```",
		},
		{
			name:  "blank edges ignored",
			input: "```\n\n| a | b |\n\n```",
			want:  "| a | b |",
		},
		{
			name:  "empty fence stays",
			input: "```\n```",
			want:  "```\n```",
		},
		{
			name:  "unclosed fence untouched",
			input: "```\n| a | b |",
			want:  "```\n| a | b |",
		},
		{
			name:  "no fence",
			input: "| a | b |",
			want:  "| a | b |",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnfenceTables(tt.input))
		})
	}
}

func TestUnfenceThenFlatten_RoundTripsIngestionFence(t *testing.T) {
	// Given a table fenced at ingestion time
	original := "| a | |\n|---|---|\n| 1 | |"
	stored := Normalize(original, PolicyFence)

	// When rendered
	rendered := Normalize(UnfenceTables(stored), PolicyFlatten)

	// Then the content shows as plain text
	assert.Equal(t, "a\n1", rendered)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicyFlatten, ParsePolicy("Flatten"))
	assert.Equal(t, PolicyFence, ParsePolicy("fence"))
	assert.Equal(t, PolicyFence, ParsePolicy("bogus"))
	assert.Equal(t, "flatten", PolicyFlatten.String())
}
