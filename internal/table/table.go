// Package table repairs pipe-delimited markdown tables produced by lossy
// document conversion.
//
// Merged cells in the source documents show up as columns that are empty in
// every row, and OCR noise produces ragged row widths. Normalize drops the
// empty columns and rows, pads ragged rows and rebuilds the separator.
// Tables that remain pathological are degraded according to a DegradePolicy.
package table

import (
	"regexp"
	"strings"
)

// DegradePolicy selects what happens to a table that cannot be repaired into
// something a markdown renderer handles well.
type DegradePolicy int

const (
	// PolicyFence wraps the original table in a fenced code block.
	// Used at ingestion time.
	PolicyFence DegradePolicy = iota
	// PolicyFlatten emits the table rows as tab-joined plain text.
	// Used at render time so inline images stay visible.
	PolicyFlatten
)

// String returns the config name of the policy.
func (p DegradePolicy) String() string {
	if p == PolicyFlatten {
		return "flatten"
	}
	return "fence"
}

// ParsePolicy maps a config name to a policy. Unknown names fall back to
// PolicyFence.
func ParsePolicy(name string) DegradePolicy {
	if strings.EqualFold(strings.TrimSpace(name), "flatten") {
		return PolicyFlatten
	}
	return PolicyFence
}

// Limits outside of which a repaired table is degraded.
const (
	MinColumns = 2
	MaxColumns = 60
	// MinRows counts header and separator, so a table needs one data row.
	MinRows = 3
)

const defaultAlignment = "---"

var alignmentToken = regexp.MustCompile(`^:?-{3,}:?$`)

// Normalize repairs every pipe table in markdown. Text outside tables and
// inside fenced code blocks is returned unchanged.
func Normalize(markdown string, policy DegradePolicy) string {
	if !strings.Contains(markdown, "|") {
		return markdown
	}

	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))
	fence := ""

	for i := 0; i < len(lines); {
		line := lines[i]

		if fence != "" {
			out = append(out, line)
			if isFenceClose(line, fence) {
				fence = ""
			}
			i++
			continue
		}
		if marker, ok := fenceOpen(line); ok {
			fence = marker
			out = append(out, line)
			i++
			continue
		}
		if !IsTableLine(line) {
			out = append(out, line)
			i++
			continue
		}

		end := i
		for end < len(lines) && IsTableLine(lines[end]) {
			end++
		}
		out = append(out, repairBlock(lines[i:end], policy)...)
		i = end
	}

	return strings.Join(out, "\n")
}

// IsTableLine reports whether line looks like a pipe-table row: it starts
// with a pipe and contains at least two of them.
func IsTableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2
}

// SplitRow splits a table row into trimmed cells. Trailing empty cells are
// kept so column positions stay aligned across rows.
func SplitRow(line string) []string {
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, "|")
	if strings.HasSuffix(s, "|") && !strings.HasSuffix(s, `\|`) {
		s = s[:len(s)-1]
	}

	var cells []string
	var cell strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cell.WriteRune(r)
			escaped = false
		case r == '\\':
			cell.WriteRune(r)
			escaped = true
		case r == '|':
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
		default:
			cell.WriteRune(r)
		}
	}
	return append(cells, strings.TrimSpace(cell.String()))
}

// isSeparatorRow reports whether cells form a GFM separator row. Empty cells
// are tolerated as long as at least one alignment token is present.
func isSeparatorRow(cells []string) bool {
	found := false
	for _, c := range cells {
		if c == "" {
			continue
		}
		if !alignmentToken.MatchString(c) {
			return false
		}
		found = true
	}
	return found
}

func repairBlock(block []string, policy DegradePolicy) []string {
	rows := make([][]string, len(block))
	for i, line := range block {
		rows[i] = SplitRow(line)
	}

	sep := -1
	for i := 1; i < len(rows); i++ {
		if isSeparatorRow(rows[i]) {
			sep = i
			break
		}
	}
	if sep < 0 {
		return block
	}

	maxCols := 0
	for _, r := range rows {
		if len(r) > maxCols {
			maxCols = len(r)
		}
	}
	for i, r := range rows {
		for len(r) < maxCols {
			r = append(r, "")
		}
		rows[i] = r
	}

	// A column survives only if some data row fills it; headers of merged
	// cells carry a label even when the column below is empty.
	keep := make([]int, 0, maxCols)
	for c := 0; c < maxCols; c++ {
		for _, r := range rows[sep+1:] {
			if r[c] != "" {
				keep = append(keep, c)
				break
			}
		}
	}

	project := func(r []string) []string {
		cells := make([]string, len(keep))
		for j, c := range keep {
			cells[j] = r[c]
		}
		return cells
	}

	header := make([][]string, 0, sep)
	for _, r := range rows[:sep] {
		header = append(header, project(r))
	}
	data := make([][]string, 0, len(rows)-sep-1)
	for _, r := range rows[sep+1:] {
		cells := project(r)
		if !allEmpty(cells) {
			data = append(data, cells)
		}
	}

	if len(keep) < MinColumns || len(keep) > MaxColumns || len(header)+1+len(data) < MinRows {
		return degrade(block, header, data, policy)
	}

	align := make([]string, len(keep))
	for j, c := range keep {
		token := rows[sep][c]
		if !alignmentToken.MatchString(token) {
			token = defaultAlignment
		}
		align[j] = token
	}

	out := make([]string, 0, len(header)+1+len(data))
	for _, r := range header {
		out = append(out, formatRow(r))
	}
	out = append(out, "|"+strings.Join(align, "|")+"|")
	for _, r := range data {
		out = append(out, formatRow(r))
	}
	return out
}

func degrade(original []string, header, data [][]string, policy DegradePolicy) []string {
	if policy == PolicyFence {
		out := make([]string, 0, len(original)+2)
		out = append(out, "```")
		out = append(out, original...)
		return append(out, "```")
	}

	var out []string
	for _, r := range append(header, data...) {
		cells := make([]string, 0, len(r))
		for _, c := range r {
			if c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) > 0 {
			out = append(out, strings.Join(cells, "\t"))
		}
	}
	return out
}

func formatRow(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |"
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

// fenceOpen reports whether line opens a fenced code block and returns the
// fence marker.
func fenceOpen(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, marker := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, marker) {
			n := len(trimmed) - len(strings.TrimLeft(trimmed, marker[:1]))
			return strings.Repeat(marker[:1], n), true
		}
	}
	return "", false
}

func isFenceClose(line, marker string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, marker) && strings.Trim(trimmed, marker[:1]) == ""
}

// UnfenceTables removes the fence around code blocks whose body consists only
// of table rows. Blocks with any other line are real code and stay fenced.
func UnfenceTables(markdown string) string {
	if !strings.Contains(markdown, "```") && !strings.Contains(markdown, "~~~") {
		return markdown
	}

	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))

	for i := 0; i < len(lines); {
		marker, ok := fenceOpen(lines[i])
		if !ok {
			out = append(out, lines[i])
			i++
			continue
		}

		end := -1
		for j := i + 1; j < len(lines); j++ {
			if isFenceClose(lines[j], marker) {
				end = j
				break
			}
		}
		if end < 0 {
			out = append(out, lines[i:]...)
			break
		}

		body := trimBlankEdges(lines[i+1 : end])
		if isTableBody(body) {
			out = append(out, body...)
		} else {
			out = append(out, lines[i:end+1]...)
		}
		i = end + 1
	}

	return strings.Join(out, "\n")
}

func isTableBody(body []string) bool {
	if len(body) == 0 {
		return false
	}
	for _, line := range body {
		if !IsTableLine(line) {
			return false
		}
	}
	return true
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
