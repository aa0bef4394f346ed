package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/telemetry"
)

// tierOrder lists search tiers in cascade order for display.
var tierOrder = []string{"cjk_exact", "fulltext", "like", "fuzzy", telemetry.TierNone}

// StatsInfo is what `amankb stats` reports.
type StatsInfo struct {
	DataDir          string                          `json:"data_dir"`
	DatabaseSize     int64                           `json:"database_size"`
	Store            *store.Stats                    `json:"store"`
	Sources          []store.SourceInfo              `json:"sources,omitempty"`
	IncompleteImport bool                            `json:"incomplete_import"`
	LastImport       time.Time                       `json:"last_import,omitempty"`
	Queries          *telemetry.QueryMetricsSnapshot `json:"queries,omitempty"`
}

// StatusRenderer displays store statistics.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render writes info as human-readable text.
func (r *StatusRenderer) Render(info StatsInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Knowledge base: "+info.DataDir))

	if info.Store != nil {
		_, _ = fmt.Fprintf(r.out, "  Records:     %d\n", info.Store.Records)
		_, _ = fmt.Fprintf(r.out, "  Searchable:  %d\n", info.Store.Searchable)
		_, _ = fmt.Fprintf(r.out, "  Sources:     %d\n", info.Store.Sources)
		_, _ = fmt.Fprintf(r.out, "  Full-text:   %s (%d docs)\n", info.Store.FullTextBackend, info.Store.FullTextDocs)
	}
	_, _ = fmt.Fprintf(r.out, "  Size:        %s\n", FormatBytes(info.DatabaseSize))
	if !info.LastImport.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last import: %s\n", formatTime(info.LastImport))
	}
	if info.IncompleteImport {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Warning.Render("An import was interrupted; run import again to finish it"))
	}

	if len(info.Sources) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Sources:")
		for _, s := range info.Sources {
			_, _ = fmt.Fprintf(r.out, "    %-40s %6d\n", s.Source, s.Records)
		}
	}

	if q := info.Queries; q != nil && q.TotalQueries > 0 {
		r.renderQueries(q)
	}
	return nil
}

func (r *StatusRenderer) renderQueries(q *telemetry.QueryMetricsSnapshot) {
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "  Queries since %s: %d (%.1f%% zero-result)\n",
		q.Since.Format("2006-01-02"), q.TotalQueries, q.ZeroResultPercentage())

	_, _ = fmt.Fprintln(r.out, "  Answered by:")
	for _, tier := range orderedTiers(q.TierCounts) {
		line := fmt.Sprintf("    %-10s %6d", tier, q.TierCounts[tier])
		if n := q.TierErrors[tier]; n > 0 {
			line += r.styles.Error.Render(fmt.Sprintf("  (%d errors)", n))
		}
		_, _ = fmt.Fprintln(r.out, line)
	}

	if len(q.TopTerms) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Top terms:")
		for _, t := range q.TopTerms {
			_, _ = fmt.Fprintf(r.out, "    %-20s %6d\n", t.Term, t.Count)
		}
	}

	if len(q.ZeroResultQueries) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Recent zero-result queries:")
		for _, z := range q.ZeroResultQueries {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Dim.Render(z))
		}
	}
}

// RenderJSON outputs stats as JSON.
func (r *StatusRenderer) RenderJSON(info StatsInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// orderedTiers returns the tiers present in counts, known tiers first in
// cascade order, then any others sorted.
func orderedTiers(counts map[string]int64) []string {
	var out []string
	known := make(map[string]bool, len(tierOrder))
	for _, t := range tierOrder {
		known[t] = true
		if _, ok := counts[t]; ok {
			out = append(out, t)
		}
	}
	var rest []string
	for t := range counts {
		if !known[t] {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// formatTime formats a time relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
