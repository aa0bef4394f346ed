// Package output formats search results and records for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Aman-CERP/amankb/internal/blocks"
	"github.com/Aman-CERP/amankb/internal/search"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/table"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✓", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("!", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("✗", msg)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// SearchResults prints a response as a numbered list.
func (w *Writer) SearchResults(resp *search.Response) {
	if resp.Rejected != nil {
		w.Warningf("query not searched: %v", resp.Rejected)
		return
	}
	for _, err := range resp.TierErrors {
		w.Warningf("%v", err)
	}
	if len(resp.Hits) == 0 {
		w.Statusf("", "No results for %q (%s)", resp.Query.Raw, resp.Duration.Round(time.Millisecond))
		return
	}

	_, _ = fmt.Fprintf(w.out, "%d results via %s in %s\n\n", len(resp.Hits), resp.Tier, resp.Duration.Round(time.Millisecond))
	for i, h := range resp.Hits {
		_, _ = fmt.Fprintf(w.out, "%d. [%d] %s\n", i+1, h.Record.ID, titleOf(h.Record))
		_, _ = fmt.Fprintf(w.out, "   %s", h.Record.Source)
		if h.Record.Category != "" && h.Record.Category != store.UnassignedCategory {
			_, _ = fmt.Fprintf(w.out, " · %s", h.Record.Category)
		}
		if h.Record.PageNumber != nil {
			_, _ = fmt.Fprintf(w.out, " · p.%d", *h.Record.PageNumber)
		}
		if h.FirstBlock >= 0 {
			_, _ = fmt.Fprintf(w.out, " · block %d", h.FirstBlock)
		}
		_, _ = fmt.Fprintln(w.out)
		if s := strings.TrimSpace(h.Snippet); s != "" {
			for _, line := range strings.Split(collapseBlankLines(s), "\n") {
				_, _ = fmt.Fprintf(w.out, "   > %s\n", line)
			}
		}
		_, _ = fmt.Fprintln(w.out)
	}
}

// SearchHitJSON is the machine-readable form of a hit.
type SearchHitJSON struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	Category   string `json:"category"`
	PageNumber *int   `json:"pageNumber,omitempty"`
	Tier       string `json:"tier"`
	Snippet    string `json:"snippet"`
	FirstBlock int    `json:"firstBlock"`
}

// SearchResponseJSON is the machine-readable form of a response.
type SearchResponseJSON struct {
	Query      string          `json:"query"`
	Normalized string          `json:"normalized"`
	Tier       string          `json:"tier,omitempty"`
	Rejected   string          `json:"rejected,omitempty"`
	TierErrors []string        `json:"tierErrors,omitempty"`
	DurationMS int64           `json:"durationMs"`
	Hits       []SearchHitJSON `json:"hits"`
}

// NewSearchResponseJSON converts a response.
func NewSearchResponseJSON(resp *search.Response) SearchResponseJSON {
	out := SearchResponseJSON{
		Query:      resp.Query.Raw,
		Normalized: resp.Query.Normalized,
		Tier:       resp.Tier,
		DurationMS: resp.Duration.Milliseconds(),
		Hits:       make([]SearchHitJSON, 0, len(resp.Hits)),
	}
	if resp.Rejected != nil {
		out.Rejected = resp.Rejected.Error()
	}
	for _, err := range resp.TierErrors {
		out.TierErrors = append(out.TierErrors, err.Error())
	}
	for _, h := range resp.Hits {
		out.Hits = append(out.Hits, SearchHitJSON{
			ID:         h.Record.ID,
			Title:      h.Record.Title,
			Source:     h.Record.Source,
			Category:   h.Record.Category,
			PageNumber: h.Record.PageNumber,
			Tier:       h.Tier,
			Snippet:    h.Snippet,
			FirstBlock: h.FirstBlock,
		})
	}
	return out
}

// JSON writes v indented.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// RecordOptions controls how a record is shown.
type RecordOptions struct {
	// Render un-fences table-only code blocks and flattens tables that
	// cannot be repaired, for display.
	Render bool

	// Blocks lists the record's blocks with their stable ids.
	Blocks bool

	// Hit marks the first block matching this query.
	Hit string
}

// Record prints one record.
func (w *Writer) Record(rec *store.Record, opts RecordOptions) error {
	_, _ = fmt.Fprintf(w.out, "# %s\n\n", titleOf(*rec))
	_, _ = fmt.Fprintf(w.out, "id:       %d\n", rec.ID)
	_, _ = fmt.Fprintf(w.out, "source:   %s\n", rec.Source)
	_, _ = fmt.Fprintf(w.out, "category: %s\n", rec.Category)
	if rec.PageNumber != nil {
		_, _ = fmt.Fprintf(w.out, "page:     %d\n", *rec.PageNumber)
	}
	if rec.Keywords != "" {
		_, _ = fmt.Fprintf(w.out, "keywords: %s\n", rec.Keywords)
	}
	if rec.SearchContent == "" {
		_, _ = fmt.Fprintln(w.out, "search:   excluded")
	}
	_, _ = fmt.Fprintln(w.out)

	content := rec.Content
	if opts.Render {
		content = RenderContent(content)
	}
	_, _ = fmt.Fprintln(w.out, content)

	if !opts.Blocks && opts.Hit == "" {
		return nil
	}
	if rec.ContentBlocksJSON == nil {
		_, _ = fmt.Fprintln(w.out, "\n(no blocks)")
		return nil
	}

	bs, err := blocks.Parse([]byte(*rec.ContentBlocksJSON))
	if err != nil {
		return fmt.Errorf("failed to decode blocks of record %d: %w", rec.ID, err)
	}

	hit := -1
	if opts.Hit != "" {
		texts := make([]string, len(bs))
		for i, b := range bs {
			texts[i] = b.PlainText
		}
		hit = blocks.FirstMatch(texts, opts.Hit)
	}

	_, _ = fmt.Fprintf(w.out, "\n## Blocks (%d)\n\n", len(bs))
	for i, b := range bs {
		if !opts.Blocks && i != hit {
			continue
		}
		marker := "  "
		if i == hit {
			marker = "▶ "
		}
		_, _ = fmt.Fprintf(w.out, "%s%3d %-7s %s  %s\n", marker, i, b.Kind, b.ID, oneLine(b.PlainText, 80))
	}
	if opts.Hit != "" && hit < 0 {
		_, _ = fmt.Fprintf(w.out, "no block matches %q\n", opts.Hit)
	}
	return nil
}

// RenderContent prepares stored markdown for display.
func RenderContent(content string) string {
	return table.Normalize(table.UnfenceTables(content), table.PolicyFlatten)
}

func titleOf(r store.Record) string {
	if strings.TrimSpace(r.Title) == "" {
		return "(untitled)"
	}
	return r.Title
}

// oneLine collapses whitespace and truncates to max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
