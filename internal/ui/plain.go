package ui

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/Aman-CERP/amankb/internal/async"
)

// percentStep is the progress granularity printed for in-progress jobs.
const percentStep = 10

// PlainRenderer prints one line per job state change (for CI/pipes).
type PlainRenderer struct {
	mu   sync.Mutex
	out  io.Writer
	seen map[string]printed
}

type printed struct {
	status async.ImportStatus
	step   int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:  cfg.Output,
		seen: make(map[string]printed),
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// Update implements Renderer. A job is printed when its status changes or
// its percentage crosses the next step.
func (r *PlainRenderer) Update(jobs []async.ImportProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range jobs {
		cur := printed{status: j.Status, step: j.Percent / percentStep}
		prev, ok := r.seen[j.SourceID]
		if ok && prev == cur {
			continue
		}
		if ok && prev.status.IsTerminal() {
			continue
		}
		r.seen[j.SourceID] = cur
		r.printJob(j)
	}
}

func (r *PlainRenderer) printJob(j async.ImportProgress) {
	name := displayName(j)
	tag := statusIcon(j.Status)

	switch {
	case j.Status == async.StatusFailed, j.Status == async.StatusSkipped, j.Status == async.StatusPartialFailure:
		msg := ""
		if j.Message != nil {
			msg = " - " + *j.Message
		}
		_, _ = fmt.Fprintf(r.out, "[%s] %s: %d items%s\n", tag, name, j.ImportedItems, msg)
	case j.TotalItems != nil:
		_, _ = fmt.Fprintf(r.out, "[%s] %s: %d/%d (%d%%)\n", tag, name, j.ImportedItems, *j.TotalItems, j.Percent)
	default:
		_, _ = fmt.Fprintf(r.out, "[%s] %s: %d items\n", tag, name, j.ImportedItems)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d files, %d items imported in %s",
		s.Jobs, s.Items, formatDuration(s.Duration))
	if s.Partial > 0 || s.Skipped > 0 || s.Failed > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d partial, %d skipped, %d failed)", s.Partial, s.Skipped, s.Failed)
	}
	_, _ = fmt.Fprintln(r.out)

	names := make([]string, 0, len(s.Failures))
	for name := range s.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(r.out, "  FAIL %s: %s\n", name, s.Failures[name])
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
