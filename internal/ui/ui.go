// Package ui renders import progress and store statistics in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/amankb/internal/async"
)

// Summary is the outcome of an import run across all of its jobs.
type Summary struct {
	Jobs     int
	Imported int
	Partial  int
	Skipped  int
	Failed   int
	Items    int64
	Duration time.Duration
	// Failures maps source names to their failure message.
	Failures map[string]string
}

// Summarize folds the terminal snapshot of a board into a Summary.
func Summarize(jobs []async.ImportProgress, elapsed time.Duration) Summary {
	s := Summary{Jobs: len(jobs), Duration: elapsed}
	for _, j := range jobs {
		s.Items += j.ImportedItems
		switch j.Status {
		case async.StatusImported:
			s.Imported++
		case async.StatusPartialFailure:
			s.Partial++
		case async.StatusSkipped:
			s.Skipped++
		case async.StatusFailed:
			s.Failed++
			if s.Failures == nil {
				s.Failures = make(map[string]string)
			}
			msg := ""
			if j.Message != nil {
				msg = *j.Message
			}
			s.Failures[displayName(j)] = msg
		}
	}
	return s
}

// Renderer displays import progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Update receives the latest status of every job, ordered by source id.
	Update(jobs []async.ImportProgress)

	// Complete shows the run summary.
	Complete(summary Summary)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title is shown in the TUI header, usually the import root.
	Title string
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the TUI header title.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for CI, pipes or --plain.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// Watch feeds board snapshots to r every interval until every job is
// terminal or ctx is done. The final snapshot is always delivered.
func Watch(ctx context.Context, board *async.Board, r Renderer, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.Update(board.Snapshot())
		if board.Done() {
			return
		}
		select {
		case <-ctx.Done():
			r.Update(board.Snapshot())
			return
		case <-ticker.C:
		}
	}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

func displayName(p async.ImportProgress) string {
	if p.SourceName != "" {
		return p.SourceName
	}
	return p.SourceID
}

// statusIcon is the short status tag used by the plain renderer.
func statusIcon(s async.ImportStatus) string {
	switch s {
	case async.StatusInProgress:
		return "IMPORT"
	case async.StatusImported:
		return "DONE"
	case async.StatusPartialFailure:
		return "PARTIAL"
	case async.StatusSkipped:
		return "SKIP"
	case async.StatusFailed:
		return "FAIL"
	default:
		return "WAIT"
	}
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(100 * time.Millisecond)
	if d < time.Minute {
		return d.String()
	}
	return d.Round(time.Second).String()
}
