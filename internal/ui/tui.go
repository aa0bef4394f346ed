package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/amankb/internal/async"
)

// maxRows caps the job rows shown at once; finished jobs scroll off first.
const maxRows = 12

// TUIRenderer provides a live import panel using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *importModel
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Non-terminal outputs are rejected.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	model := newImportModel(cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(jobs []async.ImportProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(jobsMsg(jobs))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(s))
	}
}

// Stop implements Renderer. It waits briefly for the program to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

type jobsMsg []async.ImportProgress
type completeMsg Summary

// importModel is the bubbletea model of the import panel.
type importModel struct {
	title    string
	jobs     []async.ImportProgress
	width    int
	complete bool
	quitting bool
	summary  Summary
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newImportModel(title string) *importModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &importModel{
		title:   title,
		width:   80,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *importModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *importModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width / 3
		if m.bar.Width < 10 {
			m.bar.Width = 10
		}

	case jobsMsg:
		m.jobs = []async.ImportProgress(msg)

	case completeMsg:
		m.complete = true
		m.summary = Summary(msg)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *importModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	title := "amankb import"
	if m.title != "" {
		title += " • " + m.title
	}

	var lines []string
	lines = append(lines, m.styles.Header.Render(title))
	lines = append(lines, m.styles.Border.Render(strings.Repeat("─", m.lineWidth())))

	rows := visibleJobs(m.jobs, maxRows)
	for _, j := range rows {
		lines = append(lines, m.renderJob(j))
	}
	if hidden := len(m.jobs) - len(rows); hidden > 0 {
		lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("… %d finished", hidden)))
	}
	if len(m.jobs) == 0 {
		lines = append(lines, m.spinner.View()+" "+m.styles.Label.Render("waiting for files"))
	}

	lines = append(lines, m.styles.Dim.Render("q to quit"))
	return strings.Join(lines, "\n") + "\n"
}

func (m *importModel) lineWidth() int {
	if m.width < 40 {
		return 40
	}
	return m.width - 2
}

func (m *importModel) renderJob(j async.ImportProgress) string {
	name := truncateName(displayName(j), 28)
	status := string(j.Status)

	var icon string
	switch {
	case j.Status == async.StatusInProgress || j.Status == "":
		icon = m.spinner.View()
	case j.Status == async.StatusImported:
		icon = m.styles.Success.Render("✓")
	case j.Status == async.StatusFailed:
		icon = m.styles.Error.Render("✗")
	default:
		icon = m.styles.Warning.Render("!")
	}

	count := fmt.Sprintf("%d", j.ImportedItems)
	if j.TotalItems != nil {
		count = fmt.Sprintf("%d/%d", j.ImportedItems, *j.TotalItems)
	}

	return fmt.Sprintf("%s %-28s %s %3d%%  %s  %s",
		icon,
		name,
		m.bar.ViewAs(float64(j.Percent)/100),
		j.Percent,
		m.styles.Label.Render(count),
		m.styles.statusStyle(status).Render(status),
	)
}

func (m *importModel) renderComplete() string {
	s := m.summary

	header := m.styles.Success.Render("✓ Import complete")
	if s.Failed > 0 {
		header = m.styles.Error.Render(fmt.Sprintf("✗ Import finished with %d failed", s.Failed))
	}

	lines := []string{
		header,
		"",
		fmt.Sprintf("%s %s", m.styles.Label.Render("Files:   "), m.styles.Active.Render(fmt.Sprintf("%d", s.Jobs))),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Items:   "), m.styles.Active.Render(fmt.Sprintf("%d", s.Items))),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:"), m.styles.Active.Render(formatDuration(s.Duration))),
	}
	if s.Partial > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("! %d partial", s.Partial)))
	}
	if s.Skipped > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("! %d skipped", s.Skipped)))
	}
	for name, msg := range s.Failures {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %s: %s", name, msg)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentDm)).
		Padding(0, 1)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// visibleJobs keeps every running job and fills the rest with the most
// recent finished ones, preserving order.
func visibleJobs(jobs []async.ImportProgress, max int) []async.ImportProgress {
	if len(jobs) <= max {
		return jobs
	}
	keep := make([]bool, len(jobs))
	n := 0
	for i, j := range jobs {
		if !j.Status.IsTerminal() && n < max {
			keep[i] = true
			n++
		}
	}
	for i := len(jobs) - 1; i >= 0 && n < max; i-- {
		if !keep[i] {
			keep[i] = true
			n++
		}
	}
	out := make([]async.ImportProgress, 0, max)
	for i, j := range jobs {
		if keep[i] {
			out = append(out, j)
		}
	}
	return out
}

// truncateName shortens a name to max runes, keeping its tail.
func truncateName(name string, max int) string {
	r := []rune(name)
	if len(r) <= max {
		return name
	}
	if max <= 1 {
		return "…"
	}
	return "…" + string(r[len(r)-max+1:])
}

var _ Renderer = (*TUIRenderer)(nil)
