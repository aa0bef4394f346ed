// Package async provides background import infrastructure: progress records,
// a last-write-wins status channel per job and a cancellable job runner.
package async

import (
	"sort"
	"sync"
)

// ImportStatus is the state reported for an import job.
type ImportStatus string

const (
	// StatusInProgress indicates the job is still reading its input.
	StatusInProgress ImportStatus = "in_progress"
	// StatusImported indicates every entry was imported.
	StatusImported ImportStatus = "imported"
	// StatusSkipped indicates the input was recognized as non-content and ignored.
	StatusSkipped ImportStatus = "skipped"
	// StatusFailed indicates the job aborted.
	StatusFailed ImportStatus = "failed"
	// StatusPartialFailure indicates the job finished but skipped malformed entries.
	StatusPartialFailure ImportStatus = "partial_failure"
)

// IsTerminal reports whether no further updates follow s.
func (s ImportStatus) IsTerminal() bool {
	return s != StatusInProgress && s != ""
}

// ImportProgress is the status of one import job.
type ImportProgress struct {
	SourceID      string       `json:"sourceId"`
	SourceName    string       `json:"sourceName"`
	TotalItems    *int64       `json:"totalItems,omitempty"`
	ImportedItems int64        `json:"importedItems"`
	Percent       int          `json:"percent"`
	Status        ImportStatus `json:"status"`
	Message       *string      `json:"message,omitempty"`
}

// WithMessage returns a copy of p carrying msg.
func (p ImportProgress) WithMessage(msg string) ImportProgress {
	p.Message = &msg
	return p
}

// ComputePercent derives the percentage from the item counts, clamped to
// 0..100. Unknown totals report 0 until the job is terminal.
func ComputePercent(imported int64, total *int64, status ImportStatus) int {
	if status == StatusImported || status == StatusSkipped || status == StatusPartialFailure {
		return 100
	}
	if total == nil || *total <= 0 {
		return 0
	}
	pct := int(imported * 100 / *total)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Latest holds the most recent status of one job. Publishing never blocks:
// readers that fall behind miss intermediate ticks but always observe the
// terminal status, which is never overwritten.
type Latest struct {
	mu      sync.Mutex
	current ImportProgress
	set     bool
	notify  chan struct{}
}

// NewLatest creates an empty status holder.
func NewLatest() *Latest {
	return &Latest{notify: make(chan struct{}, 1)}
}

// Publish replaces the current status. Updates after a terminal status are
// dropped.
func (l *Latest) Publish(p ImportProgress) {
	l.mu.Lock()
	if l.set && l.current.Status.IsTerminal() {
		l.mu.Unlock()
		return
	}
	l.current = p
	l.set = true
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Load returns the current status and whether one was published.
func (l *Latest) Load() (ImportProgress, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.set
}

// Updates signals after each Publish. Signals coalesce.
func (l *Latest) Updates() <-chan struct{} {
	return l.notify
}

// Board tracks the latest status of every job in a run.
type Board struct {
	mu   sync.RWMutex
	jobs map[string]*Latest
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{jobs: make(map[string]*Latest)}
}

// Job returns the status holder for sourceID, creating it if needed.
func (b *Board) Job(sourceID string) *Latest {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.jobs[sourceID]
	if !ok {
		l = NewLatest()
		b.jobs[sourceID] = l
	}
	return l
}

// Publish routes p to its job.
func (b *Board) Publish(p ImportProgress) {
	b.Job(p.SourceID).Publish(p)
}

// Snapshot returns the latest status of every job, ordered by source id.
func (b *Board) Snapshot() []ImportProgress {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ImportProgress, 0, len(b.jobs))
	for _, l := range b.jobs {
		if p, ok := l.Load(); ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Done reports whether every job reached a terminal status.
func (b *Board) Done() bool {
	for _, p := range b.Snapshot() {
		if !p.Status.IsTerminal() {
			return false
		}
	}
	return true
}
