package async

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ImportFunc is the function signature for the actual import work.
// It reports progress through publish.
type ImportFunc func(ctx context.Context, publish func(ImportProgress)) error

// ImporterConfig configures a BackgroundImporter.
type ImporterConfig struct {
	DataDir    string
	SourceID   string
	SourceName string
}

// BackgroundImporter runs one import job in a background goroutine with
// progress published to a Latest holder.
type BackgroundImporter struct {
	config ImporterConfig
	status *Latest

	// ImportFunc is the actual import function to run.
	// This can be injected for testing.
	ImportFunc ImportFunc

	// Lifecycle management
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	running bool
	started bool
	err     error
}

// NewBackgroundImporter creates a new background importer. status may be
// shared with a Board; nil creates a private holder.
func NewBackgroundImporter(cfg ImporterConfig, status *Latest) *BackgroundImporter {
	if status == nil {
		status = NewLatest()
	}
	return &BackgroundImporter{
		config: cfg,
		status: status,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Status returns the status holder for this job.
func (b *BackgroundImporter) Status() *Latest {
	return b.status
}

// IsRunning returns true if the job is currently running.
func (b *BackgroundImporter) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins the import in a background goroutine.
// This is non-blocking and returns immediately.
// Use Wait() to block until completion.
func (b *BackgroundImporter) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

// run executes the import in the background.
func (b *BackgroundImporter) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	// Merged context that respects both parent and stop channel
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Marker file so an interrupted import can be detected on next start
	if b.config.DataDir != "" {
		if err := os.MkdirAll(b.config.DataDir, 0755); err != nil {
			b.fail(err)
			return
		}
		marker := markerPath(b.config.DataDir)
		if err := os.WriteFile(marker, []byte(time.Now().Format(time.RFC3339)+" "+b.config.SourceName), 0644); err != nil {
			b.fail(err)
			return
		}
		defer func() { _ = os.Remove(marker) }()
	}

	if b.ImportFunc == nil {
		return
	}
	if err := b.ImportFunc(ctx, b.status.Publish); err != nil {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
	}
}

// fail records err and publishes a terminal failure.
func (b *BackgroundImporter) fail(err error) {
	b.status.Publish(ImportProgress{
		SourceID:   b.config.SourceID,
		SourceName: b.config.SourceName,
		Status:     StatusFailed,
	}.WithMessage(err.Error()))

	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Stop signals the job to stop and waits for it to finish. The import
// function observes the cancellation between batches.
func (b *BackgroundImporter) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Wait blocks until the job completes and returns any error.
func (b *BackgroundImporter) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func markerPath(dataDir string) string {
	return filepath.Join(dataDir, "importing.marker")
}

// HasIncompleteImport checks if a previous import was interrupted.
func HasIncompleteImport(dataDir string) bool {
	_, err := os.Stat(markerPath(dataDir))
	return err == nil
}

func lastImportPath(dataDir string) string {
	return filepath.Join(dataDir, "last_import")
}

// RecordLastImport stores the completion time of an import run.
func RecordLastImport(dataDir string, t time.Time) error {
	return os.WriteFile(lastImportPath(dataDir), []byte(t.UTC().Format(time.RFC3339)), 0644)
}

// LastImport returns the time stored by RecordLastImport, or the zero time.
func LastImport(dataDir string) time.Time {
	data, err := os.ReadFile(lastImportPath(dataDir))
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}
	}
	return t
}
