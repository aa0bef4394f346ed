package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amankb/internal/async"
	"github.com/Aman-CERP/amankb/internal/config"
	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/ingest"
	"github.com/Aman-CERP/amankb/internal/lock"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/ui"
)

// importOptions holds CLI flags for import.
type importOptions struct {
	source    string
	batchSize int
	workers   int
	plain     bool
	wait      bool
}

// importJob is one file of an import run.
type importJob struct {
	path   string
	source ingest.Source
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file|dir>...",
		Short: "Import JSON document exports",
		Long: `Import JSON document exports into the knowledge base.

Directories are walked for *.json files. Each file is one source: its
records replace nothing else and keep stable ids across re-imports.

Examples:
  amankb import exports/
  amankb import book.json --source gb50016
  amankb import a.json b.json --workers 2 --plain`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "Source id for a single file (default: file name)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Records per store batch (default from config)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Files imported concurrently (default from config)")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output (no TUI)")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait for a running import instead of failing")

	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, args []string, opts importOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := currentConfig()

	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return kberrors.ValidationError("no JSON files found", nil).
			WithSuggestion("Pass .json files or directories containing them")
	}
	if opts.source != "" && len(files) != 1 {
		return kberrors.ValidationError("--source requires exactly one file", nil)
	}

	jobs, err := planJobs(files, opts.source)
	if err != nil {
		return err
	}

	ingestOpts, err := cfg.IngestOptions()
	if err != nil {
		return err
	}
	if opts.batchSize > 0 {
		ingestOpts.BatchSize = opts.batchSize
	}
	workers := cfg.Ingest.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}

	importLock := lock.New(cfg.Paths.DataDir)
	if opts.wait {
		err = importLock.Lock(ctx)
	} else {
		err = importLock.TryLock()
	}
	if err != nil {
		return err
	}
	defer func() { _ = importLock.Unlock() }()

	st, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	board := async.NewBoard()
	for _, j := range jobs {
		board.Publish(async.ImportProgress{
			SourceID:   j.source.ID,
			SourceName: j.source.Name,
			Status:     async.StatusInProgress,
		}.WithMessage("queued"))
	}

	title := args[0]
	if len(args) > 1 {
		title = fmt.Sprintf("%d paths", len(args))
	}
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithTitle(title)))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}

	start := time.Now()
	slog.Info("import_started",
		slog.Int("files", len(jobs)),
		slog.Int("workers", workers),
		slog.Int("batch_size", ingestOpts.BatchSize))

	importer := async.NewBackgroundImporter(async.ImporterConfig{
		DataDir:    cfg.Paths.DataDir,
		SourceID:   "run",
		SourceName: title,
	}, nil)
	importer.ImportFunc = func(ctx context.Context, _ func(async.ImportProgress)) error {
		return importAll(ctx, st, ingestOpts, board, jobs, workers)
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ui.Watch(ctx, board, renderer, 100*time.Millisecond)
	}()

	importer.Start(ctx)
	runErr := importer.Wait()
	<-watchDone

	summary := ui.Summarize(board.Snapshot(), time.Since(start))
	renderer.Complete(summary)
	_ = renderer.Stop()

	slog.Info("import_finished",
		slog.Int("imported", summary.Imported),
		slog.Int("partial", summary.Partial),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int64("items", summary.Items),
		slog.Int64("duration_ms", summary.Duration.Milliseconds()))

	if runErr != nil {
		return runErr
	}
	if err := async.RecordLastImport(cfg.Paths.DataDir, time.Now()); err != nil {
		slog.Warn("last_import_not_recorded", slog.String("error", err.Error()))
	}
	if summary.Failed > 0 {
		return kberrors.New(kberrors.ErrCodeImportFailed,
			fmt.Sprintf("%d of %d files failed to import", summary.Failed, summary.Jobs), nil)
	}
	return nil
}

// importAll runs every job with at most workers files in flight. A failed
// file does not stop the others; only cancellation ends the run early.
func importAll(ctx context.Context, st store.Store, opts ingest.Options, board *async.Board, jobs []importJob, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	opts.Publish = board.Publish
	for _, j := range jobs {
		g.Go(func() error {
			importFile(gctx, st, opts, board, j)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// importFile imports one job and guarantees a terminal status on the board.
func importFile(ctx context.Context, st store.Store, opts ingest.Options, board *async.Board, j importJob) {
	fail := func(err error) {
		board.Publish(async.ImportProgress{
			SourceID:   j.source.ID,
			SourceName: j.source.Name,
			Status:     async.StatusFailed,
		}.WithMessage(err.Error()))
	}

	if ctx.Err() != nil {
		fail(fmt.Errorf("import cancelled"))
		return
	}

	f, err := os.Open(j.path)
	if err != nil {
		fail(kberrors.IOError("failed to open export", err))
		slog.Warn("import_open_failed", slog.String("path", j.path), slog.String("error", err.Error()))
		return
	}
	defer func() { _ = f.Close() }()

	// One ingester per file: ingesters are not safe for concurrent use.
	if _, err := ingest.New(st, opts).Run(ctx, f, j.source); err != nil {
		slog.Warn("import_file_failed",
			slog.String("source", j.source.ID),
			slog.String("path", j.path),
			slog.String("error", err.Error()))
	}
}

// collectFiles expands args into JSON files. Directories are walked, hidden
// entries skipped. Explicit file arguments are kept whatever their extension.
func collectFiles(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if !seen[abs] {
			seen[abs] = true
			files = append(files, abs)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, kberrors.New(kberrors.ErrCodeFileNotFound, "path not found", err).WithDetail("path", arg)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if path != arg && strings.HasPrefix(name, ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(name), ".json") {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, kberrors.IOError("failed to walk directory", err).WithDetail("path", arg)
		}
	}

	sort.Strings(files)
	return files, nil
}

// planJobs assigns a source to every file. Source ids default to the file
// name and must be unique within a run.
func planJobs(files []string, source string) ([]importJob, error) {
	jobs := make([]importJob, 0, len(files))
	owner := make(map[string]string, len(files))
	for _, path := range files {
		name := filepath.Base(path)
		id := name
		if source != "" {
			id = source
		}
		if prev, ok := owner[id]; ok {
			return nil, kberrors.ValidationError("two files map to the same source id", nil).
				WithDetail("source", id).
				WithDetail("first", prev).
				WithDetail("second", path).
				WithSuggestion("Import them separately with --source")
		}
		owner[id] = path
		jobs = append(jobs, importJob{path: path, source: ingest.Source{ID: id, Name: name}})
	}
	return jobs, nil
}

// importPaths imports files synchronously without a renderer. Used by watch.
func importPaths(ctx context.Context, cfg *config.Config, st store.Store, files []string) ([]async.ImportProgress, error) {
	jobs, err := planJobs(files, "")
	if err != nil {
		return nil, err
	}
	opts, err := cfg.IngestOptions()
	if err != nil {
		return nil, err
	}
	board := async.NewBoard()
	if err := importAll(ctx, st, opts, board, jobs, cfg.Ingest.Workers); err != nil {
		return board.Snapshot(), err
	}
	return board.Snapshot(), nil
}
