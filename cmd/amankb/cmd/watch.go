package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/async"
	"github.com/Aman-CERP/amankb/internal/config"
	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/lock"
	"github.com/Aman-CERP/amankb/internal/output"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/watcher"
)

// watchOptions holds CLI flags for watch.
type watchOptions struct {
	initial bool
	polling bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Re-import exports when they change",
		Long: `Watch a directory of JSON exports and keep the knowledge base in sync.

A changed file replaces the records of its source. A deleted or renamed
file forgets its source. Changes are debounced (ingest.watch_debounce).
The import lock is held while watching; stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.initial, "initial", true, "Import existing files before watching")
	cmd.Flags().BoolVar(&opts.polling, "poll", false, "Poll the directory instead of using filesystem events")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, dir string, opts watchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := currentConfig()
	out := output.New(cmd.OutOrStdout())

	root, err := filepath.Abs(dir)
	if err != nil {
		return kberrors.IOError("failed to resolve watch directory", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return kberrors.ValidationError("watch target must be a directory", err).WithDetail("path", dir)
	}

	importLock := lock.New(cfg.Paths.DataDir)
	if err := importLock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = importLock.Unlock() }()

	st, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if opts.initial {
		files, err := collectFiles([]string{root})
		if err != nil {
			return err
		}
		if len(files) > 0 {
			out.Statusf("→", "Importing %d existing files", len(files))
			if err := reimport(ctx, cfg, st, out, files); err != nil {
				return err
			}
		}
	}

	wopts := watcher.DefaultOptions()
	wopts.DebounceWindow = cfg.WatchDebounceDuration()
	wopts.ForcePolling = opts.polling
	if dataDir, err := filepath.Abs(cfg.Paths.DataDir); err == nil {
		wopts.IgnoreDirs = append(wopts.IgnoreDirs, dataDir)
	}

	w, err := watcher.New(wopts)
	if err != nil {
		return err
	}

	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(ctx, root) }()

	mode := "events"
	if w.Polling() {
		mode = "polling"
	}
	out.Statusf("👀", "Watching %s (%s); Ctrl-C to stop", root, mode)
	slog.Info("watch_started", slog.String("root", root), slog.String("mode", mode))

	events, errs := w.Events(), w.Errors()
	for {
		select {
		case batch, ok := <-events:
			if !ok {
				return watchExit(<-startErr)
			}
			if err := applyBatch(ctx, cfg, st, out, batch); err != nil {
				if ctx.Err() != nil {
					return watchExit(<-startErr)
				}
				out.Error(err.Error())
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
			out.Warning(err.Error())
		}
	}
}

// watchExit treats cancellation as a clean stop.
func watchExit(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		slog.Info("watch_stopped")
		return nil
	}
	return err
}

// applyBatch forgets removed sources and re-imports changed files.
func applyBatch(ctx context.Context, cfg *config.Config, st store.Store, out *output.Writer, batch []watcher.FileEvent) error {
	var changed []string
	for _, ev := range batch {
		if !ev.Operation.Removes() {
			changed = append(changed, ev.Path)
			continue
		}
		source := filepath.Base(ev.Path)
		n, err := forgetSource(ctx, st, source)
		if err != nil {
			return err
		}
		if n > 0 {
			out.Statusf("✗", "%s removed: %d records forgotten", source, n)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return reimport(ctx, cfg, st, out, changed)
}

// reimport replaces the records of each file's source with a fresh import.
func reimport(ctx context.Context, cfg *config.Config, st store.Store, out *output.Writer, files []string) error {
	for _, f := range files {
		if _, err := st.DeleteBySource(ctx, filepath.Base(f)); err != nil {
			return err
		}
	}

	jobs, err := importPaths(ctx, cfg, st, files)
	for _, j := range jobs {
		msg := ""
		if j.Message != nil {
			msg = *j.Message
		}
		switch j.Status {
		case async.StatusImported:
			out.Successf("%s: %s", j.SourceName, msg)
		case async.StatusPartialFailure, async.StatusSkipped:
			out.Warningf("%s: %s (%s)", j.SourceName, msg, j.Status)
		default:
			out.Error(j.SourceName + ": " + msg)
		}
	}
	return err
}
