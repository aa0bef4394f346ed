package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/logging"
	"github.com/Aman-CERP/amankb/internal/ui"
)

// logsOptions holds CLI flags for logs.
type logsOptions struct {
	follow    bool
	lines     int
	level     string
	filter    string
	component string
	noColor   bool
	file      string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View amankb logs",
		Long: `Show the last lines of the amankb log file, optionally following it.

Examples:
  amankb logs                      # last 50 lines
  amankb logs -f                   # follow new entries
  amankb logs --level warn         # warnings and errors only
  amankb logs --component search   # one component
  amankb logs --filter "tier"      # regex over the raw line`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Regex matched against each line")
	cmd.Flags().StringVar(&opts.component, "component", "", "Only entries of this component")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default from config)")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, opts logsOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.level != "" && !logging.ValidLevel(opts.level) {
		return fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", opts.level)
	}

	path := opts.file
	if path == "" {
		path = currentConfig().Logging.FilePath
	}
	path, err := logging.FindLogFile(path)
	if err != nil {
		return err
	}

	vcfg := logging.ViewerConfig{
		Level:     opts.level,
		Component: opts.component,
		NoColor:   opts.noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()),
	}
	if opts.filter != "" {
		re, err := regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
		vcfg.Pattern = re
	}

	viewer := logging.NewViewer(vcfg, cmd.OutOrStdout())
	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	followed := make(chan logging.LogEntry, 64)
	done := make(chan error, 1)
	go func() {
		done <- viewer.Follow(ctx, path, followed)
	}()

	for {
		select {
		case e := <-followed:
			viewer.Print([]logging.LogEntry{e})
		case err := <-done:
			return err
		}
	}
}
