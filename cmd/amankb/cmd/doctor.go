package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/preflight"
	"github.com/Aman-CERP/amankb/internal/store"
)

// doctorOptions holds CLI flags for doctor.
type doctorOptions struct {
	fix     bool
	verbose bool
	jsonOut bool
}

func newDoctorCmd() *cobra.Command {
	var opts doctorOptions

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the knowledge base for problems",
		Long: `Check that the data directory is writable and has free space, that the
store database is intact and that the full-text index matches the records.

With --fix a stale full-text index is rebuilt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.fix, "fix", false, "Repair what can be repaired")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show details of passing checks")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, opts doctorOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := currentConfig()

	target := preflight.Target{DataDir: cfg.Paths.DataDir}
	if _, err := os.Stat(store.StorePath(cfg.Paths.DataDir)); err == nil {
		st, err := openStore(cfg, true)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		target.Store = st
	}

	checker := preflight.New(
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithFix(opts.fix),
		preflight.WithVerbose(opts.verbose),
	)
	results := checker.RunAll(ctx, target)

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"status": checker.SummaryStatus(results),
			"checks": results,
		}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return kberrors.New(kberrors.ErrCodeInternal, "health check failed", nil).
			WithSuggestion("See the FAIL lines above")
	}
	return nil
}
