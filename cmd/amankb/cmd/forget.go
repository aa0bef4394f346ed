package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/lock"
	"github.com/Aman-CERP/amankb/internal/output"
	"github.com/Aman-CERP/amankb/internal/store"
)

func newForgetCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "forget <source>...",
		Short: "Delete every record of a source",
		Long: `Delete the records imported from one or more sources.

Use 'amankb stats' to list sources. Re-importing a source does not remove
entries that disappeared from the file; forget it first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForget(cmd.Context(), cmd, args, wait)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for a running import instead of failing")
	return cmd
}

func runForget(ctx context.Context, cmd *cobra.Command, sources []string, wait bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := currentConfig()
	out := output.New(cmd.OutOrStdout())

	importLock := lock.New(cfg.Paths.DataDir)
	var err error
	if wait {
		err = importLock.Lock(ctx)
	} else {
		err = importLock.TryLock()
	}
	if err != nil {
		return err
	}
	defer func() { _ = importLock.Unlock() }()

	st, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	for _, source := range sources {
		n, err := forgetSource(ctx, st, source)
		if err != nil {
			return err
		}
		if n == 0 {
			out.Warningf("%s: no records", source)
			continue
		}
		out.Successf("%s: %d records deleted", source, n)
	}
	return nil
}

func forgetSource(ctx context.Context, st store.Store, source string) (int, error) {
	n, err := st.DeleteBySource(ctx, source)
	if err != nil {
		return n, err
	}
	slog.Info("source_forgotten", slog.String("source", source), slog.Int("records", n))
	return n, nil
}
