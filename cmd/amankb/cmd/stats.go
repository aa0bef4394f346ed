package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/async"
	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/telemetry"
	"github.com/Aman-CERP/amankb/internal/ui"
)

// statsOptions holds CLI flags for stats.
type statsOptions struct {
	jsonOut bool
	days    int
	top     int
}

func newStatsCmd() *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base and search statistics",
		Long: `Show record counts per source, the full-text backend and, when
telemetry is enabled, which search tiers answered recent queries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output statistics as JSON")
	cmd.Flags().IntVar(&opts.days, "days", 7, "Days of search telemetry to summarize")
	cmd.Flags().IntVar(&opts.top, "top", 10, "Number of top terms and zero-result queries")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, opts statsOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := currentConfig()
	if opts.days <= 0 {
		return kberrors.ValidationError("--days must be positive", nil)
	}

	st, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	info, err := collectStats(ctx, st, cfg.Paths.DataDir)
	if err != nil {
		return err
	}

	if cfg.TelemetryEnabled() {
		metricsStore, err := telemetry.NewSQLiteMetricsStore(st.DB())
		if err == nil {
			info.Queries, err = telemetry.History(metricsStore, opts.days, opts.top)
		}
		if err != nil {
			slog.Warn("telemetry_history_failed", slog.String("error", err.Error()))
		}
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if opts.jsonOut {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// collectStats gathers store counts and file information for dataDir.
func collectStats(ctx context.Context, st *store.SQLiteStore, dataDir string) (ui.StatsInfo, error) {
	info := ui.StatsInfo{
		DataDir:          dataDir,
		IncompleteImport: async.HasIncompleteImport(dataDir),
		LastImport:       async.LastImport(dataDir),
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		return info, kberrors.New(kberrors.ErrCodeStoreRead, "failed to read store statistics", err)
	}
	info.Store = stats

	sources, err := st.Sources(ctx)
	if err != nil {
		return info, kberrors.New(kberrors.ErrCodeStoreRead, "failed to list sources", err)
	}
	info.Sources = sources

	info.DatabaseSize = store.DiskUsage(store.StorePath(dataDir))
	return info, nil
}
