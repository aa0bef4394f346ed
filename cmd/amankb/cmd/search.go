package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/output"
	"github.com/Aman-CERP/amankb/internal/search"
	"github.com/Aman-CERP/amankb/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	jsonOut  bool
	sources  []string
	category string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Search imported records with the tiered cascade.

Tiers run in order (cjk_exact, fulltext, like, fuzzy); the first tier with
hits answers. The answering tier is shown with the results.

Examples:
  amankb search "疏散楼梯"
  amankb search "fire door" --limit 5
  amankb search "防火" --source gb50016.json --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")
	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Restrict to sources (repeatable)")
	cmd.Flags().StringVarP(&opts.category, "category", "c", "", "Restrict to one category")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := currentConfig()
	out := output.New(cmd.OutOrStdout())

	st, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	execOpts := []search.ExecutorOption{
		search.WithSnippetOptions(cfg.SnippetOptions()),
		search.WithFuzzyBounds(cfg.Search.FuzzyMinRunes, cfg.Search.FuzzyMaxRunes),
	}
	if cfg.TelemetryEnabled() {
		metricsStore, err := telemetry.NewSQLiteMetricsStore(st.DB())
		if err != nil {
			slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		} else {
			mcfg := telemetry.DefaultQueryMetricsConfig()
			mcfg.FlushInterval = 0
			metrics := telemetry.NewQueryMetricsWithConfig(metricsStore, mcfg)
			defer func() {
				if err := metrics.Close(); err != nil {
					slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
				}
			}()
			execOpts = append(execOpts, search.WithMetrics(metrics))
		}
	}

	executor, err := search.NewExecutor(st, execOpts...)
	if err != nil {
		return err
	}

	limit := cfg.Search.MaxResults
	if opts.limit > 0 {
		limit = opts.limit
	}

	resp, err := executor.Search(ctx, query, search.SearchOptions{
		Limit:    limit,
		Sources:  opts.sources,
		Category: opts.category,
	})
	if err != nil {
		return err
	}

	if opts.jsonOut {
		return out.JSON(output.NewSearchResponseJSON(resp))
	}
	out.SearchResults(resp)
	return nil
}
