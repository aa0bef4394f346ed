package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/output"
)

// showOptions holds CLI flags for show.
type showOptions struct {
	render  bool
	blocks  bool
	hit     string
	jsonOut bool
}

func newShowCmd() *cobra.Command {
	var opts showOptions

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one record",
		Long: `Print a record by id.

Examples:
  amankb show 4611686018427387904
  amankb show 4611686018427387904 --render
  amankb show 4611686018427387904 --hit "防火墙"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return kberrors.ValidationError("record id must be a positive integer", err).WithDetail("id", args[0])
			}
			return runShow(cmd.Context(), cmd, id, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.render, "render", false, "Un-fence and flatten tables for display")
	cmd.Flags().BoolVar(&opts.blocks, "blocks", false, "List content blocks with their ids")
	cmd.Flags().StringVar(&opts.hit, "hit", "", "Mark the first block matching this query")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output the stored record as JSON")

	return cmd
}

func runShow(ctx context.Context, cmd *cobra.Command, id int64, opts showOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := output.New(cmd.OutOrStdout())

	st, err := openStore(currentConfig(), true)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rec, err := st.GetByID(ctx, id)
	if err != nil {
		return kberrors.New(kberrors.ErrCodeStoreRead, "failed to read record", err)
	}
	if rec == nil {
		return kberrors.New(kberrors.ErrCodeInvalidInput, fmt.Sprintf("record %d not found", id), nil)
	}

	if opts.jsonOut {
		return out.JSON(rec)
	}
	return out.Record(rec, output.RecordOptions{
		Render: opts.render,
		Blocks: opts.blocks,
		Hit:    opts.hit,
	})
}
