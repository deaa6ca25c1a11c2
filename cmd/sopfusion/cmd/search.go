package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/internal/output"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	format string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Score one raw query with BM25, vectors and their hybrid",
		Long: `Search the SOP corpus with a single query, without expansion, fusion or
rerank. Prints the BM25 ranking, the vector ranking and the weighted hybrid
so weights can be tuned.

Examples:
  sopfusion search "duplicate vessel name"
  sopfusion search "gate transaction rejected" --limit 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSearch(ctx, cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum results per signal")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}

	a, err := loadApp(ctx, commandLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	engine, err := a.newEngine(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	ex, err := engine.Explain(ctx, query, opts.limit)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return writeJSON(cmd, ex)
	}
	output.New(cmd.OutOrStdout()).Explanation(ex)
	return nil
}
