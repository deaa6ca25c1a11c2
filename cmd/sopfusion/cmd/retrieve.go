package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/internal/output"
	"github.com/Aman-CERP/sopfusion/internal/search"
)

// retrieveOptions holds CLI flags for retrieve.
type retrieveOptions struct {
	incident incidentFlags

	variants       int
	kPerQuery      int
	topAfterRRF    int
	finalTopK      int
	restrictModule bool
	format         string // "text", "json"
}

func newRetrieveCmd() *cobra.Command {
	var opts retrieveOptions

	cmd := &cobra.Command{
		Use:   "retrieve [summary...]",
		Short: "Retrieve the SOPs that best match an incident",
		Long: `Run the full retrieval pipeline for one incident: query expansion,
hybrid BM25 + vector search per query, Reciprocal Rank Fusion and rerank.

Examples:
  sopfusion retrieve --summary "Vessel creation fails with duplicate name" --module Vessel
  sopfusion retrieve "EDI file rejected" --entity container=MSCU1234567
  sopfusion retrieve --incident incident.yaml --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRetrieve(ctx, cmd, args, opts)
		},
	}

	opts.incident.register(cmd)
	cmd.Flags().IntVar(&opts.variants, "variants", -1, "Query variants to generate (default from config)")
	cmd.Flags().IntVar(&opts.kPerQuery, "k", 0, "Candidates per query and signal (default from config)")
	cmd.Flags().IntVar(&opts.topAfterRRF, "top-rrf", 0, "Candidates kept after fusion (default from config)")
	cmd.Flags().IntVarP(&opts.finalTopK, "top", "n", 0, "SOPs returned after rerank (default from config)")
	cmd.Flags().BoolVar(&opts.restrictModule, "restrict-module", false, "Only return SOPs tagged with the incident's module")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runRetrieve(ctx context.Context, cmd *cobra.Command, args []string, opts retrieveOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	inc, err := opts.incident.incident(args)
	if err != nil {
		return err
	}

	logger := commandLogger(cmd)
	a, err := loadApp(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	engine, err := a.newEngine(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	ropts := search.RetrieveOptions{
		NumQueryVariants: engine.Defaults().NumQueryVariants,
		KPerQuery:        opts.kPerQuery,
		TopKAfterRRF:     opts.topAfterRRF,
		FinalTopK:        opts.finalTopK,
		RestrictToModule: opts.restrictModule,
	}
	if opts.variants >= 0 {
		ropts.NumQueryVariants = opts.variants
	}

	result, err := engine.Retrieve(ctx, inc, ropts)
	if err != nil {
		return err
	}
	slog.Debug("retrieve_complete",
		slog.String("incident_id", inc.IncidentID),
		slog.Int("results", len(result.Documents)))

	if opts.format == "json" {
		return writeJSON(cmd, result)
	}
	output.New(cmd.OutOrStdout()).Retrieval(result)
	return nil
}

func checkFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("invalid format %q (use: text, json)", format)
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
