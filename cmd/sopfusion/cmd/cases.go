package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/internal/output"
)

type casesOptions struct {
	incident incidentFlags
	path     string
	format   string
}

func newCasesCmd() *cobra.Command {
	var opts casesOptions

	cmd := &cobra.Command{
		Use:   "cases [summary...]",
		Short: "Find past incidents similar to this one",
		Long: `Score historical cases against an incident by embedding similarity,
shared entities and module, and validate the leading matches with the LLM
when one is configured.

Examples:
  sopfusion cases --summary "Vessel creation fails" --module Vessel
  sopfusion cases --cases history.json --incident incident.yaml --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCases(ctx, cmd, args, opts)
		},
	}

	opts.incident.register(cmd)
	cmd.Flags().StringVar(&opts.path, "cases", "", "Case corpus file (overrides case_match.cases_path)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runCases(ctx context.Context, cmd *cobra.Command, args []string, opts casesOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	inc, err := opts.incident.incident(args)
	if err != nil {
		return err
	}

	a, err := loadApp(ctx, commandLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if opts.path != "" {
		a.cfg.CaseMatch.CasesPath = opts.path
	}
	matcher, err := a.newMatcher(ctx)
	if err != nil {
		return err
	}
	if matcher == nil {
		return fmt.Errorf("no case corpus configured: set case_match.cases_path or pass --cases")
	}
	defer func() { _ = matcher.Close() }()

	result, err := matcher.Match(ctx, inc)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return writeJSON(cmd, result)
	}
	output.New(cmd.OutOrStdout()).CaseMatches(result)
	return nil
}
