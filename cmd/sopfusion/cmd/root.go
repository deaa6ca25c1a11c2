// Package cmd provides the CLI commands for sopfusion.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/internal/logging"
	"github.com/Aman-CERP/sopfusion/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	projectDir     string
	corpusOverride string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the sopfusion CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sopfusion",
		Short: "Hybrid SOP retrieval for incident response",
		Long: `sopfusion finds the Standard Operating Procedures that best match an
incident report.

Each request expands the incident into several search queries, scores the
corpus with BM25 and embedding similarity, fuses the per-query rankings with
Reciprocal Rank Fusion and reranks the leading candidates.

Run 'sopfusion init' in a project directory, point corpus.path at your SOP
file and try 'sopfusion retrieve --summary "..."'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("sopfusion version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory holding .sopfusion.yaml")
	cmd.PersistentFlags().StringVar(&corpusOverride, "corpus", "", "SOP corpus file (overrides corpus.path)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.sopfusion/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCasesCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the debug file logger when --debug is set.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("Debug logging enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Short()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
