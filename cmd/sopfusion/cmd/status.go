package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/internal/output"
	"github.com/Aman-CERP/sopfusion/internal/search"
	"github.com/Aman-CERP/sopfusion/internal/store"
)

// statusReport is the JSON shape of `sopfusion status --json`.
type statusReport struct {
	Root     string             `json:"root"`
	Corpus   string             `json:"corpus"`
	DataDir  string             `json:"data_dir"`
	Index    search.EngineStats `json:"index"`
	Manifest *store.Manifest    `json:"manifest,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show corpus and index status",
		Long: `Load the corpus and report what a server would serve: document count,
modules, lexical backend and whether the vector index is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
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

	m, err := store.ReadManifest(a.dataDir())
	if err != nil {
		return err
	}

	report := statusReport{
		Root:     a.root,
		Corpus:   a.corpusPath(),
		DataDir:  a.dataDir(),
		Index:    engine.Stats(),
		Manifest: m,
	}
	if jsonOutput {
		return writeJSON(cmd, report)
	}

	out := output.New(cmd.OutOrStdout())
	out.Header("Project")
	out.KeyValue("root", report.Root)
	out.KeyValue("corpus", report.Corpus)
	out.KeyValue("data dir", report.DataDir)
	out.Newline()
	out.Stats(report.Index)
	out.Newline()
	if m == nil {
		out.Status("💡", "No saved index, run 'sopfusion index' to persist vectors")
		return nil
	}
	out.Header("Saved index")
	out.KeyValue("model", m.Model)
	out.KeyValue("vectors", m.Vectors)
	out.KeyValue("created", m.CreatedAt.Format(time.RFC3339))
	out.KeyValue("current", m.Fingerprint == report.Index.Fingerprint)
	return nil
}
