package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/internal/output"
	"github.com/Aman-CERP/sopfusion/internal/store"
)

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the SOP corpus and persist the vector index",
		Long: `Build the lexical and vector indexes for the configured corpus and save
the vector graph with a manifest under the data directory (index.data_dir).

Later commands load the saved vectors instead of re-embedding while the
corpus fingerprint, embedding model and dimensions still match.

Use --force to discard the saved index and embed from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Discard the saved index and rebuild from scratch")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	a, err := loadApp(ctx, commandLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dataDir := a.dataDir()
	lock := store.NewIndexLock(dataDir)
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if force {
		if err := clearIndexData(dataDir); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		out.Status("🧹", "Cleared existing index data")
		slog.Info("index_force_clear", slog.String("data_dir", dataDir))
	}

	start := time.Now()
	engine, err := a.newEngine(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	stats := engine.Stats()
	if !stats.VectorReady {
		out.Warningf("Vector index unavailable: %s", stats.VectorError)
	} else {
		out.Successf("Indexed %d SOPs in %s", stats.Documents, time.Since(start).Round(time.Millisecond))
	}
	out.Newline()
	out.Stats(stats)

	m, err := store.ReadManifest(dataDir)
	if err != nil {
		return err
	}
	if m != nil {
		out.Newline()
		out.Header("Saved index")
		out.KeyValue("path", dataDir)
		out.KeyValue("model", m.Model)
		out.KeyValue("dimensions", m.Dimensions)
		out.KeyValue("vectors", m.Vectors)
		out.KeyValue("created", m.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// clearIndexData removes the saved vector graph and its manifest. The lock
// file stays.
func clearIndexData(dataDir string) error {
	for _, p := range []string{store.ManifestPath(dataDir), store.VectorPath(dataDir)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
