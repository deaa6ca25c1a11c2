package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/configs"
	"github.com/Aman-CERP/sopfusion/internal/config"
	"github.com/Aman-CERP/sopfusion/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .sopfusion.yaml in the project directory",
		Long: `Write a commented project configuration from the built-in template.

An existing file is kept unless --force is given, in which case it is
backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing project configuration")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	root, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}

	path := config.ProjectConfigPath(root)
	if path == "" {
		path = filepath.Join(root, ".sopfusion.yaml")
	} else if !force {
		out.Warning("Project configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Status("💡", "Use --force to overwrite (a backup is kept)")
		return nil
	}

	if err := writeTemplate(out, path, configs.ProjectConfigTemplate); err != nil {
		return err
	}

	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Set corpus.path to your SOP file")
	out.Status("", "  2. Run 'sopfusion index' to embed the corpus")
	out.Status("", "  3. Run 'sopfusion serve' from your MCP client")
	return nil
}

// writeTemplate backs up any existing file at path, then writes content.
func writeTemplate(out *output.Writer, path, content string) error {
	backup, err := config.BackupFile(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	if backup != "" {
		out.Statusf("💾", "Backup: %s", backup)
	}
	return nil
}
