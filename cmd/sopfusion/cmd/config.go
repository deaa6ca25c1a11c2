package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/sopfusion/configs"
	"github.com/Aman-CERP/sopfusion/internal/config"
	"github.com/Aman-CERP/sopfusion/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: `Manage the user/global configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/sopfusion/config.yaml)
  3. Project config (.sopfusion.yaml)
  4. Environment variables (SOPFUSION_*)`,
		Example: `  # Create user config from template
  sopfusion config init

  # Show effective configuration (merged from all sources)
  sopfusion config show

  # Print user config file path
  sopfusion config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user configuration file from a template at
~/.config/sopfusion/config.yaml (or $XDG_CONFIG_HOME/sopfusion/config.yaml).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration (a backup is kept)")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the effective configuration after merging all sources, or a
single source with --source.`,
		Example: `  sopfusion config show
  sopfusion config show --json
  sopfusion config show --source user`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Long:  `Print the path to the user configuration file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	configPath := config.GetUserConfigPath()

	if config.UserConfigExists() && !force {
		out.Warning("User configuration already exists")
		out.Statusf("📁", "Location: %s", configPath)
		out.Newline()
		out.Status("💡", "Use --force to overwrite (a backup is kept)")
		return nil
	}

	if err := writeTemplate(out, configPath, configs.UserConfigTemplate); err != nil {
		return err
	}
	out.Newline()
	out.Status("📋", "Run 'sopfusion config show' to verify")
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	root, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}

	var (
		cfg        *config.Config
		sourceDesc string
	)
	switch source {
	case "merged":
		cfg, err = config.Load(root)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		sourceDesc = "merged (defaults + user + project + env)"

	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'sopfusion config init' to create one")
			return nil
		}
		if cfg, err = readConfigFile(path); err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("user (%s)", path)

	case "project":
		path := config.ProjectConfigPath(root)
		if path == "" {
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", filepath.Join(root, ".sopfusion.yaml"))
			out.Status("💡", "Run 'sopfusion init' to create one")
			return nil
		}
		if cfg, err = readConfigFile(path); err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("project (%s)", path)

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, project, defaults)", source)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// readConfigFile parses one config file over the defaults.
func readConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg := config.NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}
