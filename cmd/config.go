package cmd

import (
	"fmt"

	"github.com/conneroisu/sitesmith/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the sitesmith configuration",
	Long: `Inspect the configuration sitesmith would run with, after the config
file, SITESMITH_ environment variables and defaults have been merged.

Examples:
  sitesmith config show              # Print the effective configuration
  sitesmith config validate          # Check the configuration and report warnings
  sitesmith config show --config prod.yml`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return encoder.Close()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	out := cmd.OutOrStdout()
	warnings := cfg.Warnings()
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s: %s\n", w.Field, w.Message)
	}
	fmt.Fprintf(out, "Configuration valid (%d warnings)\n", len(warnings))

	return nil
}
