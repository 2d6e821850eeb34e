package cmd

import (
	"fmt"
	"time"

	"github.com/conneroisu/sitesmith/internal/supervisor"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Compile the stylesheet and render every page once",
	Long: `Compile the stylesheet (when a preprocessor is configured) and render
every markdown page into the output directory, then exit. Nothing is watched.

Examples:
  sitesmith build                 # Build with the configured settings
  sitesmith build --output dist   # Render into dist/`,
	RunE: runBuild,
}

var buildOutput string

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Output directory (overrides paths.output)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if buildOutput != "" {
		cfg.Paths.Output = buildOutput
	}

	sup, err := supervisor.New(cfg, supervisor.WithLogger(logger))
	if err != nil {
		return err
	}

	start := time.Now()
	if err := sup.Build(cmdContext(cmd)); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	snapshot := sup.Metrics().GetSnapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "Built %s in %s (%d actions)\n",
		cfg.Paths.Output, time.Since(start).Round(time.Millisecond), snapshot.TotalBuilds)

	return nil
}
