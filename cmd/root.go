// Package cmd provides the command-line interface for sitesmith.
//
// Configuration System:
//
//	Settings come from several sources with clear precedence:
//	1. Command-line flags (--port, --log-level, etc.) - highest priority
//	2. Individual environment variables (SITESMITH_SERVER_PORT, etc.)
//	3. The configuration file: --config, else SITESMITH_CONFIG_FILE, else
//	   .sitesmith.yml in the current directory - lowest priority
//
// Environment Variables:
//
//	SITESMITH_CONFIG_FILE: Path to custom configuration file
//	SITESMITH_SERVER_PORT: Override server port
//	SITESMITH_WATCH_INTERVAL: Override the poll interval (e.g. 2s)
//	And every other key following the SITESMITH_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/conneroisu/sitesmith/internal/config"
	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/conneroisu/sitesmith/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sitesmith",
	Short: "Watch, rebuild and serve a personal markdown site",
	Long: `Sitesmith renders a directory of markdown pages into HTML, compiles the
site stylesheet with sass or lessc, and keeps both up to date by polling the
source trees for content changes.

Quick Start:
  sitesmith init                  Create a site skeleton
  sitesmith serve                 Build, watch and serve with live reload
  sitesmith watch                 Build and watch without serving
  sitesmith build                 Build once and exit
  sitesmith config                Print the effective configuration

Command Aliases (for faster typing):
  init (i), serve (s), watch (w), build (b)`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to the process exit status: 2 for
// configuration problems (bad settings, missing roots), 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case siteerrors.IsType(err, siteerrors.ErrorTypeConfig):
		return 2
	default:
		return 1
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .sitesmith.yml, can also use SITESMITH_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// bindFlags binds each named flag to a configuration key so a flag set on
// the command line overrides the file and the environment. Commands that
// share a key bind in PreRun so only the running command's flag is bound.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if flag := flags.Lookup(name); flag != nil {
			_ = viper.BindPFlag(key, flag)
		}
	}
}

// initConfig points viper at the configuration file and enables
// SITESMITH_ environment overrides. A missing file is not an error: the
// defaults in config.Load cover every setting.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SITESMITH_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sitesmith")
	}

	viper.SetEnvPrefix("SITESMITH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads the effective configuration and builds the root logger
// from its log section. Configuration warnings are logged once here.
func loadConfig(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	for _, w := range cfg.Warnings() {
		logger.Warn(cmd.Context(), nil, w.Message, "field", w.Field)
	}

	return cfg, logger, nil
}
