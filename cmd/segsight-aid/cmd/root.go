// Package cmd implements the CLI commands for segsight-aid.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/segsight/segsight/internal/config"
	"github.com/segsight/segsight/internal/observability"
	"github.com/segsight/segsight/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// aidViper is a separate viper instance for aid configuration to avoid
// conflicts with the main segsight configuration.
var aidViper = viper.New()

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "segsight-aid",
	Short:   "LAN inference worker for segsight",
	Version: version.Short(),
	Long: `segsight-aid is the inference worker behind segsight's remote_lan
execution mode. The coordinator ships downscaled JPEG frames to it over
the local network; the worker constructs the matching detection adapter,
runs inference, and returns detections.

Configuration is primarily via environment variables:
  SEGSIGHT_AID_LISTEN       - HTTP listen address (default :8090)
  SEGSIGHT_AID_BRANDS_FILE  - JSON brand vocabulary for logo detection

Example:
  SEGSIGHT_AID_LISTEN=:8090 segsight-aid serve`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set PersistentPreRunE for logging initialization
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads environment variables for worker configuration.
func initConfig() {
	// Environment variables with SEGSIGHT_ prefix
	aidViper.SetEnvPrefix("SEGSIGHT")
	aidViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	aidViper.AutomaticEnv()

	setAidDefaults()
}

// setAidDefaults sets default values for worker configuration.
func setAidDefaults() {
	aidViper.SetDefault("aid.listen", ":8090")
	aidViper.SetDefault("aid.brands_file", "")

	// Logging defaults (shared with main segsight)
	aidViper.SetDefault("logging.level", "info")
	aidViper.SetDefault("logging.format", "json")
}

// initLogging configures the slog logger for the worker.
func initLogging() error {
	// Start with config/env values
	level := aidViper.GetString("logging.level")
	format := aidViper.GetString("logging.format")

	// Override with CLI flags only if explicitly set
	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	// Apply defaults if still empty
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}

	// Handle "warning" as an alias for "warn"
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName+"-aid")
	observability.SetDefault(logger)

	return nil
}

// GetAidViper returns the worker-specific viper instance.
// This is used by subcommands to access configuration.
func GetAidViper() *viper.Viper {
	return aidViper
}
