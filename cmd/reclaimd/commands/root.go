// Package commands implements the reclaimd CLI.
package commands

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/objectfs/cachereclaim/internal/config"
	"github.com/objectfs/cachereclaim/pkg/errors"
	"github.com/objectfs/cachereclaim/pkg/utils"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reclaimd",
	Short: "reclaimd - memory pressure cache reclaim coordinator",
	Long: `reclaimd keeps the metadata caches of every mounted volume in one
registry and frees cache entries fairly across volumes when the process
heap grows past a watermark.

Use "reclaimd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

// FormatError renders a command error for the terminal. Structured errors
// carry their code, context and a recommendation.
func FormatError(err error) string {
	var rerr *errors.ReclaimError
	if stderrors.As(err, &rerr) {
		return rerr.Diagnostic()
	}
	return fmt.Sprintf("Error: %v", err)
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (text, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then RECLAIMD_* environment overrides, then command line flags.
func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()

	if cfgFile != "" {
		if err := cfg.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Global.LogFormat = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configSource describes where the configuration was loaded from
func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "defaults"
}

// newLogger builds the process logger from the global settings
func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, io.Closer, error) {
	logger, closer, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.SetComponentLevels(cfg.Global.ComponentLevels); err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}
