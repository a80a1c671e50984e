package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/objectfs/cachereclaim/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the reclaim daemon",
	Long: `Start reclaimd in the foreground.

Every volume listed in the configuration is mounted and joined to the reclaim
registry. The daemon samples the heap, requests reclaim passes while it is
above the watermark and exports Prometheus metrics until it receives SIGINT
or SIGTERM, then unmounts every volume.

Examples:
  # Start with defaults
  reclaimd start

  # Start with a config file
  reclaimd start --config /etc/reclaimd/config.yaml

  # Override settings from the environment
  RECLAIMD_HIGH_WATERMARK=2GB RECLAIMD_LOG_LEVEL=DEBUG reclaimd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	logger.Info("configuration loaded", map[string]interface{}{
		"source":  configSource(),
		"volumes": len(cfg.Volumes),
	})

	d, err := daemon.New(cfg, daemon.Options{Logger: logger})
	if err != nil {
		logger.WithError(err).Error("failed to initialize daemon")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		logger.WithError(err).Error("daemon stopped with errors")
		return err
	}
	logger.Info("daemon stopped gracefully")
	return nil
}
