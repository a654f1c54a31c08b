package cli

import (
	"fmt"

	"github.com/harun/wabridge/internal/config"
	"github.com/harun/wabridge/internal/daemon"
	"github.com/harun/wabridge/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the wabridge daemon in the foreground",
	Long: `Run the wabridge daemon in the foreground until SIGINT or SIGTERM.
Stored sessions are restored on start and stay paired across restarts.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if daemon.IsRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    true,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		_ = d.Stop()
		return err
	}

	configPath := config.NewLoader(cfgFile).GetConfigPath()
	if err := d.WatchConfig(configPath); err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("Config changes will not be applied until restart")
	}

	d.Wait()
	return nil
}
