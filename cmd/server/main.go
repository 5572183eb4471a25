package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okcorral/roombroker/internal/app"
	"github.com/okcorral/roombroker/internal/config"
	logpkg "github.com/okcorral/roombroker/internal/log"
)

var (
	ConfigFlag   string
	AddrFlag     string
	LogLevelFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "roombroker",
		Short:        "WebSocket broker with channels, RPC and rooms",
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "", "path to config.yaml (default ./config.yaml or $ROOMBROKER_CONFIG_DEFAULT_PATH)")
	rootCmd.PersistentFlags().StringVar(&AddrFlag, "addr", "", "HTTP listen address, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&LogLevelFlag, "log-level", "", "log level, overrides the config file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	bootLog := logpkg.New(config.DefaultLogLevel, true)

	cfg, path, err := config.Load(bootLog, ConfigFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if AddrFlag != "" {
		cfg.Addr = AddrFlag
	}
	if LogLevelFlag != "" {
		cfg.LogLevel = LogLevelFlag
	}

	logger := logpkg.New(cfg.LogLevel, cfg.Verbose)
	logger.Info().Str("config", path).Str("sync_mode", cfg.Rooms.SyncMode).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
