package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirerelay/internal/app"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/log"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type flags struct {
	configPath string
	overrides  config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "wirerelay",
		Short:         "Minimal WebSocket chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	fs := root.Flags()
	fs.StringVar(&f.configPath, "config", "", "path to config file (default ./config.yaml)")
	fs.StringVar(&f.overrides.Addr, "addr", "", "relay listen address")
	fs.StringVar(&f.overrides.AdminAddr, "admin-addr", "", "admin HTTP listen address (disabled when empty)")
	fs.StringVar(&f.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func run(ctx context.Context, f flags) error {
	bootLevel := f.overrides.LogLevel
	if bootLevel == "" {
		bootLevel = "info"
	}
	boot := log.New(bootLevel, "")

	cfg, path, err := config.Load(boot, f.configPath)
	if err != nil {
		boot.Error().Err(err).Str("config", path).Msg("load config")
		return err
	}
	cfg.UpdateFrom(f.overrides)

	logger := log.New(cfg.LogLevel, cfg.LogFile)
	logger.Info().Str("config", path).Str("version", version).Msg("config loaded")

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("init app")
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("addr", cfg.Addr).Msg("starting wirerelay")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
