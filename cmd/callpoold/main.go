// Command callpoold serves the NFT call pool protocol. The mode in the
// config file picks what runs in this process: the HTTP API and websocket
// hub ("server"), the event archiver ("archive"), or both ("full").
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NFTCall-xyz/nftcall-core/internal/app"
	"github.com/NFTCall-xyz/nftcall-core/internal/config"
)

func main() {
	configPath := flag.String("config", "callpool.toml", "config file; empty means defaults plus CALLPOOL_* env")
	checkOnly := flag.Bool("check", false, "validate the configuration and exit")
	flag.Parse()

	if err := run(*configPath, *checkOnly); err != nil {
		fmt.Fprintf(os.Stderr, "callpoold: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, checkOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("path", configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)
	if checkOnly {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	err = application.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("call pool stopped", slog.String("mode", cfg.Mode))
		return nil
	default:
		logger.Error("call pool exited", slog.String("error", err.Error()))
		return err
	}
}

// newLogger builds the JSON logger at the configured level. Unknown levels
// fall back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
