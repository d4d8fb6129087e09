// Package app assembles the call pool daemon: Wire builds the storage,
// cache and notification backends, BuildCore builds the protocol on top of
// them, and the mode functions start the goroutines a mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/NFTCall-xyz/nftcall-core/internal/config"
)

// Operating modes.
const (
	ModeFull    = "full"
	ModeServer  = "server"
	ModeArchive = "archive"
)

// App runs one configured mode and releases its backends on Close.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	cleanup []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run blocks until ctx is cancelled or a mode goroutine fails.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case ModeFull, ModeServer, ModeArchive:
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "call pool starting", slog.String("mode", mode))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.onClose(cleanup)

	if mode == ModeArchive {
		return a.ArchiveMode(ctx, deps, nil)
	}
	core, err := BuildCore(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if mode == ModeServer {
		return a.ServerMode(ctx, deps, core)
	}
	return a.FullMode(ctx, deps, core)
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	a.cleanup = append(a.cleanup, fn)
	a.mu.Unlock()
}

// Close runs the registered cleanups, last first. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	fns := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	a.logger.Info("releasing backends", slog.Int("count", len(fns)))
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
