package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/NFTCall-xyz/nftcall-core/internal/crypto"
	"github.com/NFTCall-xyz/nftcall-core/internal/pipeline"
	"github.com/NFTCall-xyz/nftcall-core/internal/server"
	"github.com/NFTCall-xyz/nftcall-core/internal/server/handler"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the API and the event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, core)
	a.startHTTPServer(ctx, g, deps, core, nil)
	return g.Wait()
}

// ArchiveMode only runs the event archiver. trigger may be nil.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies, trigger <-chan struct{}) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if !a.cfg.Postgres.Enabled {
		a.logger.WarnContext(ctx, "archive mode without postgres has no events to archive")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps, trigger)
	return g.Wait()
}

// FullMode serves the API and runs the archiver when it is enabled. The
// archive trigger endpoint is registered only then.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, core)

	var trigger chan struct{}
	if a.cfg.Archive.Enabled {
		trigger = make(chan struct{}, 1)
		a.startArchiver(ctx, g, deps, trigger)
	}
	a.startHTTPServer(ctx, g, deps, core, trigger)
	return g.Wait()
}

// startCore runs the hub and the notification worker.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, core *Core) {
	g.Go(func() error {
		return core.Hub.Run(ctx)
	})
	g.Go(func() error {
		return core.Events.Run(ctx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, trigger <-chan struct{}) {
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron, trigger)
	})
}

// startHTTPServer adds the HTTP server to g and shuts it down gracefully when
// ctx is cancelled. trigger is optional; when nil the archive trigger
// endpoint answers 503.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	core *Core,
	trigger chan<- struct{},
) {
	var treasury common.Address
	if a.cfg.Server.Treasury != "" {
		treasury = common.HexToAddress(a.cfg.Server.Treasury)
	}

	events := handler.NewEventHandler(deps.EventStore, a.logger)
	if deps.SignalBus != nil {
		events.WithReplay(core.Events)
	}
	archive := handler.NewArchiveHandler(trigger, a.logger)
	if l, ok := deps.Archiver.(handler.ArchiveLister); ok {
		archive.WithArchives(l)
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Oracle:      handler.NewOracleHandler(core.Oracle, a.logger),
		Pools:       handler.NewPoolHandler(core.Pools, a.logger).WithCredits(core.Credits),
		Collections: handler.NewCollectionHandler(core.Pools, a.logger),
		Events:      events,
		Payouts:     handler.NewPayoutHandler(core.Payouts, treasury, a.logger),
		Credits:     handler.NewCreditHandler(core.Credits, treasury, a.logger),
		Archive:     archive,
	}

	signing := crypto.DefaultDomain
	signing.ChainID = a.cfg.Server.ChainID
	verifier := crypto.NewVerifier(signing, a.cfg.Server.SignatureSkew.Duration)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, core.Hub, verifier, deps.NonceStore, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
