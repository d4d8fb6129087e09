package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/config"
	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/oracle"
	"github.com/NFTCall-xyz/nftcall-core/internal/pool"
	"github.com/NFTCall-xyz/nftcall-core/internal/premium"
	"github.com/NFTCall-xyz/nftcall-core/internal/server/ws"
	"github.com/NFTCall-xyz/nftcall-core/internal/service"
)

// Core is the protocol itself: the oracle, the premium curve and the pools,
// plus the services that persist and broadcast what they do.
type Core struct {
	Hub     *ws.Hub
	Oracle  *service.OracleService
	Pools   *service.PoolService
	Events  *service.EventService
	Payouts *service.PayoutQueue
	Credits *service.CreditLedger
}

// poolParams converts the pool config section into pool parameters.
func poolParams(c config.PoolConfig) (pool.Params, error) {
	minPremium, err := domain.ParseAmount(c.MinimumPremiumWei)
	if err != nil {
		return pool.Params{}, fmt.Errorf("pool params: minimum premium: %w", err)
	}
	minStrike, err := domain.ParseAmount(c.MinimumStrikeWei)
	if err != nil {
		return pool.Params{}, fmt.Errorf("pool params: minimum strike: %w", err)
	}
	p := pool.Params{
		StrikeGaps:            c.StrikeGaps,
		Durations:             c.DurationList(),
		MinimumPremiumToOwner: minPremium,
		MinimumStrikePrice:    minStrike,
		ReserveBps:            c.ReserveBps,
		VolMultiplier:         c.VolMultiplier,
		DefaultStrikeGapIdx:   c.DefaultStrikeGapIdx,
		DefaultDurationIdx:    c.DefaultDurationIdx,
	}
	return p, p.Validate()
}

func addresses(in []string) []common.Address {
	out := make([]common.Address, len(in))
	for i, s := range in {
		out[i] = common.HexToAddress(s)
	}
	return out
}

// BuildCore loads the oracle from its backend, initializes it on first run,
// builds the premium curve and creates a pool for every configured
// collection.
func BuildCore(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Core, error) {
	params, err := poolParams(cfg.Pool)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(deps.SignalBus, logger, ws.Config{
		Mode:           cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: cfg.Server.CORSOrigins,
	})

	// --- Oracle ---
	o, err := oracle.New(ctx, deps.OracleBackend,
		oracle.WithRevision(cfg.Oracle.Revision),
		oracle.WithAudit(deps.AuditStore),
		oracle.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	owner := common.HexToAddress(cfg.Oracle.Owner)
	err = o.Initialize(ctx, owner, common.HexToAddress(cfg.Oracle.Operator), addresses(cfg.Oracle.Assets))
	switch {
	case errors.Is(err, domain.ErrAlreadyInitialized):
		logger.InfoContext(ctx, "oracle state restored",
			slog.Uint64("revision", o.Revision()),
			slog.Int("assets", len(o.GetAddressList())),
		)
	case err != nil:
		return nil, fmt.Errorf("core: %w", err)
	}
	if o.Owner() == owner {
		for _, admin := range addresses(cfg.Oracle.EmergencyAdmins) {
			if o.IsEmergencyAdmin(admin) {
				continue
			}
			if err := o.SetEmergencyAdmin(ctx, owner, admin, true); err != nil {
				return nil, fmt.Errorf("core: %w", err)
			}
		}
	} else {
		logger.WarnContext(ctx, "persisted oracle owner differs from config; emergency admins left unchanged",
			slog.String("owner", o.Owner().Hex()),
		)
	}

	// --- Premium curve ---
	curve, err := premium.Load(cfg.Premium.MeshPath, params.StrikeGaps, params.DurationSeconds())
	if err != nil {
		return nil, fmt.Errorf("core: premium curve: %w", err)
	}
	if curve.Rows() != len(params.StrikeGaps)*len(params.Durations) {
		return nil, fmt.Errorf("core: premium mesh has %d rows, want %d: %w",
			curve.Rows(), len(params.StrikeGaps)*len(params.Durations), domain.ErrInvalidArgument)
	}

	// --- Services and pools ---
	events := service.NewEventService(deps.EventStore, deps.SignalBus, hub, deps.Notifier, logger)
	payouts := service.NewPayoutQueue(deps.PayoutStore, deps.AuditStore, logger)

	registryOwner := common.HexToAddress(cfg.Registry.Owner)
	registry, err := pool.NewRegistry(pool.RegistryConfig{
		Address: common.HexToAddress(cfg.Registry.Address),
		Owner:   registryOwner,
		Payout:  payouts,
		Events:  events,
		Params:  params,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	pools := service.NewPoolService(registry, o, curve, deps.EventStore, deps.LockManager, logger)
	for _, col := range cfg.Collections {
		p, err := pools.AddCollection(ctx, registryOwner, common.HexToAddress(col.Address), col.Name)
		if err != nil {
			return nil, fmt.Errorf("core: collection %s: %w", col.Address, err)
		}
		logger.InfoContext(ctx, "pool ready",
			slog.String("collection", col.Address),
			slog.String("name", col.Name),
			slog.String("pool", p.Address().Hex()),
		)
	}

	return &Core{
		Hub:     hub,
		Oracle:  service.NewOracleService(o, deps.SignalBus, hub, logger),
		Pools:   pools,
		Events:  events,
		Payouts: payouts,
		Credits: service.NewCreditLedger(deps.CreditStore, deps.AuditStore, logger),
	}, nil
}
