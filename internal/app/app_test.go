package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/config"
	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/store/memory"
)

var (
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	guardian   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	asset      = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	registryAt = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Oracle.Owner = owner.Hex()
	cfg.Oracle.Operator = operator.Hex()
	cfg.Oracle.EmergencyAdmins = []string{guardian.Hex()}
	cfg.Oracle.Assets = []string{asset.Hex()}
	cfg.Registry.Address = registryAt.Hex()
	cfg.Registry.Owner = owner.Hex()
	cfg.Collections = []config.CollectionConfig{{Address: asset.Hex(), Name: "azuki"}}
	return &cfg
}

func TestBuildCoreInMemory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	deps, cleanup, err := Wire(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer cleanup()
	if deps.SignalBus != nil || deps.RateLimiter != nil || deps.LockManager != nil {
		t.Fatal("redis-backed dependencies should be nil when redis is disabled")
	}
	if _, ok := deps.NonceStore.(*memory.NonceStore); !ok {
		t.Fatalf("expected in-memory nonce store, got %T", deps.NonceStore)
	}
	if len(deps.HealthChecks) != 0 {
		t.Fatalf("expected no health checks, got %d", len(deps.HealthChecks))
	}

	core, err := BuildCore(ctx, cfg, deps, quietLogger())
	if err != nil {
		t.Fatalf("build core: %v", err)
	}
	o := core.Oracle.Oracle()
	if o.Owner() != owner || o.Operator() != operator || !o.IsEmergencyAdmin(guardian) {
		t.Fatalf("oracle roles not applied: owner %s operator %s", o.Owner().Hex(), o.Operator().Hex())
	}
	if got := o.GetAddressList(); len(got) != 1 || got[0] != asset {
		t.Fatalf("unexpected oracle assets: %v", got)
	}
	p, err := core.Pools.Pool(asset)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if p.Address() == (common.Address{}) {
		t.Fatal("pool has no address")
	}

	// A second build over the same oracle backend restores instead of
	// initializing again.
	again, err := BuildCore(ctx, cfg, deps, quietLogger())
	if err != nil {
		t.Fatalf("rebuild core: %v", err)
	}
	if again.Oracle.Oracle().Owner() != owner {
		t.Fatal("restored oracle lost its owner")
	}
}

func TestBuildCoreRejectsMeshMismatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Collections = nil
	deps, cleanup, err := Wire(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer cleanup()

	cfg.Premium.MeshPath = "testdata/does-not-exist.json"
	if _, err := BuildCore(ctx, cfg, deps, quietLogger()); err == nil {
		t.Fatal("expected an error for a missing mesh file")
	}
}

func TestPoolParams(t *testing.T) {
	cfg := config.Defaults()
	p, err := poolParams(cfg.Pool)
	if err != nil {
		t.Fatalf("pool params: %v", err)
	}
	if p.MinimumPremiumToOwner.Uint64() != 100_000_000_000_000 || len(p.Durations) != 4 {
		t.Fatalf("unexpected params: %+v", p)
	}

	cfg.Pool.StrikeGaps = []uint64{1000, 0}
	cfg.Pool.DefaultStrikeGapIdx = 0
	if _, err := poolParams(cfg.Pool); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unordered gaps, got %v", err)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "trade"
	a := New(cfg, quietLogger())
	defer a.Close()
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}
