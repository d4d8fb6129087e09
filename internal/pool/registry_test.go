package pool

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/token"
)

func TestNewRegistryValidation(t *testing.T) {
	ok := RegistryConfig{Address: factory, Owner: deployer, Payout: &recordingPayout{}, Params: testParams()}

	tests := []struct {
		name   string
		mutate func(*RegistryConfig)
		want   error
	}{
		{"zero address", func(c *RegistryConfig) { c.Address = zeroAddr }, domain.ErrInvalidAddress},
		{"zero owner", func(c *RegistryConfig) { c.Owner = zeroAddr }, domain.ErrInvalidAddress},
		{"no payout", func(c *RegistryConfig) { c.Payout = nil }, domain.ErrInvalidArgument},
		{"bad params", func(c *RegistryConfig) { c.Params.ReserveBps = bps + 1 }, domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		cfg := ok
		cfg.Params = testParams()
		tt.mutate(&cfg)
		_, err := NewRegistry(cfg)
		expectErr(t, err, tt.want)
	}
	if _, err := NewRegistry(ok); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}

func TestCreatePool(t *testing.T) {
	f := newFixture(t)

	p, ok := f.registry.GetPool(collection)
	if !ok || p != f.pool {
		t.Fatal("registry should index the fixture pool")
	}
	if f.pool.Address() != crypto.CreateAddress(factory, 0) {
		t.Fatalf("first pool address %s", f.pool.Address().Hex())
	}
	if f.pool.Factory().Owner() != deployer {
		t.Fatal("pool factory should be the registry")
	}
	if f.pool.Collection() != collection || f.pool.NFT() != f.nft {
		t.Fatal("pool should keep its collection")
	}
	if f.pool.Oracle() != f.oracle {
		t.Fatal("pool should keep its oracle")
	}
	if _, ok := f.pool.Premium().(fakePremium); !ok {
		t.Fatal("pool should keep its premium source")
	}

	_, err := f.registry.CreatePool(f.ctx, deployer, collection, f.nft, f.oracle, fakePremium{})
	expectErr(t, err, domain.ErrPoolExists)

	second := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	p2, err := f.registry.CreatePool(f.ctx, deployer, second, token.NewRegistry("doodles"), f.oracle, fakePremium{})
	if err != nil {
		t.Fatalf("second pool: %v", err)
	}
	if p2.Address() != crypto.CreateAddress(factory, 1) || p2.Address() == f.pool.Address() {
		t.Fatalf("second pool address %s", p2.Address().Hex())
	}
	pools := f.registry.Pools()
	if len(pools) != 2 || pools[0] != f.pool || pools[1] != p2 {
		t.Fatal("pools should be listed in creation order")
	}
}

func TestCreatePoolRejects(t *testing.T) {
	f := newFixture(t)
	next := common.HexToAddress("0x00000000000000000000000000000000000000c2")

	_, err := f.registry.CreatePool(f.ctx, user, next, f.nft, f.oracle, fakePremium{})
	expectErr(t, err, domain.ErrUnauthorized)
	_, err = f.registry.CreatePool(f.ctx, deployer, zeroAddr, f.nft, f.oracle, fakePremium{})
	expectErr(t, err, domain.ErrInvalidAddress)
	_, err = f.registry.CreatePool(f.ctx, deployer, next, nil, f.oracle, fakePremium{})
	expectErr(t, err, domain.ErrInvalidAddress)
	_, err = f.registry.CreatePool(f.ctx, deployer, next, f.nft, nil, fakePremium{})
	expectErr(t, err, domain.ErrInvalidAddress)
	_, err = f.registry.CreatePool(f.ctx, deployer, next, f.nft, f.oracle, nil)
	expectErr(t, err, domain.ErrInvalidAddress)

	// Rejected calls do not consume an address.
	p, err := f.registry.CreatePool(f.ctx, deployer, next, f.nft, f.oracle, fakePremium{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Address() != crypto.CreateAddress(factory, 1) {
		t.Fatalf("unexpected address %s", p.Address().Hex())
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)

	expectErr(t, f.registry.TransferOwnership(user, user), domain.ErrUnauthorized)
	expectErr(t, f.registry.TransferOwnership(deployer, zeroAddr), domain.ErrInvalidAddress)
	if err := f.registry.TransferOwnership(deployer, other); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if f.registry.Owner() != other {
		t.Fatalf("owner is %s", f.registry.Owner().Hex())
	}
	expectErr(t, f.pool.Pause(f.ctx, deployer), domain.ErrUnauthorized)
	if err := f.pool.Pause(f.ctx, other); err != nil {
		t.Fatalf("pause as new owner: %v", err)
	}
}
