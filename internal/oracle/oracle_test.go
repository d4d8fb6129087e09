package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000a4")
)

func assetAddr(i int) common.Address {
	return common.BigToAddress(uint256.NewInt(uint64(0x1000 + i)).ToBig())
}

func newOracle(t *testing.T, n int) (*Oracle, []common.Address) {
	t.Helper()
	ctx := context.Background()
	o, err := New(ctx, NewMemoryBackend())
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	assets := make([]common.Address, n)
	for i := range assets {
		assets[i] = assetAddr(i)
	}
	if err := o.Initialize(ctx, owner, operator, assets); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := o.SetEmergencyAdmin(ctx, owner, admin, true); err != nil {
		t.Fatalf("set emergency admin: %v", err)
	}
	return o, assets
}

func TestIndexesFollowRegistrationOrder(t *testing.T) {
	o, assets := newOracle(t, 10)

	tests := []struct {
		asset int
		want  Index
	}{
		{0, Index{Outer: 0, Inner: 1}},
		{7, Index{Outer: 0, Inner: 8}},
		{8, Index{Outer: 1, Inner: 1}},
		{9, Index{Outer: 1, Inner: 2}},
	}
	for _, tt := range tests {
		if got := o.GetIndexes(assets[tt.asset]); got != tt.want {
			t.Fatalf("asset %d: expected index %+v, got %+v", tt.asset, tt.want, got)
		}
	}
	if got := o.GetIndexes(stranger); got.Inner != 0 {
		t.Fatalf("unregistered asset should have inner index 0, got %d", got.Inner)
	}

	list := o.GetAddressList()
	if len(list) != len(assets) {
		t.Fatalf("expected %d addresses, got %d", len(assets), len(list))
	}
	for i := range list {
		if list[i] != assets[i] {
			t.Fatalf("address %d: expected %s, got %s", i, assets[i].Hex(), list[i].Hex())
		}
	}
}

func TestBatchSetAndReadScaling(t *testing.T) {
	ctx := context.Background()
	o, assets := newOracle(t, 9)

	outer := []uint64{0, 1}
	entries := [][]PriceInput{
		{{Inner: 1, Price: 150, Vol: 80}, {Inner: 8, Price: 65535, Vol: 65535}},
		{{Inner: 1, Price: 1, Vol: 1}},
	}
	if err := o.BatchSetAssetPrice(ctx, operator, outer, entries); err != nil {
		t.Fatalf("batch set: %v", err)
	}

	price, vol, err := o.GetAsset(ctx, assets[0])
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if want := uint256.NewInt(1_500_000_000_000_000_000); !price.Eq(want) {
		t.Fatalf("expected price %s, got %s", want.Dec(), price.Dec())
	}
	if vol != 800 {
		t.Fatalf("expected vol 800, got %d", vol)
	}

	maxPrice, err := o.GetAssetPrice(ctx, assets[7])
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	want := new(uint256.Int).Mul(uint256.NewInt(65535), uint256.NewInt(priceScale))
	if !maxPrice.Eq(want) {
		t.Fatalf("expected max price %s, got %s", want.Dec(), maxPrice.Dec())
	}
	maxVol, _ := o.GetAssetVol(ctx, assets[7])
	if maxVol != 655350 {
		t.Fatalf("expected max vol 655350, got %d", maxVol)
	}

	// Untouched slots in a written bucket stay zero.
	p, err := o.GetAssetPrice(ctx, assets[3])
	if err != nil || !p.IsZero() {
		t.Fatalf("expected zero price for untouched slot, got %v (err %v)", p, err)
	}

	all, err := o.GetAssets(ctx, []common.Address{assets[8], stranger, assets[0]})
	if err != nil {
		t.Fatalf("get assets: %v", err)
	}
	if all[0].Vol != 10 || !all[1].Price.IsZero() || all[2].Vol != 800 {
		t.Fatalf("unexpected batch read: %+v", all)
	}
}

func TestBatchSetValidation(t *testing.T) {
	ctx := context.Background()
	o, _ := newOracle(t, 8)

	tests := []struct {
		name    string
		caller  common.Address
		outer   []uint64
		entries [][]PriceInput
		want    error
	}{
		{"not operator", stranger, []uint64{0}, [][]PriceInput{{{Inner: 1}}}, domain.ErrUnauthorized},
		{"length mismatch", operator, []uint64{0, 1}, [][]PriceInput{{{Inner: 1}}}, domain.ErrInvalidArgument},
		{"inner zero", operator, []uint64{0}, [][]PriceInput{{{Inner: 0}}}, domain.ErrInvalidIndex},
		{"inner nine", operator, []uint64{0}, [][]PriceInput{{{Inner: 9}}}, domain.ErrInvalidIndex},
		{"outer out of range", operator, []uint64{1}, [][]PriceInput{{{Inner: 1}}}, domain.ErrInvalidIndex},
	}
	for _, tt := range tests {
		err := o.BatchSetAssetPrice(ctx, tt.caller, tt.outer, tt.entries)
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestPauseBlocksPriceWrites(t *testing.T) {
	ctx := context.Background()
	o, assets := newOracle(t, 1)
	entries := [][]PriceInput{{{Inner: 1, Price: 10, Vol: 10}}}

	if err := o.SetPause(ctx, owner, true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("owner is not an emergency admin, expected unauthorized, got %v", err)
	}
	if err := o.SetPause(ctx, admin, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !o.Paused() {
		t.Fatal("expected oracle to be paused")
	}
	if err := o.BatchSetAssetPrice(ctx, operator, []uint64{0}, entries); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if err := o.SetPause(ctx, admin, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := o.BatchSetAssetPrice(ctx, operator, []uint64{0}, entries); err != nil {
		t.Fatalf("batch set after unpause: %v", err)
	}
	if p, _ := o.GetAssetPrice(ctx, assets[0]); p.Uint64() != 10*priceScale {
		t.Fatalf("unexpected price %s", p.Dec())
	}
}

func TestAddAndReplaceAssets(t *testing.T) {
	ctx := context.Background()
	o, assets := newOracle(t, 2)
	fresh := assetAddr(100)

	if err := o.AddAssets(ctx, stranger, []common.Address{fresh}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := o.AddAssets(ctx, owner, []common.Address{{}}); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if err := o.AddAssets(ctx, owner, []common.Address{assets[1]}); !errors.Is(err, domain.ErrAssetExists) {
		t.Fatalf("expected asset exists, got %v", err)
	}
	if err := o.AddAssets(ctx, owner, []common.Address{fresh}); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	if got := o.GetIndexes(fresh); got != (Index{Outer: 0, Inner: 3}) {
		t.Fatalf("unexpected index for added asset: %+v", got)
	}

	replacement := assetAddr(200)
	if err := o.ReplaceAsset(ctx, owner, stranger, replacement); !errors.Is(err, domain.ErrInvalidIndex) {
		t.Fatalf("expected invalid index, got %v", err)
	}
	if err := o.ReplaceAsset(ctx, owner, assets[0], replacement); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := o.GetIndexes(replacement); got != (Index{Outer: 0, Inner: 1}) {
		t.Fatalf("replacement should take the old slot, got %+v", got)
	}
	if got := o.GetIndexes(assets[0]); got.Inner != 0 {
		t.Fatalf("replaced asset should be unregistered, got %+v", got)
	}
}

func TestAdminSetters(t *testing.T) {
	ctx := context.Background()
	o, _ := newOracle(t, 1)

	if err := o.SetOperator(ctx, stranger, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := o.SetOperator(ctx, owner, common.Address{}); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if err := o.SetOperator(ctx, owner, stranger); err != nil {
		t.Fatalf("set operator: %v", err)
	}
	if o.Operator() != stranger {
		t.Fatalf("expected operator %s, got %s", stranger.Hex(), o.Operator().Hex())
	}
	if err := o.SetEmergencyAdmin(ctx, owner, admin, false); err != nil {
		t.Fatalf("revoke admin: %v", err)
	}
	if o.IsEmergencyAdmin(admin) {
		t.Fatal("admin should be revoked")
	}
}

func TestInitializeOncePerRevision(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	o, err := New(ctx, backend)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := o.AddAssets(ctx, owner, []common.Address{assetAddr(1)}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("uninitialized oracle should reject admin calls, got %v", err)
	}
	if err := o.Initialize(ctx, owner, operator, []common.Address{assetAddr(1)}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := o.Initialize(ctx, owner, operator, nil); !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}

	// Same revision over the same backend sees the stored state.
	again, err := New(ctx, backend)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := again.Initialize(ctx, owner, operator, nil); !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized after reload, got %v", err)
	}
	if again.Owner() != owner || len(again.GetAddressList()) != 1 {
		t.Fatal("reloaded oracle lost state")
	}

	// A newer revision may initialise once more and keeps registered assets.
	upgraded, err := New(ctx, backend, WithRevision(Revision+1))
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if err := upgraded.Initialize(ctx, stranger, operator, []common.Address{assetAddr(2)}); err != nil {
		t.Fatalf("initialize new revision: %v", err)
	}
	if upgraded.Owner() != stranger {
		t.Fatalf("expected new owner %s, got %s", stranger.Hex(), upgraded.Owner().Hex())
	}
	if got := upgraded.GetIndexes(assetAddr(2)); got != (Index{Outer: 0, Inner: 2}) {
		t.Fatalf("unexpected index after upgrade: %+v", got)
	}
}

func TestGroupByBucket(t *testing.T) {
	o, assets := newOracle(t, 10)

	outer, entries, err := o.GroupByBucket(map[common.Address]Slot{
		assets[9]: {Price: 3, Vol: 3},
		assets[2]: {Price: 2, Vol: 2},
		assets[0]: {Price: 1, Vol: 1},
	})
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if len(outer) != 2 || outer[0] != 0 || outer[1] != 1 {
		t.Fatalf("unexpected outer indexes %v", outer)
	}
	if len(entries[0]) != 2 || entries[0][0].Inner != 1 || entries[0][1].Inner != 3 {
		t.Fatalf("unexpected bucket 0 entries %+v", entries[0])
	}
	if _, _, err := o.GroupByBucket(map[common.Address]Slot{stranger: {}}); !errors.Is(err, domain.ErrInvalidIndex) {
		t.Fatalf("expected invalid index, got %v", err)
	}
}
