package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/oracle"
)

// OracleUpdate is broadcast on the oracle channel after every change.
type OracleUpdate struct {
	Action string              `json:"action"`
	Assets []oracleAssetUpdate `json:"assets,omitempty"`
	Paused *bool               `json:"paused,omitempty"`
}

type oracleAssetUpdate struct {
	Asset common.Address `json:"asset"`
	Price string         `json:"price,omitempty"`
	Vol   uint64         `json:"vol,omitempty"`
}

// OracleService fronts the price oracle for the API and fans out updates.
type OracleService struct {
	oracle *oracle.Oracle
	out    fanout
	logger *slog.Logger
}

// NewOracleService wraps o. bus and hub may be nil.
func NewOracleService(o *oracle.Oracle, bus domain.SignalBus, hub Broadcaster, logger *slog.Logger) *OracleService {
	logger = logger.With(slog.String("component", "oracle_service"))
	return &OracleService{
		oracle: o,
		out:    fanout{bus: bus, hub: hub, logger: logger},
		logger: logger,
	}
}

// Oracle exposes the wrapped oracle.
func (s *OracleService) Oracle() *oracle.Oracle { return s.oracle }

// SetPrices writes raw per-asset prices, grouping them into bucket writes.
func (s *OracleService) SetPrices(ctx context.Context, caller common.Address, prices map[common.Address]oracle.Slot) error {
	outer, entries, err := s.oracle.GroupByBucket(prices)
	if err != nil {
		return err
	}
	if err := s.oracle.BatchSetAssetPrice(ctx, caller, outer, entries); err != nil {
		return err
	}
	assets := make([]common.Address, 0, len(prices))
	for a := range prices {
		assets = append(assets, a)
	}
	return s.announce(ctx, "prices", assets)
}

// BatchSet writes prices in the oracle's native outer/entries form.
func (s *OracleService) BatchSet(ctx context.Context, caller common.Address, outer []uint64, entries [][]oracle.PriceInput) error {
	if err := s.oracle.BatchSetAssetPrice(ctx, caller, outer, entries); err != nil {
		return err
	}
	list := s.oracle.GetAddressList()
	var assets []common.Address
	for i, ob := range outer {
		for _, in := range entries[i] {
			pos := int(ob)*oracle.SlotsPerBucket + int(in.Inner) - 1
			if pos < len(list) {
				assets = append(assets, list[pos])
			}
		}
	}
	return s.announce(ctx, "prices", assets)
}

// AddAssets registers new assets.
func (s *OracleService) AddAssets(ctx context.Context, caller common.Address, assets []common.Address) error {
	if err := s.oracle.AddAssets(ctx, caller, assets); err != nil {
		return err
	}
	return s.announce(ctx, "add_assets", assets)
}

// ReplaceAsset hands old's slot to replacement.
func (s *OracleService) ReplaceAsset(ctx context.Context, caller, old, replacement common.Address) error {
	if err := s.oracle.ReplaceAsset(ctx, caller, old, replacement); err != nil {
		return err
	}
	return s.announce(ctx, "replace_asset", []common.Address{replacement})
}

// SetPause pauses or resumes price updates.
func (s *OracleService) SetPause(ctx context.Context, caller common.Address, paused bool) error {
	if err := s.oracle.SetPause(ctx, caller, paused); err != nil {
		return err
	}
	s.publish(ctx, OracleUpdate{Action: "pause", Paused: &paused})
	return nil
}

func (s *OracleService) announce(ctx context.Context, action string, assets []common.Address) error {
	upd := OracleUpdate{Action: action}
	if len(assets) > 0 {
		quotes, err := s.oracle.GetAssets(ctx, assets)
		if err != nil {
			return fmt.Errorf("oracle service: read back: %w", err)
		}
		for _, q := range quotes {
			upd.Assets = append(upd.Assets, oracleAssetUpdate{Asset: q.Asset, Price: q.Price.Dec(), Vol: q.Vol})
		}
	}
	s.publish(ctx, upd)
	return nil
}

func (s *OracleService) publish(ctx context.Context, upd OracleUpdate) {
	payload, err := json.Marshal(map[string]any{
		"type":    "oracle_update",
		"channel": domain.OracleChannel,
		"payload": upd,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "encode oracle update failed", slog.String("error", err.Error()))
		return
	}
	s.out.send(ctx, domain.OracleChannel, payload)
}
