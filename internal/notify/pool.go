package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Describe renders a pool event as a notification title and body. Amounts
// are shown in ETH.
func Describe(ev domain.PoolEvent) (title, message string) {
	short := ev.Collection.Hex()
	if len(short) > 10 {
		short = short[:10]
	}
	var b strings.Builder
	switch ev.Kind {
	case domain.EventOpenCall:
		title = fmt.Sprintf("Call opened on %s #%d", short, ev.TokenID)
		fmt.Fprintf(&b, "buyer %s\nstrike %s ETH\npremium %s ETH (owner) + %s ETH (reserve)\nexpires %s",
			ev.Actor.Hex(), domain.FormatEther(ev.StrikePrice),
			domain.FormatEther(ev.PremiumToOwner), domain.FormatEther(ev.PremiumToReserve),
			time.Unix(int64(ev.EndTime), 0).UTC().Format(time.RFC3339))
	case domain.EventExerciseCall:
		title = fmt.Sprintf("Call exercised on %s #%d", short, ev.TokenID)
		fmt.Fprintf(&b, "buyer %s paid %s ETH strike", ev.Actor.Hex(), domain.FormatEther(ev.StrikePrice))
	case domain.EventWithdrawETH, domain.EventCollectProtocol:
		title = fmt.Sprintf("%s from %s", strings.ReplaceAll(string(ev.Kind), "_", " "), short)
		fmt.Fprintf(&b, "%s ETH to %s", domain.FormatEther(ev.ValueOut), ev.Counterparty.Hex())
	case domain.EventPaused, domain.EventUnpaused:
		title = fmt.Sprintf("Pool %s %s", short, ev.Kind)
		fmt.Fprintf(&b, "by %s", ev.Actor.Hex())
	default:
		title = fmt.Sprintf("%s on %s #%d", ev.Kind, short, ev.TokenID)
		fmt.Fprintf(&b, "by %s", ev.Actor.Hex())
	}
	return title, b.String()
}

// PoolEvent notifies about ev when its kind passes the filter.
func (n *Notifier) PoolEvent(ctx context.Context, ev domain.PoolEvent) error {
	if !n.Enabled() || !n.Allows(string(ev.Kind)) {
		return nil
	}
	title, msg := Describe(ev)
	return n.dispatch(ctx, title, msg)
}
