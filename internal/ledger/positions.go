package ledger

import (
	"fmt"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

// Applier drives the position-run state machine from trade events.
type Applier struct {
	store *storage.Storage
	log   *logging.Logger
}

// NewApplier creates a position-run applier backed by store.
func NewApplier(store *storage.Storage) *Applier {
	return &Applier{
		store: store,
		log:   logging.GetDefault().Component("ledger.positions"),
	}
}

// AppliedPosition describes the effect ApplyTrade had on the position-run
// table for one trade.
type AppliedPosition struct {
	PositionID int64
	Opened     bool
	Closed     bool
	Orphan     bool
}

// ApplyTrade transitions the position-run state machine for t, per the
// rules in §4.3: open a run on the first buy, increment/decrement holdings
// on subsequent trades, and close the run when current holdings settle to
// zero. A sell with no open run creates and immediately closes an orphan
// run so the trade still has a home.
//
// Concurrent opens for the same (walletId, mint) are resolved by retrying
// once against the partial unique index: if CreateOpenPositionRun loses the
// race, the applier re-reads the now-existing open run and applies against
// it instead of failing the trade.
func (a *Applier) ApplyTrade(t *storage.TradeEvent) (*AppliedPosition, error) {
	run, err := a.store.FindOpenPositionRun(t.WalletID, t.CoinMint)
	if err == storage.ErrPositionRunNotFound {
		return a.applyToNoOpenRun(t)
	}
	if err != nil {
		return nil, fmt.Errorf("apply trade: find open position run: %w", err)
	}
	return a.applyToOpenRun(run, t)
}

func (a *Applier) applyToNoOpenRun(t *storage.TradeEvent) (*AppliedPosition, error) {
	uuid := ""
	if t.TradeUUID != nil {
		uuid = *t.TradeUUID
	}

	if t.Side == "buy" {
		priceSol, priceUsd := 0.0, 0.0
		if t.PriceSolPerToken != nil {
			priceSol = *t.PriceSolPerToken
		}
		if t.PriceUsdPerToken != nil {
			priceUsd = *t.PriceUsdPerToken
		}

		run, err := a.store.CreateOpenPositionRun(&storage.PositionRun{
			WalletID:           t.WalletID,
			CoinMint:           t.CoinMint,
			TradeUUID:          uuid,
			OpenAt:             t.ExecutedAt,
			LastTradeAt:        t.ExecutedAt,
			EntryTokenAmount:   t.TokenAmount,
			CurrentTokenAmount: t.TokenAmount,
			TotalTokensBought:  t.TokenAmount,
			EntryPriceSol:      priceSol,
			EntryPriceUsd:      priceUsd,
			LastPriceSol:       priceSol,
			LastPriceUsd:       priceUsd,
			StrategyID:         derefStr(t.StrategyID),
			StrategyName:       derefStr(t.StrategyName),
		})
		if err == storage.ErrOpenPositionRunExists {
			existing, ferr := a.store.FindOpenPositionRun(t.WalletID, t.CoinMint)
			if ferr != nil {
				return nil, fmt.Errorf("apply trade: retry after race: %w", ferr)
			}
			return a.applyToOpenRun(existing, t)
		}
		if err != nil {
			return nil, fmt.Errorf("apply trade: create open position run: %w", err)
		}
		return &AppliedPosition{PositionID: run.PositionID, Opened: true}, nil
	}

	a.log.Warn("sell with no open position run, recording orphan run",
		"walletId", t.WalletID, "mint", t.CoinMint, "txid", t.Txid)

	run, err := a.store.CreateOrphanClosedRun(&storage.PositionRun{
		WalletID:        t.WalletID,
		CoinMint:        t.CoinMint,
		TradeUUID:       uuid,
		OpenAt:          t.ExecutedAt,
		ClosedAt:        t.ExecutedAt,
		LastTradeAt:     t.ExecutedAt,
		TotalTokensSold: t.TokenAmount,
		StrategyID:      derefStr(t.StrategyID),
		StrategyName:    derefStr(t.StrategyName),
	})
	if err != nil {
		return nil, fmt.Errorf("apply trade: create orphan closed run: %w", err)
	}
	return &AppliedPosition{PositionID: run.PositionID, Opened: true, Closed: true, Orphan: true}, nil
}

func (a *Applier) applyToOpenRun(run *storage.PositionRun, t *storage.TradeEvent) (*AppliedPosition, error) {
	switch t.Side {
	case "buy":
		priceSol, priceUsd := run.LastPriceSol, run.LastPriceUsd
		if t.PriceSolPerToken != nil {
			priceSol = *t.PriceSolPerToken
		}
		if t.PriceUsdPerToken != nil {
			priceUsd = *t.PriceUsdPerToken
		}
		if err := a.store.ApplyBuy(run.PositionID, t.TokenAmount, priceSol, priceUsd, t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("apply trade: apply buy: %w", err)
		}
		return &AppliedPosition{PositionID: run.PositionID}, nil

	case "sell":
		closed, err := a.store.ApplySell(run.PositionID, t.TokenAmount, t.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("apply trade: apply sell: %w", err)
		}
		return &AppliedPosition{PositionID: run.PositionID, Closed: closed}, nil

	default:
		return nil, fmt.Errorf("apply trade: unknown side %q", t.Side)
	}
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
