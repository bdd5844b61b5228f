package ledger

import (
	"testing"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

func TestApplierOpensRunOnFirstBuy(t *testing.T) {
	store := newTestStore(t)
	a := NewApplier(store)

	uuid := "uuid-1"
	applied, err := a.ApplyTrade(&storage.TradeEvent{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy", ExecutedAt: 1000,
		TokenAmount: 100, SolAmount: 1, TradeUUID: &uuid,
		PriceSolPerToken: floatPtr(0.01),
	})
	if err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}
	if !applied.Opened {
		t.Fatalf("expected opened=true")
	}

	run, err := store.FindOpenPositionRun(1, "MintAAA")
	if err != nil {
		t.Fatalf("FindOpenPositionRun: %v", err)
	}
	if run.CurrentTokenAmount != 100 || run.TotalTokensBought != 100 {
		t.Fatalf("unexpected run state: %+v", run)
	}
	if run.TradeUUID != "uuid-1" {
		t.Fatalf("expected uuid-1, got %q", run.TradeUUID)
	}
}

func TestApplierAccumulatesSecondBuy(t *testing.T) {
	store := newTestStore(t)
	a := NewApplier(store)

	uuid := "uuid-1"
	if _, err := a.ApplyTrade(&storage.TradeEvent{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy", ExecutedAt: 1000,
		TokenAmount: 100, SolAmount: 1, TradeUUID: &uuid, PriceSolPerToken: floatPtr(0.01),
	}); err != nil {
		t.Fatalf("ApplyTrade (first buy): %v", err)
	}

	applied, err := a.ApplyTrade(&storage.TradeEvent{
		Txid: "tx2", WalletID: 1, CoinMint: "MintAAA", Side: "buy", ExecutedAt: 2000,
		TokenAmount: 50, SolAmount: 0.6, TradeUUID: &uuid, PriceSolPerToken: floatPtr(0.012),
	})
	if err != nil {
		t.Fatalf("ApplyTrade (second buy): %v", err)
	}
	if applied.Opened {
		t.Fatalf("second buy should not re-open a run")
	}

	run, err := store.FindOpenPositionRun(1, "MintAAA")
	if err != nil {
		t.Fatalf("FindOpenPositionRun: %v", err)
	}
	if run.CurrentTokenAmount != 150 || run.TotalTokensBought != 150 {
		t.Fatalf("unexpected accumulated state: %+v", run)
	}
	if run.EntryPriceSol != 0.01 {
		t.Fatalf("expected entry price to be first-wins (0.01), got %v", run.EntryPriceSol)
	}
	if run.LastPriceSol != 0.012 {
		t.Fatalf("expected last price to update to 0.012, got %v", run.LastPriceSol)
	}
}

func TestApplierClosesRunWhenSellDrainsPosition(t *testing.T) {
	store := newTestStore(t)
	a := NewApplier(store)

	uuid := "uuid-1"
	if _, err := a.ApplyTrade(&storage.TradeEvent{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy", ExecutedAt: 1000,
		TokenAmount: 100, SolAmount: 1, TradeUUID: &uuid,
	}); err != nil {
		t.Fatalf("ApplyTrade (buy): %v", err)
	}

	applied, err := a.ApplyTrade(&storage.TradeEvent{
		Txid: "tx2", WalletID: 1, CoinMint: "MintAAA", Side: "sell", ExecutedAt: 2000,
		TokenAmount: 100, SolAmount: 1.5, TradeUUID: &uuid,
	})
	if err != nil {
		t.Fatalf("ApplyTrade (sell): %v", err)
	}
	if !applied.Closed {
		t.Fatalf("expected the draining sell to close the run")
	}

	if _, err := store.FindOpenPositionRun(1, "MintAAA"); err != storage.ErrPositionRunNotFound {
		t.Fatalf("expected no open run after close, got %v", err)
	}
}

func TestApplierCreatesOrphanRunForSellWithNoOpenRun(t *testing.T) {
	store := newTestStore(t)
	a := NewApplier(store)

	applied, err := a.ApplyTrade(&storage.TradeEvent{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "sell", ExecutedAt: 1000,
		TokenAmount: 10, SolAmount: 0.1,
	})
	if err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}
	if !applied.Orphan || !applied.Closed {
		t.Fatalf("expected orphan+closed run, got %+v", applied)
	}

	run, err := store.GetPositionRun(applied.PositionID)
	if err != nil {
		t.Fatalf("GetPositionRun: %v", err)
	}
	if run.IsOpen() {
		t.Fatalf("expected orphan run to be closed")
	}
	if run.TotalTokensSold != 10 {
		t.Fatalf("expected total tokens sold to reflect the orphan sell, got %v", run.TotalTokensSold)
	}
}

func TestApplierClampsOverdrawnSellToZero(t *testing.T) {
	store := newTestStore(t)
	a := NewApplier(store)

	uuid := "uuid-1"
	if _, err := a.ApplyTrade(&storage.TradeEvent{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy", ExecutedAt: 1000,
		TokenAmount: 100, SolAmount: 1, TradeUUID: &uuid,
	}); err != nil {
		t.Fatalf("ApplyTrade (buy): %v", err)
	}

	applied, err := a.ApplyTrade(&storage.TradeEvent{
		Txid: "tx2", WalletID: 1, CoinMint: "MintAAA", Side: "sell", ExecutedAt: 2000,
		TokenAmount: 150, SolAmount: 2, TradeUUID: &uuid,
	})
	if err != nil {
		t.Fatalf("ApplyTrade (overdrawn sell): %v", err)
	}
	if !applied.Closed {
		t.Fatalf("expected overdrawn sell to close the run")
	}

	run, err := store.GetPositionRun(applied.PositionID)
	if err != nil {
		t.Fatalf("GetPositionRun: %v", err)
	}
	if run.CurrentTokenAmount != 0 {
		t.Fatalf("expected current token amount clamped to 0, got %v", run.CurrentTokenAmount)
	}
}
