package session

import (
	"testing"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

func newTestManager(t *testing.T) (*storage.Storage, *Manager) {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, NewManager(store)
}

func TestStartRejectsNonPositiveSlot(t *testing.T) {
	_, m := newTestManager(t)
	if _, err := m.Start(StartParams{Service: "trader", StartSlot: 0}); err == nil {
		t.Fatalf("expected error for zero start slot")
	}
}

func TestStartCreatesOpenSession(t *testing.T) {
	store, m := newTestManager(t)

	id, err := m.Start(StartParams{Service: "trader", StartSlot: 100, StartedAt: 1000})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess, err := store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.IsOpen() {
		t.Fatalf("expected new session to be open")
	}
}

func TestStartClosesStaleSessionAsCrash(t *testing.T) {
	store, m := newTestManager(t)

	firstID, err := m.Start(StartParams{Service: "trader", StartSlot: 100, StartedAt: 1000})
	if err != nil {
		t.Fatalf("Start (first): %v", err)
	}

	secondID, err := m.Start(StartParams{Service: "trader", StartSlot: 200, StartedAt: 2000})
	if err != nil {
		t.Fatalf("Start (second): %v", err)
	}
	if firstID == secondID {
		t.Fatalf("expected a distinct session id on restart")
	}

	first, err := store.GetSession(firstID)
	if err != nil {
		t.Fatalf("GetSession(first): %v", err)
	}
	if first.IsOpen() || first.EndReason != "crash" {
		t.Fatalf("expected stale session closed as crash, got %+v", first)
	}

	active, err := m.GetActive("trader")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active.SessionID != secondID {
		t.Fatalf("expected active session to be the second one")
	}
}

func TestRefreshAggregatesTradeLedger(t *testing.T) {
	store, m := newTestManager(t)

	id, err := m.Start(StartParams{Service: "trader", StartSlot: 1, StartedAt: 1000})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sessionID := id
	solUsd := 150.0
	if _, err := store.UpsertTradeEvent(&storage.TradeEvent{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy", ExecutedAt: 1500,
		TokenAmount: 10, SolAmount: 1, FeesUsd: 0.5, SolUsdPrice: &solUsd, SessionID: &sessionID,
	}); err != nil {
		t.Fatalf("UpsertTradeEvent: %v", err)
	}
	if _, err := store.UpsertTradeEvent(&storage.TradeEvent{
		Txid: "tx2", WalletID: 1, CoinMint: "MintAAA", Side: "sell", ExecutedAt: 1600,
		TokenAmount: 10, SolAmount: 1.2, FeesUsd: 0.3, SolUsdPrice: &solUsd, SessionID: &sessionID,
	}); err != nil {
		t.Fatalf("UpsertTradeEvent: %v", err)
	}

	if err := m.Refresh(id, 50, 9999); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	sess, err := store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.TradesCount != 2 {
		t.Fatalf("expected trades count 2, got %d", sess.TradesCount)
	}
	if sess.FeesUsd != 0.8 {
		t.Fatalf("expected fees 0.8, got %v", sess.FeesUsd)
	}
	if sess.BuysUsd != 150 {
		t.Fatalf("expected buys usd 150, got %v", sess.BuysUsd)
	}
	if sess.SellsUsd != 180 {
		t.Fatalf("expected sells usd 180, got %v", sess.SellsUsd)
	}
}

func TestEndClosesSessionCleanByDefault(t *testing.T) {
	store, m := newTestManager(t)

	id, err := m.Start(StartParams{Service: "trader", StartSlot: 1, StartedAt: 1000})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := m.End(EndParams{SessionID: id, EndSlot: 10, EndBlockTime: 2000}); err != nil {
		t.Fatalf("End: %v", err)
	}

	sess, err := store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.IsOpen() {
		t.Fatalf("expected session to be closed")
	}
	if sess.EndReason != "clean" {
		t.Fatalf("expected default end reason \"clean\", got %q", sess.EndReason)
	}
}

func TestGetPastSessionIDAcceptsSecondsOrMs(t *testing.T) {
	store, m := newTestManager(t)

	if err := store.InsertSession(&storage.Session{SessionID: "s1", Service: "trader", StartedAt: 1_700_000_000_000}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	idMs, err := m.GetPastSessionID("trader", 1_700_000_010_000)
	if err != nil {
		t.Fatalf("GetPastSessionID (ms): %v", err)
	}
	if idMs != "s1" {
		t.Fatalf("expected s1 for ms timestamp, got %q", idMs)
	}

	idSec, err := m.GetPastSessionID("trader", 1_700_000_010)
	if err != nil {
		t.Fatalf("GetPastSessionID (sec): %v", err)
	}
	if idSec != "s1" {
		t.Fatalf("expected s1 for seconds timestamp, got %q", idSec)
	}
}

func TestGetActiveIDEmptyWhenNoneOpen(t *testing.T) {
	_, m := newTestManager(t)
	id, err := m.GetActiveID("trader")
	if err != nil {
		t.Fatalf("GetActiveID: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
}
