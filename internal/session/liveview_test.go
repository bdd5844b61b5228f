package session

import (
	"testing"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

type recordingBus struct {
	events []string
}

func (b *recordingBus) Publish(eventType string, data interface{}) {
	b.events = append(b.events, eventType)
}

func TestLiveViewPublishesToAttachedBus(t *testing.T) {
	store, m := newTestManager(t)
	bus := &recordingBus{}
	m.SetEventBus(bus)

	id, err := m.Start(StartParams{Service: "trader", StartSlot: 1, StartedAt: 1000})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	solUsd := 150.0
	if _, err := store.UpsertTradeEvent(&storage.TradeEvent{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy", ExecutedAt: 1500,
		TokenAmount: 10, SolAmount: 1, SolUsdPrice: &solUsd,
	}); err != nil {
		t.Fatalf("UpsertTradeEvent: %v", err)
	}
	if err := store.RebuildPnLFor(1, "MintAAA"); err != nil {
		t.Fatalf("RebuildPnLFor: %v", err)
	}

	view, err := m.LiveView(LiveViewParams{SessionID: id, WalletID: 1, CoinMint: "MintAAA", CurrentPriceSol: 0.2})
	if err != nil {
		t.Fatalf("LiveView: %v", err)
	}
	if view.Mint == nil {
		t.Fatalf("expected a per-mint view when no tradeUuid is given")
	}
	if len(bus.events) != 1 || bus.events[0] != "live_view" {
		t.Fatalf("expected one live_view publish, got %v", bus.events)
	}
}

func TestLiveViewWithoutBusDoesNotPanic(t *testing.T) {
	_, m := newTestManager(t)

	id, err := m.Start(StartParams{Service: "trader", StartSlot: 1, StartedAt: 1000})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := m.LiveView(LiveViewParams{SessionID: id, WalletID: 1, CoinMint: "MintAAA", CurrentPriceSol: 0.2}); err != nil {
		t.Fatalf("LiveView: %v", err)
	}
}

func TestHubPublishWithNoClientsDoesNotBlock(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Publish("live_view", map[string]int{"a": 1})
	if hub.ClientCount() != 0 {
		t.Fatalf("expected no clients")
	}
}
