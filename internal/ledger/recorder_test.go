package ledger

import (
	"testing"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

func newTestRecorder(t *testing.T, service string) (*storage.Storage, *Recorder) {
	t.Helper()
	store := newTestStore(t)
	resolver := NewResolver(store)
	applier := NewApplier(store)
	rec := NewRecorder(Config{Store: store, Resolver: resolver, Applier: applier, Service: service})
	return store, rec
}

func TestRecorderRecordMintsUUIDForFirstBuy(t *testing.T) {
	store, rec := newTestRecorder(t, "")

	saved, err := rec.Record(&TradeInput{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy",
		ExecutedAt: 1_700_000_000, TokenAmount: 100, SolAmount: 1,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if saved.TradeUUID == nil || *saved.TradeUUID == "" {
		t.Fatalf("expected a minted uuid")
	}

	run, err := store.FindOpenPositionRun(1, "MintAAA")
	if err != nil {
		t.Fatalf("FindOpenPositionRun: %v", err)
	}
	if run.TradeUUID != *saved.TradeUUID {
		t.Fatalf("expected the open run to carry the recorded uuid")
	}
}

func TestRecorderNormalizesSecondsEpoch(t *testing.T) {
	_, rec := newTestRecorder(t, "")

	saved, err := rec.Record(&TradeInput{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy",
		ExecutedAt: 1_700_000_000, TokenAmount: 100, SolAmount: 1,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if saved.ExecutedAt != 1_700_000_000*1000 {
		t.Fatalf("expected seconds-epoch normalized to ms, got %d", saved.ExecutedAt)
	}
}

func TestRecorderSecondSellReusesOpeningUUID(t *testing.T) {
	store, rec := newTestRecorder(t, "")

	buy, err := rec.Record(&TradeInput{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy",
		ExecutedAt: 1_700_000_000_000, TokenAmount: 100, SolAmount: 1,
	})
	if err != nil {
		t.Fatalf("Record (buy): %v", err)
	}

	sell, err := rec.Record(&TradeInput{
		Txid: "tx2", WalletID: 1, CoinMint: "MintAAA", Side: "sell",
		ExecutedAt: 1_700_000_001_000, TokenAmount: 100, SolAmount: 1.5,
	})
	if err != nil {
		t.Fatalf("Record (sell): %v", err)
	}
	if sell.TradeUUID == nil || *sell.TradeUUID != *buy.TradeUUID {
		t.Fatalf("expected sell to reuse the buy's uuid")
	}

	if _, err := store.FindOpenPositionRun(1, "MintAAA"); err != storage.ErrPositionRunNotFound {
		t.Fatalf("expected the run to be closed after the draining sell, got %v", err)
	}
}

func TestRecorderUpsertMergesWithoutNullingExistingFields(t *testing.T) {
	_, rec := newTestRecorder(t, "")

	if _, err := rec.Record(&TradeInput{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy",
		ExecutedAt: 1_700_000_000_000, TokenAmount: 100, SolAmount: 1,
		Program: strPtr("jupiter"),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	saved, err := rec.Record(&TradeInput{
		Txid: "tx1", WalletID: 1, CoinMint: "MintAAA", Side: "buy",
		ExecutedAt: 1_700_000_000_000, TokenAmount: 100, SolAmount: 1,
	})
	if err != nil {
		t.Fatalf("Record (resubmit): %v", err)
	}
	if saved.Program == nil || *saved.Program != "jupiter" {
		t.Fatalf("expected program to survive a resubmission that omits it, got %v", saved.Program)
	}
}

func TestRecorderRecordPastSkipsPositionsAndTagsProvenance(t *testing.T) {
	store, rec := newTestRecorder(t, "backfill-service")

	saved, err := rec.RecordPast(&TradeInput{
		Txid: "tx-past", WalletID: 1, CoinMint: "MintAAA", Side: "buy",
		ExecutedAt: 1_700_000_000_000, TokenAmount: 100, SolAmount: 1,
	}, "imported from legacy export")
	if err != nil {
		t.Fatalf("RecordPast: %v", err)
	}
	if saved.DecisionLabel == nil || *saved.DecisionLabel != pastTradeBackfillLabel {
		t.Fatalf("expected decision label %q, got %v", pastTradeBackfillLabel, saved.DecisionLabel)
	}
	if saved.DecisionReason == nil || *saved.DecisionReason != "imported from legacy export" {
		t.Fatalf("expected decision reason to carry the note, got %v", saved.DecisionReason)
	}
	if saved.SessionID == nil || *saved.SessionID != "unknown" {
		t.Fatalf("expected session \"unknown\" with no matching session, got %v", saved.SessionID)
	}

	if _, err := store.FindOpenPositionRun(1, "MintAAA"); err != storage.ErrPositionRunNotFound {
		t.Fatalf("expected recordPast not to create a position run, got %v", err)
	}
}

func TestRecorderRecordPastUsesSessionActiveAtExecutedAt(t *testing.T) {
	store, rec := newTestRecorder(t, "backfill-service")

	if err := store.InsertSession(&storage.Session{
		SessionID: "sess-1", Service: "backfill-service", StartedAt: 1_700_000_000_000,
	}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	saved, err := rec.RecordPast(&TradeInput{
		Txid: "tx-past", WalletID: 1, CoinMint: "MintAAA", Side: "buy",
		ExecutedAt: 1_700_000_050_000, TokenAmount: 100, SolAmount: 1,
	}, "note")
	if err != nil {
		t.Fatalf("RecordPast: %v", err)
	}
	if saved.SessionID == nil || *saved.SessionID != "sess-1" {
		t.Fatalf("expected session sess-1, got %v", saved.SessionID)
	}
}

func TestRecorderRecordRejectsMissingFields(t *testing.T) {
	_, rec := newTestRecorder(t, "")

	_, err := rec.Record(&TradeInput{WalletID: 1, CoinMint: "MintAAA", Side: "buy"})
	if err == nil {
		t.Fatalf("expected validation error for missing txid")
	}
}
