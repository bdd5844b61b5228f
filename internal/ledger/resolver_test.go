package ledger

import (
	"testing"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

func TestResolverResolveEmptyWhenUnknown(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store)

	uuid, err := r.Resolve(1, "MintAAA")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if uuid != "" {
		t.Fatalf("expected empty uuid, got %q", uuid)
	}
}

func TestResolverBindFallsBackToPendingWithNoOpenRun(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store)

	if err := r.Bind(1, "MintAAA", "uuid-1", 1000); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	got, err := store.GetPendingTradeUUID(1, "MintAAA")
	if err != nil {
		t.Fatalf("GetPendingTradeUUID: %v", err)
	}
	if got != "uuid-1" {
		t.Fatalf("expected uuid-1, got %q", got)
	}
}

func TestResolverBindWritesThroughToOpenRun(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store)

	if _, err := store.CreateOpenPositionRun(&storage.PositionRun{
		WalletID: 1, CoinMint: "MintAAA", OpenAt: 1000, CurrentTokenAmount: 5, TotalTokensBought: 5,
	}); err != nil {
		t.Fatalf("CreateOpenPositionRun: %v", err)
	}

	if err := r.Bind(1, "MintAAA", "uuid-2", 2000); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	run, err := store.FindOpenPositionRun(1, "MintAAA")
	if err != nil {
		t.Fatalf("FindOpenPositionRun: %v", err)
	}
	if run.TradeUUID != "uuid-2" {
		t.Fatalf("expected uuid-2 bound to open run, got %q", run.TradeUUID)
	}

	if _, err := store.GetPendingTradeUUID(1, "MintAAA"); err == nil {
		t.Fatalf("expected no pending row once an open run absorbed the bind")
	}
}

func TestResolverResolveUsesCacheBeforeStorage(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store)

	if err := r.Bind(1, "MintAAA", "uuid-3", 1000); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := store.DeletePendingTradeUUID(1, "MintAAA"); err != nil {
		t.Fatalf("DeletePendingTradeUUID: %v", err)
	}

	got, err := r.Resolve(1, "MintAAA")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "uuid-3" {
		t.Fatalf("expected cached uuid-3 even after storage row deleted, got %q", got)
	}
}

func TestResolverClearRemovesCacheAndPending(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store)

	if err := r.Bind(1, "MintAAA", "uuid-4", 1000); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := r.Clear(1, "MintAAA"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, err := r.Resolve(1, "MintAAA")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "" {
		t.Fatalf("expected cleared uuid to resolve empty, got %q", got)
	}
}

func TestResolverCleanupPendingClampsBounds(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store)

	if err := store.UpsertPendingTradeUUID(1, "MintAAA", "uuid-5", 1000); err != nil {
		t.Fatalf("UpsertPendingTradeUUID: %v", err)
	}

	n, err := r.CleanupPending(0, 0, 10_000_000)
	if err != nil {
		t.Fatalf("CleanupPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row cleaned up, got %d", n)
	}
}
