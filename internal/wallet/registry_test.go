package wallet

import (
	"errors"
	"testing"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRegistry(db)
}

func TestAddAndResolveByAliasAndPubkey(t *testing.T) {
	r := newTestRegistry(t)

	w, err := r.Add(AddParams{Alias: "bot-1", Pubkey: "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS", UsageType: "trading"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	byAlias, err := r.Resolve("bot-1")
	if err != nil {
		t.Fatalf("Resolve by alias: %v", err)
	}
	if byAlias.WalletID != w.WalletID {
		t.Fatalf("expected same wallet resolving by alias")
	}

	byPubkey, err := r.Resolve("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	if err != nil {
		t.Fatalf("Resolve by pubkey: %v", err)
	}
	if byPubkey.WalletID != w.WalletID {
		t.Fatalf("expected same wallet resolving by pubkey")
	}
}

func TestResolveUnknownReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Resolve("nonexistent"); !errors.Is(err, storage.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestSetDefaultFundingIsExclusive(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Add(AddParams{Alias: "a", Pubkey: "pubkeyA1111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("Add a: %v", err)
	}
	b, err := r.Add(AddParams{Alias: "b", Pubkey: "pubkeyB1111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("Add b: %v", err)
	}

	if err := r.SetDefaultFunding(a.Alias); err != nil {
		t.Fatalf("SetDefaultFunding a: %v", err)
	}
	if err := r.SetDefaultFunding(b.Alias); err != nil {
		t.Fatalf("SetDefaultFunding b: %v", err)
	}

	def, err := r.DefaultFunding()
	if err != nil {
		t.Fatalf("DefaultFunding: %v", err)
	}
	if def == nil || def.Alias != "b" {
		t.Fatalf("expected b to be the sole default-funding wallet, got %+v", def)
	}
}

func TestRemoveWallet(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Add(AddParams{Alias: "temp", Pubkey: "pubkeyTemp111111111111111111111111111111"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Remove("temp"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Resolve("temp"); !errors.Is(err, storage.ErrWalletNotFound) {
		t.Fatalf("expected wallet to be gone, got %v", err)
	}
}
