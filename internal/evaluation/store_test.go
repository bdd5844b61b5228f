package evaluation

import (
	"strings"
	"testing"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestInsertAndLatestByTrade(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Insert(&Input{
		OpsType: "qualify", WalletID: 1, CoinMint: "MintAAA", TsMs: 1000,
		TradeUUID: "uuid-1", Recommendation: "buy", Decision: "enter",
		Reasons: []string{"liquidity ok", "volume spike"},
		Payload: map[string]any{"score": 0.8},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.LatestByTrade("uuid-1", "")
	if err != nil {
		t.Fatalf("LatestByTrade: %v", err)
	}
	if got.Recommendation != "buy" {
		t.Fatalf("unexpected recommendation: %q", got.Recommendation)
	}
	if !strings.Contains(got.Reasons, "liquidity ok") {
		t.Fatalf("expected reasons to be JSON-encoded, got %q", got.Reasons)
	}
	if !strings.Contains(got.Payload, "0.8") {
		t.Fatalf("expected payload to be JSON-encoded, got %q", got.Payload)
	}
}

func TestInsertClampsOversizedFields(t *testing.T) {
	s := newTestStore(t)

	longAlias := strings.Repeat("a", maxAliasLen+50)
	_, err := s.Insert(&Input{
		OpsType: "qualify", WalletID: 1, CoinMint: "MintAAA", TsMs: 1000,
		TradeUUID: "uuid-1", WalletAlias: longAlias, Recommendation: "skip", Decision: "skip",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.LatestByTrade("uuid-1", "")
	if err != nil {
		t.Fatalf("LatestByTrade: %v", err)
	}
	if len([]rune(got.WalletAlias)) != maxAliasLen {
		t.Fatalf("expected alias clamped to %d runes, got %d", maxAliasLen, len([]rune(got.WalletAlias)))
	}
}

func TestInsertWithNilReasonsLeavesColumnEmpty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Insert(&Input{
		OpsType: "qualify", WalletID: 1, CoinMint: "MintAAA", TsMs: 1000,
		TradeUUID: "uuid-1", Recommendation: "skip", Decision: "skip",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.LatestByTrade("uuid-1", "")
	if err != nil {
		t.Fatalf("LatestByTrade: %v", err)
	}
	if got.Reasons != "" {
		t.Fatalf("expected empty reasons, got %q", got.Reasons)
	}
}

func TestListByMintFiltersByOpsType(t *testing.T) {
	s := newTestStore(t)

	for i, opsType := range []string{"qualify", "chart", "qualify"} {
		if _, err := s.Insert(&Input{
			OpsType: opsType, WalletID: 1, CoinMint: "MintAAA", TsMs: int64(1000 + i),
			TradeUUID: "uuid-1", Recommendation: "skip", Decision: "skip",
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.ListByMint("MintAAA", "qualify", 10)
	if err != nil {
		t.Fatalf("ListByMint: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 qualify evaluations, got %d", len(got))
	}
}

func TestPruneOlderThan(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Insert(&Input{OpsType: "qualify", WalletID: 1, CoinMint: "MintAAA", TsMs: 500, Recommendation: "skip", Decision: "skip"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert(&Input{OpsType: "qualify", WalletID: 1, CoinMint: "MintAAA", TsMs: 2000, Recommendation: "skip", Decision: "skip"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.PruneOlderThan(1000)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
}
