package targetlist

import (
	"context"
	"testing"
	"time"

	"github.com/scoundrel-labs/scoundrel/internal/ledger"
	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

type fakeSource struct {
	candidates []Candidate
	err        error
}

func (f *fakeSource) FetchCandidates(ctx context.Context) ([]Candidate, error) {
	return f.candidates, f.err
}

func newTestCoordinator(t *testing.T, source Source) (*Coordinator, *storage.Storage) {
	t.Helper()
	db, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c := NewCoordinator(CoordinatorConfig{
		Store:    db,
		Resolver: ledger.NewResolver(db),
		Source:   source,
	})
	return c, db
}

func TestParseIntervalOff(t *testing.T) {
	d, err := ParseInterval("OFF")
	if err != nil {
		t.Fatalf("ParseInterval: %v", err)
	}
	if d != nil {
		t.Fatalf("expected nil duration for OFF, got %v", *d)
	}
}

func TestParseIntervalMilliseconds(t *testing.T) {
	d, err := ParseInterval("5000")
	if err != nil {
		t.Fatalf("ParseInterval: %v", err)
	}
	if d == nil || *d != 5*time.Second {
		t.Fatalf("expected 5s, got %v", d)
	}
}

func TestParseIntervalInvalid(t *testing.T) {
	if _, err := ParseInterval("not-a-number"); err == nil {
		t.Fatalf("expected error for invalid interval")
	}
}

func TestRunOnceUpsertsCandidates(t *testing.T) {
	source := &fakeSource{candidates: []Candidate{
		{Mint: "MintAAA", Status: "new", Score: 0.5},
		{Mint: "MintBBB", Status: "watching", Score: 0.9},
	}}
	c, db := newTestCoordinator(t, source)

	n, err := c.RunOnce(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 upserted, got %d", n)
	}

	target, err := db.GetTarget("MintAAA")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if target.Status != "new" {
		t.Fatalf("unexpected status: %q", target.Status)
	}
}

func TestRunOnceSkipsEmptyMint(t *testing.T) {
	source := &fakeSource{candidates: []Candidate{{Mint: ""}, {Mint: "MintAAA"}}}
	c, _ := newTestCoordinator(t, source)

	n, err := c.RunOnce(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 upserted (empty mint skipped), got %d", n)
	}
}

func TestCoordinatorDisabledStartIsNoOp(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeSource{})
	if !c.disabled {
		t.Fatalf("expected coordinator with zero interval to be disabled")
	}
	c.Start() // must not panic or start a ticker goroutine
}

func TestPruneOnceRemovesDueTargets(t *testing.T) {
	c, db := newTestCoordinator(t, &fakeSource{})

	now := time.Now().UnixMilli()
	if err := db.UpsertTarget(&storage.Target{Mint: "MintRejected", Status: "rejected", LastCheckedAt: now}); err != nil {
		t.Fatalf("UpsertTarget: %v", err)
	}
	if err := db.UpsertTarget(&storage.Target{Mint: "MintApproved", Status: "approved", LastCheckedAt: now}); err != nil {
		t.Fatalf("UpsertTarget: %v", err)
	}

	c.pruneOnce()

	if _, err := db.GetTarget("MintRejected"); err != storage.ErrTargetNotFound {
		t.Fatalf("expected rejected target to be pruned, got err=%v", err)
	}
	if _, err := db.GetTarget("MintApproved"); err != nil {
		t.Fatalf("expected approved target to survive prune, got err=%v", err)
	}
}
