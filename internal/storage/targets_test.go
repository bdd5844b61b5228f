package storage

import (
	"errors"
	"testing"
)

func TestUpsertAndGetTarget(t *testing.T) {
	s := newTestStorage(t)

	target := &Target{
		Mint:           "MintAAA111",
		Status:         "new",
		Score:          0.42,
		Confidence:     0.9,
		MintVerified:   true,
		VectorStoreIDs: `["vs_abc"]`,
		LastCheckedAt:  1000,
	}
	if err := s.UpsertTarget(target); err != nil {
		t.Fatalf("UpsertTarget: %v", err)
	}

	got, err := s.GetTarget("MintAAA111")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.Status != "new" || got.Score != 0.42 || !got.MintVerified {
		t.Fatalf("unexpected target: %+v", got)
	}

	target.Status = "approved"
	target.Score = 0.9
	target.LastCheckedAt = 2000
	if err := s.UpsertTarget(target); err != nil {
		t.Fatalf("UpsertTarget (update): %v", err)
	}
	got, err = s.GetTarget("MintAAA111")
	if err != nil {
		t.Fatalf("GetTarget after update: %v", err)
	}
	if got.Status != "approved" || got.Score != 0.9 || got.LastCheckedAt != 2000 {
		t.Fatalf("update did not apply: %+v", got)
	}
}

func TestGetTargetNotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetTarget("nope")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestListTargetsDueForPrune(t *testing.T) {
	s := newTestStorage(t)

	now := int64(10_000_000)
	cases := []struct {
		mint          string
		status        string
		lastCheckedAt int64
	}{
		{"approved-mint", "approved", 0},
		{"strong-buy-mint", "strong_buy", 0},
		{"rejected-mint", "rejected", now},
		{"avoid-mint", "avoid", now},
		{"archived-fresh", "archived", now - (6 * 24 * 60 * 60 * 1000)},
		{"archived-stale", "archived", now - (8 * 24 * 60 * 60 * 1000)},
		{"new-fresh", "new", now - (1 * 60 * 60 * 1000)},
		{"new-stale", "new", now - (3 * 60 * 60 * 1000)},
	}
	for _, c := range cases {
		if err := s.UpsertTarget(&Target{Mint: c.mint, Status: c.status, LastCheckedAt: c.lastCheckedAt}); err != nil {
			t.Fatalf("UpsertTarget(%s): %v", c.mint, err)
		}
	}

	due, err := s.ListTargetsDueForPrune(now)
	if err != nil {
		t.Fatalf("ListTargetsDueForPrune: %v", err)
	}

	wantDue := map[string]bool{
		"rejected-mint":  true,
		"avoid-mint":     true,
		"archived-stale": true,
		"new-stale":      true,
	}
	if len(due) != len(wantDue) {
		t.Fatalf("got %d due mints, want %d: %v", len(due), len(wantDue), due)
	}
	for _, mint := range due {
		if !wantDue[mint] {
			t.Fatalf("mint %s should not be due for prune", mint)
		}
	}
}

func TestDeleteTargets(t *testing.T) {
	s := newTestStorage(t)

	if err := s.UpsertTarget(&Target{Mint: "m1", Status: "rejected"}); err != nil {
		t.Fatalf("UpsertTarget: %v", err)
	}
	if err := s.UpsertTarget(&Target{Mint: "m2", Status: "rejected"}); err != nil {
		t.Fatalf("UpsertTarget: %v", err)
	}

	n, err := s.DeleteTargets([]string{"m1", "m2", "missing"})
	if err != nil {
		t.Fatalf("DeleteTargets: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows deleted, got %d", n)
	}

	if _, err := s.GetTarget("m1"); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected m1 to be gone, got %v", err)
	}
}

func TestDeleteTargetsEmpty(t *testing.T) {
	s := newTestStorage(t)
	n, err := s.DeleteTargets(nil)
	if err != nil {
		t.Fatalf("DeleteTargets(nil): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
}
