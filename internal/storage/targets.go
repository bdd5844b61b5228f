package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrTargetNotFound is returned when a target lookup finds no matching
// mint.
var ErrTargetNotFound = errors.New("storage: target not found")

// Target is a candidate mint discovered by the target-list coordinator.
type Target struct {
	Mint           string
	Status         string
	Score          float64
	Confidence     float64
	MintVerified   bool
	VectorStoreIDs string // JSON array, opaque here
	LastCheckedAt  int64
}

// pruneExemptStatuses are never pruned regardless of age.
var pruneExemptStatuses = map[string]bool{
	"approved":   true,
	"strong_buy": true,
	"buy":        true,
}

// pruneImmediateStatuses are pruned as soon as they are observed.
var pruneImmediateStatuses = map[string]bool{
	"rejected": true,
	"avoid":    true,
}

const (
	archivedPruneAgeMs = 7 * 24 * 60 * 60 * 1000
	stalePruneAgeMs    = 2 * 60 * 60 * 1000
)

// UpsertTarget inserts or updates a target, keyed by mint, with
// conflict-on-mint update of status/score/confidence/lastCheckedAt.
func (s *Storage) UpsertTarget(t *Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status == "" {
		t.Status = "new"
	}

	_, err := s.db.Exec(`
		INSERT INTO targets (mint, status, score, confidence, mint_verified, vector_store_ids, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mint) DO UPDATE SET
			status = excluded.status,
			score = excluded.score,
			confidence = excluded.confidence,
			last_checked_at = excluded.last_checked_at`,
		t.Mint, t.Status, t.Score, t.Confidence, boolToInt(t.MintVerified), nullableString(t.VectorStoreIDs), t.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	return nil
}

// GetTarget fetches a target by mint.
func (s *Storage) GetTarget(mint string) (*Target, error) {
	row := s.db.QueryRow(`
		SELECT mint, status, score, confidence, mint_verified, vector_store_ids, last_checked_at
		FROM targets WHERE mint = ?`, mint)

	t := &Target{}
	var score, confidence sql.NullFloat64
	var vectorStoreIDs sql.NullString
	var mintVerified int
	var lastCheckedAt sql.NullInt64
	err := row.Scan(&t.Mint, &t.Status, &score, &confidence, &mintVerified, &vectorStoreIDs, &lastCheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.Score = score.Float64
	t.Confidence = confidence.Float64
	t.MintVerified = mintVerified != 0
	t.VectorStoreIDs = vectorStoreIDs.String
	t.LastCheckedAt = lastCheckedAt.Int64
	return t, nil
}

// ListTargetsDueForPrune returns mints that the prune policy says should be
// removed as of now: rejected/avoid immediately; archived after 7 days;
// anything else after 2 hours. approved/strong_buy/buy are never returned.
func (s *Storage) ListTargetsDueForPrune(now int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT mint, status, last_checked_at FROM targets
		WHERE status NOT IN ('approved', 'strong_buy', 'buy')`)
	if err != nil {
		return nil, fmt.Errorf("list targets for prune: %w", err)
	}
	defer rows.Close()

	var due []string
	for rows.Next() {
		var mint, status string
		var lastCheckedAt sql.NullInt64
		if err := rows.Scan(&mint, &status, &lastCheckedAt); err != nil {
			return nil, fmt.Errorf("scan target for prune: %w", err)
		}
		if shouldPruneTarget(status, lastCheckedAt.Int64, now) {
			due = append(due, mint)
		}
	}
	return due, rows.Err()
}

func shouldPruneTarget(status string, lastCheckedAt, now int64) bool {
	if pruneExemptStatuses[status] {
		return false
	}
	if pruneImmediateStatuses[status] {
		return true
	}
	age := now - lastCheckedAt
	if status == "archived" {
		return age >= archivedPruneAgeMs
	}
	return age >= stalePruneAgeMs
}

// DeleteTargets removes the given mints from the target table.
func (s *Storage) DeleteTargets(mints []string) (int64, error) {
	if len(mints) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, mint := range mints {
		res, err := s.db.Exec(`DELETE FROM targets WHERE mint = ?`, mint)
		if err != nil {
			return total, fmt.Errorf("delete target %s: %w", mint, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
