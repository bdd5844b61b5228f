package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrPendingUUIDNotFound is returned when no pending trade-uuid row exists
// for a (walletId, mint) pair.
var ErrPendingUUIDNotFound = errors.New("storage: pending trade uuid not found")

// GetPendingTradeUUID returns the pending uuid for (walletId, mint), if any.
func (s *Storage) GetPendingTradeUUID(walletID int64, mint string) (string, error) {
	var uuid string
	err := s.db.QueryRow(
		`SELECT trade_uuid FROM pending_trade_uuids WHERE wallet_id = ? AND mint = ?`,
		walletID, mint,
	).Scan(&uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPendingUUIDNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get pending trade uuid: %w", err)
	}
	return uuid, nil
}

// UpsertPendingTradeUUID records a uuid learned before its open PositionRun
// exists.
func (s *Storage) UpsertPendingTradeUUID(walletID int64, mint, uuid string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO pending_trade_uuids (wallet_id, mint, trade_uuid, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(wallet_id, mint) DO UPDATE SET trade_uuid = excluded.trade_uuid, created_at = excluded.created_at`,
		walletID, mint, uuid, now,
	)
	if err != nil {
		return fmt.Errorf("upsert pending trade uuid: %w", err)
	}
	return nil
}

// DeletePendingTradeUUID drops the pending row for (walletId, mint), used
// by the resolver's Clear().
func (s *Storage) DeletePendingTradeUUID(walletID int64, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM pending_trade_uuids WHERE wallet_id = ? AND mint = ?`, walletID, mint)
	if err != nil {
		return fmt.Errorf("delete pending trade uuid: %w", err)
	}
	return nil
}

// CleanupPendingTradeUUIDs deletes pending rows older than now-maxAgeMs, up
// to limit rows, oldest first. maxAgeMs is clamped to a 60s floor and limit
// to [1, 50000] by the caller (internal/ledger) per §4.2/§5; this function
// applies the cutoff and limit it is given verbatim.
func (s *Storage) CleanupPendingTradeUUIDs(cutoff int64, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM pending_trade_uuids WHERE rowid IN (
			SELECT rowid FROM pending_trade_uuids WHERE created_at < ? ORDER BY created_at ASC LIMIT ?
		)`,
		cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup pending trade uuids: %w", err)
	}
	return res.RowsAffected()
}
