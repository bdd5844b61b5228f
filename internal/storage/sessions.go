package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session lookup finds no matching
// row.
var ErrSessionNotFound = errors.New("storage: session not found")

// Session is a row of the service-level session table.
type Session struct {
	SessionID            string
	Service               string
	ServiceInstanceID     string
	StartedAt             int64
	StartSlot             int64
	StartBlockTime        int64
	EndedAt               int64
	EndSlot               int64
	EndBlockTime          int64
	EndReason             string
	LastRefreshAt         int64
	LastRefreshSlot       int64
	LastRefreshBlockTime  int64
	TradesCount           int64
	FeesUsd               float64
	BuysUsd               float64
	SellsUsd              float64
}

// IsOpen reports whether the session has not yet ended.
func (sess *Session) IsOpen() bool {
	return sess.EndedAt == 0
}

const sessionSelect = `
	SELECT session_id, service, service_instance_id, started_at, start_slot, start_block_time,
	       ended_at, end_slot, end_block_time, end_reason, last_refresh_at, last_refresh_slot,
	       last_refresh_block_time, trades_count, fees_usd, buys_usd, sells_usd
	FROM sessions`

// FindOpenSession returns the open session for service, if one exists.
func (s *Storage) FindOpenSession(service string) (*Session, error) {
	row := s.db.QueryRow(sessionSelect+" WHERE service = ? AND ended_at IS NULL", service)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// GetSession fetches a session by id.
func (s *Storage) GetSession(sessionID string) (*Session, error) {
	row := s.db.QueryRow(sessionSelect+" WHERE session_id = ?", sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// CloseSessionAsCrash closes an open session with end_reason = 'crash'.
// session.Manager's start path does not call it; it recovers through
// StartSessionAtomic, which performs the same close inside its transaction.
func (s *Storage) CloseSessionAsCrash(sessionID string, endSlot, endBlockTime, now int64) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET ended_at = ?, end_slot = ?, end_block_time = ?, end_reason = 'crash'
		WHERE session_id = ?`,
		now, endSlot, endBlockTime, sessionID,
	)
	if err != nil {
		return fmt.Errorf("close session as crash: %w", err)
	}
	return nil
}

// InsertSession inserts a newly started session row.
func (s *Storage) InsertSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (
			session_id, service, service_instance_id, started_at, start_slot, start_block_time,
			last_refresh_at, last_refresh_slot, last_refresh_block_time, trades_count, fees_usd, buys_usd, sells_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0)`,
		sess.SessionID, sess.Service, nullableString(sess.ServiceInstanceID), sess.StartedAt, sess.StartSlot, sess.StartBlockTime,
		sess.StartedAt, sess.StartSlot, sess.StartBlockTime,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// StartSessionAtomic closes any stale open session for sess.Service as a
// crash and inserts sess as the new open session in a single transaction,
// so a crash between the two steps can't leave the service with zero open
// sessions. endSlotFallback/endBlockTimeFallback are used as the stale
// session's end point when it never recorded a refresh. Returns the closed
// stale session, or nil if there was none.
func (s *Storage) StartSessionAtomic(sess *Session, endSlotFallback, endBlockTimeFallback int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(sessionSelect+" WHERE service = ? AND ended_at IS NULL", sess.Service)
	stale, err := scanSession(row)
	var closed *Session
	switch {
	case err == nil:
		endSlot := stale.LastRefreshSlot
		if endSlot == 0 {
			endSlot = endSlotFallback
		}
		endBlockTime := stale.LastRefreshBlockTime
		if endBlockTime == 0 {
			endBlockTime = endBlockTimeFallback
		}
		if _, err := tx.Exec(`
			UPDATE sessions SET ended_at = ?, end_slot = ?, end_block_time = ?, end_reason = 'crash'
			WHERE session_id = ?`,
			sess.StartedAt, endSlot, endBlockTime, stale.SessionID,
		); err != nil {
			return nil, fmt.Errorf("close stale session as crash: %w", err)
		}
		closed = stale
	case errors.Is(err, sql.ErrNoRows):
		// no stale session, nothing to close
	default:
		return nil, fmt.Errorf("find open session: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (
			session_id, service, service_instance_id, started_at, start_slot, start_block_time,
			last_refresh_at, last_refresh_slot, last_refresh_block_time, trades_count, fees_usd, buys_usd, sells_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0)`,
		sess.SessionID, sess.Service, nullableString(sess.ServiceInstanceID), sess.StartedAt, sess.StartSlot, sess.StartBlockTime,
		sess.StartedAt, sess.StartSlot, sess.StartBlockTime,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return closed, nil
}

// UpdateSessionRollups recomputes and persists a session's rollup fields
// (refresh path), along with the heartbeat slot/blocktime.
func (s *Storage) UpdateSessionRollups(sessionID string, currentSlot, currentBlockTime, now int64, tradesCount int64, feesUsd, buysUsd, sellsUsd float64) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET
			last_refresh_at = ?, last_refresh_slot = ?, last_refresh_block_time = ?,
			trades_count = ?, fees_usd = ?, buys_usd = ?, sells_usd = ?
		WHERE session_id = ?`,
		now, currentSlot, currentBlockTime, tradesCount, feesUsd, buysUsd, sellsUsd, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session rollups: %w", err)
	}
	return nil
}

// EndSession finalizes a session: stamps ended_at/end_slot/end_block_time/
// end_reason and mirrors the last-refresh fields to the terminal values,
// alongside the recomputed rollups.
func (s *Storage) EndSession(sessionID string, endSlot, endBlockTime, now int64, reason string, tradesCount int64, feesUsd, buysUsd, sellsUsd float64) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET
			ended_at = ?, end_slot = ?, end_block_time = ?, end_reason = ?,
			last_refresh_at = ?, last_refresh_slot = ?, last_refresh_block_time = ?,
			trades_count = ?, fees_usd = ?, buys_usd = ?, sells_usd = ?
		WHERE session_id = ?`,
		now, endSlot, endBlockTime, reason,
		now, endSlot, endBlockTime,
		tradesCount, feesUsd, buysUsd, sellsUsd, sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// FindSessionAt returns the most-recently started session for service
// active at timestamp T (startedAt <= T <= endedAt or still open).
func (s *Storage) FindSessionAt(service string, timestamp int64) (*Session, error) {
	row := s.db.QueryRow(
		sessionSelect+` WHERE service = ? AND started_at <= ? AND (ended_at IS NULL OR ended_at >= ?)
		ORDER BY started_at DESC LIMIT 1`,
		service, timestamp, timestamp,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

func scanSession(row *sql.Row) (*Session, error) {
	sess := &Session{}
	var serviceInstanceID, endReason sql.NullString
	var startSlot, startBlockTime, endedAt, endSlot, endBlockTime sql.NullInt64
	var lastRefreshAt, lastRefreshSlot, lastRefreshBlockTime sql.NullInt64
	err := row.Scan(
		&sess.SessionID, &sess.Service, &serviceInstanceID, &sess.StartedAt, &startSlot, &startBlockTime,
		&endedAt, &endSlot, &endBlockTime, &endReason, &lastRefreshAt, &lastRefreshSlot, &lastRefreshBlockTime,
		&sess.TradesCount, &sess.FeesUsd, &sess.BuysUsd, &sess.SellsUsd,
	)
	if err != nil {
		return nil, err
	}
	sess.ServiceInstanceID = serviceInstanceID.String
	sess.StartSlot = startSlot.Int64
	sess.StartBlockTime = startBlockTime.Int64
	sess.EndedAt = endedAt.Int64
	sess.EndSlot = endSlot.Int64
	sess.EndBlockTime = endBlockTime.Int64
	sess.EndReason = endReason.String
	sess.LastRefreshAt = lastRefreshAt.Int64
	sess.LastRefreshSlot = lastRefreshSlot.Int64
	sess.LastRefreshBlockTime = lastRefreshBlockTime.Int64
	return sess, nil
}
