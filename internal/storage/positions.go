package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrPositionRunNotFound is returned when a position-run lookup finds no
// matching row.
var ErrPositionRunNotFound = errors.New("storage: position run not found")

// ErrOpenPositionRunExists is returned by CreateOpenPositionRun when the
// partial unique index on (wallet_id, coin_mint) WHERE closed_at = 0
// rejects a concurrent duplicate. Callers retry by re-reading the open row.
var ErrOpenPositionRunExists = errors.New("storage: an open position run already exists for this wallet/mint")

// epsilon is the dust threshold below which current_token_amount is
// clamped to zero and the run is closed.
const epsilon = 1e-9

// PositionRun is a row of the position-run table (spec's PositionRun
// entity). ClosedAt of 0 means open.
type PositionRun struct {
	PositionID          int64
	WalletID            int64
	CoinMint            string
	TradeUUID           string
	OpenAt              int64
	ClosedAt            int64
	LastTradeAt         int64
	LastUpdatedAt       int64
	EntryTokenAmount    float64
	CurrentTokenAmount  float64
	TotalTokensBought   float64
	TotalTokensSold     float64
	EntryPriceSol       float64
	EntryPriceUsd       float64
	LastPriceSol        float64
	LastPriceUsd        float64
	StrategyID          string
	StrategyName        string
	Source              string
}

// IsOpen reports whether the run is open, treating both NULL and 0 as open
// per the resolver's critical edge case.
func (p *PositionRun) IsOpen() bool {
	return p.ClosedAt == 0
}

const positionRunSelect = `
	SELECT position_id, wallet_id, coin_mint, trade_uuid, open_at, closed_at, last_trade_at, last_updated_at,
	       entry_token_amount, current_token_amount, total_tokens_bought, total_tokens_sold,
	       entry_price_sol, entry_price_usd, last_price_sol, last_price_usd, strategy_id, strategy_name, source
	FROM position_runs`

// FindOpenPositionRun returns the open run for (walletId, mint), preferring
// the most-recently opened if more than one somehow exists (defensive; the
// partial unique index should prevent this).
func (s *Storage) FindOpenPositionRun(walletID int64, mint string) (*PositionRun, error) {
	row := s.db.QueryRow(
		positionRunSelect+` WHERE wallet_id = ? AND coin_mint = ? AND (closed_at IS NULL OR closed_at = 0)
		ORDER BY open_at DESC LIMIT 1`,
		walletID, mint,
	)
	p, err := scanPositionRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPositionRunNotFound
	}
	return p, err
}

// GetPositionRun fetches a run by its surrogate id.
func (s *Storage) GetPositionRun(positionID int64) (*PositionRun, error) {
	row := s.db.QueryRow(positionRunSelect+" WHERE position_id = ?", positionID)
	p, err := scanPositionRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPositionRunNotFound
	}
	return p, err
}

// CreateOpenPositionRun opens a new run for the first buy of a (walletId,
// mint) pair. Returns ErrOpenPositionRunExists if the partial unique index
// rejects a concurrent duplicate; the caller should re-read and retry.
func (s *Storage) CreateOpenPositionRun(p *PositionRun) (*PositionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	if p.LastUpdatedAt == 0 {
		p.LastUpdatedAt = now
	}

	res, err := s.db.Exec(`
		INSERT INTO position_runs (
			wallet_id, coin_mint, trade_uuid, open_at, closed_at, last_trade_at, last_updated_at,
			entry_token_amount, current_token_amount, total_tokens_bought, total_tokens_sold,
			entry_price_sol, entry_price_usd, last_price_sol, last_price_usd, strategy_id, strategy_name, source
		) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.WalletID, p.CoinMint, p.TradeUUID, p.OpenAt, p.LastTradeAt, p.LastUpdatedAt,
		p.EntryTokenAmount, p.CurrentTokenAmount, p.TotalTokensBought, p.TotalTokensSold,
		p.EntryPriceSol, p.EntryPriceUsd, p.LastPriceSol, p.LastPriceUsd,
		nullableString(p.StrategyID), nullableString(p.StrategyName), nullableString(p.Source),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return nil, ErrOpenPositionRunExists
		}
		return nil, fmt.Errorf("create position run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("position run id: %w", err)
	}
	return s.GetPositionRun(id)
}

// ApplyBuy increments the open run's holdings for a buy and refreshes the
// last-trade fields. Entry prices are first-wins and are not modified here.
func (s *Storage) ApplyBuy(positionID int64, tokenAmount, priceSol, priceUsd float64, executedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE position_runs SET
			current_token_amount = current_token_amount + ?,
			total_tokens_bought = total_tokens_bought + ?,
			last_trade_at = ?,
			last_price_sol = ?,
			last_price_usd = ?,
			last_updated_at = ?
		WHERE position_id = ?`,
		tokenAmount, tokenAmount, executedAt, priceSol, priceUsd, nowMillis(), positionID,
	)
	if err != nil {
		return fmt.Errorf("apply buy: %w", err)
	}
	return nil
}

// ApplySell decrements the open run's holdings for a sell, clamping to zero
// and closing the run if the remainder is within epsilon of zero. Returns
// whether the run closed as a result.
func (s *Storage) ApplySell(positionID int64, tokenAmount float64, executedAt int64) (closed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current float64
	if err := tx.QueryRow(`SELECT current_token_amount FROM position_runs WHERE position_id = ?`, positionID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrPositionRunNotFound
		}
		return false, fmt.Errorf("read current amount: %w", err)
	}

	remaining := current - tokenAmount
	willClose := remaining <= epsilon
	if willClose {
		remaining = 0
	}

	if willClose {
		_, err = tx.Exec(`
			UPDATE position_runs SET
				current_token_amount = ?,
				total_tokens_sold = total_tokens_sold + ?,
				last_trade_at = ?,
				last_updated_at = ?,
				closed_at = ?
			WHERE position_id = ?`,
			remaining, tokenAmount, executedAt, nowMillis(), executedAt, positionID,
		)
	} else {
		_, err = tx.Exec(`
			UPDATE position_runs SET
				current_token_amount = ?,
				total_tokens_sold = total_tokens_sold + ?,
				last_trade_at = ?,
				last_updated_at = ?
			WHERE position_id = ?`,
			remaining, tokenAmount, executedAt, nowMillis(), positionID,
		)
	}
	if err != nil {
		return false, fmt.Errorf("apply sell: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return willClose, nil
}

// CreateOrphanClosedRun creates and immediately closes a run for a sell
// that arrives with no open run for its (walletId, mint) pair.
func (s *Storage) CreateOrphanClosedRun(p *PositionRun) (*PositionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	res, err := s.db.Exec(`
		INSERT INTO position_runs (
			wallet_id, coin_mint, trade_uuid, open_at, closed_at, last_trade_at, last_updated_at,
			entry_token_amount, current_token_amount, total_tokens_bought, total_tokens_sold,
			entry_price_sol, entry_price_usd, last_price_sol, last_price_usd, strategy_id, strategy_name, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.WalletID, p.CoinMint, p.TradeUUID, p.OpenAt, p.ClosedAt, p.LastTradeAt, now,
		p.TotalTokensSold, p.EntryPriceSol, p.EntryPriceUsd, p.LastPriceSol, p.LastPriceUsd,
		nullableString(p.StrategyID), nullableString(p.StrategyName), nullableString(p.Source),
	)
	if err != nil {
		return nil, fmt.Errorf("create orphan closed run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("orphan run id: %w", err)
	}
	return s.GetPositionRun(id)
}

// SetOpenPositionRunUUID write-through binds uuid onto the open run for
// (walletId, mint). Returns the number of rows changed (0 means no open
// run existed).
func (s *Storage) SetOpenPositionRunUUID(walletID int64, mint, uuid string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE position_runs SET trade_uuid = ?, last_updated_at = ?
		WHERE wallet_id = ? AND coin_mint = ? AND (closed_at IS NULL OR closed_at = 0)`,
		uuid, nowMillis(), walletID, mint,
	)
	if err != nil {
		return 0, fmt.Errorf("set open position run uuid: %w", err)
	}
	return res.RowsAffected()
}

// ClearOpenPositionRunUUID blanks the open run's uuid column to the empty
// string, used by the resolver's Clear() operation. The column is declared
// NOT NULL, so it is cleared to '' rather than to NULL.
func (s *Storage) ClearOpenPositionRunUUID(walletID int64, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE position_runs SET trade_uuid = '', last_updated_at = ?
		WHERE wallet_id = ? AND coin_mint = ? AND (closed_at IS NULL OR closed_at = 0)`,
		nowMillis(), walletID, mint,
	)
	if err != nil {
		return fmt.Errorf("clear open position run uuid: %w", err)
	}
	return nil
}

func scanPositionRun(row *sql.Row) (*PositionRun, error) {
	p := &PositionRun{}
	var lastTradeAt, lastUpdatedAt sql.NullInt64
	var strategyID, strategyName, source sql.NullString
	err := row.Scan(
		&p.PositionID, &p.WalletID, &p.CoinMint, &p.TradeUUID, &p.OpenAt, &p.ClosedAt, &lastTradeAt, &lastUpdatedAt,
		&p.EntryTokenAmount, &p.CurrentTokenAmount, &p.TotalTokensBought, &p.TotalTokensSold,
		&p.EntryPriceSol, &p.EntryPriceUsd, &p.LastPriceSol, &p.LastPriceUsd, &strategyID, &strategyName, &source,
	)
	if err != nil {
		return nil, err
	}
	p.LastTradeAt = lastTradeAt.Int64
	p.LastUpdatedAt = lastUpdatedAt.Int64
	p.StrategyID = strategyID.String
	p.StrategyName = strategyName.String
	p.Source = source.String
	return p, nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && contains(err.Error(), "UNIQUE constraint failed")
}
