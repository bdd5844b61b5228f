package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrRollupNotFound is returned when a PnL rollup lookup finds no row.
var ErrRollupNotFound = errors.New("storage: pnl rollup not found")

// PnLRollupPerMint is a row of the per-(walletId, coinMint) PnL rollup.
type PnLRollupPerMint struct {
	WalletID          int64
	CoinMint          string
	TotalTokensBought float64
	TotalTokensSold   float64
	TotalSolSpent     float64
	TotalSolReceived  float64
	FeesSol           float64
	FeesUsd           float64
	AvgCostSol        float64
	AvgCostUsd        float64
	RealizedSol       float64
	RealizedUsd       float64
	FirstTradeAt      int64
	LastTradeAt       int64
}

// PnLRollupPerRun is a row of the per-(walletId, coinMint, tradeUuid) PnL
// rollup.
type PnLRollupPerRun struct {
	WalletID          int64
	CoinMint          string
	TradeUUID         string
	TotalTokensBought float64
	TotalTokensSold   float64
	TotalSolSpent     float64
	TotalSolReceived  float64
	FeesSol           float64
	FeesUsd           float64
	AvgCostSol        float64
	AvgCostUsd        float64
	RealizedSol       float64
	RealizedUsd       float64
	FirstTradeAt      int64
	LastTradeAt       int64
}

const pnlMintSelect = `
	SELECT wallet_id, coin_mint, total_tokens_bought, total_tokens_sold, total_sol_spent, total_sol_received,
	       fees_sol, fees_usd, avg_cost_sol, avg_cost_usd, realized_sol, realized_usd, first_trade_at, last_trade_at
	FROM pnl_rollup_per_mint`

const pnlRunSelect = `
	SELECT wallet_id, coin_mint, trade_uuid, total_tokens_bought, total_tokens_sold, total_sol_spent, total_sol_received,
	       fees_sol, fees_usd, avg_cost_sol, avg_cost_usd, realized_sol, realized_usd, first_trade_at, last_trade_at
	FROM pnl_rollup_per_run`

// GetPnLRollupPerMint fetches the per-mint rollup for (walletId, mint).
func (s *Storage) GetPnLRollupPerMint(walletID int64, mint string) (*PnLRollupPerMint, error) {
	row := s.db.QueryRow(pnlMintSelect+" WHERE wallet_id = ? AND coin_mint = ?", walletID, mint)
	r, err := scanPnLMint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRollupNotFound
	}
	return r, err
}

// GetPnLRollupPerRun fetches the per-run rollup for (walletId, mint, uuid).
func (s *Storage) GetPnLRollupPerRun(walletID int64, mint, tradeUUID string) (*PnLRollupPerRun, error) {
	row := s.db.QueryRow(pnlRunSelect+" WHERE wallet_id = ? AND coin_mint = ? AND trade_uuid = ?", walletID, mint, tradeUUID)
	r, err := scanPnLRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRollupNotFound
	}
	return r, err
}

// ListPnLRollupPerRunByMint returns every per-run rollup for a (walletId,
// mint) pair, used to check the §8 property that the per-mint totals equal
// the sum over per-run rollups.
func (s *Storage) ListPnLRollupPerRunByMint(walletID int64, mint string) ([]*PnLRollupPerRun, error) {
	rows, err := s.db.Query(pnlRunSelect+" WHERE wallet_id = ? AND coin_mint = ?", walletID, mint)
	if err != nil {
		return nil, fmt.Errorf("list pnl rollup per run: %w", err)
	}
	defer rows.Close()

	var out []*PnLRollupPerRun
	for rows.Next() {
		r := &PnLRollupPerRun{}
		var firstTradeAt, lastTradeAt sql.NullInt64
		if err := rows.Scan(
			&r.WalletID, &r.CoinMint, &r.TradeUUID, &r.TotalTokensBought, &r.TotalTokensSold,
			&r.TotalSolSpent, &r.TotalSolReceived, &r.FeesSol, &r.FeesUsd, &r.AvgCostSol, &r.AvgCostUsd,
			&r.RealizedSol, &r.RealizedUsd, &firstTradeAt, &lastTradeAt,
		); err != nil {
			return nil, fmt.Errorf("scan pnl rollup per run: %w", err)
		}
		r.FirstTradeAt = firstTradeAt.Int64
		r.LastTradeAt = lastTradeAt.Int64
		out = append(out, r)
	}
	return out, rows.Err()
}

// MintLiveView is the per-mint live view from §4.5: unrealized = current
// holdings at currentPrice, total = realized + unrealized.
type MintLiveView struct {
	PnLRollupPerMint
	Unrealized float64
	Total      float64
}

// RunLiveView is the per-run live view from §4.5, the preferred source for
// the HUD: positionTokens = bought - sold; unrealized values the remaining
// position at (currentPrice - avgCost).
type RunLiveView struct {
	PnLRollupPerRun
	PositionTokens float64
	Unrealized     float64
	Total          float64
}

// MintLiveView computes the per-mint live view at currentPriceSol.
func (s *Storage) MintLiveView(walletID int64, mint string, currentTokenAmount, currentPriceSol float64) (*MintLiveView, error) {
	r, err := s.GetPnLRollupPerMint(walletID, mint)
	if err != nil {
		return nil, err
	}
	unrealized := decimal.NewFromFloat(currentTokenAmount).Mul(decimal.NewFromFloat(currentPriceSol))
	total := decimal.NewFromFloat(r.RealizedSol).Add(unrealized)
	return &MintLiveView{
		PnLRollupPerMint: *r,
		Unrealized:       unrealized.InexactFloat64(),
		Total:            total.InexactFloat64(),
	}, nil
}

// RunLiveView computes the per-run live view at currentPriceSol.
func (s *Storage) RunLiveView(walletID int64, mint, tradeUUID string, currentPriceSol float64) (*RunLiveView, error) {
	r, err := s.GetPnLRollupPerRun(walletID, mint, tradeUUID)
	if err != nil {
		return nil, err
	}
	positionTokens := decimal.NewFromFloat(r.TotalTokensBought).Sub(decimal.NewFromFloat(r.TotalTokensSold))
	unrealized := positionTokens.Mul(decimal.NewFromFloat(currentPriceSol).Sub(decimal.NewFromFloat(r.AvgCostSol)))
	total := decimal.NewFromFloat(r.RealizedSol).Add(unrealized)
	return &RunLiveView{
		PnLRollupPerRun: *r,
		PositionTokens:  positionTokens.InexactFloat64(),
		Unrealized:      unrealized.InexactFloat64(),
		Total:           total.InexactFloat64(),
	}, nil
}

// RebuildPnLFor replays the trade ledger for (walletId, mint) and replaces
// the per-mint and per-run rollup rows with freshly computed ones, all in a
// single transaction. Idempotent: rebuilding twice produces the same rows
// as rebuilding once.
func (s *Storage) RebuildPnLFor(walletID int64, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades, err := s.ListTradesForRebuild(walletID, mint)
	if err != nil {
		return fmt.Errorf("rebuild: listing trades: %w", err)
	}

	mintAcc := &PnLRollupPerMint{WalletID: walletID, CoinMint: mint}
	runAccs := make(map[string]*PnLRollupPerRun)

	for _, t := range trades {
		replayTrade(mintAcc, runAccs, walletID, mint, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM pnl_rollup_per_mint WHERE wallet_id = ? AND coin_mint = ?`, walletID, mint); err != nil {
		return fmt.Errorf("clear per-mint rollup: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM pnl_rollup_per_run WHERE wallet_id = ? AND coin_mint = ?`, walletID, mint); err != nil {
		return fmt.Errorf("clear per-run rollup: %w", err)
	}

	if mintAcc.FirstTradeAt != 0 || len(trades) > 0 {
		if err := insertPnLMint(tx, mintAcc); err != nil {
			return fmt.Errorf("insert per-mint rollup: %w", err)
		}
	}
	for _, acc := range runAccs {
		if err := insertPnLRun(tx, acc); err != nil {
			return fmt.Errorf("insert per-run rollup: %w", err)
		}
	}

	return tx.Commit()
}

// replayTrade applies the same formulas as the trade_events triggers to an
// in-memory accumulator, so rebuildFor is guaranteed to match trigger-driven
// incremental updates.
func replayTrade(mintAcc *PnLRollupPerMint, runAccs map[string]*PnLRollupPerRun, walletID int64, mint string, t *TradeEvent) {
	var solUsdPrice float64
	if t.SolUsdPrice != nil {
		solUsdPrice = *t.SolUsdPrice
	}

	var runAcc *PnLRollupPerRun
	if t.TradeUUID != nil && *t.TradeUUID != "" {
		runAcc = runAccs[*t.TradeUUID]
		if runAcc == nil {
			runAcc = &PnLRollupPerRun{WalletID: walletID, CoinMint: mint, TradeUUID: *t.TradeUUID}
			runAccs[*t.TradeUUID] = runAcc
		}
	}

	switch t.Side {
	case "buy":
		applyBuyToMint(mintAcc, t, solUsdPrice)
		if runAcc != nil {
			applyBuyToRun(runAcc, t, solUsdPrice)
		}
	case "sell":
		applySellToMint(mintAcc, t, solUsdPrice)
		if runAcc != nil {
			applySellToRun(runAcc, t, solUsdPrice)
		}
	}
}

// applyBuyToMint and its per-run counterpart accumulate in
// shopspring/decimal rather than float64: these are long-lived running
// totals (every trade for a mint adds into the same accumulator), so
// float64 rounding error compounds across a position's lifetime in a way
// a single conversion wouldn't.
func applyBuyToMint(acc *PnLRollupPerMint, t *TradeEvent, solUsdPrice float64) {
	totalTokensBought := decimal.NewFromFloat(acc.TotalTokensBought).Add(decimal.NewFromFloat(t.TokenAmount))
	totalSolSpent := decimal.NewFromFloat(acc.TotalSolSpent).Add(decimal.NewFromFloat(t.SolAmount))
	acc.TotalTokensBought = totalTokensBought.InexactFloat64()
	acc.TotalSolSpent = totalSolSpent.InexactFloat64()
	acc.FeesSol = decimal.NewFromFloat(acc.FeesSol).Add(decimal.NewFromFloat(t.FeesSol)).InexactFloat64()
	acc.FeesUsd = decimal.NewFromFloat(acc.FeesUsd).Add(decimal.NewFromFloat(t.FeesUsd)).InexactFloat64()
	if totalTokensBought.IsPositive() {
		avgCostSol := totalSolSpent.Abs().Div(totalTokensBought)
		acc.AvgCostSol = avgCostSol.InexactFloat64()
		acc.AvgCostUsd = avgCostSol.Mul(decimal.NewFromFloat(solUsdPrice)).InexactFloat64()
	}
	touchTimestamps(&acc.FirstTradeAt, &acc.LastTradeAt, t.ExecutedAt)
}

func applyBuyToRun(acc *PnLRollupPerRun, t *TradeEvent, solUsdPrice float64) {
	totalTokensBought := decimal.NewFromFloat(acc.TotalTokensBought).Add(decimal.NewFromFloat(t.TokenAmount))
	totalSolSpent := decimal.NewFromFloat(acc.TotalSolSpent).Add(decimal.NewFromFloat(t.SolAmount))
	acc.TotalTokensBought = totalTokensBought.InexactFloat64()
	acc.TotalSolSpent = totalSolSpent.InexactFloat64()
	acc.FeesSol = decimal.NewFromFloat(acc.FeesSol).Add(decimal.NewFromFloat(t.FeesSol)).InexactFloat64()
	acc.FeesUsd = decimal.NewFromFloat(acc.FeesUsd).Add(decimal.NewFromFloat(t.FeesUsd)).InexactFloat64()
	if totalTokensBought.IsPositive() {
		avgCostSol := totalSolSpent.Abs().Div(totalTokensBought)
		acc.AvgCostSol = avgCostSol.InexactFloat64()
		acc.AvgCostUsd = avgCostSol.Mul(decimal.NewFromFloat(solUsdPrice)).InexactFloat64()
	}
	touchTimestamps(&acc.FirstTradeAt, &acc.LastTradeAt, t.ExecutedAt)
}

func applySellToMint(acc *PnLRollupPerMint, t *TradeEvent, solUsdPrice float64) {
	acc.TotalTokensSold = decimal.NewFromFloat(acc.TotalTokensSold).Add(decimal.NewFromFloat(t.TokenAmount)).InexactFloat64()
	acc.TotalSolReceived = decimal.NewFromFloat(acc.TotalSolReceived).Add(decimal.NewFromFloat(t.SolAmount)).InexactFloat64()
	acc.FeesSol = decimal.NewFromFloat(acc.FeesSol).Add(decimal.NewFromFloat(t.FeesSol)).InexactFloat64()
	acc.FeesUsd = decimal.NewFromFloat(acc.FeesUsd).Add(decimal.NewFromFloat(t.FeesUsd)).InexactFloat64()

	realized := decimal.NewFromFloat(t.SolAmount).Sub(decimal.NewFromFloat(t.TokenAmount).Mul(decimal.NewFromFloat(acc.AvgCostSol)))
	acc.RealizedSol = decimal.NewFromFloat(acc.RealizedSol).Add(realized).InexactFloat64()
	acc.RealizedUsd = decimal.NewFromFloat(acc.RealizedUsd).Add(realized.Mul(decimal.NewFromFloat(solUsdPrice))).InexactFloat64()
	touchTimestamps(&acc.FirstTradeAt, &acc.LastTradeAt, t.ExecutedAt)
}

func applySellToRun(acc *PnLRollupPerRun, t *TradeEvent, solUsdPrice float64) {
	acc.TotalTokensSold = decimal.NewFromFloat(acc.TotalTokensSold).Add(decimal.NewFromFloat(t.TokenAmount)).InexactFloat64()
	acc.TotalSolReceived = decimal.NewFromFloat(acc.TotalSolReceived).Add(decimal.NewFromFloat(t.SolAmount)).InexactFloat64()
	acc.FeesSol = decimal.NewFromFloat(acc.FeesSol).Add(decimal.NewFromFloat(t.FeesSol)).InexactFloat64()
	acc.FeesUsd = decimal.NewFromFloat(acc.FeesUsd).Add(decimal.NewFromFloat(t.FeesUsd)).InexactFloat64()

	realized := decimal.NewFromFloat(t.SolAmount).Sub(decimal.NewFromFloat(t.TokenAmount).Mul(decimal.NewFromFloat(acc.AvgCostSol)))
	acc.RealizedSol = decimal.NewFromFloat(acc.RealizedSol).Add(realized).InexactFloat64()
	acc.RealizedUsd = decimal.NewFromFloat(acc.RealizedUsd).Add(realized.Mul(decimal.NewFromFloat(solUsdPrice))).InexactFloat64()
	touchTimestamps(&acc.FirstTradeAt, &acc.LastTradeAt, t.ExecutedAt)
}

func touchTimestamps(first, last *int64, executedAt int64) {
	if *first == 0 || executedAt < *first {
		*first = executedAt
	}
	if executedAt > *last {
		*last = executedAt
	}
}

func insertPnLMint(tx *sql.Tx, acc *PnLRollupPerMint) error {
	_, err := tx.Exec(`
		INSERT INTO pnl_rollup_per_mint (
			wallet_id, coin_mint, total_tokens_bought, total_tokens_sold, total_sol_spent, total_sol_received,
			fees_sol, fees_usd, avg_cost_sol, avg_cost_usd, realized_sol, realized_usd, first_trade_at, last_trade_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.WalletID, acc.CoinMint, acc.TotalTokensBought, acc.TotalTokensSold, acc.TotalSolSpent, acc.TotalSolReceived,
		acc.FeesSol, acc.FeesUsd, acc.AvgCostSol, acc.AvgCostUsd, acc.RealizedSol, acc.RealizedUsd,
		acc.FirstTradeAt, acc.LastTradeAt,
	)
	return err
}

func insertPnLRun(tx *sql.Tx, acc *PnLRollupPerRun) error {
	_, err := tx.Exec(`
		INSERT INTO pnl_rollup_per_run (
			wallet_id, coin_mint, trade_uuid, total_tokens_bought, total_tokens_sold, total_sol_spent, total_sol_received,
			fees_sol, fees_usd, avg_cost_sol, avg_cost_usd, realized_sol, realized_usd, first_trade_at, last_trade_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.WalletID, acc.CoinMint, acc.TradeUUID, acc.TotalTokensBought, acc.TotalTokensSold, acc.TotalSolSpent, acc.TotalSolReceived,
		acc.FeesSol, acc.FeesUsd, acc.AvgCostSol, acc.AvgCostUsd, acc.RealizedSol, acc.RealizedUsd,
		acc.FirstTradeAt, acc.LastTradeAt,
	)
	return err
}

func scanPnLMint(row *sql.Row) (*PnLRollupPerMint, error) {
	r := &PnLRollupPerMint{}
	var firstTradeAt, lastTradeAt sql.NullInt64
	err := row.Scan(
		&r.WalletID, &r.CoinMint, &r.TotalTokensBought, &r.TotalTokensSold, &r.TotalSolSpent, &r.TotalSolReceived,
		&r.FeesSol, &r.FeesUsd, &r.AvgCostSol, &r.AvgCostUsd, &r.RealizedSol, &r.RealizedUsd, &firstTradeAt, &lastTradeAt,
	)
	if err != nil {
		return nil, err
	}
	r.FirstTradeAt = firstTradeAt.Int64
	r.LastTradeAt = lastTradeAt.Int64
	return r, nil
}

func scanPnLRun(row *sql.Row) (*PnLRollupPerRun, error) {
	r := &PnLRollupPerRun{}
	var firstTradeAt, lastTradeAt sql.NullInt64
	err := row.Scan(
		&r.WalletID, &r.CoinMint, &r.TradeUUID, &r.TotalTokensBought, &r.TotalTokensSold, &r.TotalSolSpent, &r.TotalSolReceived,
		&r.FeesSol, &r.FeesUsd, &r.AvgCostSol, &r.AvgCostUsd, &r.RealizedSol, &r.RealizedUsd, &firstTradeAt, &lastTradeAt,
	)
	if err != nil {
		return nil, err
	}
	r.FirstTradeAt = firstTradeAt.Int64
	r.LastTradeAt = lastTradeAt.Int64
	return r, nil
}
