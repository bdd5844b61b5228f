package storage

import (
	"database/sql"
	"fmt"
)

// Evaluation is an append-only decision/indicator snapshot.
type Evaluation struct {
	ID                   int64
	OpsType              string
	WalletID             int64
	WalletAlias          string
	CoinMint             string
	TsMs                 int64
	TradeUUID            string
	Symbol               string
	StrategyName         string
	StrategySource       string
	Recommendation       string
	Decision             string
	Regime               string
	QualifyFailedCount   int64
	QualifyWorstSeverity string
	GateFail             bool
	PriceUsd             float64
	LiquidityUsd         float64
	ChartInterval        string
	ChartPoints          int64
	Rsi                  float64
	MacdHist             float64
	Vwap                 float64
	WarningsCount        int64
	UnrealUsd            float64
	TotalUsd             float64
	RoiPct               float64
	Reasons              string // JSON
	Payload              string // JSON
	CreatedAt            int64
}

// InsertEvaluation appends a new evaluation snapshot.
func (s *Storage) InsertEvaluation(e *Evaluation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt == 0 {
		e.CreatedAt = nowMillis()
	}

	res, err := s.db.Exec(`
		INSERT INTO evaluations (
			ops_type, wallet_id, wallet_alias, coin_mint, ts_ms, trade_uuid, symbol, strategy_name, strategy_source,
			recommendation, decision, regime, qualify_failed_count, qualify_worst_severity, gate_fail,
			price_usd, liquidity_usd, chart_interval, chart_points, rsi, macd_hist, vwap, warnings_count,
			unreal_usd, total_usd, roi_pct, reasons, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OpsType, e.WalletID, nullableString(e.WalletAlias), e.CoinMint, e.TsMs, nullableString(e.TradeUUID),
		nullableString(e.Symbol), nullableString(e.StrategyName), nullableString(e.StrategySource),
		e.Recommendation, e.Decision, nullableString(e.Regime), e.QualifyFailedCount, nullableString(e.QualifyWorstSeverity),
		boolToInt(e.GateFail), e.PriceUsd, e.LiquidityUsd, nullableString(e.ChartInterval), e.ChartPoints,
		e.Rsi, e.MacdHist, e.Vwap, e.WarningsCount, e.UnrealUsd, e.TotalUsd, e.RoiPct,
		nullableString(e.Reasons), nullableString(e.Payload), e.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert evaluation: %w", err)
	}
	return res.LastInsertId()
}

const evaluationSelect = `
	SELECT id, ops_type, wallet_id, wallet_alias, coin_mint, ts_ms, trade_uuid, symbol, strategy_name, strategy_source,
	       recommendation, decision, regime, qualify_failed_count, qualify_worst_severity, gate_fail,
	       price_usd, liquidity_usd, chart_interval, chart_points, rsi, macd_hist, vwap, warnings_count,
	       unreal_usd, total_usd, roi_pct, reasons, payload, created_at
	FROM evaluations`

// LatestEvaluationByTrade returns the most recent evaluation for a trade
// run, optionally filtered by opsType.
func (s *Storage) LatestEvaluationByTrade(tradeUUID, opsType string) (*Evaluation, error) {
	query := evaluationSelect + " WHERE trade_uuid = ?"
	args := []interface{}{tradeUUID}
	if opsType != "" {
		query += " AND ops_type = ?"
		args = append(args, opsType)
	}
	query += " ORDER BY ts_ms DESC LIMIT 1"

	row := s.db.QueryRow(query, args...)
	return scanEvaluationRow(row)
}

// LatestEvaluationByMint returns the most recent evaluation for a mint
// across all runs, optionally filtered by opsType.
func (s *Storage) LatestEvaluationByMint(mint, opsType string) (*Evaluation, error) {
	query := evaluationSelect + " WHERE coin_mint = ?"
	args := []interface{}{mint}
	if opsType != "" {
		query += " AND ops_type = ?"
		args = append(args, opsType)
	}
	query += " ORDER BY ts_ms DESC LIMIT 1"

	row := s.db.QueryRow(query, args...)
	return scanEvaluationRow(row)
}

// ListEvaluationsByTradeRange lists evaluations for a trade run within
// [fromMs, toMs], optionally filtered by opsType.
func (s *Storage) ListEvaluationsByTradeRange(tradeUUID string, fromMs, toMs int64, opsType string) ([]*Evaluation, error) {
	query := evaluationSelect + " WHERE trade_uuid = ? AND ts_ms BETWEEN ? AND ?"
	args := []interface{}{tradeUUID, fromMs, toMs}
	if opsType != "" {
		query += " AND ops_type = ?"
		args = append(args, opsType)
	}
	query += " ORDER BY ts_ms"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluations by trade range: %w", err)
	}
	defer rows.Close()
	return scanEvaluationRows(rows)
}

// ListEvaluationsByMint lists evaluations for a mint, optionally filtered by
// opsType, most recent first.
func (s *Storage) ListEvaluationsByMint(mint, opsType string, limit int) ([]*Evaluation, error) {
	query := evaluationSelect + " WHERE coin_mint = ?"
	args := []interface{}{mint}
	if opsType != "" {
		query += " AND ops_type = ?"
		args = append(args, opsType)
	}
	query += " ORDER BY ts_ms DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluations by mint: %w", err)
	}
	defer rows.Close()
	return scanEvaluationRows(rows)
}

// ListRecentEvaluationsByWallet lists the most recent evaluations for a
// wallet, optionally filtered by opsType.
func (s *Storage) ListRecentEvaluationsByWallet(walletID int64, opsType string, limit int) ([]*Evaluation, error) {
	query := evaluationSelect + " WHERE wallet_id = ?"
	args := []interface{}{walletID}
	if opsType != "" {
		query += " AND ops_type = ?"
		args = append(args, opsType)
	}
	query += " ORDER BY ts_ms DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent evaluations by wallet: %w", err)
	}
	defer rows.Close()
	return scanEvaluationRows(rows)
}

// DeleteEvaluationsByTrade removes all evaluations for a trade run, used to
// clear test data.
func (s *Storage) DeleteEvaluationsByTrade(tradeUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM evaluations WHERE trade_uuid = ?`, tradeUUID)
	if err != nil {
		return fmt.Errorf("delete evaluations by trade: %w", err)
	}
	return nil
}

// PruneEvaluationsOlderThan deletes evaluations with ts_ms below cutoffMs.
func (s *Storage) PruneEvaluationsOlderThan(cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM evaluations WHERE ts_ms < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("prune evaluations: %w", err)
	}
	return res.RowsAffected()
}

func scanEvaluationRow(row *sql.Row) (*Evaluation, error) {
	e := &Evaluation{}
	var (
		walletAlias, tradeUUID, symbol, strategyName, strategySource sql.NullString
		regime, qualifyWorstSeverity, chartInterval, reasons, payload sql.NullString
		walletID, qualifyFailedCount, chartPoints, warningsCount     sql.NullInt64
		gateFail                                                     int
		priceUsd, liquidityUsd, rsi, macdHist, vwap                  sql.NullFloat64
		unrealUsd, totalUsd, roiPct                                  sql.NullFloat64
	)
	err := row.Scan(
		&e.ID, &e.OpsType, &walletID, &walletAlias, &e.CoinMint, &e.TsMs, &tradeUUID, &symbol, &strategyName, &strategySource,
		&e.Recommendation, &e.Decision, &regime, &qualifyFailedCount, &qualifyWorstSeverity, &gateFail,
		&priceUsd, &liquidityUsd, &chartInterval, &chartPoints, &rsi, &macdHist, &vwap, &warningsCount,
		&unrealUsd, &totalUsd, &roiPct, &reasons, &payload, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	fillEvaluation(e, walletID, walletAlias, tradeUUID, symbol, strategyName, strategySource, regime,
		qualifyFailedCount, qualifyWorstSeverity, gateFail, priceUsd, liquidityUsd, chartInterval, chartPoints,
		rsi, macdHist, vwap, warningsCount, unrealUsd, totalUsd, roiPct, reasons, payload)
	return e, nil
}

func scanEvaluationRows(rows *sql.Rows) ([]*Evaluation, error) {
	var out []*Evaluation
	for rows.Next() {
		e := &Evaluation{}
		var (
			walletAlias, tradeUUID, symbol, strategyName, strategySource sql.NullString
			regime, qualifyWorstSeverity, chartInterval, reasons, payload sql.NullString
			walletID, qualifyFailedCount, chartPoints, warningsCount     sql.NullInt64
			gateFail                                                     int
			priceUsd, liquidityUsd, rsi, macdHist, vwap                  sql.NullFloat64
			unrealUsd, totalUsd, roiPct                                  sql.NullFloat64
		)
		if err := rows.Scan(
			&e.ID, &e.OpsType, &walletID, &walletAlias, &e.CoinMint, &e.TsMs, &tradeUUID, &symbol, &strategyName, &strategySource,
			&e.Recommendation, &e.Decision, &regime, &qualifyFailedCount, &qualifyWorstSeverity, &gateFail,
			&priceUsd, &liquidityUsd, &chartInterval, &chartPoints, &rsi, &macdHist, &vwap, &warningsCount,
			&unrealUsd, &totalUsd, &roiPct, &reasons, &payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		fillEvaluation(e, walletID, walletAlias, tradeUUID, symbol, strategyName, strategySource, regime,
			qualifyFailedCount, qualifyWorstSeverity, gateFail, priceUsd, liquidityUsd, chartInterval, chartPoints,
			rsi, macdHist, vwap, warningsCount, unrealUsd, totalUsd, roiPct, reasons, payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func fillEvaluation(
	e *Evaluation,
	walletID sql.NullInt64,
	walletAlias, tradeUUID, symbol, strategyName, strategySource, regime sql.NullString,
	qualifyFailedCount sql.NullInt64, qualifyWorstSeverity sql.NullString, gateFail int,
	priceUsd, liquidityUsd sql.NullFloat64, chartInterval sql.NullString, chartPoints sql.NullInt64,
	rsi, macdHist, vwap sql.NullFloat64, warningsCount sql.NullInt64,
	unrealUsd, totalUsd, roiPct sql.NullFloat64, reasons, payload sql.NullString,
) {
	e.WalletID = walletID.Int64
	e.WalletAlias = walletAlias.String
	e.TradeUUID = tradeUUID.String
	e.Symbol = symbol.String
	e.StrategyName = strategyName.String
	e.StrategySource = strategySource.String
	e.Regime = regime.String
	e.QualifyFailedCount = qualifyFailedCount.Int64
	e.QualifyWorstSeverity = qualifyWorstSeverity.String
	e.GateFail = gateFail != 0
	e.PriceUsd = priceUsd.Float64
	e.LiquidityUsd = liquidityUsd.Float64
	e.ChartInterval = chartInterval.String
	e.ChartPoints = chartPoints.Int64
	e.Rsi = rsi.Float64
	e.MacdHist = macdHist.Float64
	e.Vwap = vwap.Float64
	e.WarningsCount = warningsCount.Int64
	e.UnrealUsd = unrealUsd.Float64
	e.TotalUsd = totalUsd.Float64
	e.RoiPct = roiPct.Float64
	e.Reasons = reasons.String
	e.Payload = payload.String
}
