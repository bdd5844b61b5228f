package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrTradeNotFound is returned when a trade lookup finds no matching txid.
var ErrTradeNotFound = errors.New("storage: trade not found")

// ErrNoUniqueTxidIndex is returned by UpsertTradeEvent when the trade_events
// table lacks a unique constraint on txid. This should not occur against a
// database bootstrapped by ensureSchema (txid is the primary key); it exists
// for a database inherited from an older release where the ledger recorder
// needs to add the constraint and retry once, per the StorageSchemaDrift
// recovery path.
var ErrNoUniqueTxidIndex = errors.New("storage: trade_events has no unique index on txid")

// TradeEvent is a row of the trade ledger, keyed by the external
// transaction signature (Txid). Pointer fields are optional; a nil pointer
// on an UPSERT leaves the existing column value untouched.
type TradeEvent struct {
	Txid              string
	WalletID          int64
	WalletAlias       string
	CoinMint          string
	TradeUUID         *string
	Side              string
	ExecutedAt        int64
	TokenAmount       float64
	SolAmount         float64
	PriceSolPerToken  *float64
	PriceUsdPerToken  *float64
	SolUsdPrice       *float64
	FeesSol           float64
	FeesUsd           float64
	SlippagePct       *float64
	PriceImpactPct    *float64
	Program           *string
	StrategyID        *string
	StrategyName      *string
	DecisionLabel     *string
	DecisionReason    *string
	SessionID         *string
	EvaluationPayload *string
	DecisionPayload   *string
	CreatedAt         int64
	UpdatedAt         int64
}

// UpsertTradeEvent inserts or merges a trade event keyed by Txid. On
// conflict, pointer fields use COALESCE(new, old) so a duplicate submission
// that omits a field does not null it out; ExecutedAt takes MAX(old, new);
// UpdatedAt is always refreshed to now.
//
// This single statement is also where the trade_events AFTER INSERT
// triggers fire, so a committed trade guarantees committed PnL rollups —
// but only on the INSERT path, not on a pure conflict-update with unchanged
// totals. Callers that need the rollups to reflect a genuinely new trade
// must ensure Txid is actually new; duplicate resubmission intentionally
// does not re-run the aggregation math.
func (s *Storage) UpsertTradeEvent(t *TradeEvent) (*TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO trade_events (
			txid, wallet_id, wallet_alias, coin_mint, trade_uuid, side, executed_at,
			token_amount, sol_amount, price_sol_per_token, price_usd_per_token, sol_usd_price,
			fees_sol, fees_usd, slippage_pct, price_impact_pct, program, strategy_id, strategy_name,
			decision_label, decision_reason, session_id, evaluation_payload, decision_payload,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid) DO UPDATE SET
			wallet_id = excluded.wallet_id,
			wallet_alias = COALESCE(excluded.wallet_alias, trade_events.wallet_alias),
			coin_mint = excluded.coin_mint,
			trade_uuid = COALESCE(excluded.trade_uuid, trade_events.trade_uuid),
			side = excluded.side,
			executed_at = MAX(trade_events.executed_at, excluded.executed_at),
			token_amount = excluded.token_amount,
			sol_amount = excluded.sol_amount,
			price_sol_per_token = COALESCE(excluded.price_sol_per_token, trade_events.price_sol_per_token),
			price_usd_per_token = COALESCE(excluded.price_usd_per_token, trade_events.price_usd_per_token),
			sol_usd_price = COALESCE(excluded.sol_usd_price, trade_events.sol_usd_price),
			fees_sol = excluded.fees_sol,
			fees_usd = excluded.fees_usd,
			slippage_pct = COALESCE(excluded.slippage_pct, trade_events.slippage_pct),
			price_impact_pct = COALESCE(excluded.price_impact_pct, trade_events.price_impact_pct),
			program = COALESCE(excluded.program, trade_events.program),
			strategy_id = COALESCE(excluded.strategy_id, trade_events.strategy_id),
			strategy_name = COALESCE(excluded.strategy_name, trade_events.strategy_name),
			decision_label = COALESCE(excluded.decision_label, trade_events.decision_label),
			decision_reason = COALESCE(excluded.decision_reason, trade_events.decision_reason),
			session_id = COALESCE(excluded.session_id, trade_events.session_id),
			evaluation_payload = COALESCE(excluded.evaluation_payload, trade_events.evaluation_payload),
			decision_payload = COALESCE(excluded.decision_payload, trade_events.decision_payload),
			updated_at = excluded.updated_at`,
		t.Txid, t.WalletID, nullableString(t.WalletAlias), t.CoinMint, t.TradeUUID, t.Side, t.ExecutedAt,
		t.TokenAmount, t.SolAmount, t.PriceSolPerToken, t.PriceUsdPerToken, t.SolUsdPrice,
		t.FeesSol, t.FeesUsd, t.SlippagePct, t.PriceImpactPct, t.Program, t.StrategyID, t.StrategyName,
		t.DecisionLabel, t.DecisionReason, t.SessionID, t.EvaluationPayload, t.DecisionPayload,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isMissingUniqueIndexErr(err) {
			return nil, ErrNoUniqueTxidIndex
		}
		return nil, fmt.Errorf("upsert trade event: %w", err)
	}

	return s.GetTradeByTxid(t.Txid)
}

// EnsureTxidUniqueIndex creates the unique index trade_events relies on for
// idempotent upserts, for a database inherited from a release that lacked
// it. A no-op against any database created by ensureSchema, since txid is
// already the primary key there.
func (s *Storage) EnsureTxidUniqueIndex() error {
	_, err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_trade_events_txid_unique ON trade_events(txid)`)
	if err != nil {
		return fmt.Errorf("create txid unique index: %w", err)
	}
	return nil
}

func isMissingUniqueIndexErr(err error) bool {
	// SQLite has no distinct error code for "ON CONFLICT target has no
	// unique index"; it surfaces as a generic syntax/constraint error
	// whose message names the clause. Matched defensively; this path is
	// not expected against schemas created by this package.
	return err != nil && (contains(err.Error(), "ON CONFLICT clause does not match any PRIMARY KEY or UNIQUE constraint"))
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

const tradeEventSelect = `
	SELECT txid, wallet_id, wallet_alias, coin_mint, trade_uuid, side, executed_at,
	       token_amount, sol_amount, price_sol_per_token, price_usd_per_token, sol_usd_price,
	       fees_sol, fees_usd, slippage_pct, price_impact_pct, program, strategy_id, strategy_name,
	       decision_label, decision_reason, session_id, evaluation_payload, decision_payload,
	       created_at, updated_at
	FROM trade_events`

// GetTradeByTxid fetches a trade event by its external transaction
// signature.
func (s *Storage) GetTradeByTxid(txid string) (*TradeEvent, error) {
	row := s.db.QueryRow(tradeEventSelect+" WHERE txid = ?", txid)
	t, err := scanTradeEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	return t, err
}

// ListTradesForRebuild returns every trade for (walletId, mint) ordered by
// executed_at then insertion order (rowid), the replay order §4.5's rebuild
// operation requires.
func (s *Storage) ListTradesForRebuild(walletID int64, mint string) ([]*TradeEvent, error) {
	rows, err := s.db.Query(
		tradeEventSelect+" WHERE wallet_id = ? AND coin_mint = ? ORDER BY executed_at, rowid",
		walletID, mint,
	)
	if err != nil {
		return nil, fmt.Errorf("list trades for rebuild: %w", err)
	}
	defer rows.Close()
	return scanTradeEvents(rows)
}

// ListTradesBySession returns trades tagged with sessionID, used by the
// session manager's rollup refresh.
func (s *Storage) ListTradesBySession(sessionID string) ([]*TradeEvent, error) {
	rows, err := s.db.Query(tradeEventSelect+" WHERE session_id = ? ORDER BY executed_at", sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trades by session: %w", err)
	}
	defer rows.Close()
	return scanTradeEvents(rows)
}

func scanTradeEvent(row *sql.Row) (*TradeEvent, error) {
	t := &TradeEvent{}
	var walletAlias, program, strategyID, strategyName, decisionLabel, decisionReason sql.NullString
	var sessionID, evaluationPayload, decisionPayload, tradeUUID sql.NullString
	var priceSolPerToken, priceUsdPerToken, solUsdPrice, slippagePct, priceImpactPct sql.NullFloat64

	err := row.Scan(
		&t.Txid, &t.WalletID, &walletAlias, &t.CoinMint, &tradeUUID, &t.Side, &t.ExecutedAt,
		&t.TokenAmount, &t.SolAmount, &priceSolPerToken, &priceUsdPerToken, &solUsdPrice,
		&t.FeesSol, &t.FeesUsd, &slippagePct, &priceImpactPct, &program, &strategyID, &strategyName,
		&decisionLabel, &decisionReason, &sessionID, &evaluationPayload, &decisionPayload,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.WalletAlias = walletAlias.String
	assignNullableFloat(&t.PriceSolPerToken, priceSolPerToken)
	assignNullableFloat(&t.PriceUsdPerToken, priceUsdPerToken)
	assignNullableFloat(&t.SolUsdPrice, solUsdPrice)
	assignNullableFloat(&t.SlippagePct, slippagePct)
	assignNullableFloat(&t.PriceImpactPct, priceImpactPct)
	assignNullableString(&t.Program, program)
	assignNullableString(&t.StrategyID, strategyID)
	assignNullableString(&t.StrategyName, strategyName)
	assignNullableString(&t.DecisionLabel, decisionLabel)
	assignNullableString(&t.DecisionReason, decisionReason)
	assignNullableString(&t.SessionID, sessionID)
	assignNullableString(&t.EvaluationPayload, evaluationPayload)
	assignNullableString(&t.DecisionPayload, decisionPayload)
	assignNullableString(&t.TradeUUID, tradeUUID)
	return t, nil
}

func scanTradeEvents(rows *sql.Rows) ([]*TradeEvent, error) {
	var out []*TradeEvent
	for rows.Next() {
		t := &TradeEvent{}
		var walletAlias, program, strategyID, strategyName, decisionLabel, decisionReason sql.NullString
		var sessionID, evaluationPayload, decisionPayload, tradeUUID sql.NullString
		var priceSolPerToken, priceUsdPerToken, solUsdPrice, slippagePct, priceImpactPct sql.NullFloat64

		if err := rows.Scan(
			&t.Txid, &t.WalletID, &walletAlias, &t.CoinMint, &tradeUUID, &t.Side, &t.ExecutedAt,
			&t.TokenAmount, &t.SolAmount, &priceSolPerToken, &priceUsdPerToken, &solUsdPrice,
			&t.FeesSol, &t.FeesUsd, &slippagePct, &priceImpactPct, &program, &strategyID, &strategyName,
			&decisionLabel, &decisionReason, &sessionID, &evaluationPayload, &decisionPayload,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}
		t.WalletAlias = walletAlias.String
		assignNullableFloat(&t.PriceSolPerToken, priceSolPerToken)
		assignNullableFloat(&t.PriceUsdPerToken, priceUsdPerToken)
		assignNullableFloat(&t.SolUsdPrice, solUsdPrice)
		assignNullableFloat(&t.SlippagePct, slippagePct)
		assignNullableFloat(&t.PriceImpactPct, priceImpactPct)
		assignNullableString(&t.Program, program)
		assignNullableString(&t.StrategyID, strategyID)
		assignNullableString(&t.StrategyName, strategyName)
		assignNullableString(&t.DecisionLabel, decisionLabel)
		assignNullableString(&t.DecisionReason, decisionReason)
		assignNullableString(&t.SessionID, sessionID)
		assignNullableString(&t.EvaluationPayload, evaluationPayload)
		assignNullableString(&t.DecisionPayload, decisionPayload)
		assignNullableString(&t.TradeUUID, tradeUUID)
		out = append(out, t)
	}
	return out, rows.Err()
}

func assignNullableFloat(dst **float64, v sql.NullFloat64) {
	if v.Valid {
		f := v.Float64
		*dst = &f
	}
}

func assignNullableString(dst **string, v sql.NullString) {
	if v.Valid {
		s := v.String
		*dst = &s
	}
}
