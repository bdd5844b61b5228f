// Package evaluation wraps the append-only evaluation snapshot table with
// input normalization and JSON encoding of the free-form reasons/payload
// fields.
package evaluation

import (
	"fmt"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/helpers"
)

// Input is the caller-supplied shape of an evaluation snapshot. Reasons and
// Payload are arbitrary values JSON-encoded before storage.
type Input struct {
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
	Reasons              interface{}
	Payload              interface{}
}

// Store wraps storage.Storage's evaluation table with normalization.
type Store struct {
	db *storage.Storage
}

// NewStore creates an evaluation store backed by db.
func NewStore(db *storage.Storage) *Store {
	return &Store{db: db}
}

// Insert normalizes in and appends a new evaluation snapshot, returning its
// surrogate id.
func (s *Store) Insert(in *Input) (int64, error) {
	normalizeStrings(in)

	reasons, err := encodeJSON(in.Reasons)
	if err != nil {
		return 0, fmt.Errorf("evaluation: encode reasons: %w", err)
	}
	reasons = helpers.ClampString(reasons, maxReasonLen)
	payload, err := encodeJSON(in.Payload)
	if err != nil {
		return 0, fmt.Errorf("evaluation: encode payload: %w", err)
	}

	return s.db.InsertEvaluation(&storage.Evaluation{
		OpsType:              in.OpsType,
		WalletID:             in.WalletID,
		WalletAlias:          in.WalletAlias,
		CoinMint:             in.CoinMint,
		TsMs:                 in.TsMs,
		TradeUUID:            in.TradeUUID,
		Symbol:               in.Symbol,
		StrategyName:         in.StrategyName,
		StrategySource:       in.StrategySource,
		Recommendation:       in.Recommendation,
		Decision:             in.Decision,
		Regime:               in.Regime,
		QualifyFailedCount:   in.QualifyFailedCount,
		QualifyWorstSeverity: in.QualifyWorstSeverity,
		GateFail:             in.GateFail,
		PriceUsd:             in.PriceUsd,
		LiquidityUsd:         in.LiquidityUsd,
		ChartInterval:        in.ChartInterval,
		ChartPoints:          in.ChartPoints,
		Rsi:                  in.Rsi,
		MacdHist:             in.MacdHist,
		Vwap:                 in.Vwap,
		WarningsCount:        in.WarningsCount,
		UnrealUsd:            in.UnrealUsd,
		TotalUsd:             in.TotalUsd,
		RoiPct:               in.RoiPct,
		Reasons:              reasons,
		Payload:              payload,
	})
}

// LatestByTrade returns the most recent evaluation for a trade run,
// optionally filtered by opsType.
func (s *Store) LatestByTrade(tradeUUID, opsType string) (*storage.Evaluation, error) {
	return s.db.LatestEvaluationByTrade(tradeUUID, opsType)
}

// LatestByMint returns the most recent evaluation for a mint across all
// runs, optionally filtered by opsType.
func (s *Store) LatestByMint(mint, opsType string) (*storage.Evaluation, error) {
	return s.db.LatestEvaluationByMint(mint, opsType)
}

// ListByTradeRange lists evaluations for a trade run within [fromMs, toMs].
func (s *Store) ListByTradeRange(tradeUUID string, fromMs, toMs int64, opsType string) ([]*storage.Evaluation, error) {
	return s.db.ListEvaluationsByTradeRange(tradeUUID, fromMs, toMs, opsType)
}

// ListByMint lists evaluations for a mint, most recent first.
func (s *Store) ListByMint(mint, opsType string, limit int) ([]*storage.Evaluation, error) {
	return s.db.ListEvaluationsByMint(mint, opsType, limit)
}

// ListRecentByWallet lists the most recent evaluations for a wallet.
func (s *Store) ListRecentByWallet(walletID int64, opsType string, limit int) ([]*storage.Evaluation, error) {
	return s.db.ListRecentEvaluationsByWallet(walletID, opsType, limit)
}

// DeleteByTrade removes all evaluations for a trade run.
func (s *Store) DeleteByTrade(tradeUUID string) error {
	return s.db.DeleteEvaluationsByTrade(tradeUUID)
}

// PruneOlderThan deletes evaluations older than cutoffMs.
func (s *Store) PruneOlderThan(cutoffMs int64) (int64, error) {
	return s.db.PruneEvaluationsOlderThan(cutoffMs)
}
