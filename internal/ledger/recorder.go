package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

// secondsEpochCutoff is the heuristic threshold below which an ExecutedAt
// value is assumed to be seconds-epoch rather than ms-epoch.
const secondsEpochCutoff = 1e11

const pastTradeBackfillLabel = "past_trade_backfill"

// TradeInput is the caller-supplied shape of a trade event. Pointer fields
// are optional; a nil pointer means "unknown", not "zero".
type TradeInput struct {
	Txid              string
	WalletID          int64
	WalletAlias       string
	CoinMint          string
	Side              string // "buy" or "sell"
	ExecutedAt        int64  // ms-epoch, or seconds-epoch (auto-detected)
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
	TradeUUID         *string
	SessionID         *string
	EvaluationPayload *string
	DecisionPayload   *string
}

// Recorder is the single-writer entry point for all trade events: it
// upserts into the trade ledger and drives the position-run state machine
// in one logical operation.
type Recorder struct {
	store    *storage.Storage
	resolver *Resolver
	applier  *Applier
	service  string
	log      *logging.Logger
}

// Config configures a Recorder.
type Config struct {
	Store    *storage.Storage
	Resolver *Resolver
	Applier  *Applier
	// Service names the owning service for session resolution, e.g.
	// "scoundrel-trader".
	Service string
}

// NewRecorder creates a trade recorder from cfg.
func NewRecorder(cfg Config) *Recorder {
	return &Recorder{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		applier:  cfg.Applier,
		service:  cfg.Service,
		log:      logging.GetDefault().Component("ledger.recorder"),
	}
}

// Record validates, resolves, persists, and applies a live trade event. The
// returned row reflects the merged ledger state after UPSERT even when the
// position-run applier subsequently fails; a failed apply is logged, not
// returned as an error, since positions can always be rebuilt from the
// ledger (§4.5).
func (r *Recorder) Record(in *TradeInput) (*storage.TradeEvent, error) {
	if err := validateTradeInput(in); err != nil {
		return nil, err
	}

	now := nowMillis()
	executedAt := normalizeExecutedAt(in.ExecutedAt)

	uuidStr, err := r.resolveUUID(in, executedAt, now)
	if err != nil {
		return nil, fmt.Errorf("record: resolve uuid: %w", err)
	}

	sessionID := ""
	if in.SessionID != nil {
		sessionID = *in.SessionID
	} else if r.service != "" {
		if sess, err := r.store.FindOpenSession(r.service); err == nil {
			sessionID = sess.SessionID
		} else if err != storage.ErrSessionNotFound {
			return nil, fmt.Errorf("record: find open session: %w", err)
		}
	}

	trade := in.toTradeEvent(executedAt, uuidStr, sessionID)

	saved, err := r.upsertWithRetry(trade)
	if err != nil {
		return nil, fmt.Errorf("record: upsert trade event: %w", err)
	}

	if _, err := r.applier.ApplyTrade(saved); err != nil {
		r.log.Error("position-run apply failed, trade row retained", "txid", saved.Txid, "error", err)
	}

	return saved, nil
}

// RecordPast persists a historical trade without touching position state or
// minting uuids, per §4.4's recordPast variant. Provenance is recorded via
// DecisionLabel/DecisionReason; the session is whichever was active at
// ExecutedAt, or "unknown" if none was.
func (r *Recorder) RecordPast(in *TradeInput, note string) (*storage.TradeEvent, error) {
	if err := validateTradeInput(in); err != nil {
		return nil, err
	}

	executedAt := normalizeExecutedAt(in.ExecutedAt)

	sessionID := "unknown"
	if r.service != "" {
		if sess, err := r.store.FindSessionAt(r.service, executedAt); err == nil {
			sessionID = sess.SessionID
		} else if err != storage.ErrSessionNotFound {
			return nil, fmt.Errorf("record past: find session at: %w", err)
		}
	}

	label := pastTradeBackfillLabel
	trade := in.toTradeEvent(executedAt, derefStr(in.TradeUUID), sessionID)
	trade.DecisionLabel = &label
	trade.DecisionReason = &note

	saved, err := r.upsertWithRetry(trade)
	if err != nil {
		return nil, fmt.Errorf("record past: upsert trade event: %w", err)
	}
	return saved, nil
}

func (r *Recorder) resolveUUID(in *TradeInput, executedAt, now int64) (string, error) {
	if in.TradeUUID != nil && *in.TradeUUID != "" {
		if err := r.resolver.Bind(in.WalletID, in.CoinMint, *in.TradeUUID, now); err != nil {
			return "", err
		}
		return *in.TradeUUID, nil
	}

	resolved, err := r.resolver.Resolve(in.WalletID, in.CoinMint)
	if err != nil {
		return "", err
	}
	if resolved != "" {
		return resolved, nil
	}

	if in.Side == "buy" {
		minted := uuid.NewString()
		if err := r.resolver.Bind(in.WalletID, in.CoinMint, minted, now); err != nil {
			return "", err
		}
		return minted, nil
	}

	r.log.Warn("sell with no resolvable uuid, minting new one", "walletId", in.WalletID, "mint", in.CoinMint)
	minted := uuid.NewString()
	if err := r.resolver.Bind(in.WalletID, in.CoinMint, minted, now); err != nil {
		return "", err
	}
	return minted, nil
}

// upsertWithRetry upserts t, and if the database lacks a unique index on
// txid (an inherited pre-migration database), creates it and retries once.
func (r *Recorder) upsertWithRetry(t *storage.TradeEvent) (*storage.TradeEvent, error) {
	saved, err := r.store.UpsertTradeEvent(t)
	if err == storage.ErrNoUniqueTxidIndex {
		if ierr := r.store.EnsureTxidUniqueIndex(); ierr != nil {
			return nil, ierr
		}
		saved, err = r.store.UpsertTradeEvent(t)
	}
	return saved, err
}

func validateTradeInput(in *TradeInput) error {
	if in.WalletID == 0 {
		return fmt.Errorf("record: walletId is required")
	}
	if in.CoinMint == "" {
		return fmt.Errorf("record: coinMint is required")
	}
	if in.Side != "buy" && in.Side != "sell" {
		return fmt.Errorf("record: side must be \"buy\" or \"sell\", got %q", in.Side)
	}
	if in.Txid == "" {
		return fmt.Errorf("record: txid is required")
	}
	return nil
}

// normalizeExecutedAt converts a seconds-epoch timestamp to ms-epoch. Any
// value below secondsEpochCutoff is assumed to be seconds.
func normalizeExecutedAt(executedAt int64) int64 {
	if executedAt > 0 && executedAt < secondsEpochCutoff {
		return executedAt * 1000
	}
	return executedAt
}

func (in *TradeInput) toTradeEvent(executedAt int64, uuidStr, sessionID string) *storage.TradeEvent {
	t := &storage.TradeEvent{
		Txid:             in.Txid,
		WalletID:         in.WalletID,
		WalletAlias:      in.WalletAlias,
		CoinMint:         in.CoinMint,
		Side:             in.Side,
		ExecutedAt:       executedAt,
		TokenAmount:      in.TokenAmount,
		SolAmount:        in.SolAmount,
		PriceSolPerToken: in.PriceSolPerToken,
		PriceUsdPerToken: in.PriceUsdPerToken,
		SolUsdPrice:      in.SolUsdPrice,
		FeesSol:          in.FeesSol,
		FeesUsd:          in.FeesUsd,
		SlippagePct:      in.SlippagePct,
		PriceImpactPct:   in.PriceImpactPct,
		Program:           in.Program,
		StrategyID:        in.StrategyID,
		StrategyName:      in.StrategyName,
		DecisionLabel:     in.DecisionLabel,
		DecisionReason:    in.DecisionReason,
		EvaluationPayload: in.EvaluationPayload,
		DecisionPayload:   in.DecisionPayload,
	}
	if uuidStr != "" {
		t.TradeUUID = &uuidStr
	}
	if sessionID != "" {
		t.SessionID = &sessionID
	}
	return t
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
