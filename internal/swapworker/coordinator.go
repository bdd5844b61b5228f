package swapworker

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/scoundrel-labs/scoundrel/internal/ledger"
	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/helpers"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

const failedSwapLabel = "failed_swap"

// CoordinatorConfig wires a Coordinator's dependencies.
type CoordinatorConfig struct {
	Quotes        QuoteProvider
	Submitter     Submitter
	Confirmations ConfirmationWatcher
	Balances      BalanceReader
	Facts         FactDeriver
	Recorder      *ledger.Recorder
	// ConfirmTimeout bounds how long AwaitConfirmation blocks, default 60s.
	ConfirmTimeout time.Duration
	// QuoteRate limits quote requests per second against the aggregator,
	// default 5/s with a burst of 5.
	QuoteRate rate.Limit
}

// Coordinator executes swap requests end to end.
type Coordinator struct {
	quotes        QuoteProvider
	submitter     Submitter
	confirmations ConfirmationWatcher
	balances      BalanceReader
	facts         FactDeriver
	recorder      *ledger.Recorder

	confirmTimeout time.Duration
	limiter        *rate.Limiter

	log *logging.Logger
}

// NewCoordinator creates a swap coordinator from cfg.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	timeout := cfg.ConfirmTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	quoteRate := cfg.QuoteRate
	if quoteRate == 0 {
		quoteRate = 5
	}

	return &Coordinator{
		quotes:         cfg.Quotes,
		submitter:      cfg.Submitter,
		confirmations:  cfg.Confirmations,
		balances:       cfg.Balances,
		facts:          cfg.Facts,
		recorder:       cfg.Recorder,
		confirmTimeout: timeout,
		limiter:        rate.NewLimiter(quoteRate, int(quoteRate)),
		log:            logging.GetDefault().Component("swapworker"),
	}
}

// Result is what Execute returns on a successful (possibly dry-run) swap.
type Result struct {
	Quote *Quote
	Trade *storage.TradeEvent // nil on a dry run
}

// Execute runs the full pipeline: validate, quote, (stop if dry run), sign
// and submit, await confirmation, derive the post-trade fact, and record
// exactly one trade event.
func (c *Coordinator) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	amount, err := NormalizeAmount(req.Amount, req.Side)
	if err != nil {
		return nil, err
	}

	if amount.Kind == AmountPercent || (amount.Kind == AmountDumpAll && req.Panic) {
		if c.balances == nil {
			return nil, fmt.Errorf("execute: percent/panic amount requires a balance reader")
		}
		balance, err := c.balances.TokenBalance(ctx, req.WalletPubkey, req.Mint)
		if err != nil {
			return nil, fmt.Errorf("execute: read token balance: %w", err)
		}
		switch amount.Kind {
		case AmountPercent:
			amount.Absolute = balance * (amount.Percent / 100)
		case AmountDumpAll:
			amount.Absolute = balance
		}
		amount.Kind = AmountAbsolute
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("execute: rate limit wait: %w", err)
	}
	quote, err := c.quotes.Quote(ctx, req, amount)
	if err != nil {
		return nil, fmt.Errorf("execute: quote: %w", err)
	}
	if quote == nil {
		return nil, ErrNoQuote
	}

	if req.DryRun {
		return &Result{Quote: quote}, nil
	}

	txid, err := c.submitter.Submit(ctx, req, quote)
	if err != nil {
		return nil, fmt.Errorf("execute: submit: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	confirmation, err := c.confirmations.AwaitConfirmation(confirmCtx, txid, c.confirmTimeout)
	if err != nil {
		return nil, fmt.Errorf("execute: await confirmation: %w", err)
	}

	switch confirmation.Status {
	case ConfirmedOK:
		return c.recordConfirmed(txid, req, quote, confirmation)
	case ConfirmedFailed:
		return c.recordFailedSwap(txid, req, confirmation)
	default: // timeout
		return nil, fmt.Errorf("execute: %w: %s", ErrConfirmationTimeout, txid)
	}
}

func (c *Coordinator) recordConfirmed(txid string, req *Request, quote *Quote, confirmation *ConfirmationResult) (*Result, error) {
	fact, err := c.facts.DeriveFact(context.Background(), txid, req.WalletPubkey, req.Mint)
	if err != nil {
		return nil, fmt.Errorf("record confirmed: derive fact: %w", err)
	}

	priceSol := fact.PriceSolPerToken
	if priceSol == 0 && fact.TokenNet != 0 && !math.IsNaN(fact.SolNet) && !math.IsInf(fact.SolNet, 0) {
		priceSol = math.Abs(fact.SolNet) / math.Abs(fact.TokenNet)
	}

	var pricePtr *float64
	if priceSol != 0 {
		pricePtr = &priceSol
	}
	var slippagePtr *float64
	if req.SlippagePercent != 0 {
		slippagePtr = &req.SlippagePercent
	}
	var programPtr *string
	var priceImpactPtr *float64
	if quote != nil {
		if quote.Route != "" {
			route := quote.Route
			programPtr = &route
		}
		if quote.PriceImpactPct != 0 {
			impact := quote.PriceImpactPct
			priceImpactPtr = &impact
		}
	}

	trade, err := c.recorder.Record(&ledger.TradeInput{
		Txid:             txid,
		WalletID:         req.WalletID,
		WalletAlias:      req.WalletAlias,
		CoinMint:         req.Mint,
		Side:             string(req.Side),
		ExecutedAt:       nowMillis(confirmation),
		TokenAmount:      math.Abs(fact.TokenNet),
		SolAmount:        math.Abs(fact.SolNet),
		PriceSolPerToken: pricePtr,
		FeesSol:          lamportsToSol(confirmation.NetworkFeeLamports),
		SlippagePct:      slippagePtr,
		PriceImpactPct:   priceImpactPtr,
		Program:          programPtr,
	})
	if err != nil {
		return nil, fmt.Errorf("record confirmed: %w", err)
	}
	return &Result{Trade: trade}, nil
}

// recordFailedSwap emits a fee-only trade event for a failed transaction so
// the wallet's fee spend is still tracked, per §4.8. The trade ledger's
// side column is NOT NULL, so the originally requested side is stored and
// the failure is distinguished entirely by DecisionLabel.
func (c *Coordinator) recordFailedSwap(txid string, req *Request, confirmation *ConfirmationResult) (*Result, error) {
	label := failedSwapLabel
	reason := confirmation.ErrorMessage

	trade, err := c.recorder.Record(&ledger.TradeInput{
		Txid:           txid,
		WalletID:       req.WalletID,
		WalletAlias:    req.WalletAlias,
		CoinMint:       req.Mint,
		Side:           string(req.Side),
		ExecutedAt:     nowMillis(confirmation),
		TokenAmount:    0,
		SolAmount:      0,
		FeesSol:        lamportsToSol(confirmation.NetworkFeeLamports),
		DecisionLabel:  &label,
		DecisionReason: &reason,
	})
	if err != nil {
		return nil, fmt.Errorf("record failed swap: %w", err)
	}
	c.log.Warn("failed swap recorded as fee-only trade", "txid", txid, "reason", reason)
	return &Result{Trade: trade}, fmt.Errorf("execute: %w: %s", ErrSwapFailed, reason)
}

func validateRequest(req *Request) error {
	if req.Side != SideBuy && req.Side != SideSell {
		return ErrInvalidSide
	}
	if err := ValidateMint(req.Mint); err != nil {
		return err
	}
	return nil
}

func lamportsToSol(lamports uint64) float64 {
	return helpers.LamportsToSOL(lamports).InexactFloat64()
}

func nowMillis(c *ConfirmationResult) int64 {
	if c.BlockTime != 0 {
		return c.BlockTime * 1000
	}
	return time.Now().UnixMilli()
}
