package swapworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scoundrel-labs/scoundrel/internal/ledger"
	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

const testMint = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func newTestCoordinator(t *testing.T, quotes QuoteProvider, submitter Submitter, confirmations ConfirmationWatcher, balances BalanceReader, facts FactDeriver) (*Coordinator, *storage.Storage) {
	t.Helper()
	db, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	recorder := ledger.NewRecorder(ledger.Config{
		Store:    db,
		Resolver: ledger.NewResolver(db),
		Applier:  ledger.NewApplier(db),
		Service:  "scoundrel-test",
	})

	c := NewCoordinator(CoordinatorConfig{
		Quotes:         quotes,
		Submitter:      submitter,
		Confirmations:  confirmations,
		Balances:       balances,
		Facts:          facts,
		Recorder:       recorder,
		ConfirmTimeout: 2 * time.Second,
	})
	return c, db
}

type fakeQuotes struct {
	quote *Quote
	err   error
}

func (f *fakeQuotes) Quote(ctx context.Context, req *Request, amount *NormalizedAmount) (*Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

type fakeSubmitter struct {
	txid string
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req *Request, quote *Quote) (string, error) {
	return f.txid, f.err
}

type fakeConfirmations struct {
	result *ConfirmationResult
	err    error
}

func (f *fakeConfirmations) AwaitConfirmation(ctx context.Context, txid string, timeout time.Duration) (*ConfirmationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeBalances struct {
	balance float64
}

func (f *fakeBalances) TokenBalance(ctx context.Context, walletPubkey, mint string) (float64, error) {
	return f.balance, nil
}

type fakeFacts struct {
	fact *TradeFact
	err  error
}

func (f *fakeFacts) DeriveFact(ctx context.Context, txid, walletPubkey, mint string) (*TradeFact, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fact, nil
}

func baseRequest() *Request {
	return &Request{
		Side:         SideBuy,
		Mint:         testMint,
		Amount:       "1.5",
		WalletID:     1,
		WalletAlias:  "bot-1",
		WalletPubkey: "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS",
	}
}

func TestExecuteDryRunStopsBeforeSubmit(t *testing.T) {
	submitter := &fakeSubmitter{txid: "should-not-be-used"}
	c, _ := newTestCoordinator(t, &fakeQuotes{quote: &Quote{InAmount: 1.5, OutAmount: 1000}}, submitter, nil, nil, nil)

	req := baseRequest()
	req.DryRun = true

	res, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Quote == nil || res.Trade != nil {
		t.Fatalf("expected quote-only result, got %+v", res)
	}
}

func TestExecuteConfirmedRecordsTrade(t *testing.T) {
	confirmations := &fakeConfirmations{result: &ConfirmationResult{
		Status:             ConfirmedOK,
		NetworkFeeLamports: 5000,
		BlockTime:          1700000000,
	}}
	facts := &fakeFacts{fact: &TradeFact{TokenNet: 1000, SolNet: -1.5}}

	c, db := newTestCoordinator(t,
		&fakeQuotes{quote: &Quote{InAmount: 1.5, OutAmount: 1000}},
		&fakeSubmitter{txid: "tx-confirmed-1"},
		confirmations, nil, facts)
	defer db.Close()

	res, err := c.Execute(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Trade == nil {
		t.Fatalf("expected a recorded trade")
	}
	if res.Trade.TokenAmount != 1000 || res.Trade.SolAmount != 1.5 {
		t.Fatalf("unexpected trade amounts: %+v", res.Trade)
	}
	if res.Trade.Side != "buy" {
		t.Fatalf("expected side buy, got %q", res.Trade.Side)
	}
}

func TestExecuteFailedSwapRecordsFeeOnlyTrade(t *testing.T) {
	confirmations := &fakeConfirmations{result: &ConfirmationResult{
		Status:             ConfirmedFailed,
		NetworkFeeLamports: 5000,
		ErrorMessage:       "insufficient funds for rent",
	}}

	c, db := newTestCoordinator(t,
		&fakeQuotes{quote: &Quote{InAmount: 1.5, OutAmount: 1000}},
		&fakeSubmitter{txid: "tx-failed-1"},
		confirmations, nil, &fakeFacts{})
	defer db.Close()

	res, err := c.Execute(context.Background(), baseRequest())
	if !errors.Is(err, ErrSwapFailed) {
		t.Fatalf("expected ErrSwapFailed, got %v", err)
	}
	if res.Trade == nil {
		t.Fatalf("expected a fee-only trade to be recorded")
	}
	if res.Trade.TokenAmount != 0 || res.Trade.SolAmount != 0 {
		t.Fatalf("expected zero token/sol amounts on failed swap, got %+v", res.Trade)
	}
	if res.Trade.DecisionLabel == nil || *res.Trade.DecisionLabel != failedSwapLabel {
		t.Fatalf("expected decisionLabel=%q, got %+v", failedSwapLabel, res.Trade.DecisionLabel)
	}
	if res.Trade.Side != "buy" {
		t.Fatalf("expected originally-requested side to be retained, got %q", res.Trade.Side)
	}
}

func TestExecuteTimeoutReturnsError(t *testing.T) {
	confirmations := &fakeConfirmations{result: &ConfirmationResult{Status: ConfirmedTimeout}}

	c, db := newTestCoordinator(t,
		&fakeQuotes{quote: &Quote{InAmount: 1.5, OutAmount: 1000}},
		&fakeSubmitter{txid: "tx-timeout-1"},
		confirmations, nil, &fakeFacts{})
	defer db.Close()

	if _, err := c.Execute(context.Background(), baseRequest()); !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}
}

func TestExecutePercentSellResolvesBalanceBeforeQuoting(t *testing.T) {
	quotes := &fakeQuotes{quote: &Quote{InAmount: 50, OutAmount: 0.5}}
	balances := &fakeBalances{balance: 200}
	confirmations := &fakeConfirmations{result: &ConfirmationResult{Status: ConfirmedOK}}
	facts := &fakeFacts{fact: &TradeFact{TokenNet: -50, SolNet: 0.5}}

	c, db := newTestCoordinator(t, quotes, &fakeSubmitter{txid: "tx-pct-1"}, confirmations, balances, facts)
	defer db.Close()

	req := baseRequest()
	req.Side = SideSell
	req.Amount = "25%"

	if _, err := c.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecuteRejectsInvalidMint(t *testing.T) {
	c, db := newTestCoordinator(t, &fakeQuotes{}, &fakeSubmitter{}, &fakeConfirmations{}, nil, &fakeFacts{})
	defer db.Close()

	req := baseRequest()
	req.Mint = "too-short"

	if _, err := c.Execute(context.Background(), req); !errors.Is(err, ErrInvalidMint) {
		t.Fatalf("expected ErrInvalidMint, got %v", err)
	}
}
