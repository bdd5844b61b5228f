package swapworker

import (
	"context"
	"testing"
	"time"

	"github.com/scoundrel-labs/scoundrel/internal/ledger"
	"github.com/scoundrel-labs/scoundrel/internal/storage"
)

type sequencedConfirmations struct {
	results []*ConfirmationResult
	calls   int
}

func (s *sequencedConfirmations) AwaitConfirmation(ctx context.Context, txid string, timeout time.Duration) (*ConfirmationResult, error) {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx], nil
}

func TestMonitorSweepRecordsOnceConfirmed(t *testing.T) {
	db, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer db.Close()

	recorder := ledger.NewRecorder(ledger.Config{
		Store:    db,
		Resolver: ledger.NewResolver(db),
		Applier:  ledger.NewApplier(db),
		Service:  "scoundrel-test",
	})

	confirmations := &sequencedConfirmations{results: []*ConfirmationResult{
		{Status: ConfirmedTimeout},
		{Status: ConfirmedOK, NetworkFeeLamports: 5000},
	}}
	facts := &fakeFacts{fact: &TradeFact{TokenNet: 500, SolNet: -0.8}}

	c := NewCoordinator(CoordinatorConfig{
		Confirmations: confirmations,
		Facts:         facts,
		Recorder:      recorder,
	})

	m := NewMonitor(MonitorConfig{Coordinator: c, Interval: time.Hour, Timeout: time.Second})
	req := baseRequest()
	m.Track("tx-recovered-1", req)

	m.sweep()
	m.mu.Lock()
	_, stillPending := m.pending["tx-recovered-1"]
	m.mu.Unlock()
	if !stillPending {
		t.Fatalf("expected tx to remain tracked after a timeout result")
	}

	m.sweep()
	m.mu.Lock()
	_, stillPending = m.pending["tx-recovered-1"]
	m.mu.Unlock()
	if stillPending {
		t.Fatalf("expected tx to be untracked after confirmation")
	}

	trade, err := db.GetTradeByTxid("tx-recovered-1")
	if err != nil {
		t.Fatalf("GetTradeByTxid: %v", err)
	}
	if trade.TokenAmount != 500 {
		t.Fatalf("expected recorded trade token amount 500, got %v", trade.TokenAmount)
	}
}

func TestMonitorStartStopDoesNotBlock(t *testing.T) {
	db, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer db.Close()

	c := NewCoordinator(CoordinatorConfig{
		Confirmations: &sequencedConfirmations{results: []*ConfirmationResult{{Status: ConfirmedTimeout}}},
		Recorder: ledger.NewRecorder(ledger.Config{
			Store:    db,
			Resolver: ledger.NewResolver(db),
			Applier:  ledger.NewApplier(db),
		}),
	})

	m := NewMonitor(MonitorConfig{Coordinator: c, Interval: time.Millisecond})
	m.Start()
	time.Sleep(5 * time.Millisecond)
	m.Stop()
}
