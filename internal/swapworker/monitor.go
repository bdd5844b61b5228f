package swapworker

import (
	"context"
	"sync"
	"time"

	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

// pending is an in-flight swap the monitor is still waiting to confirm.
type pending struct {
	txid string
	req  *Request
}

// Monitor periodically re-checks in-flight swaps whose confirmation wasn't
// resolved inline by Coordinator.Execute, e.g. ones still unconfirmed when
// the process restarted. It is optional: a Coordinator used only for
// synchronous dry runs or fire-and-forget quoting never needs one.
type Monitor struct {
	coordinator *Coordinator
	log         *logging.Logger

	interval time.Duration
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*pending
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Coordinator *Coordinator
	// Interval between sweeps of the pending set, default 15s.
	Interval time.Duration
	// Timeout bounds each individual confirmation check, default 10s.
	Timeout time.Duration
}

// NewMonitor creates a confirmation monitor for coordinator.
func NewMonitor(cfg MonitorConfig) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	interval := cfg.Interval
	if interval == 0 {
		interval = 15 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Monitor{
		coordinator: cfg.Coordinator,
		log:         logging.GetDefault().Component("swapworker.monitor"),
		interval:    interval,
		timeout:     timeout,
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[string]*pending),
	}
}

// Track registers txid as submitted-but-unconfirmed so the monitor's sweeps
// pick it up. Coordinator.Execute does not call Track: it awaits its own
// confirmation inline. Track exists for recovering swaps left pending by a
// prior process.
func (m *Monitor) Track(txid string, req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[txid] = &pending{txid: txid, req: req}
}

func (m *Monitor) untrack(txid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, txid)
}

// Start begins the sweep loop in the background.
func (m *Monitor) Start() {
	go m.run()
	m.log.Info("swap confirmation monitor started", "interval", m.interval)
}

// Stop halts the sweep loop.
func (m *Monitor) Stop() {
	m.cancel()
	m.log.Info("swap confirmation monitor stopped")
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	m.mu.Lock()
	txids := make([]*pending, 0, len(m.pending))
	for _, p := range m.pending {
		txids = append(txids, p)
	}
	m.mu.Unlock()

	for _, p := range txids {
		if err := m.checkOne(p); err != nil {
			m.log.Debug("confirmation check failed, will retry", "txid", p.txid, "error", err)
		}
	}
}

func (m *Monitor) checkOne(p *pending) error {
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	confirmation, err := m.coordinator.confirmations.AwaitConfirmation(ctx, p.txid, m.timeout)
	if err != nil {
		return err
	}
	if confirmation.Status == ConfirmedTimeout {
		return nil // still pending, leave tracked
	}

	m.untrack(p.txid)

	switch confirmation.Status {
	case ConfirmedOK:
		if _, err := m.coordinator.recordConfirmed(p.txid, p.req, nil, confirmation); err != nil {
			m.log.Error("recovered swap confirmed but record failed", "txid", p.txid, "error", err)
		}
	case ConfirmedFailed:
		if _, err := m.coordinator.recordFailedSwap(p.txid, p.req, confirmation); err != nil {
			m.log.Error("recovered swap failure but record failed", "txid", p.txid, "error", err)
		}
	}
	return nil
}
