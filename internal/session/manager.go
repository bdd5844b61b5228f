// Package session manages the lifecycle of service-level trading sessions:
// start (with crash recovery of a stale open session), periodic refresh of
// rollups, clean end, and point-in-time lookup.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

// secondsEpochCutoff mirrors ledger's heuristic: a timestamp below this is
// assumed to be seconds-epoch rather than ms-epoch.
const secondsEpochCutoff = 1e11

// Manager owns the session lifecycle for a single service label.
type Manager struct {
	store *storage.Storage
	log   *logging.Logger
	bus   EventBus
}

// NewManager creates a session manager backed by store.
func NewManager(store *storage.Storage) *Manager {
	return &Manager{
		store: store,
		log:   logging.GetDefault().Component("session"),
	}
}

// StartParams configures Start.
type StartParams struct {
	Service           string
	ServiceInstanceID string
	StartSlot         int64
	StartBlockTime    int64
	// StartedAt defaults to now if zero.
	StartedAt int64
}

// Start begins a new session for params.Service, first closing any stale
// open session for the same service as a crash. Returns the new session id.
func (m *Manager) Start(params StartParams) (string, error) {
	if params.StartSlot <= 0 {
		return "", fmt.Errorf("session: start slot must be a positive integer, got %d", params.StartSlot)
	}

	startedAt := params.StartedAt
	if startedAt == 0 {
		startedAt = nowMillis()
	}

	sessionID := uuid.NewString()
	closed, err := m.store.StartSessionAtomic(&storage.Session{
		SessionID:         sessionID,
		Service:           params.Service,
		ServiceInstanceID: params.ServiceInstanceID,
		StartedAt:         startedAt,
		StartSlot:         params.StartSlot,
		StartBlockTime:    params.StartBlockTime,
	}, params.StartSlot, params.StartBlockTime)
	if err != nil {
		return "", fmt.Errorf("session: start session atomic: %w", err)
	}
	if closed != nil {
		m.log.Warn("closed stale open session as crash", "service", params.Service, "sessionId", closed.SessionID)
	}
	return sessionID, nil
}

// Refresh recomputes rollups from the trade ledger for sessionID and
// updates the heartbeat slot/block time.
func (m *Manager) Refresh(sessionID string, currentSlot, currentBlockTime int64) error {
	trades, err := m.store.ListTradesBySession(sessionID)
	if err != nil {
		return fmt.Errorf("session: list trades for refresh: %w", err)
	}
	count, fees, buys, sells := aggregateRollups(trades)

	if err := m.store.UpdateSessionRollups(sessionID, currentSlot, currentBlockTime, nowMillis(), count, fees, buys, sells); err != nil {
		return fmt.Errorf("session: update rollups: %w", err)
	}
	return nil
}

// EndParams configures End.
type EndParams struct {
	SessionID    string
	EndSlot      int64
	EndBlockTime int64
	// Reason defaults to "clean".
	Reason string
}

// End recomputes final rollups and closes sessionID.
func (m *Manager) End(params EndParams) error {
	reason := params.Reason
	if reason == "" {
		reason = "clean"
	}

	trades, err := m.store.ListTradesBySession(params.SessionID)
	if err != nil {
		return fmt.Errorf("session: list trades for end: %w", err)
	}
	count, fees, buys, sells := aggregateRollups(trades)

	if err := m.store.EndSession(params.SessionID, params.EndSlot, params.EndBlockTime, nowMillis(), reason, count, fees, buys, sells); err != nil {
		return fmt.Errorf("session: end session: %w", err)
	}
	return nil
}

// GetActive returns the open session for service, if any.
func (m *Manager) GetActive(service string) (*storage.Session, error) {
	return m.store.FindOpenSession(service)
}

// GetActiveID returns the open session id for service, or "" if none.
func (m *Manager) GetActiveID(service string) (string, error) {
	sess, err := m.store.FindOpenSession(service)
	if err == storage.ErrSessionNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

// GetPastSessionID returns the id of the session active at timestamp (which
// may be given in seconds or ms), or "" if none covers it.
func (m *Manager) GetPastSessionID(service string, timestamp int64) (string, error) {
	ts := timestamp
	if ts > 0 && ts < secondsEpochCutoff {
		ts *= 1000
	}
	sess, err := m.store.FindSessionAt(service, ts)
	if err == storage.ErrSessionNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

func aggregateRollups(trades []*storage.TradeEvent) (count int64, feesUsd, buysUsd, sellsUsd float64) {
	for _, t := range trades {
		count++
		feesUsd += t.FeesUsd

		usdPrice := 0.0
		if t.SolUsdPrice != nil {
			usdPrice = *t.SolUsdPrice
		}
		switch t.Side {
		case "buy":
			buysUsd += t.SolAmount * usdPrice
		case "sell":
			sellsUsd += t.SolAmount * usdPrice
		}
	}
	return count, feesUsd, buysUsd, sellsUsd
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
