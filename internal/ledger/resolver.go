// Package ledger implements the trade-UUID resolver, the position-run
// state machine, and the trade recorder that sits in front of both.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

const (
	minCleanupAge   = 60 * time.Second
	minCleanupLimit = 1
	maxCleanupLimit = 50000
)

// cacheKey identifies a (walletId, mint) pair in the resolver's in-memory
// cache.
type cacheKey struct {
	walletID int64
	mint     string
}

// Resolver answers "which position run does this trade belong to",
// consulting an in-memory cache, the open-position table, and the
// pending-uuid table in that order, and backfilling newly learned
// bindings. See the Position-run state machine in positions.go for how a
// resolved uuid gets attached to ledger rows.
type Resolver struct {
	store *storage.Storage
	log   *logging.Logger

	mu    sync.Mutex
	cache map[cacheKey]string
}

// NewResolver creates a trade-UUID resolver backed by store.
func NewResolver(store *storage.Storage) *Resolver {
	return &Resolver{
		store: store,
		log:   logging.GetDefault().Component("ledger.resolver"),
		cache: make(map[cacheKey]string),
	}
}

// Resolve returns the uuid a trade for (walletId, mint) belongs to, or ""
// if none is known yet. Resolution order: in-memory cache, then the open
// PositionRun (closedAt NULL or 0), then the pending-uuid table. Any hit
// is cached.
func (r *Resolver) Resolve(walletID int64, mint string) (string, error) {
	key := cacheKey{walletID, mint}

	r.mu.Lock()
	if uuid, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return uuid, nil
	}
	r.mu.Unlock()

	if run, err := r.store.FindOpenPositionRun(walletID, mint); err == nil {
		if run.TradeUUID != "" {
			r.setCache(key, run.TradeUUID)
			return run.TradeUUID, nil
		}
	} else if err != storage.ErrPositionRunNotFound {
		return "", fmt.Errorf("resolve: find open position run: %w", err)
	}

	uuid, err := r.store.GetPendingTradeUUID(walletID, mint)
	if err == nil {
		r.setCache(key, uuid)
		return uuid, nil
	}
	if err != storage.ErrPendingUUIDNotFound {
		return "", fmt.Errorf("resolve: get pending trade uuid: %w", err)
	}

	return "", nil
}

// Bind write-through binds uuid to (walletId, mint): it first tries to
// stamp the open PositionRun's trade_uuid; if no row changed (no open run
// yet), it upserts into the pending table instead. Either way the cache is
// updated.
func (r *Resolver) Bind(walletID int64, mint, uuid string, now int64) error {
	changed, err := r.store.SetOpenPositionRunUUID(walletID, mint, uuid)
	if err != nil {
		return fmt.Errorf("bind: set open position run uuid: %w", err)
	}
	if changed == 0 {
		if err := r.store.UpsertPendingTradeUUID(walletID, mint, uuid, now); err != nil {
			return fmt.Errorf("bind: upsert pending trade uuid: %w", err)
		}
	}
	r.setCache(cacheKey{walletID, mint}, uuid)
	return nil
}

// Clear blanks the open run's uuid, drops the cache entry, and removes
// any pending row for (walletId, mint).
func (r *Resolver) Clear(walletID int64, mint string) error {
	if err := r.store.ClearOpenPositionRunUUID(walletID, mint); err != nil {
		return fmt.Errorf("clear: clear open position run uuid: %w", err)
	}
	if err := r.store.DeletePendingTradeUUID(walletID, mint); err != nil {
		return fmt.Errorf("clear: delete pending trade uuid: %w", err)
	}

	key := cacheKey{walletID, mint}
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
	return nil
}

// CleanupPending deletes pending uuid rows older than now-maxAge, up to
// limit rows, oldest first. maxAge is floored at 60s and limit clamped to
// [1, 50000].
func (r *Resolver) CleanupPending(maxAge time.Duration, limit int, now int64) (int64, error) {
	if maxAge < minCleanupAge {
		maxAge = minCleanupAge
	}
	if limit < minCleanupLimit {
		limit = minCleanupLimit
	}
	if limit > maxCleanupLimit {
		limit = maxCleanupLimit
	}

	cutoff := now - maxAge.Milliseconds()
	n, err := r.store.CleanupPendingTradeUUIDs(cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("cleanup pending: %w", err)
	}
	if n > 0 {
		r.log.Debug("cleaned up stale pending trade uuids", "count", n)
	}
	return n, nil
}

func (r *Resolver) setCache(key cacheKey, uuid string) {
	r.mu.Lock()
	r.cache[key] = uuid
	r.mu.Unlock()
}
