// Package targetlist runs the periodic candidate-mint ingestion pipeline:
// pulling from external feeds, upserting the Target table, and running the
// pending-uuid and target prune policies on the side.
package targetlist

import (
	"context"
	"fmt"
	"time"

	"github.com/scoundrel-labs/scoundrel/internal/ledger"
	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

// offInterval is the configuration sentinel that disables the daemon.
const offInterval = "OFF"

// Candidate is a mint an ingestion source proposes for tracking.
type Candidate struct {
	Mint           string
	Status         string
	Score          float64
	Confidence     float64
	MintVerified   bool
	VectorStoreIDs string
}

// Source fetches the current batch of candidate mints from an external
// feed. The real HTTP/websocket client implementing this is an external
// collaborator; targetlist only depends on the narrow interface.
type Source interface {
	FetchCandidates(ctx context.Context) ([]Candidate, error)
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Store    *storage.Storage
	Resolver *ledger.Resolver
	Source   Source

	// Interval between ingestion ticks. Pass offInterval's zero value
	// (0) or construct via ParseInterval("OFF") to disable entirely.
	Interval time.Duration
	// PruneInterval between prune sweeps, default 30m.
	PruneInterval time.Duration
	// PendingUUIDMaxAge bounds how old a pending-uuid row can get before
	// CleanupPending removes it, default 1h (floored at 60s internally).
	PendingUUIDMaxAge time.Duration
}

// ParseInterval parses a configuration string into a *time.Duration per
// spec: "OFF" disables the daemon (nil), anything else is milliseconds.
func ParseInterval(raw string) (*time.Duration, error) {
	if raw == offInterval {
		return nil, nil
	}
	var ms int64
	if _, err := fmt.Sscanf(raw, "%d", &ms); err != nil || ms <= 0 {
		return nil, fmt.Errorf("targetlist: invalid interval %q, want milliseconds or %q", raw, offInterval)
	}
	d := time.Duration(ms) * time.Millisecond
	return &d, nil
}

// Coordinator runs the ingestion and prune ticker loops.
type Coordinator struct {
	store    *storage.Storage
	resolver *ledger.Resolver
	source   Source
	log      *logging.Logger

	interval      time.Duration
	pruneInterval time.Duration
	pendingMaxAge time.Duration
	disabled      bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCoordinator creates a target-list coordinator from cfg. An Interval of
// zero disables the ticker loop entirely (Start becomes a logged no-op),
// matching the "OFF" configuration sentinel.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	pruneInterval := cfg.PruneInterval
	if pruneInterval == 0 {
		pruneInterval = 30 * time.Minute
	}
	pendingMaxAge := cfg.PendingUUIDMaxAge
	if pendingMaxAge == 0 {
		pendingMaxAge = time.Hour
	}

	return &Coordinator{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		source:        cfg.Source,
		log:           logging.GetDefault().Component("targetlist"),
		interval:      cfg.Interval,
		pruneInterval: pruneInterval,
		pendingMaxAge: pendingMaxAge,
		disabled:      cfg.Interval <= 0,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins the ingestion/prune ticker loops in the background. If the
// coordinator was configured with interval "OFF", Start logs once and
// returns without starting anything.
func (c *Coordinator) Start() {
	if c.disabled {
		c.log.Info("target-list daemon disabled (interval=OFF)")
		return
	}
	go c.run()
	c.log.Info("target-list daemon started", "interval", c.interval, "pruneInterval", c.pruneInterval)
}

// Stop halts the ticker loops.
func (c *Coordinator) Stop() {
	c.cancel()
	c.log.Info("target-list daemon stopped")
}

func (c *Coordinator) run() {
	ingestTicker := time.NewTicker(c.interval)
	pruneTicker := time.NewTicker(c.pruneInterval)
	defer ingestTicker.Stop()
	defer pruneTicker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ingestTicker.C:
			if err := c.ingestOnce(c.ctx); err != nil {
				c.log.Warn("ingestion tick failed", "error", err)
			}
		case <-pruneTicker.C:
			c.pruneOnce()
		}
	}
}

// RunOnce performs exactly one ingestion cycle and blocks until it finishes
// or timeout elapses, for the one-shot command mode.
func (c *Coordinator) RunOnce(ctx context.Context, timeout time.Duration) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.ingestAndCount(runCtx)
}

func (c *Coordinator) ingestOnce(ctx context.Context) error {
	_, err := c.ingestAndCount(ctx)
	return err
}

func (c *Coordinator) ingestAndCount(ctx context.Context) (int, error) {
	candidates, err := c.source.FetchCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch candidates: %w", err)
	}

	now := time.Now().UnixMilli()
	n := 0
	for _, cand := range candidates {
		if cand.Mint == "" {
			continue
		}
		err := c.store.UpsertTarget(&storage.Target{
			Mint:           cand.Mint,
			Status:         cand.Status,
			Score:          cand.Score,
			Confidence:     cand.Confidence,
			MintVerified:   cand.MintVerified,
			VectorStoreIDs: cand.VectorStoreIDs,
			LastCheckedAt:  now,
		})
		if err != nil {
			c.log.Warn("upsert target failed", "mint", cand.Mint, "error", err)
			continue
		}
		n++
	}
	c.log.Debug("ingestion cycle complete", "candidates", len(candidates), "upserted", n)
	return n, nil
}

func (c *Coordinator) pruneOnce() {
	now := time.Now().UnixMilli()

	mints, err := c.store.ListTargetsDueForPrune(now)
	if err != nil {
		c.log.Warn("list targets due for prune failed", "error", err)
	} else if len(mints) > 0 {
		if n, err := c.store.DeleteTargets(mints); err != nil {
			c.log.Warn("delete targets failed", "error", err)
		} else {
			c.log.Info("pruned targets", "count", n)
		}
	}

	if c.resolver != nil {
		if n, err := c.resolver.CleanupPending(c.pendingMaxAge, 50000, now); err != nil {
			c.log.Warn("cleanup pending trade uuids failed", "error", err)
		} else if n > 0 {
			c.log.Info("pruned pending trade uuids", "count", n)
		}
	}
}
