package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// ensureSchema idempotently creates every table, index, and trigger the
// trading-state subsystem needs, then adds any columns missing from an
// older database. It succeeds on a brand new file and on one created by
// any earlier version of this schema.
func (s *Storage) ensureSchema() error {
	const schema = `
	-- Wallet registry. At most one row may have is_default_funding = 1,
	-- enforced by the partial unique index below.
	CREATE TABLE IF NOT EXISTS wallets (
		wallet_id INTEGER PRIMARY KEY AUTOINCREMENT,
		alias TEXT UNIQUE NOT NULL,
		pubkey TEXT NOT NULL,
		usage_type TEXT NOT NULL DEFAULT 'other',
		is_default_funding INTEGER NOT NULL DEFAULT 0,
		auto_attach_warchest INTEGER NOT NULL DEFAULT 0,
		has_private_key INTEGER NOT NULL DEFAULT 0,
		key_source TEXT NOT NULL DEFAULT 'none',
		key_ref TEXT,
		color TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_default_funding
		ON wallets(is_default_funding) WHERE is_default_funding = 1;
	CREATE INDEX IF NOT EXISTS idx_wallets_pubkey ON wallets(pubkey);

	-- Coin metadata, keyed by mint. Never deleted, only status-changed.
	CREATE TABLE IF NOT EXISTS coins (
		mint TEXT PRIMARY KEY,
		symbol TEXT,
		name TEXT,
		decimals INTEGER NOT NULL DEFAULT 9,
		price_sol REAL,
		price_usd REAL,
		liquidity_usd REAL,
		market_cap_usd REAL,
		status TEXT NOT NULL DEFAULT 'incomplete',
		last_updated INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_coins_status ON coins(status);

	-- The trade ledger. UPSERT-only, idempotent on txid.
	CREATE TABLE IF NOT EXISTS trade_events (
		txid TEXT PRIMARY KEY,
		wallet_id INTEGER NOT NULL,
		wallet_alias TEXT,
		coin_mint TEXT NOT NULL,
		trade_uuid TEXT,
		side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
		executed_at INTEGER NOT NULL,
		token_amount REAL NOT NULL DEFAULT 0,
		sol_amount REAL NOT NULL DEFAULT 0,
		price_sol_per_token REAL,
		price_usd_per_token REAL,
		sol_usd_price REAL,
		fees_sol REAL NOT NULL DEFAULT 0,
		fees_usd REAL NOT NULL DEFAULT 0,
		slippage_pct REAL,
		price_impact_pct REAL,
		program TEXT,
		strategy_id TEXT,
		strategy_name TEXT,
		decision_label TEXT,
		decision_reason TEXT,
		session_id TEXT,
		evaluation_payload TEXT,
		decision_payload TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (wallet_id) REFERENCES wallets(wallet_id)
	);

	CREATE INDEX IF NOT EXISTS idx_trade_events_wallet_mint ON trade_events(wallet_id, coin_mint);
	CREATE INDEX IF NOT EXISTS idx_trade_events_uuid ON trade_events(trade_uuid);
	CREATE INDEX IF NOT EXISTS idx_trade_events_session ON trade_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_trade_events_executed_at ON trade_events(executed_at);

	-- Position runs. closed_at = 0 means open; a partial unique index
	-- enforces at most one open run per (wallet_id, coin_mint).
	CREATE TABLE IF NOT EXISTS position_runs (
		position_id INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_id INTEGER NOT NULL,
		coin_mint TEXT NOT NULL,
		trade_uuid TEXT NOT NULL,
		open_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL DEFAULT 0,
		last_trade_at INTEGER,
		last_updated_at INTEGER,
		entry_token_amount REAL NOT NULL DEFAULT 0,
		current_token_amount REAL NOT NULL DEFAULT 0,
		total_tokens_bought REAL NOT NULL DEFAULT 0,
		total_tokens_sold REAL NOT NULL DEFAULT 0,
		entry_price_sol REAL,
		entry_price_usd REAL,
		last_price_sol REAL,
		last_price_usd REAL,
		strategy_id TEXT,
		strategy_name TEXT,
		source TEXT,
		FOREIGN KEY (wallet_id) REFERENCES wallets(wallet_id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_position_runs_open
		ON position_runs(wallet_id, coin_mint) WHERE closed_at = 0;
	CREATE INDEX IF NOT EXISTS idx_position_runs_uuid ON position_runs(trade_uuid);
	CREATE INDEX IF NOT EXISTS idx_position_runs_wallet_mint ON position_runs(wallet_id, coin_mint);

	-- A run UUID learned before its open PositionRun exists.
	CREATE TABLE IF NOT EXISTS pending_trade_uuids (
		wallet_id INTEGER NOT NULL,
		mint TEXT NOT NULL,
		trade_uuid TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (wallet_id, mint)
	);

	CREATE INDEX IF NOT EXISTS idx_pending_uuids_created ON pending_trade_uuids(created_at);

	-- Per-mint PnL rollup, maintained by the trade_events triggers below.
	CREATE TABLE IF NOT EXISTS pnl_rollup_per_mint (
		wallet_id INTEGER NOT NULL,
		coin_mint TEXT NOT NULL,
		total_tokens_bought REAL NOT NULL DEFAULT 0,
		total_tokens_sold REAL NOT NULL DEFAULT 0,
		total_sol_spent REAL NOT NULL DEFAULT 0,
		total_sol_received REAL NOT NULL DEFAULT 0,
		fees_sol REAL NOT NULL DEFAULT 0,
		fees_usd REAL NOT NULL DEFAULT 0,
		avg_cost_sol REAL NOT NULL DEFAULT 0,
		avg_cost_usd REAL NOT NULL DEFAULT 0,
		realized_sol REAL NOT NULL DEFAULT 0,
		realized_usd REAL NOT NULL DEFAULT 0,
		first_trade_at INTEGER,
		last_trade_at INTEGER,
		PRIMARY KEY (wallet_id, coin_mint)
	);

	-- Per-run PnL rollup; sums over these equal the per-mint rollup for
	-- the same (wallet_id, coin_mint).
	CREATE TABLE IF NOT EXISTS pnl_rollup_per_run (
		wallet_id INTEGER NOT NULL,
		coin_mint TEXT NOT NULL,
		trade_uuid TEXT NOT NULL,
		total_tokens_bought REAL NOT NULL DEFAULT 0,
		total_tokens_sold REAL NOT NULL DEFAULT 0,
		total_sol_spent REAL NOT NULL DEFAULT 0,
		total_sol_received REAL NOT NULL DEFAULT 0,
		fees_sol REAL NOT NULL DEFAULT 0,
		fees_usd REAL NOT NULL DEFAULT 0,
		avg_cost_sol REAL NOT NULL DEFAULT 0,
		avg_cost_usd REAL NOT NULL DEFAULT 0,
		realized_sol REAL NOT NULL DEFAULT 0,
		realized_usd REAL NOT NULL DEFAULT 0,
		first_trade_at INTEGER,
		last_trade_at INTEGER,
		PRIMARY KEY (wallet_id, coin_mint, trade_uuid)
	);

	-- Service-level sessions. At most one open (ended_at IS NULL) per service.
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		service_instance_id TEXT,
		started_at INTEGER NOT NULL,
		start_slot INTEGER,
		start_block_time INTEGER,
		ended_at INTEGER,
		end_slot INTEGER,
		end_block_time INTEGER,
		end_reason TEXT,
		last_refresh_at INTEGER,
		last_refresh_slot INTEGER,
		last_refresh_block_time INTEGER,
		trades_count INTEGER NOT NULL DEFAULT 0,
		fees_usd REAL NOT NULL DEFAULT 0,
		buys_usd REAL NOT NULL DEFAULT 0,
		sells_usd REAL NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_per_service
		ON sessions(service) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_service_started ON sessions(service, started_at);

	-- Append-only decision/indicator snapshots.
	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ops_type TEXT NOT NULL,
		wallet_id INTEGER,
		wallet_alias TEXT,
		coin_mint TEXT NOT NULL,
		ts_ms INTEGER NOT NULL,
		trade_uuid TEXT,
		symbol TEXT,
		strategy_name TEXT,
		strategy_source TEXT,
		recommendation TEXT,
		decision TEXT,
		regime TEXT,
		qualify_failed_count INTEGER,
		qualify_worst_severity TEXT,
		gate_fail INTEGER,
		price_usd REAL,
		liquidity_usd REAL,
		chart_interval TEXT,
		chart_points INTEGER,
		rsi REAL,
		macd_hist REAL,
		vwap REAL,
		warnings_count INTEGER,
		unreal_usd REAL,
		total_usd REAL,
		roi_pct REAL,
		reasons TEXT,
		payload TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evaluations_trade ON evaluations(trade_uuid, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_evaluations_mint ON evaluations(coin_mint, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_evaluations_wallet ON evaluations(wallet_id, ts_ms);

	-- Candidate mints discovered by the target-list coordinator.
	CREATE TABLE IF NOT EXISTS targets (
		mint TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'new',
		score REAL,
		confidence REAL,
		mint_verified INTEGER NOT NULL DEFAULT 0,
		vector_store_ids TEXT,
		last_checked_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_targets_status ON targets(status);
	CREATE INDEX IF NOT EXISTS idx_targets_last_checked ON targets(last_checked_at);

	-- Migration ledger; see migrations.go.
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL,
		note TEXT
	);

	-- =====================================================================
	-- PnL rollup triggers (§4.5). Fire within the same transaction as the
	-- originating trade insert so a committed trade guarantees committed
	-- rollups.
	-- =====================================================================

	CREATE TRIGGER IF NOT EXISTS trg_pnl_mint_buy
	AFTER INSERT ON trade_events
	WHEN NEW.side = 'buy'
	BEGIN
		INSERT INTO pnl_rollup_per_mint (
			wallet_id, coin_mint, total_tokens_bought, total_sol_spent,
			fees_sol, fees_usd, avg_cost_sol, avg_cost_usd, first_trade_at, last_trade_at
		) VALUES (
			NEW.wallet_id, NEW.coin_mint, NEW.token_amount, NEW.sol_amount,
			NEW.fees_sol, NEW.fees_usd,
			CASE WHEN NEW.token_amount > 0 THEN ABS(NEW.sol_amount) / NEW.token_amount ELSE 0 END,
			CASE WHEN NEW.token_amount > 0 THEN (ABS(NEW.sol_amount) * COALESCE(NEW.sol_usd_price, 0)) / NEW.token_amount ELSE 0 END,
			NEW.executed_at, NEW.executed_at
		)
		ON CONFLICT(wallet_id, coin_mint) DO UPDATE SET
			total_tokens_bought = pnl_rollup_per_mint.total_tokens_bought + NEW.token_amount,
			total_sol_spent = pnl_rollup_per_mint.total_sol_spent + NEW.sol_amount,
			fees_sol = pnl_rollup_per_mint.fees_sol + NEW.fees_sol,
			fees_usd = pnl_rollup_per_mint.fees_usd + NEW.fees_usd,
			avg_cost_sol = CASE WHEN (pnl_rollup_per_mint.total_tokens_bought + NEW.token_amount) > 0
				THEN ABS(pnl_rollup_per_mint.total_sol_spent + NEW.sol_amount) / (pnl_rollup_per_mint.total_tokens_bought + NEW.token_amount)
				ELSE pnl_rollup_per_mint.avg_cost_sol END,
			avg_cost_usd = CASE WHEN (pnl_rollup_per_mint.total_tokens_bought + NEW.token_amount) > 0
				THEN (ABS(pnl_rollup_per_mint.total_sol_spent + NEW.sol_amount) * COALESCE(NEW.sol_usd_price, 0)) / (pnl_rollup_per_mint.total_tokens_bought + NEW.token_amount)
				ELSE pnl_rollup_per_mint.avg_cost_usd END,
			first_trade_at = MIN(COALESCE(pnl_rollup_per_mint.first_trade_at, NEW.executed_at), NEW.executed_at),
			last_trade_at = MAX(COALESCE(pnl_rollup_per_mint.last_trade_at, NEW.executed_at), NEW.executed_at);
	END;

	CREATE TRIGGER IF NOT EXISTS trg_pnl_run_buy
	AFTER INSERT ON trade_events
	WHEN NEW.side = 'buy' AND NEW.trade_uuid IS NOT NULL
	BEGIN
		INSERT INTO pnl_rollup_per_run (
			wallet_id, coin_mint, trade_uuid, total_tokens_bought, total_sol_spent,
			fees_sol, fees_usd, avg_cost_sol, avg_cost_usd, first_trade_at, last_trade_at
		) VALUES (
			NEW.wallet_id, NEW.coin_mint, NEW.trade_uuid, NEW.token_amount, NEW.sol_amount,
			NEW.fees_sol, NEW.fees_usd,
			CASE WHEN NEW.token_amount > 0 THEN ABS(NEW.sol_amount) / NEW.token_amount ELSE 0 END,
			CASE WHEN NEW.token_amount > 0 THEN (ABS(NEW.sol_amount) * COALESCE(NEW.sol_usd_price, 0)) / NEW.token_amount ELSE 0 END,
			NEW.executed_at, NEW.executed_at
		)
		ON CONFLICT(wallet_id, coin_mint, trade_uuid) DO UPDATE SET
			total_tokens_bought = pnl_rollup_per_run.total_tokens_bought + NEW.token_amount,
			total_sol_spent = pnl_rollup_per_run.total_sol_spent + NEW.sol_amount,
			fees_sol = pnl_rollup_per_run.fees_sol + NEW.fees_sol,
			fees_usd = pnl_rollup_per_run.fees_usd + NEW.fees_usd,
			avg_cost_sol = CASE WHEN (pnl_rollup_per_run.total_tokens_bought + NEW.token_amount) > 0
				THEN ABS(pnl_rollup_per_run.total_sol_spent + NEW.sol_amount) / (pnl_rollup_per_run.total_tokens_bought + NEW.token_amount)
				ELSE pnl_rollup_per_run.avg_cost_sol END,
			avg_cost_usd = CASE WHEN (pnl_rollup_per_run.total_tokens_bought + NEW.token_amount) > 0
				THEN (ABS(pnl_rollup_per_run.total_sol_spent + NEW.sol_amount) * COALESCE(NEW.sol_usd_price, 0)) / (pnl_rollup_per_run.total_tokens_bought + NEW.token_amount)
				ELSE pnl_rollup_per_run.avg_cost_usd END,
			first_trade_at = MIN(COALESCE(pnl_rollup_per_run.first_trade_at, NEW.executed_at), NEW.executed_at),
			last_trade_at = MAX(COALESCE(pnl_rollup_per_run.last_trade_at, NEW.executed_at), NEW.executed_at);
	END;

	CREATE TRIGGER IF NOT EXISTS trg_pnl_mint_sell
	AFTER INSERT ON trade_events
	WHEN NEW.side = 'sell'
	BEGIN
		INSERT INTO pnl_rollup_per_mint (
			wallet_id, coin_mint, total_tokens_sold, total_sol_received,
			fees_sol, fees_usd, realized_sol, realized_usd, first_trade_at, last_trade_at
		) VALUES (
			NEW.wallet_id, NEW.coin_mint, NEW.token_amount, NEW.sol_amount,
			NEW.fees_sol, NEW.fees_usd,
			NEW.sol_amount, NEW.sol_amount * COALESCE(NEW.sol_usd_price, 0),
			NEW.executed_at, NEW.executed_at
		)
		ON CONFLICT(wallet_id, coin_mint) DO UPDATE SET
			total_tokens_sold = pnl_rollup_per_mint.total_tokens_sold + NEW.token_amount,
			total_sol_received = pnl_rollup_per_mint.total_sol_received + NEW.sol_amount,
			fees_sol = pnl_rollup_per_mint.fees_sol + NEW.fees_sol,
			fees_usd = pnl_rollup_per_mint.fees_usd + NEW.fees_usd,
			realized_sol = pnl_rollup_per_mint.realized_sol + (NEW.sol_amount - NEW.token_amount * pnl_rollup_per_mint.avg_cost_sol),
			realized_usd = pnl_rollup_per_mint.realized_usd + ((NEW.sol_amount - NEW.token_amount * pnl_rollup_per_mint.avg_cost_sol) * COALESCE(NEW.sol_usd_price, 0)),
			last_trade_at = MAX(COALESCE(pnl_rollup_per_mint.last_trade_at, NEW.executed_at), NEW.executed_at);
	END;

	CREATE TRIGGER IF NOT EXISTS trg_pnl_run_sell
	AFTER INSERT ON trade_events
	WHEN NEW.side = 'sell' AND NEW.trade_uuid IS NOT NULL
	BEGIN
		INSERT INTO pnl_rollup_per_run (
			wallet_id, coin_mint, trade_uuid, total_tokens_sold, total_sol_received,
			fees_sol, fees_usd, realized_sol, realized_usd, first_trade_at, last_trade_at
		) VALUES (
			NEW.wallet_id, NEW.coin_mint, NEW.trade_uuid, NEW.token_amount, NEW.sol_amount,
			NEW.fees_sol, NEW.fees_usd,
			NEW.sol_amount, NEW.sol_amount * COALESCE(NEW.sol_usd_price, 0),
			NEW.executed_at, NEW.executed_at
		)
		ON CONFLICT(wallet_id, coin_mint, trade_uuid) DO UPDATE SET
			total_tokens_sold = pnl_rollup_per_run.total_tokens_sold + NEW.token_amount,
			total_sol_received = pnl_rollup_per_run.total_sol_received + NEW.sol_amount,
			fees_sol = pnl_rollup_per_run.fees_sol + NEW.fees_sol,
			fees_usd = pnl_rollup_per_run.fees_usd + NEW.fees_usd,
			realized_sol = pnl_rollup_per_run.realized_sol + (NEW.sol_amount - NEW.token_amount * pnl_rollup_per_run.avg_cost_sol),
			realized_usd = pnl_rollup_per_run.realized_usd + ((NEW.sol_amount - NEW.token_amount * pnl_rollup_per_run.avg_cost_sol) * COALESCE(NEW.sol_usd_price, 0)),
			last_trade_at = MAX(COALESCE(pnl_rollup_per_run.last_trade_at, NEW.executed_at), NEW.executed_at);
	END;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply base schema: %w", err)
	}

	if err := s.addMissingColumns(); err != nil {
		return fmt.Errorf("failed to add missing columns: %w", err)
	}

	return s.runMigrations()
}

// columnMigration is a single column-add applied to a table that may
// already have it, either because the database predates the column or
// because it was added by an earlier release.
type columnMigration struct {
	table      string
	column     string
	definition string
}

// legacy column-add migrations. Column-add is the only in-place schema
// alteration this package performs; new columns always land here rather
// than in a bespoke ALTER TABLE elsewhere.
var columnMigrations = []columnMigration{
	{"wallets", "color", "TEXT"},
	{"position_runs", "source", "TEXT"},
}

// addMissingColumns adds any column named in columnMigrations that isn't
// already present in its table. Every error is surfaced; SQLite has no
// "ADD COLUMN IF NOT EXISTS" so we probe pragma table_info first instead
// of exec-and-ignore.
func (s *Storage) addMissingColumns() error {
	for _, m := range columnMigrations {
		present, err := s.hasColumn(m.table, m.column)
		if err != nil {
			return fmt.Errorf("probing %s.%s: %w", m.table, m.column, err)
		}
		if present {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.definition)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("adding %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func (s *Storage) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
