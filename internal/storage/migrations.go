package storage

import (
	"database/sql"
	"fmt"
)

// migration is a single named, ordered schema change. Script is executed
// inside a transaction; Probe, when set, reports whether the change is
// already in effect (e.g. because ensureSchema's column-add pass already
// applied it) so the migration can be recorded without re-running it.
type migration struct {
	name    string
	script  string
	probe   func(*sql.Tx) (bool, error)
	aliases []string // legacy names this migration superseded
}

// migrations is the ordered registry of migration scripts. New entries are
// appended; nothing here is ever reordered or removed once released.
var migrations = []migration{
	{
		name:   "0001_schema_migrations_ledger",
		script: `SELECT 1`, // the ledger table itself is created by ensureSchema
		probe: func(tx *sql.Tx) (bool, error) {
			var name string
			err := tx.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&name)
			if err == sql.ErrNoRows {
				return false, nil
			}
			return err == nil, err
		},
	},
	{
		name: "0002_wallet_color_column",
		// Superseded by the column-add pass in schema.go; kept as a named
		// migration (with its old name aliased) so a database that ran the
		// standalone version of this migration isn't re-run.
		script:  `SELECT 1`,
		aliases: []string{"add_wallet_color"},
		probe: func(tx *sql.Tx) (bool, error) {
			rows, err := tx.Query(`PRAGMA table_info(wallets)`)
			if err != nil {
				return false, err
			}
			defer rows.Close()
			for rows.Next() {
				var (
					cid       int
					colName   string
					ctype     string
					notnull   int
					dflt      sql.NullString
					pk        int
				)
				if err := rows.Scan(&cid, &colName, &ctype, &notnull, &dflt, &pk); err != nil {
					return false, err
				}
				if colName == "color" {
					return true, nil
				}
			}
			return false, rows.Err()
		},
	},
}

// runMigrations discovers migrations not yet recorded in schema_migrations,
// applies each in its own transaction (rolling back on error), and records
// it afterward. Legacy names are aliased so a renamed migration previously
// applied under its old name is not re-run.
func (s *Storage) runMigrations() error {
	applied, err := s.appliedMigrationNames()
	if err != nil {
		return fmt.Errorf("reading migration ledger: %w", err)
	}

	for _, m := range migrations {
		if alreadyApplied(applied, m) {
			continue
		}

		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}

	return nil
}

func alreadyApplied(applied map[string]bool, m migration) bool {
	if applied[m.name] {
		return true
	}
	for _, alias := range m.aliases {
		if applied[alias] {
			return true
		}
	}
	return false
}

func (s *Storage) appliedMigrationNames() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (s *Storage) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	note := ""
	if m.probe != nil {
		ok, err := m.probe(tx)
		if err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}
		if ok {
			note = "already applied via schema bootstrap"
		}
	}

	if note == "" {
		if _, err := tx.Exec(m.script); err != nil {
			return fmt.Errorf("script failed: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (name, applied_at, note) VALUES (?, strftime('%s','now') * 1000, ?)`,
		m.name, note,
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	s.log.Debug("migration applied", "name", m.name, "note", note)
	return nil
}
