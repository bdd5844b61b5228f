package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrWalletNotFound is returned when a wallet lookup finds no matching row.
var ErrWalletNotFound = errors.New("storage: wallet not found")

// Wallet is a row of the wallet registry.
type Wallet struct {
	WalletID           int64
	Alias              string
	Pubkey             string
	UsageType          string
	IsDefaultFunding   bool
	AutoAttachWarchest bool
	HasPrivateKey      bool
	KeySource          string
	KeyRef             string
	Color              string
	CreatedAt          int64
	UpdatedAt          int64
}

// AddWallet inserts a new wallet. Alias must be unique.
func (s *Storage) AddWallet(w *Wallet) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	if w.KeySource == "" {
		w.KeySource = "none"
	}
	if w.UsageType == "" {
		w.UsageType = "other"
	}

	res, err := s.db.Exec(`
		INSERT INTO wallets (
			alias, pubkey, usage_type, is_default_funding, auto_attach_warchest,
			has_private_key, key_source, key_ref, color, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Alias, w.Pubkey, w.UsageType, boolToInt(w.IsDefaultFunding), boolToInt(w.AutoAttachWarchest),
		boolToInt(w.HasPrivateKey), w.KeySource, nullableString(w.KeyRef), nullableString(w.Color), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("wallet id: %w", err)
	}

	return s.GetWalletByID(id)
}

// GetWalletByID fetches a wallet by its surrogate id.
func (s *Storage) GetWalletByID(id int64) (*Wallet, error) {
	return s.scanWallet(s.db.QueryRow(walletSelect+" WHERE wallet_id = ?", id))
}

// GetWalletByAlias fetches a wallet by its unique alias.
func (s *Storage) GetWalletByAlias(alias string) (*Wallet, error) {
	return s.scanWallet(s.db.QueryRow(walletSelect+" WHERE alias = ?", alias))
}

// GetWalletByPubkey fetches a wallet by its on-chain public key.
func (s *Storage) GetWalletByPubkey(pubkey string) (*Wallet, error) {
	return s.scanWallet(s.db.QueryRow(walletSelect+" WHERE pubkey = ?", pubkey))
}

// ListWallets returns every registered wallet ordered by wallet_id.
func (s *Storage) ListWallets() ([]*Wallet, error) {
	rows, err := s.db.Query(walletSelect + " ORDER BY wallet_id")
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWalletRow(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// RemoveWallet deletes a wallet by alias.
func (s *Storage) RemoveWallet(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM wallets WHERE alias = ?`, alias)
	if err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// SetWalletColor sets the cosmetic alias color used by the HUD. The color
// value is stored and returned verbatim; this package does not interpret it.
func (s *Storage) SetWalletColor(alias, color string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE wallets SET color = ?, updated_at = ? WHERE alias = ?`,
		color, nowMillis(), alias,
	)
	if err != nil {
		return fmt.Errorf("set wallet color: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// SetDefaultFunding makes alias the sole default-funding wallet. The clear
// step and the set step run in one transaction so the at-most-one invariant
// is never observably violated.
func (s *Storage) SetDefaultFunding(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE wallets SET is_default_funding = 0 WHERE is_default_funding = 1`); err != nil {
		return fmt.Errorf("clear default funding: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE wallets SET is_default_funding = 1, updated_at = ? WHERE alias = ?`,
		nowMillis(), alias,
	)
	if err != nil {
		return fmt.Errorf("set default funding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWalletNotFound
	}

	return tx.Commit()
}

// GetDefaultFundingWallet returns the process-wide default-funding wallet,
// if one has been designated.
func (s *Storage) GetDefaultFundingWallet() (*Wallet, error) {
	w, err := s.scanWallet(s.db.QueryRow(walletSelect + " WHERE is_default_funding = 1"))
	if errors.Is(err, ErrWalletNotFound) {
		return nil, nil
	}
	return w, err
}

const walletSelect = `
	SELECT wallet_id, alias, pubkey, usage_type, is_default_funding, auto_attach_warchest,
	       has_private_key, key_source, key_ref, color, created_at, updated_at
	FROM wallets`

func (s *Storage) scanWallet(row *sql.Row) (*Wallet, error) {
	w := &Wallet{}
	var keyRef, color sql.NullString
	var isDefault, autoAttach, hasKey int
	err := row.Scan(
		&w.WalletID, &w.Alias, &w.Pubkey, &w.UsageType, &isDefault, &autoAttach,
		&hasKey, &w.KeySource, &keyRef, &color, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	w.IsDefaultFunding = isDefault != 0
	w.AutoAttachWarchest = autoAttach != 0
	w.HasPrivateKey = hasKey != 0
	w.KeyRef = keyRef.String
	w.Color = color.String
	return w, nil
}

func scanWalletRow(rows *sql.Rows) (*Wallet, error) {
	w := &Wallet{}
	var keyRef, color sql.NullString
	var isDefault, autoAttach, hasKey int
	err := rows.Scan(
		&w.WalletID, &w.Alias, &w.Pubkey, &w.UsageType, &isDefault, &autoAttach,
		&hasKey, &w.KeySource, &keyRef, &color, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	w.IsDefaultFunding = isDefault != 0
	w.AutoAttachWarchest = autoAttach != 0
	w.HasPrivateKey = hasKey != 0
	w.KeyRef = keyRef.String
	w.Color = color.String
	return w, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
