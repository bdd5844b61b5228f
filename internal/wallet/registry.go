// Package wallet wraps the wallet registry with alias/pubkey resolution
// and the default-funding-wallet invariant, the way teacher's
// internal/wallet/wallet.go wraps its peer store.
package wallet

import (
	"errors"
	"fmt"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

// AddParams is the caller-supplied shape for registering a new wallet.
type AddParams struct {
	Alias              string
	Pubkey             string
	UsageType          string // "trading", "warchest", "other"
	AutoAttachWarchest bool
	HasPrivateKey      bool
	KeySource          string // "keychain", "db_encrypted", "none"
	KeyRef             string
	Color              string
}

// Registry wraps storage.Storage's wallet CRUD with alias/pubkey
// resolution and the default-funding-wallet invariant.
type Registry struct {
	store *storage.Storage
	log   *logging.Logger
}

// NewRegistry creates a wallet registry backed by store.
func NewRegistry(store *storage.Storage) *Registry {
	return &Registry{
		store: store,
		log:   logging.GetDefault().Component("wallet.registry"),
	}
}

// Add registers a new wallet. Key material itself is never handled here;
// only the keySource/keyRef pointer to wherever it actually lives.
func (r *Registry) Add(p AddParams) (*storage.Wallet, error) {
	if p.Alias == "" {
		return nil, fmt.Errorf("wallet: alias is required")
	}
	if p.Pubkey == "" {
		return nil, fmt.Errorf("wallet: pubkey is required")
	}

	w, err := r.store.AddWallet(&storage.Wallet{
		Alias:              p.Alias,
		Pubkey:             p.Pubkey,
		UsageType:          p.UsageType,
		AutoAttachWarchest: p.AutoAttachWarchest,
		HasPrivateKey:      p.HasPrivateKey,
		KeySource:          p.KeySource,
		KeyRef:             p.KeyRef,
		Color:              p.Color,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet: add: %w", err)
	}
	r.log.Info("wallet registered", "alias", w.Alias, "usageType", w.UsageType)
	return w, nil
}

// List returns every registered wallet.
func (r *Registry) List() ([]*storage.Wallet, error) {
	return r.store.ListWallets()
}

// Remove deletes a wallet by alias.
func (r *Registry) Remove(alias string) error {
	if err := r.store.RemoveWallet(alias); err != nil {
		return fmt.Errorf("wallet: remove: %w", err)
	}
	r.log.Info("wallet removed", "alias", alias)
	return nil
}

// SetColor sets the cosmetic alias color the HUD displays but does not
// interpret here.
func (r *Registry) SetColor(alias, color string) error {
	if err := r.store.SetWalletColor(alias, color); err != nil {
		return fmt.Errorf("wallet: set color: %w", err)
	}
	return nil
}

// SetDefaultFunding makes alias the sole default-funding wallet,
// transactionally clearing any prior one first.
func (r *Registry) SetDefaultFunding(alias string) error {
	if err := r.store.SetDefaultFunding(alias); err != nil {
		return fmt.Errorf("wallet: set default funding: %w", err)
	}
	r.log.Info("default funding wallet set", "alias", alias)
	return nil
}

// DefaultFunding returns the process-wide default-funding wallet, or nil
// if none has been designated.
func (r *Registry) DefaultFunding() (*storage.Wallet, error) {
	return r.store.GetDefaultFundingWallet()
}

// Resolve looks a wallet up by alias first, then by pubkey, matching
// every command that accepts a "-w <alias|address>" flag.
func (r *Registry) Resolve(aliasOrPubkey string) (*storage.Wallet, error) {
	if aliasOrPubkey == "" {
		return nil, fmt.Errorf("wallet: alias or pubkey is required")
	}

	w, err := r.store.GetWalletByAlias(aliasOrPubkey)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, storage.ErrWalletNotFound) {
		return nil, fmt.Errorf("wallet: resolve by alias: %w", err)
	}

	w, err = r.store.GetWalletByPubkey(aliasOrPubkey)
	if err != nil {
		if errors.Is(err, storage.ErrWalletNotFound) {
			return nil, storage.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet: resolve by pubkey: %w", err)
	}
	return w, nil
}
