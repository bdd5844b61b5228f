package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrCoinNotFound is returned when a coin lookup finds no matching mint.
var ErrCoinNotFound = errors.New("storage: coin not found")

// Coin is a row of coin metadata, keyed by mint.
type Coin struct {
	Mint         string
	Symbol       string
	Name         string
	Decimals     uint8
	PriceSol     float64
	PriceUsd     float64
	LiquidityUsd float64
	MarketCapUsd float64
	Status       string
	LastUpdated  int64
}

// UpsertCoin inserts or updates coin metadata, keyed by mint. Never deletes;
// callers change Status instead.
func (s *Storage) UpsertCoin(c *Coin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Status == "" {
		c.Status = "incomplete"
	}

	_, err := s.db.Exec(`
		INSERT INTO coins (mint, symbol, name, decimals, price_sol, price_usd, liquidity_usd, market_cap_usd, status, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mint) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			decimals = excluded.decimals,
			price_sol = excluded.price_sol,
			price_usd = excluded.price_usd,
			liquidity_usd = excluded.liquidity_usd,
			market_cap_usd = excluded.market_cap_usd,
			status = excluded.status,
			last_updated = excluded.last_updated`,
		c.Mint, c.Symbol, c.Name, c.Decimals, c.PriceSol, c.PriceUsd, c.LiquidityUsd, c.MarketCapUsd, c.Status, c.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert coin: %w", err)
	}
	return nil
}

// GetCoin fetches a coin by mint.
func (s *Storage) GetCoin(mint string) (*Coin, error) {
	row := s.db.QueryRow(`
		SELECT mint, symbol, name, decimals, price_sol, price_usd, liquidity_usd, market_cap_usd, status, last_updated
		FROM coins WHERE mint = ?`, mint)

	c := &Coin{}
	var symbol, name sql.NullString
	var priceSol, priceUsd, liquidityUsd, marketCapUsd, lastUpdated sql.NullFloat64
	err := row.Scan(&c.Mint, &symbol, &name, &c.Decimals, &priceSol, &priceUsd, &liquidityUsd, &marketCapUsd, &c.Status, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCoinNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan coin: %w", err)
	}
	c.Symbol = symbol.String
	c.Name = name.String
	c.PriceSol = priceSol.Float64
	c.PriceUsd = priceUsd.Float64
	c.LiquidityUsd = liquidityUsd.Float64
	c.MarketCapUsd = marketCapUsd.Float64
	c.LastUpdated = int64(lastUpdated.Float64)
	return c, nil
}

// SetCoinStatus changes a coin's lifecycle status without touching other
// fields.
func (s *Storage) SetCoinStatus(mint, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE coins SET status = ? WHERE mint = ?`, status, mint)
	if err != nil {
		return fmt.Errorf("set coin status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCoinNotFound
	}
	return nil
}

// ListCoinsByStatus returns coins with the given status.
func (s *Storage) ListCoinsByStatus(status string) ([]*Coin, error) {
	rows, err := s.db.Query(`
		SELECT mint, symbol, name, decimals, price_sol, price_usd, liquidity_usd, market_cap_usd, status, last_updated
		FROM coins WHERE status = ? ORDER BY last_updated DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}
	defer rows.Close()

	var coins []*Coin
	for rows.Next() {
		c := &Coin{}
		var symbol, name sql.NullString
		var priceSol, priceUsd, liquidityUsd, marketCapUsd, lastUpdated sql.NullFloat64
		if err := rows.Scan(&c.Mint, &symbol, &name, &c.Decimals, &priceSol, &priceUsd, &liquidityUsd, &marketCapUsd, &c.Status, &lastUpdated); err != nil {
			return nil, fmt.Errorf("scan coin: %w", err)
		}
		c.Symbol = symbol.String
		c.Name = name.String
		c.PriceSol = priceSol.Float64
		c.PriceUsd = priceUsd.Float64
		c.LiquidityUsd = liquidityUsd.Float64
		c.MarketCapUsd = marketCapUsd.Float64
		c.LastUpdated = int64(lastUpdated.Float64)
		coins = append(coins, c)
	}
	return coins, rows.Err()
}
