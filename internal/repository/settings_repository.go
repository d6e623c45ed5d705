package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/models"
)

// SettingsRepository stores the single pricing settings row.
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// EnsureDefaults inserts the settings row if it does not exist yet.
func (r *SettingsRepository) EnsureDefaults(ctx context.Context, creditUSD, exchangeRate, markup decimal.Decimal) error {
	const query = `
INSERT IGNORE INTO settings (id, credit_usd, exchange_rate, markup)
VALUES (1, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, creditUSD, exchangeRate, markup); err != nil {
		return fmt.Errorf("ensure settings: %w", err)
	}
	return nil
}

func (r *SettingsRepository) Get(ctx context.Context) (*models.Settings, error) {
	const query = `SELECT credit_usd, exchange_rate, markup, updated_at FROM settings WHERE id = 1`
	row := r.db.QueryRowContext(ctx, query)
	var s models.Settings
	if err := row.Scan(&s.CreditUSD, &s.ExchangeRate, &s.Markup, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settings row missing; run migrations")
		}
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepository) SetExchangeRate(ctx context.Context, rate decimal.Decimal) error {
	const query = `UPDATE settings SET exchange_rate = ? WHERE id = 1`
	if _, err := r.db.ExecContext(ctx, query, rate); err != nil {
		return fmt.Errorf("set exchange rate: %w", err)
	}
	return nil
}

func (r *SettingsRepository) SetMarkup(ctx context.Context, markup decimal.Decimal) error {
	const query = `UPDATE settings SET markup = ? WHERE id = 1`
	if _, err := r.db.ExecContext(ctx, query, markup); err != nil {
		return fmt.Errorf("set markup: %w", err)
	}
	return nil
}

func (r *SettingsRepository) SetCreditUSD(ctx context.Context, rate decimal.Decimal) error {
	const query = `UPDATE settings SET credit_usd = ? WHERE id = 1`
	if _, err := r.db.ExecContext(ctx, query, rate); err != nil {
		return fmt.Errorf("set credit usd rate: %w", err)
	}
	return nil
}
