package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/optiondesk/paperbot/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Get retrieves the margin account for the given user.
func (s *AccountStore) Get(ctx context.Context, userID string) (domain.Account, error) {
	const query = `
		SELECT user_id, initial_capital, available_margin, used_margin,
		       realized_pnl, created_at, updated_at
		FROM accounts WHERE user_id = $1`

	var a domain.Account
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&a.UserID, &a.InitialCapital, &a.AvailableMargin, &a.UsedMargin,
		&a.RealizedPnL, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", userID, err)
	}
	return a, nil
}

// Upsert writes the account row, inserting it on first use.
func (s *AccountStore) Upsert(ctx context.Context, a domain.Account) error {
	const query = `
		INSERT INTO accounts (
			user_id, initial_capital, available_margin, used_margin,
			realized_pnl, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			initial_capital  = EXCLUDED.initial_capital,
			available_margin = EXCLUDED.available_margin,
			used_margin      = EXCLUDED.used_margin,
			realized_pnl     = EXCLUDED.realized_pnl,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		a.UserID, a.InitialCapital, a.AvailableMargin, a.UsedMargin,
		a.RealizedPnL, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", a.UserID, err)
	}
	return nil
}
