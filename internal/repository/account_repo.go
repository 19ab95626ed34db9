package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xfund/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// CreateWithWallet inserts the account and its empty wallet in one transaction.
func (r *AccountRepo) CreateWithWallet(ctx context.Context, a *models.Account, currency string) (*models.Wallet, error) {
	if currency == "" {
		currency = models.DefaultCurrency
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `
		INSERT INTO accounts (id, email, first_name, last_name, role, is_system_account)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.FirstName, a.LastName, a.Role, a.IsSystemAccount).Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	w := &models.Wallet{ID: uuid.New(), AccountID: a.ID, Currency: currency}
	if err := tx.QueryRow(ctx, `
		INSERT INTO wallets (id, account_id, currency)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, w.ID, w.AccountID, w.Currency).Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Role, &a.IsSystemAccount, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, role, is_system_account, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id))
}
