package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xfund/backend/internal/models"
)

const walletColumns = `id, account_id, balance, lifetime_deposited, lifetime_withdrawn, currency, is_platform, created_at, updated_at`

const transactionColumns = `id, wallet_id, investment_id, kind, amount, resulting_balance, status, reference, metadata, processed_at, created_at`

// WalletRepo persists wallets. Methods taking a pgx.Tx must run inside the
// caller's transaction.
type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.AccountID, &w.Balance, &w.LifetimeDeposited, &w.LifetimeWithdrawn, &w.Currency, &w.IsPlatform, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepo) CreateTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO wallets (id, account_id, currency, is_platform)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, w.ID, w.AccountID, w.Currency, w.IsPlatform).Scan(&w.CreatedAt, &w.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrWalletExists
	}
	return err
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

func (r *WalletRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_id = $1`, accountID))
}

func (r *WalletRepo) GetPlatform(ctx context.Context) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE is_platform`))
}

// GetByIDForUpdate locks the wallet row for the rest of the transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

// AddFunds credits the wallet and returns the new balance. deposit also bumps
// lifetime_deposited.
func (r *WalletRepo) AddFunds(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64, deposit bool) (newBalance int64, err error) {
	q := `UPDATE wallets SET balance = balance + $1, updated_at = now() WHERE id = $2 RETURNING balance`
	if deposit {
		q = `UPDATE wallets SET balance = balance + $1, lifetime_deposited = lifetime_deposited + $1, updated_at = now() WHERE id = $2 RETURNING balance`
	}
	err = tx.QueryRow(ctx, q, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrWalletNotFound
	}
	return newBalance, err
}

// DeductFunds debits the wallet only if balance >= amount and returns the new
// balance. withdrawal also bumps lifetime_withdrawn.
func (r *WalletRepo) DeductFunds(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64, withdrawal bool) (newBalance int64, err error) {
	q := `UPDATE wallets SET balance = balance - $1, updated_at = now() WHERE id = $2 AND balance >= $1 RETURNING balance`
	if withdrawal {
		q = `UPDATE wallets SET balance = balance - $1, lifetime_withdrawn = lifetime_withdrawn + $1, updated_at = now() WHERE id = $2 AND balance >= $1 RETURNING balance`
	}
	err = tx.QueryRow(ctx, q, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	return newBalance, err
}

func (r *WalletRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	return err
}

// EnsurePlatform creates the system account and the platform wallet if they
// do not exist yet.
func (r *WalletRepo) EnsurePlatform(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, email, first_name, last_name, role, is_system_account)
		VALUES ($1, 'platform@system.local', 'Platform', 'System', 'admin', true)
		ON CONFLICT (id) DO NOTHING
	`, models.SystemPlatformAccountID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (id, account_id, currency, is_platform)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (id) DO NOTHING
	`, models.PlatformWalletID, models.SystemPlatformAccountID, models.DefaultCurrency)
	return err
}

// TransactionRepo persists ledger transactions. Rows are never updated.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	if err := row.Scan(&t.ID, &t.WalletID, &t.InvestmentID, &t.Kind, &t.Amount, &t.ResultingBalance, &t.Status, &t.Reference, &t.Metadata, &t.ProcessedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTx inserts t inside tx. A reused reference yields ErrDuplicateReference;
// the transaction is then aborted and must be rolled back.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, wallet_id, investment_id, kind, amount, resulting_balance, status, reference, metadata, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, t.ID, t.WalletID, t.InvestmentID, t.Kind, t.Amount, t.ResultingBalance, t.Status, t.Reference, t.Metadata, t.ProcessedAt).Scan(&t.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateReference
	}
	return err
}

// GetByReference returns nil, nil when no transaction carries ref.
func (r *TransactionRepo) GetByReference(ctx context.Context, ref string) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ListByWallet returns the wallet's transactions in application order.
func (r *TransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE wallet_id = $1 ORDER BY seq`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *TransactionRepo) CountByWalletTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE wallet_id = $1`, walletID).Scan(&n)
	return n, err
}
