package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xfund/backend/internal/models"
)

const investmentColumns = `id, investor_id, project_id, amount, fee, shares, status, transaction_id, invested_at, confirmed_at, created_at, updated_at`

type InvestmentRepo struct {
	pool *pgxpool.Pool
}

func NewInvestmentRepo(pool *pgxpool.Pool) *InvestmentRepo {
	return &InvestmentRepo{pool: pool}
}

func scanInvestment(row pgx.Row) (*models.Investment, error) {
	var i models.Investment
	err := row.Scan(&i.ID, &i.InvestorID, &i.ProjectID, &i.Amount, &i.Fee, &i.Shares, &i.Status, &i.TransactionID, &i.InvestedAt, &i.ConfirmedAt, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *InvestmentRepo) Create(ctx context.Context, i *models.Investment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO investments (id, investor_id, project_id, amount, fee, shares, status, transaction_id, invested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, i.ID, i.InvestorID, i.ProjectID, i.Amount, i.Fee, i.Shares, i.Status, i.TransactionID, i.InvestedAt).Scan(&i.CreatedAt, &i.UpdatedAt)
}

func (r *InvestmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	return scanInvestment(r.pool.QueryRow(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id))
}

func (r *InvestmentRepo) list(ctx context.Context, q string, args ...any) ([]*models.Investment, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Investment
	for rows.Next() {
		i, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, i)
	}
	return list, rows.Err()
}

func (r *InvestmentRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Investment, error) {
	return r.list(ctx, `SELECT `+investmentColumns+` FROM investments WHERE project_id = $1 ORDER BY invested_at`, projectID)
}

// ListPayableByProject returns active and confirmed investments.
func (r *InvestmentRepo) ListPayableByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Investment, error) {
	return r.list(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE project_id = $1 AND status IN ('active', 'confirmed')
		ORDER BY invested_at
	`, projectID)
}
