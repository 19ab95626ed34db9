package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xfund/backend/internal/models"
)

const dividendColumns = `id, project_id, total_amount, amount_per_share, shares_counted, retained_amount, status, period_start, period_end, distributed_at, created_by, created_at`

const paymentColumns = `id, dividend_id, investment_id, investor_id, shares, amount, status, transaction_id, COALESCE(failure_reason, ''), attempts, paid_at, created_at, updated_at`

type DividendRepo struct {
	pool *pgxpool.Pool
}

func NewDividendRepo(pool *pgxpool.Pool) *DividendRepo {
	return &DividendRepo{pool: pool}
}

func (r *DividendRepo) Create(ctx context.Context, d *models.Dividend) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO dividends (id, project_id, total_amount, amount_per_share, shares_counted, retained_amount, status, period_start, period_end, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, d.ID, d.ProjectID, d.TotalAmount, d.AmountPerShare, d.SharesCounted, d.RetainedAmount, d.Status, d.PeriodStart, d.PeriodEnd, d.CreatedBy).Scan(&d.CreatedAt)
}

func (r *DividendRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dividend, error) {
	var d models.Dividend
	err := r.pool.QueryRow(ctx, `SELECT `+dividendColumns+` FROM dividends WHERE id = $1`, id).Scan(
		&d.ID, &d.ProjectID, &d.TotalAmount, &d.AmountPerShare, &d.SharesCounted, &d.RetainedAmount, &d.Status,
		&d.PeriodStart, &d.PeriodEnd, &d.DistributedAt, &d.CreatedBy, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DividendRepo) MarkDistributed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE dividends SET status = 'distributed', distributed_at = $1 WHERE id = $2`, at, id)
	return err
}

func scanPayment(row pgx.Row) (*models.DividendPayment, error) {
	var p models.DividendPayment
	err := row.Scan(&p.ID, &p.DividendID, &p.InvestmentID, &p.InvestorID, &p.Shares, &p.Amount, &p.Status,
		&p.TransactionID, &p.FailureReason, &p.Attempts, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts p unless a payment for the same (dividend, investment)
// exists, in which case the existing row is returned with created=false.
func (r *DividendRepo) CreatePayment(ctx context.Context, p *models.DividendPayment) (*models.DividendPayment, bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO dividend_payments (id, dividend_id, investment_id, investor_id, shares, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dividend_id, investment_id) DO NOTHING
		RETURNING created_at, updated_at
	`, p.ID, p.DividendID, p.InvestmentID, p.InvestorID, p.Shares, p.Amount, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanPayment(r.pool.QueryRow(ctx, `
			SELECT `+paymentColumns+` FROM dividend_payments WHERE dividend_id = $1 AND investment_id = $2
		`, p.DividendID, p.InvestmentID))
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (r *DividendRepo) MarkPaymentPaid(ctx context.Context, id, transactionID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dividend_payments
		SET status = 'paid', transaction_id = $1, paid_at = $2, failure_reason = NULL, attempts = attempts + 1, updated_at = now()
		WHERE id = $3
	`, transactionID, at, id)
	return err
}

func (r *DividendRepo) MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dividend_payments
		SET status = 'failed', failure_reason = $1, attempts = attempts + 1, updated_at = now()
		WHERE id = $2
	`, reason, id)
	return err
}

func (r *DividendRepo) listPayments(ctx context.Context, q string, args ...any) ([]*models.DividendPayment, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.DividendPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *DividendRepo) ListPayments(ctx context.Context, dividendID uuid.UUID) ([]*models.DividendPayment, error) {
	return r.listPayments(ctx, `SELECT `+paymentColumns+` FROM dividend_payments WHERE dividend_id = $1 ORDER BY created_at`, dividendID)
}

// ListUnpaid returns pending and failed payments of a dividend.
func (r *DividendRepo) ListUnpaid(ctx context.Context, dividendID uuid.UUID) ([]*models.DividendPayment, error) {
	return r.listPayments(ctx, `
		SELECT `+paymentColumns+` FROM dividend_payments
		WHERE dividend_id = $1 AND status IN ('pending', 'failed')
		ORDER BY created_at
	`, dividendID)
}
