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

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

const projectColumns = `id, owner_id, title, total_shares, shares_sold, share_price, min_investment, max_investment,
	funding_start, funding_end, lifecycle_state, signing_state, admin_signed, owner_signed,
	COALESCE(signature_request_id, ''), COALESCE(signature_document_id, ''),
	COALESCE(admin_signer_id, ''), COALESCE(owner_signer_id, ''), created_at, updated_at`

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.TotalShares, &p.SharesSold, &p.SharePrice, &p.MinInvestment, &p.MaxInvestment,
		&p.FundingStart, &p.FundingEnd, &p.Lifecycle, &p.Signature.State, &p.Signature.AdminSigned, &p.Signature.OwnerSigned,
		&p.Signature.RequestID, &p.Signature.DocumentID, &p.Signature.AdminSignerID, &p.Signature.OwnerSignerID,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (r *ProjectRepo) GetBySignatureRequestID(ctx context.Context, requestID string) (*models.Project, error) {
	return scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE signature_request_id = $1`, requestID))
}

func (r *ProjectRepo) listWhere(ctx context.Context, where string, args ...any) ([]*models.Project, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *ProjectRepo) ListByLifecycle(ctx context.Context, state models.LifecycleState) ([]*models.Project, error) {
	return r.listWhere(ctx, `lifecycle_state = $1`, state)
}

// ListFundingClosed returns funding_active projects whose window ended before now.
func (r *ProjectRepo) ListFundingClosed(ctx context.Context, now time.Time) ([]*models.Project, error) {
	return r.listWhere(ctx, `lifecycle_state = 'funding_active' AND funding_end IS NOT NULL AND funding_end <= $1`, now)
}

// ReserveShares atomically adds shares to shares_sold unless that would exceed
// total_shares or the project is no longer funding_active. It reports false
// when the guard rejected the reservation.
func (r *ProjectRepo) ReserveShares(ctx context.Context, id uuid.UUID, shares int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET shares_sold = shares_sold + $1, updated_at = now()
		WHERE id = $2 AND lifecycle_state = 'funding_active' AND shares_sold + $1 <= total_shares
	`, shares, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseShares undoes a reservation.
func (r *ProjectRepo) ReleaseShares(ctx context.Context, id uuid.UUID, shares int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET shares_sold = shares_sold - $1, updated_at = now()
		WHERE id = $2 AND shares_sold >= $1
	`, shares, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionLifecycle moves the project from one state to another only if it
// is still in from.
func (r *ProjectRepo) TransitionLifecycle(ctx context.Context, id uuid.UUID, from, to models.LifecycleState) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET lifecycle_state = $1, updated_at = now()
		WHERE id = $2 AND lifecycle_state = $3
	`, to, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFundedIfSoldOut moves a funding_active project to funded when every
// share is reserved and every reservation has a recorded investment.
func (r *ProjectRepo) MarkFundedIfSoldOut(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects p SET lifecycle_state = 'funded', updated_at = now()
		WHERE p.id = $1 AND p.lifecycle_state = 'funding_active' AND p.shares_sold = p.total_shares
		  AND p.total_shares = (
			SELECT COALESCE(SUM(i.shares), 0) FROM investments i
			WHERE i.project_id = p.id AND i.status IN ('active', 'confirmed')
		  )
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordSubmission stores provider identifiers and enters signing, only if
// the project is still approved and not already being signed.
func (r *ProjectRepo) RecordSubmission(ctx context.Context, id uuid.UUID, sig models.Signature) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET
			lifecycle_state = 'signing', signing_state = $1, admin_signed = false, owner_signed = false,
			signature_request_id = $2, signature_document_id = $3, admin_signer_id = $4, owner_signer_id = $5,
			updated_at = now()
		WHERE id = $6 AND lifecycle_state = 'approved' AND signing_state IN ('none', 'declined')
	`, sig.State, sig.RequestID, sig.DocumentID, sig.AdminSignerID, sig.OwnerSignerID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveSigning writes the signing facts and lifecycle computed by reconciliation.
func (r *ProjectRepo) SaveSigning(ctx context.Context, id uuid.UUID, lc models.LifecycleState, sig models.Signature) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE projects SET lifecycle_state = $1, signing_state = $2, admin_signed = $3, owner_signed = $4, updated_at = now()
		WHERE id = $5
	`, lc, sig.State, sig.AdminSigned, sig.OwnerSigned, id)
	return err
}
