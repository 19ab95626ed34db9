// Package audit records who did what to which entity. Recording never fails
// the operation that triggered it.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/models"
)

var ErrInvalidEntity = errors.New("invalid audit entity kind")

// Audit actions.
const (
	ActionWalletCreated     = "wallet.create"
	ActionDeposit           = "wallet.deposit"
	ActionWithdraw          = "wallet.withdraw"
	ActionInvest            = "investment.create"
	ActionInvestmentRevert  = "investment.revert"
	ActionDistribute        = "dividend.distribute"
	ActionRetryPayments     = "dividend.retry"
	ActionContractSubmitted = "project.contract_submitted"
	ActionSigningUpdated    = "project.signing_updated"
	ActionLifecycleChanged  = "project.lifecycle_changed"
)

type Entry struct {
	ID        uuid.UUID        `json:"id"`
	ActorID   uuid.UUID        `json:"actor_id"`
	Action    string           `json:"action"`
	Entity    models.EntityRef `json:"entity"`
	Changes   map[string]any   `json:"changes,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Recorder is the collaborator consumed by the domain services.
type Recorder interface {
	Record(ctx context.Context, actor uuid.UUID, action string, entity models.EntityRef, changes map[string]any)
}

// Store persists entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
}

// Trail writes entries to a Store and logs, rather than returns, failures.
type Trail struct {
	store  Store
	logger *slog.Logger
}

func NewTrail(store Store, logger *slog.Logger) *Trail {
	return &Trail{store: store, logger: logger}
}

var _ Recorder = (*Trail)(nil)

func (t *Trail) Record(ctx context.Context, actor uuid.UUID, action string, entity models.EntityRef, changes map[string]any) {
	if !entity.Kind.Valid() {
		t.logger.Warn("audit entry dropped", "action", action, "entity", entity.String(), "error", ErrInvalidEntity)
		return
	}
	e := &Entry{
		ID:        uuid.New(),
		ActorID:   actor,
		Action:    action,
		Entity:    entity,
		Changes:   changes,
		CreatedAt: time.Now().UTC(),
	}
	// The entry outlives a cancelled request.
	if err := t.store.Insert(context.WithoutCancel(ctx), e); err != nil {
		t.logger.Warn("audit entry not recorded", "action", action, "entity", entity.String(), "error", err)
	}
}
