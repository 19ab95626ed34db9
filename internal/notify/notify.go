// Package notify delivers user notifications. Callers never wait on delivery
// and never see its failures.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/models"
)

// Notification types.
const (
	TypeDividendPaid     = "dividend_paid"
	TypeDividendFailed   = "dividend_failed"
	TypeInvestment       = "investment_confirmed"
	TypeContractSent     = "contract_sent"
	TypeContractSigned   = "contract_signed"
	TypeContractDeclined = "contract_declined"
)

type Notification struct {
	ID          uuid.UUID        `json:"id"`
	RecipientID uuid.UUID        `json:"recipient_id"`
	ActorID     uuid.UUID        `json:"actor_id"`
	Subject     models.EntityRef `json:"subject"`
	Type        string           `json:"type"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Notifier is the collaborator consumed by the domain services.
type Notifier interface {
	Notify(ctx context.Context, recipient, actor uuid.UUID, subject models.EntityRef, kind, title, body string)
}

// InsertFunc enqueues a delivery job. Provided by main using river.Client.Insert.
type InsertFunc func(ctx context.Context, args DeliverArgs) error

// Queue hands notifications to the background delivery worker.
type Queue struct {
	insert InsertFunc
	logger *slog.Logger
}

func NewQueue(insert InsertFunc, logger *slog.Logger) *Queue {
	return &Queue{insert: insert, logger: logger}
}

var _ Notifier = (*Queue)(nil)

func (q *Queue) Notify(ctx context.Context, recipient, actor uuid.UUID, subject models.EntityRef, kind, title, body string) {
	n := Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		ActorID:     actor,
		Subject:     subject,
		Type:        kind,
		Title:       title,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.insert(context.WithoutCancel(ctx), DeliverArgs{Notification: n}); err != nil {
		q.logger.Warn("notification not queued", "recipient_id", recipient, "type", kind, "error", err)
	}
}
