package models

import (
	"time"

	"github.com/google/uuid"
)

// Investment statuses.
const (
	InvestmentActive     = "active"
	InvestmentConfirmed  = "confirmed"
	InvestmentClosed     = "closed"
	InvestmentLiquidated = "liquidated"
	InvestmentCancelled  = "cancelled"
)

// Investment is one investor's stake in one project. Shares*SharePrice plus
// Fee equals Amount.
type Investment struct {
	ID            uuid.UUID  `json:"id"`
	InvestorID    uuid.UUID  `json:"investor_id"`
	ProjectID     uuid.UUID  `json:"project_id"`
	Amount        int64      `json:"amount"`
	Fee           int64      `json:"fee"`
	Shares        int64      `json:"shares"`
	Status        string     `json:"status"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	InvestedAt    time.Time  `json:"invested_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Payable reports whether the investment participates in dividend runs.
func (i *Investment) Payable() bool {
	return i.Status == InvestmentActive || i.Status == InvestmentConfirmed
}
