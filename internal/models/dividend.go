package models

import (
	"time"

	"github.com/google/uuid"
)

// Dividend statuses.
const (
	DividendPlanned     = "planned"
	DividendDistributed = "distributed"
	DividendCancelled   = "cancelled"
)

// Dividend payment statuses.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

type Dividend struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      uuid.UUID  `json:"project_id"`
	TotalAmount    int64      `json:"total_amount"`
	AmountPerShare int64      `json:"amount_per_share"`
	SharesCounted  int64      `json:"shares_counted"`
	RetainedAmount int64      `json:"retained_amount"`
	Status         string     `json:"status"`
	PeriodStart    time.Time  `json:"period_start"`
	PeriodEnd      time.Time  `json:"period_end"`
	DistributedAt  *time.Time `json:"distributed_at,omitempty"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DividendPayment is unique per (DividendID, InvestmentID).
type DividendPayment struct {
	ID            uuid.UUID  `json:"id"`
	DividendID    uuid.UUID  `json:"dividend_id"`
	InvestmentID  uuid.UUID  `json:"investment_id"`
	InvestorID    uuid.UUID  `json:"investor_id"`
	Shares        int64      `json:"shares"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Attempts      int        `json:"attempts"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
