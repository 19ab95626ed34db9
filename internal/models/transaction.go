package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Transaction kinds.
const (
	TxKindDeposit    = "deposit"
	TxKindWithdrawal = "withdrawal"
	TxKindInvestment = "investment"
	TxKindDividend   = "dividend"
	TxKindRepayment  = "repayment"
	TxKindFee        = "fee"
)

// Transaction statuses.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

// Transaction is one immutable ledger movement. Amount is signed: credits are
// positive, debits negative. ResultingBalance is the wallet balance right
// after this row was applied.
type Transaction struct {
	ID               uuid.UUID       `json:"id"`
	WalletID         uuid.UUID       `json:"wallet_id"`
	InvestmentID     *uuid.UUID      `json:"investment_id,omitempty"`
	Kind             string          `json:"kind"`
	Amount           int64           `json:"amount"`
	ResultingBalance int64           `json:"resulting_balance"`
	Status           string          `json:"status"`
	Reference        string          `json:"reference"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	ProcessedAt      time.Time       `json:"processed_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ValidTxKind reports whether kind is one of the known transaction kinds.
func ValidTxKind(kind string) bool {
	switch kind {
	case TxKindDeposit, TxKindWithdrawal, TxKindInvestment, TxKindDividend, TxKindRepayment, TxKindFee:
		return true
	}
	return false
}
