package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultCurrency = "EUR"

// Wallet balances are integer minor units (cents).
type Wallet struct {
	ID                uuid.UUID `json:"id"`
	AccountID         uuid.UUID `json:"account_id"`
	Balance           int64     `json:"balance"`
	LifetimeDeposited int64     `json:"lifetime_deposited"`
	LifetimeWithdrawn int64     `json:"lifetime_withdrawn"`
	Currency          string    `json:"currency"`
	IsPlatform        bool      `json:"is_platform"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
