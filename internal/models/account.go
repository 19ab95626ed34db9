package models

import (
	"time"

	"github.com/google/uuid"
)

// Reserved identities created once at bootstrap.
var (
	SystemPlatformAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	PlatformWalletID        = uuid.MustParse("00000000-0000-0000-0000-0000000000f1")
)

// Account roles.
const (
	RoleInvestor = "investor"
	RoleOwner    = "owner"
	RoleAdmin    = "admin"
)

type Account struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Role            string    `json:"role"`
	IsSystemAccount bool      `json:"is_system_account"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
