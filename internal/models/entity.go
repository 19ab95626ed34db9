package models

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityKind is the closed set of entities that audit entries and
// notifications may point at.
type EntityKind string

const (
	EntityWallet          EntityKind = "wallet"
	EntityTransaction     EntityKind = "transaction"
	EntityInvestment      EntityKind = "investment"
	EntityProject         EntityKind = "project"
	EntityDividend        EntityKind = "dividend"
	EntityDividendPayment EntityKind = "dividend_payment"
)

func (k EntityKind) Valid() bool {
	switch k {
	case EntityWallet, EntityTransaction, EntityInvestment, EntityProject, EntityDividend, EntityDividendPayment:
		return true
	}
	return false
}

// EntityRef is a kind-discriminated reference to one entity.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   uuid.UUID  `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

func WalletRef(id uuid.UUID) EntityRef          { return EntityRef{Kind: EntityWallet, ID: id} }
func TransactionRef(id uuid.UUID) EntityRef     { return EntityRef{Kind: EntityTransaction, ID: id} }
func InvestmentRef(id uuid.UUID) EntityRef      { return EntityRef{Kind: EntityInvestment, ID: id} }
func ProjectRef(id uuid.UUID) EntityRef         { return EntityRef{Kind: EntityProject, ID: id} }
func DividendRef(id uuid.UUID) EntityRef        { return EntityRef{Kind: EntityDividend, ID: id} }
func DividendPaymentRef(id uuid.UUID) EntityRef { return EntityRef{Kind: EntityDividendPayment, ID: id} }
