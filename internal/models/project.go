package models

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleState is the overall project status.
type LifecycleState string

const (
	LifecycleDraft             LifecycleState = "draft"
	LifecyclePendingAnalysis   LifecycleState = "pending_analysis"
	LifecycleInfoRequested     LifecycleState = "info_requested"
	LifecycleInfoResubmitted   LifecycleState = "info_resubmitted"
	LifecycleRejected          LifecycleState = "rejected"
	LifecycleAnalysisSubmitted LifecycleState = "analysis_submitted"
	LifecycleApproved          LifecycleState = "approved"
	LifecycleLegalStructuring  LifecycleState = "legal_structuring"
	LifecycleSigning           LifecycleState = "signing"
	LifecycleFundingActive     LifecycleState = "funding_active"
	LifecycleFunded            LifecycleState = "funded"
	LifecycleUnderConstruction LifecycleState = "under_construction"
	LifecycleOperating         LifecycleState = "operating"
	LifecycleRepaid            LifecycleState = "repaid"
)

// SigningState is the contract signature sub-state, orthogonal to the lifecycle.
type SigningState string

const (
	SigningNone          SigningState = "none"
	SigningAwaitingAdmin SigningState = "awaiting_admin"
	SigningAdminSigned   SigningState = "admin_signed"
	SigningOwnerSigned   SigningState = "owner_signed"
	SigningDone          SigningState = "done"
	SigningDeclined      SigningState = "declined"
)

// Project is the funding-relevant slice of an investment project.
type Project struct {
	ID            uuid.UUID      `json:"id"`
	OwnerID       uuid.UUID      `json:"owner_id"`
	Title         string         `json:"title"`
	TotalShares   int64          `json:"total_shares"`
	SharesSold    int64          `json:"shares_sold"`
	SharePrice    int64          `json:"share_price"`
	MinInvestment int64          `json:"min_investment"`
	MaxInvestment *int64         `json:"max_investment,omitempty"`
	FundingStart  *time.Time     `json:"funding_start,omitempty"`
	FundingEnd    *time.Time     `json:"funding_end,omitempty"`
	Lifecycle     LifecycleState `json:"lifecycle_state"`
	Signature     Signature      `json:"signature"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Signature holds the provider identifiers and the derived signing facts.
type Signature struct {
	State         SigningState `json:"signing_state"`
	AdminSigned   bool         `json:"admin_signed"`
	OwnerSigned   bool         `json:"owner_signed"`
	RequestID     string       `json:"request_id,omitempty"`
	DocumentID    string       `json:"document_id,omitempty"`
	AdminSignerID string       `json:"admin_signer_id,omitempty"`
	OwnerSignerID string       `json:"owner_signer_id,omitempty"`
}

// RemainingShares returns total_shares - shares_sold.
func (p *Project) RemainingShares() int64 {
	return p.TotalShares - p.SharesSold
}
