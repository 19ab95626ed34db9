// Package lifecycle holds the project status vocabulary and the legality
// checks shared by investment execution and signature reconciliation.
//
// A project carries two orthogonal values: the lifecycle state and the
// signing sub-state. Neither is derived from the other.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/xfund/backend/internal/models"
)

// ErrIllegalTransition is returned when a state change is not allowed.
var ErrIllegalTransition = errors.New("illegal transition")

var lifecycleEdges = map[models.LifecycleState][]models.LifecycleState{
	models.LifecycleDraft:             {models.LifecyclePendingAnalysis},
	models.LifecyclePendingAnalysis:   {models.LifecycleInfoRequested, models.LifecycleAnalysisSubmitted, models.LifecycleRejected},
	models.LifecycleInfoRequested:     {models.LifecycleInfoResubmitted, models.LifecycleRejected},
	models.LifecycleInfoResubmitted:   {models.LifecyclePendingAnalysis, models.LifecycleAnalysisSubmitted, models.LifecycleRejected},
	models.LifecycleAnalysisSubmitted: {models.LifecycleApproved, models.LifecycleInfoRequested, models.LifecycleRejected},
	models.LifecycleApproved:          {models.LifecycleSigning},
	// signing -> approved is the manual reset after a declined signature.
	models.LifecycleSigning:           {models.LifecycleLegalStructuring, models.LifecycleApproved},
	models.LifecycleLegalStructuring:  {models.LifecycleFundingActive},
	models.LifecycleFundingActive:     {models.LifecycleFunded},
	models.LifecycleFunded:            {models.LifecycleUnderConstruction},
	models.LifecycleUnderConstruction: {models.LifecycleOperating},
	models.LifecycleOperating:         {models.LifecycleRepaid},
}

var signingEdges = map[models.SigningState][]models.SigningState{
	models.SigningNone:          {models.SigningAwaitingAdmin},
	models.SigningAwaitingAdmin: {models.SigningAdminSigned, models.SigningOwnerSigned, models.SigningDone, models.SigningDeclined},
	models.SigningAdminSigned:   {models.SigningDone, models.SigningDeclined},
	models.SigningOwnerSigned:   {models.SigningDone, models.SigningDeclined},
	models.SigningDeclined:      {models.SigningAwaitingAdmin},
}

// CanTransition reports whether the lifecycle may move from one state to another.
func CanTransition(from, to models.LifecycleState) bool {
	for _, s := range lifecycleEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns to, or an error wrapping
// ErrIllegalTransition.
func Transition(from, to models.LifecycleState) (models.LifecycleState, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: lifecycle %s -> %s", ErrIllegalTransition, from, to)
	}
	return to, nil
}

// CanTransitionSigning reports whether the signing sub-state may move from one
// value to another. Staying in place is always allowed.
func CanTransitionSigning(from, to models.SigningState) bool {
	if from == to {
		return true
	}
	for _, s := range signingEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanInvest reports whether a project in state s accepts investments.
func CanInvest(s models.LifecycleState) bool {
	return s == models.LifecycleFundingActive
}

// CanSubmitContract reports whether a contract may be sent for signature.
func CanSubmitContract(lc models.LifecycleState, sig models.SigningState) bool {
	if lc != models.LifecycleApproved {
		return false
	}
	return sig == models.SigningNone || sig == models.SigningDeclined || sig == ""
}

// Valid reports whether s is a known lifecycle state.
func Valid(s models.LifecycleState) bool {
	if _, ok := lifecycleEdges[s]; ok {
		return true
	}
	return s == models.LifecycleRejected || s == models.LifecycleRepaid
}
