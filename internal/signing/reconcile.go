package signing

import (
	"github.com/xfund/backend/internal/lifecycle"
	"github.com/xfund/backend/internal/models"
)

// FactKind is what the provider told us happened.
type FactKind string

const (
	FactRequestDone     FactKind = "request_done"
	FactRequestDeclined FactKind = "request_declined"
	FactSignerDone      FactKind = "signer_done"
)

// Fact is one observation about a signature request, from a webhook or a poll.
type Fact struct {
	Kind     FactKind
	SignerID string
}

// Decision classifies the effect of a fact.
type Decision string

const (
	DecisionApplied       Decision = "applied"
	DecisionNoop          Decision = "noop"
	DecisionUnknownSigner Decision = "unknown_signer"
	DecisionIgnored       Decision = "ignored"
)

// Outcome is the state a project should be in after a fact.
type Outcome struct {
	Lifecycle models.LifecycleState
	Signature models.Signature
	Decision  Decision
}

// Changed reports whether the outcome must be persisted.
func (o Outcome) Changed() bool { return o.Decision == DecisionApplied }

// Reconcile derives the next lifecycle and signing values from the stored ones
// and a fact. It has no side effects, so applying the same fact twice yields
// the same state as applying it once.
func Reconcile(lc models.LifecycleState, sig models.Signature, f Fact) Outcome {
	out := Outcome{Lifecycle: lc, Signature: sig, Decision: DecisionNoop}

	switch sig.State {
	case models.SigningDone, models.SigningDeclined:
		return out
	case models.SigningNone, "":
		// Nothing was submitted, or a resubmission replaced the request.
		out.Decision = DecisionIgnored
		return out
	}

	next := sig
	switch f.Kind {
	case FactRequestDone:
		next.AdminSigned, next.OwnerSigned = true, true
	case FactRequestDeclined:
		next.State = models.SigningDeclined
		return decide(out, lc, next)
	case FactSignerDone:
		switch f.SignerID {
		case "":
			out.Decision = DecisionUnknownSigner
			return out
		case sig.AdminSignerID:
			next.AdminSigned = true
		case sig.OwnerSignerID:
			next.OwnerSigned = true
		default:
			out.Decision = DecisionUnknownSigner
			return out
		}
	default:
		out.Decision = DecisionIgnored
		return out
	}

	switch {
	case next.AdminSigned && next.OwnerSigned:
		next.State = models.SigningDone
		if lifecycle.CanTransition(lc, models.LifecycleLegalStructuring) {
			lc = models.LifecycleLegalStructuring
		}
	case next.AdminSigned:
		next.State = models.SigningAdminSigned
	case next.OwnerSigned:
		next.State = models.SigningOwnerSigned
	}
	return decide(out, lc, next)
}

func decide(out Outcome, lc models.LifecycleState, next models.Signature) Outcome {
	if !lifecycle.CanTransitionSigning(out.Signature.State, next.State) {
		out.Decision = DecisionIgnored
		return out
	}
	if next == out.Signature && lc == out.Lifecycle {
		return out
	}
	return Outcome{Lifecycle: lc, Signature: next, Decision: DecisionApplied}
}
