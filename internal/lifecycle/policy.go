package lifecycle

import "fmt"

// FundedPolicy selects what moves a project from funding_active to funded.
type FundedPolicy string

const (
	FundedOnExhaustion  FundedPolicy = "exhaustion"
	FundedOnWindowClose FundedPolicy = "window"
	FundedOnEither      FundedPolicy = "both"
)

// ParseFundedPolicy validates a configured policy name.
func ParseFundedPolicy(s string) (FundedPolicy, error) {
	switch p := FundedPolicy(s); p {
	case FundedOnExhaustion, FundedOnWindowClose, FundedOnEither:
		return p, nil
	}
	return "", fmt.Errorf("unknown funded policy %q", s)
}

// OnExhaustion reports whether selling the last share marks the project funded.
func (p FundedPolicy) OnExhaustion() bool {
	return p == FundedOnExhaustion || p == FundedOnEither
}

// OnWindowClose reports whether the end of the funding window marks the project funded.
func (p FundedPolicy) OnWindowClose() bool {
	return p == FundedOnWindowClose || p == FundedOnEither
}
