package investment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/audit"
	"github.com/xfund/backend/internal/ledger"
	"github.com/xfund/backend/internal/lifecycle"
	"github.com/xfund/backend/internal/models"
	"github.com/xfund/backend/internal/notify"
	"github.com/xfund/backend/internal/observability"
)

// Precondition failures, in the order they are checked.
var (
	ErrProjectNotOpen    = errors.New("project is not open for investment")
	ErrBelowMinimum      = errors.New("amount is below the project minimum")
	ErrAboveMaximum      = errors.New("amount is above the project maximum")
	ErrInvalidShareCount = errors.New("amount does not buy a whole positive number of shares")
	ErrOversubscribed    = errors.New("not enough shares remaining")
)

// ProjectStore is the project persistence needed for share allocation.
type ProjectStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ReserveShares(ctx context.Context, id uuid.UUID, shares int64) (bool, error)
	ReleaseShares(ctx context.Context, id uuid.UUID, shares int64) error
	TransitionLifecycle(ctx context.Context, id uuid.UUID, from, to models.LifecycleState) (bool, error)
	MarkFundedIfSoldOut(ctx context.Context, id uuid.UUID) (bool, error)
	ListFundingClosed(ctx context.Context, now time.Time) ([]*models.Project, error)
}

type InvestmentStore interface {
	Create(ctx context.Context, i *models.Investment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Investment, error)
}

// Ledger is the subset of ledger.Service used to move investor money.
type Ledger interface {
	WalletByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (from, to *models.Transaction, err error)
}

// Service converts investor money into project shares.
type Service struct {
	Projects    ProjectStore
	Investments InvestmentStore
	Ledger      Ledger
	Audit       audit.Recorder
	Notifier    notify.Notifier
	Policy      lifecycle.FundedPolicy
	Logger      *slog.Logger

	now func() time.Time
}

func NewService(projects ProjectStore, investments InvestmentStore, l Ledger, rec audit.Recorder, n notify.Notifier, policy lifecycle.FundedPolicy, logger *slog.Logger) *Service {
	return &Service{
		Projects:    projects,
		Investments: investments,
		Ledger:      l,
		Audit:       rec,
		Notifier:    n,
		Policy:      policy,
		Logger:      logger,
		now:         time.Now,
	}
}

// Invest buys amount worth of shares in project for investor. Shares are
// reserved first; if the money cannot be moved the reservation is released.
func (s *Service) Invest(ctx context.Context, investorID, projectID uuid.UUID, amount int64) (inv *models.Investment, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = outcomeLabel(err)
		}
		observability.Investments.WithLabelValues(outcome).Inc()
	}()

	p, err := s.Projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	shares, fee, err := checkPreconditions(p, amount)
	if err != nil {
		return nil, err
	}

	wallet, err := s.Ledger.WalletByAccount(ctx, investorID)
	if err != nil {
		return nil, fmt.Errorf("investor wallet: %w", err)
	}

	ok, err := s.Projects.ReserveShares(ctx, projectID, shares)
	if err != nil {
		return nil, fmt.Errorf("reserve shares: %w", err)
	}
	if !ok {
		return nil, s.reserveMiss(ctx, projectID)
	}

	now := s.now()
	inv = &models.Investment{
		ID:         uuid.New(),
		InvestorID: investorID,
		ProjectID:  projectID,
		Amount:     amount,
		Fee:        fee,
		Shares:     shares,
		Status:     models.InvestmentActive,
		InvestedAt: now,
	}

	debit, _, err := s.Ledger.Transfer(ctx, ledger.TransferRequest{
		From:         wallet.ID,
		To:           models.PlatformWalletID,
		Amount:       amount,
		Kind:         models.TxKindInvestment,
		InvestmentID: &inv.ID,
		Reference:    "investment:" + inv.ID.String(),
	})
	if err != nil {
		if relErr := s.release(ctx, projectID, shares); relErr != nil {
			return nil, fmt.Errorf("release shares failed: %v; original error: %w", relErr, err)
		}
		return nil, err
	}
	inv.TransactionID = &debit.ID

	if err := s.Investments.Create(ctx, inv); err != nil {
		s.revert(ctx, inv, wallet.ID)
		return nil, fmt.Errorf("persist investment: %w", err)
	}

	if s.Policy.OnExhaustion() {
		s.markFunded(ctx, investorID, projectID)
	}

	s.Audit.Record(ctx, investorID, audit.ActionInvest, models.InvestmentRef(inv.ID), map[string]any{
		"project_id": projectID, "amount": amount, "shares": shares, "fee": fee,
	})
	s.Notifier.Notify(ctx, investorID, investorID, models.InvestmentRef(inv.ID), notify.TypeInvestment,
		"Investment confirmed", fmt.Sprintf("You bought %d shares of %s.", shares, p.Title))
	return inv, nil
}

// checkPreconditions returns the share count and fee portion of amount, or
// the first failed precondition.
func checkPreconditions(p *models.Project, amount int64) (shares, fee int64, err error) {
	if !lifecycle.CanInvest(p.Lifecycle) {
		return 0, 0, ErrProjectNotOpen
	}
	if amount < p.MinInvestment {
		return 0, 0, ErrBelowMinimum
	}
	if p.MaxInvestment != nil && amount > *p.MaxInvestment {
		return 0, 0, ErrAboveMaximum
	}
	if p.SharePrice <= 0 || amount <= 0 {
		return 0, 0, ErrInvalidShareCount
	}
	shares = amount / p.SharePrice
	if shares <= 0 {
		return 0, 0, ErrInvalidShareCount
	}
	if shares > p.RemainingShares() {
		return 0, 0, ErrOversubscribed
	}
	return shares, amount - shares*p.SharePrice, nil
}

// reserveMiss tells a project that closed since it was read apart from one
// that ran out of shares.
func (s *Service) reserveMiss(ctx context.Context, projectID uuid.UUID) error {
	p, err := s.Projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("reload project: %w", err)
	}
	if !lifecycle.CanInvest(p.Lifecycle) {
		return ErrProjectNotOpen
	}
	return ErrOversubscribed
}

func (s *Service) release(ctx context.Context, projectID uuid.UUID, shares int64) error {
	err := s.Projects.ReleaseShares(context.WithoutCancel(ctx), projectID, shares)
	if err != nil {
		s.Logger.Error("share release failed, shares_sold overstated",
			"project_id", projectID, "shares", shares, "error", err)
	}
	return err
}

// revert undoes an investment whose row could not be stored: the money goes
// back through a new opposite transfer and the shares are released.
func (s *Service) revert(ctx context.Context, inv *models.Investment, walletID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	_, _, err := s.Ledger.Transfer(ctx, ledger.TransferRequest{
		From:         models.PlatformWalletID,
		To:           walletID,
		Amount:       inv.Amount,
		Kind:         models.TxKindRepayment,
		InvestmentID: &inv.ID,
		Reference:    "investment-revert:" + inv.ID.String(),
		Metadata:     []byte(`{"reason":"investment_not_persisted"}`),
	})
	if err != nil {
		s.Logger.Error("investment refund failed", "investment_id", inv.ID, "amount", inv.Amount, "error", err)
		return
	}
	_ = s.release(ctx, inv.ProjectID, inv.Shares)
	s.Audit.Record(ctx, inv.InvestorID, audit.ActionInvestmentRevert, models.InvestmentRef(inv.ID), map[string]any{"amount": inv.Amount})
}

// markFunded closes funding once every share is sold and recorded. The check
// runs against the stored counters, not the reservation, because another
// purchase may still release its shares.
func (s *Service) markFunded(ctx context.Context, actor, projectID uuid.UUID) {
	ok, err := s.Projects.MarkFundedIfSoldOut(ctx, projectID)
	if err != nil {
		s.Logger.Error("mark project funded", "project_id", projectID, "error", err)
		return
	}
	if ok {
		s.Logger.Info("project funded", "project_id", projectID)
		s.Audit.Record(ctx, actor, audit.ActionLifecycleChanged, models.ProjectRef(projectID), map[string]any{
			"from": models.LifecycleFundingActive, "to": models.LifecycleFunded,
		})
	}
}

// OpenFunding applies the operator trigger legal_structuring -> funding_active.
func (s *Service) OpenFunding(ctx context.Context, actor, projectID uuid.UUID) error {
	return s.transition(ctx, actor, projectID, models.LifecycleFundingActive)
}

// MarkFunded closes funding manually.
func (s *Service) MarkFunded(ctx context.Context, actor, projectID uuid.UUID) error {
	return s.transition(ctx, actor, projectID, models.LifecycleFunded)
}

func (s *Service) transition(ctx context.Context, actor, projectID uuid.UUID, to models.LifecycleState) error {
	p, err := s.Projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if _, err := lifecycle.Transition(p.Lifecycle, to); err != nil {
		return err
	}
	ok, err := s.Projects.TransitionLifecycle(ctx, projectID, p.Lifecycle, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: project %s changed state concurrently", lifecycle.ErrIllegalTransition, projectID)
	}
	s.Audit.Record(ctx, actor, audit.ActionLifecycleChanged, models.ProjectRef(projectID), map[string]any{
		"from": p.Lifecycle, "to": to,
	})
	return nil
}

// CloseExpiredWindows marks funded every funding_active project whose window
// has ended, when the policy allows it. Returns how many projects moved.
func (s *Service) CloseExpiredWindows(ctx context.Context) (int, error) {
	if !s.Policy.OnWindowClose() {
		return 0, nil
	}
	projects, err := s.Projects.ListFundingClosed(ctx, s.now())
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, p := range projects {
		ok, err := s.Projects.TransitionLifecycle(ctx, p.ID, models.LifecycleFundingActive, models.LifecycleFunded)
		if err != nil {
			s.Logger.Error("close funding window", "project_id", p.ID, "error", err)
			continue
		}
		if ok {
			moved++
			s.Audit.Record(ctx, models.SystemPlatformAccountID, audit.ActionLifecycleChanged, models.ProjectRef(p.ID), map[string]any{
				"from": models.LifecycleFundingActive, "to": models.LifecycleFunded, "reason": "funding_window_closed",
			})
		}
	}
	return moved, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	return s.Investments.GetByID(ctx, id)
}

func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Investment, error) {
	return s.Investments.ListByProject(ctx, projectID)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrOversubscribed):
		return "oversubscribed"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrProjectNotOpen), errors.Is(err, ErrBelowMinimum),
		errors.Is(err, ErrAboveMaximum), errors.Is(err, ErrInvalidShareCount):
		return "rejected"
	}
	return "error"
}
