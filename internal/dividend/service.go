// Package dividend splits a project's income among its shareholders.
package dividend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xfund/backend/internal/audit"
	"github.com/xfund/backend/internal/ledger"
	"github.com/xfund/backend/internal/models"
	"github.com/xfund/backend/internal/notify"
	"github.com/xfund/backend/internal/observability"
)

var (
	ErrInvalidPeriod    = errors.New("period end must be after period start")
	ErrInvalidAmount    = errors.New("dividend amount must be positive")
	ErrNoSharesSold     = errors.New("project has no shares sold")
	ErrPerShareTooSmall = errors.New("dividend amount is smaller than one unit per share")
)

type ProjectStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

type InvestmentStore interface {
	ListPayableByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Investment, error)
}

type DividendStore interface {
	Create(ctx context.Context, d *models.Dividend) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dividend, error)
	MarkDistributed(ctx context.Context, id uuid.UUID, at time.Time) error
	CreatePayment(ctx context.Context, p *models.DividendPayment) (*models.DividendPayment, bool, error)
	MarkPaymentPaid(ctx context.Context, id, transactionID uuid.UUID, at time.Time) error
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListPayments(ctx context.Context, dividendID uuid.UUID) ([]*models.DividendPayment, error)
	ListUnpaid(ctx context.Context, dividendID uuid.UUID) ([]*models.DividendPayment, error)
}

type Ledger interface {
	WalletByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (from, to *models.Transaction, err error)
}

// ScheduleRetryFunc enqueues a retry of a dividend's unpaid payments.
type ScheduleRetryFunc func(ctx context.Context, args RetryPaymentsArgs) error

// PaymentFailure describes one payment that did not go through.
type PaymentFailure struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	InvestmentID uuid.UUID `json:"investment_id"`
	InvestorID   uuid.UUID `json:"investor_id"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
}

// Result is the outcome of a distribution or retry run. Failures do not make
// the run an error; they are left for retry.
type Result struct {
	Dividend *models.Dividend          `json:"dividend"`
	Payments []*models.DividendPayment `json:"payments"`
	Paid     int                       `json:"paid"`
	Failures []PaymentFailure          `json:"failures"`
}

type Service struct {
	Projects      ProjectStore
	Investments   InvestmentStore
	Dividends     DividendStore
	Ledger        Ledger
	Audit         audit.Recorder
	Notifier      notify.Notifier
	ScheduleRetry ScheduleRetryFunc
	Logger        *slog.Logger

	now func() time.Time
}

func NewService(projects ProjectStore, investments InvestmentStore, dividends DividendStore, l Ledger, rec audit.Recorder, n notify.Notifier, schedule ScheduleRetryFunc, logger *slog.Logger) *Service {
	return &Service{
		Projects:      projects,
		Investments:   investments,
		Dividends:     dividends,
		Ledger:        l,
		Audit:         rec,
		Notifier:      n,
		ScheduleRetry: schedule,
		Logger:        logger,
		now:           time.Now,
	}
}

var tracer = otel.Tracer("dividend")

// Distribute pays total out of the platform wallet to every active or
// confirmed investment of the project, pro rata to shares. The part of total
// that does not divide evenly stays with the platform.
func (s *Service) Distribute(ctx context.Context, actor, projectID uuid.UUID, total int64, start, end time.Time) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "dividend.Distribute")
	span.SetAttributes(attribute.String("project_id", projectID.String()), attribute.Int64("total", total))
	defer func() { observability.EndSpan(span, err) }()

	if !end.After(start) {
		return nil, ErrInvalidPeriod
	}
	if total <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.Projects.GetByID(ctx, projectID); err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	investments, err := s.Investments.ListPayableByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list investments: %w", err)
	}

	// Shares still reserved by an unfinished purchase are in shares_sold but
	// have no investment to pay, so the basis is the payable set.
	var counted int64
	for _, inv := range investments {
		counted += inv.Shares
	}
	if counted <= 0 {
		return nil, ErrNoSharesSold
	}
	perShare := total / counted
	if perShare == 0 {
		return nil, ErrPerShareTooSmall
	}

	d := &models.Dividend{
		ID:             uuid.New(),
		ProjectID:      projectID,
		TotalAmount:    total,
		AmountPerShare: perShare,
		SharesCounted:  counted,
		RetainedAmount: total - perShare*counted,
		Status:         models.DividendPlanned,
		PeriodStart:    start,
		PeriodEnd:      end,
		CreatedBy:      actor,
	}
	if err := s.Dividends.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create dividend: %w", err)
	}

	res = &Result{Dividend: d}
	for _, inv := range investments {
		payment, _, err := s.Dividends.CreatePayment(ctx, &models.DividendPayment{
			ID:           uuid.New(),
			DividendID:   d.ID,
			InvestmentID: inv.ID,
			InvestorID:   inv.InvestorID,
			Shares:       inv.Shares,
			Amount:       inv.Shares * perShare,
			Status:       models.PaymentPending,
		})
		if err != nil {
			res.Failures = append(res.Failures, PaymentFailure{
				InvestmentID: inv.ID, InvestorID: inv.InvestorID, Amount: inv.Shares * perShare, Reason: err.Error(),
			})
			s.Logger.Error("dividend payment not recorded", "dividend_id", d.ID, "investment_id", inv.ID, "error", err)
			continue
		}
		s.settle(ctx, d, payment, res)
	}

	now := s.now()
	if err := s.Dividends.MarkDistributed(ctx, d.ID, now); err != nil {
		return nil, fmt.Errorf("mark distributed: %w", err)
	}
	d.Status = models.DividendDistributed
	d.DistributedAt = &now

	s.Audit.Record(ctx, actor, audit.ActionDistribute, models.DividendRef(d.ID), map[string]any{
		"project_id": projectID, "total": total, "per_share": perShare,
		"retained": d.RetainedAmount, "paid": res.Paid, "failed": len(res.Failures),
	})
	s.Logger.Info("dividend distributed",
		"dividend_id", d.ID, "project_id", projectID, "per_share", perShare, "paid", res.Paid, "failed", len(res.Failures))
	s.scheduleRetry(ctx, d.ID, res)
	return res, nil
}

// RetryFailed re-attempts every pending or failed payment of a dividend. Each
// attempt reuses the payment's ledger reference so money never moves twice.
func (s *Service) RetryFailed(ctx context.Context, actor, dividendID uuid.UUID) (*Result, error) {
	d, err := s.Dividends.GetByID(ctx, dividendID)
	if err != nil {
		return nil, fmt.Errorf("load dividend: %w", err)
	}
	unpaid, err := s.Dividends.ListUnpaid(ctx, dividendID)
	if err != nil {
		return nil, fmt.Errorf("list unpaid: %w", err)
	}
	res := &Result{Dividend: d}
	for _, p := range unpaid {
		s.settle(ctx, d, p, res)
	}
	if len(unpaid) > 0 {
		s.Audit.Record(ctx, actor, audit.ActionRetryPayments, models.DividendRef(d.ID), map[string]any{
			"attempted": len(unpaid), "paid": res.Paid, "failed": len(res.Failures),
		})
	}
	return res, nil
}

func (s *Service) ListPayments(ctx context.Context, dividendID uuid.UUID) ([]*models.DividendPayment, error) {
	return s.Dividends.ListPayments(ctx, dividendID)
}

func (s *Service) Get(ctx context.Context, dividendID uuid.UUID) (*models.Dividend, error) {
	return s.Dividends.GetByID(ctx, dividendID)
}

// settle moves the money for one payment and records the outcome on it.
func (s *Service) settle(ctx context.Context, d *models.Dividend, p *models.DividendPayment, res *Result) {
	res.Payments = append(res.Payments, p)
	if p.Status == models.PaymentPaid {
		res.Paid++
		return
	}

	credit, err := s.transfer(ctx, d, p)
	if err != nil {
		p.Status = models.PaymentFailed
		p.FailureReason = err.Error()
		p.Attempts++
		if markErr := s.Dividends.MarkPaymentFailed(ctx, p.ID, err.Error()); markErr != nil {
			s.Logger.Error("record payment failure", "payment_id", p.ID, "error", markErr)
		}
		res.Failures = append(res.Failures, PaymentFailure{
			PaymentID: p.ID, InvestmentID: p.InvestmentID, InvestorID: p.InvestorID, Amount: p.Amount, Reason: err.Error(),
		})
		observability.DividendPayments.WithLabelValues(models.PaymentFailed).Inc()
		s.Logger.Warn("dividend payment failed",
			"dividend_id", d.ID, "investment_id", p.InvestmentID, "amount", p.Amount, "error", err)
		s.Notifier.Notify(ctx, p.InvestorID, models.SystemPlatformAccountID, models.DividendPaymentRef(p.ID),
			notify.TypeDividendFailed, "Dividend delayed", "Your dividend payment could not be completed and will be retried.")
		return
	}

	now := s.now()
	if err := s.Dividends.MarkPaymentPaid(ctx, p.ID, credit.ID, now); err != nil {
		// The ledger holds the payment; a retry replays the same reference
		// and only repairs this row.
		s.Logger.Error("record payment paid", "payment_id", p.ID, "transaction_id", credit.ID, "error", err)
		res.Failures = append(res.Failures, PaymentFailure{
			PaymentID: p.ID, InvestmentID: p.InvestmentID, InvestorID: p.InvestorID, Amount: p.Amount, Reason: err.Error(),
		})
		return
	}
	p.Status = models.PaymentPaid
	p.TransactionID = &credit.ID
	p.PaidAt = &now
	p.FailureReason = ""
	p.Attempts++
	res.Paid++
	observability.DividendPayments.WithLabelValues(models.PaymentPaid).Inc()
	s.Notifier.Notify(ctx, p.InvestorID, models.SystemPlatformAccountID, models.DividendPaymentRef(p.ID),
		notify.TypeDividendPaid, "Dividend received", fmt.Sprintf("You received %d for %d shares.", p.Amount, p.Shares))
}

func (s *Service) transfer(ctx context.Context, d *models.Dividend, p *models.DividendPayment) (*models.Transaction, error) {
	wallet, err := s.Ledger.WalletByAccount(ctx, p.InvestorID)
	if err != nil {
		return nil, fmt.Errorf("investor wallet: %w", err)
	}
	_, credit, err := s.Ledger.Transfer(ctx, ledger.TransferRequest{
		From:         models.PlatformWalletID,
		To:           wallet.ID,
		Amount:       p.Amount,
		Kind:         models.TxKindDividend,
		InvestmentID: &p.InvestmentID,
		Reference:    PaymentReference(d.ID, p.InvestmentID),
		Metadata:     []byte(fmt.Sprintf(`{"dividend_id":%q,"shares":%d}`, d.ID, p.Shares)),
	})
	return credit, err
}

func (s *Service) scheduleRetry(ctx context.Context, dividendID uuid.UUID, res *Result) {
	if len(res.Failures) == 0 || s.ScheduleRetry == nil {
		return
	}
	if err := s.ScheduleRetry(context.WithoutCancel(ctx), RetryPaymentsArgs{DividendID: dividendID}); err != nil {
		s.Logger.Warn("dividend retry not scheduled", "dividend_id", dividendID, "error", err)
	}
}

// PaymentReference is the ledger reference of the payment of a dividend to
// one investment.
func PaymentReference(dividendID, investmentID uuid.UUID) string {
	return "dividend:" + dividendID.String() + ":" + investmentID.String()
}
