package dividend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/xfund/backend/internal/models"
)

type RetryPaymentsArgs struct {
	DividendID uuid.UUID `json:"dividend_id"`
}

func (RetryPaymentsArgs) Kind() string { return "dividend_payment_retry" }

func (RetryPaymentsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 10}
}

// Retrier is implemented by *Service.
type Retrier interface {
	RetryFailed(ctx context.Context, actor, dividendID uuid.UUID) (*Result, error)
}

// RetryPaymentsWorker keeps retrying a dividend until every payment is paid,
// using River's backoff between attempts.
type RetryPaymentsWorker struct {
	river.WorkerDefaults[RetryPaymentsArgs]
	retrier Retrier
	logger  *slog.Logger
}

func NewRetryPaymentsWorker(retrier Retrier, logger *slog.Logger) *RetryPaymentsWorker {
	return &RetryPaymentsWorker{retrier: retrier, logger: logger}
}

func (w *RetryPaymentsWorker) Work(ctx context.Context, job *river.Job[RetryPaymentsArgs]) error {
	res, err := w.retrier.RetryFailed(ctx, models.SystemPlatformAccountID, job.Args.DividendID)
	if err != nil {
		return fmt.Errorf("retry dividend %s: %w", job.Args.DividendID, err)
	}
	if n := len(res.Failures); n > 0 {
		w.logger.Warn("dividend payments still failing", "dividend_id", job.Args.DividendID, "failed", n, "attempt", job.Attempt)
		return fmt.Errorf("%d payments of dividend %s still unpaid", n, job.Args.DividendID)
	}
	w.logger.Info("dividend payments settled", "dividend_id", job.Args.DividendID, "paid", res.Paid)
	return nil
}
