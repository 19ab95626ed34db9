package investment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

type CloseFundingWindowsArgs struct{}

func (CloseFundingWindowsArgs) Kind() string { return "funding_window_close" }

// WindowCloser is implemented by *Service.
type WindowCloser interface {
	CloseExpiredWindows(ctx context.Context) (int, error)
}

type CloseFundingWindowsWorker struct {
	river.WorkerDefaults[CloseFundingWindowsArgs]
	closer WindowCloser
	logger *slog.Logger
}

func NewCloseFundingWindowsWorker(closer WindowCloser, logger *slog.Logger) *CloseFundingWindowsWorker {
	return &CloseFundingWindowsWorker{closer: closer, logger: logger}
}

func (w *CloseFundingWindowsWorker) Work(ctx context.Context, _ *river.Job[CloseFundingWindowsArgs]) error {
	n, err := w.closer.CloseExpiredWindows(ctx)
	if err != nil {
		return fmt.Errorf("close funding windows: %w", err)
	}
	if n > 0 {
		w.logger.Info("funding windows closed", "projects", n)
	}
	return nil
}
