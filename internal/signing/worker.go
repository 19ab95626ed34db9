package signing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

// PollArgs is the periodic job that syncs every project in signing, for
// callbacks the provider never delivered.
type PollArgs struct{}

func (PollArgs) Kind() string { return "signing_poll" }

type Poller interface {
	SyncAll(ctx context.Context) (int, error)
}

type PollWorker struct {
	river.WorkerDefaults[PollArgs]
	poller Poller
	logger *slog.Logger
}

func NewPollWorker(poller Poller, logger *slog.Logger) *PollWorker {
	return &PollWorker{poller: poller, logger: logger}
}

func (w *PollWorker) Work(ctx context.Context, _ *river.Job[PollArgs]) error {
	n, err := w.poller.SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("poll signature requests: %w", err)
	}
	w.logger.Debug("signature requests polled", "projects", n)
	return nil
}
