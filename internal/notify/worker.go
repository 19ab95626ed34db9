package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

type DeliverArgs struct {
	Notification Notification `json:"notification"`
}

func (DeliverArgs) Kind() string { return "notification_delivery" }

// InsertOpts caps retries; a notification that keeps failing is dropped.
func (DeliverArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

// Sink is a delivery channel.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

type DeliverWorker struct {
	river.WorkerDefaults[DeliverArgs]
	sink   Sink
	logger *slog.Logger
}

func NewDeliverWorker(sink Sink, logger *slog.Logger) *DeliverWorker {
	return &DeliverWorker{sink: sink, logger: logger}
}

func (w *DeliverWorker) Work(ctx context.Context, job *river.Job[DeliverArgs]) error {
	n := job.Args.Notification
	if err := w.sink.Deliver(ctx, n); err != nil {
		w.logger.Warn("notification delivery failed",
			"notification_id", n.ID, "recipient_id", n.RecipientID, "attempt", job.Attempt, "error", err)
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	return nil
}
