package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xfund/backend/internal/models"
)

func discardLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestQueueNotify(t *testing.T) {
	var queued []DeliverArgs
	q := NewQueue(func(_ context.Context, args DeliverArgs) error {
		queued = append(queued, args)
		return nil
	}, discardLogger(&bytes.Buffer{}))

	recipient, actor, dividend := uuid.New(), uuid.New(), uuid.New()
	q.Notify(context.Background(), recipient, actor, models.DividendRef(dividend), TypeDividendPaid, "Dividend paid", "You received 100")

	require.Len(t, queued, 1)
	n := queued[0].Notification
	assert.Equal(t, recipient, n.RecipientID)
	assert.Equal(t, actor, n.ActorID)
	assert.Equal(t, models.EntityDividend, n.Subject.Kind)
	assert.Equal(t, TypeDividendPaid, n.Type)
	assert.NotEqual(t, uuid.Nil, n.ID)
}

func TestQueueNotify_InsertFailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	q := NewQueue(func(context.Context, DeliverArgs) error {
		return errors.New("queue unavailable")
	}, discardLogger(&buf))

	assert.NotPanics(t, func() {
		q.Notify(context.Background(), uuid.New(), uuid.New(), models.ProjectRef(uuid.New()), TypeContractSigned, "t", "b")
	})
	assert.Contains(t, buf.String(), "notification not queued")
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkDeliver(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, "notifications")
	n := Notification{ID: uuid.New(), RecipientID: uuid.New(), Type: TypeInvestment, Title: "Investment confirmed"}

	require.NoError(t, sink.Deliver(context.Background(), n))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "notifications", w.msgs[0].Topic)
	assert.Equal(t, n.RecipientID.String(), string(w.msgs[0].Key))

	var decoded Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, n.ID, decoded.ID)
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, Notification) error { return errors.New("broker down") }

func TestDeliverWorker(t *testing.T) {
	w := &fakeWriter{}
	worker := NewDeliverWorker(NewKafkaSink(w, "notifications"), discardLogger(&bytes.Buffer{}))
	job := &river.Job[DeliverArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   DeliverArgs{Notification: Notification{ID: uuid.New(), RecipientID: uuid.New()}},
	}
	require.NoError(t, worker.Work(context.Background(), job))
	assert.Len(t, w.msgs, 1)

	var buf bytes.Buffer
	failing := NewDeliverWorker(failingSink{}, discardLogger(&buf))
	require.Error(t, failing.Work(context.Background(), job))
	assert.Contains(t, buf.String(), "notification delivery failed")
}
