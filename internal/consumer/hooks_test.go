package consumer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/commentflow/internal/broker/brokertest"
	"github.com/drblury/commentflow/internal/comments"
	"github.com/drblury/commentflow/internal/consumer"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	"github.com/drblury/commentflow/internal/runtime/logging"
	"github.com/drblury/commentflow/internal/runtime/metrics"
)

type recordedHooks struct {
	mu      sync.Mutex
	started []consumer.JobContext
	done    []consumer.JobContext
	failed  []error
}

func (r *recordedHooks) hooks() consumer.JobHooks {
	return consumer.JobHooks{
		OnJobStart: func(ctx consumer.JobContext) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.started = append(r.started, ctx)
		},
		OnJobDone: func(ctx consumer.JobContext) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.done = append(r.done, ctx)
		},
		OnJobError: func(ctx consumer.JobContext, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failed = append(r.failed, err)
		},
	}
}

func newDirectConsumer(t *testing.T, store comments.CommentWriter, opts ...consumer.Option) *consumer.Consumer {
	t.Helper()
	scope := func(context.Context) comments.CommentWriter { return store }
	c, err := consumer.New(testConfig(), scope, nil, nopLogger(), opts...)
	require.NoError(t, err)
	return c
}

func TestHooksSeeAckedMessage(t *testing.T) {
	rec := &recordedHooks{}
	c := newDirectConsumer(t, &fakeStore{}, consumer.WithHooks(rec.hooks()))
	ch := brokertest.NewFakeChannel()

	env := validEnvelope()
	c.Handle(context.Background(), amqp.Delivery{
		Acknowledger:  ch,
		DeliveryTag:   7,
		MessageId:     "01J9Z6Y3R8K8W4D6V3QAYB1C2D",
		CorrelationId: env.Id.String(),
		Redelivered:   true,
		Body:          envelopeBody(t, env),
	})

	assert.Equal(t, []brokertest.Outcome{{Tag: 7, Ack: true}}, ch.Outcomes())
	require.Len(t, rec.started, 1)
	require.Len(t, rec.done, 1)
	assert.Empty(t, rec.failed)

	started := rec.started[0]
	assert.Equal(t, "comments", started.Queue)
	assert.Equal(t, "01J9Z6Y3R8K8W4D6V3QAYB1C2D", started.MessageUUID)
	assert.Equal(t, env.Id.String(), started.CorrelationID)
	assert.True(t, started.Redelivered)
	assert.Equal(t, "comments", started.Metadata.Get("queue"))
	assert.False(t, rec.done[0].StartedAt.IsZero())
}

func TestHooksSeeDeadLetteredMessage(t *testing.T) {
	rec := &recordedHooks{}
	c := newDirectConsumer(t, &fakeStore{}, consumer.WithHooks(rec.hooks()))
	ch := brokertest.NewFakeChannel()

	c.Handle(context.Background(), amqp.Delivery{Acknowledger: ch, DeliveryTag: 1, Body: []byte("garbage")})

	require.Len(t, rec.failed, 1)
	assert.ErrorIs(t, rec.failed[0], errspkg.ErrDeserialization)
	assert.Empty(t, rec.done)
	require.Len(t, rec.started, 1)
	assert.NotEmpty(t, rec.started[0].MessageUUID)
}

func TestHooksMergeRunsBothInOrder(t *testing.T) {
	var order []string
	a := consumer.JobHooks{OnJobStart: func(consumer.JobContext) { order = append(order, "a") }}
	b := consumer.JobHooks{
		OnJobStart: func(consumer.JobContext) { order = append(order, "b") },
		OnJobError: func(consumer.JobContext, error) { order = append(order, "b-error") },
	}

	merged := a.Merge(b)
	merged.OnJobStart(consumer.JobContext{})
	merged.OnJobError(consumer.JobContext{}, errors.New("x"))
	assert.Nil(t, merged.OnJobDone)
	assert.Equal(t, []string{"a", "b", "b-error"}, order)
}

func TestAlertingHooksFireOnStoreFailure(t *testing.T) {
	var alerted []error
	alerts := consumer.AlertingHooks(func(_ consumer.JobContext, err error) { alerted = append(alerted, err) })
	c := newDirectConsumer(t, &fakeStore{err: errors.New("db down")}, consumer.WithHooks(alerts))
	ch := brokertest.NewFakeChannel()

	env := comments.Envelope{Id: uuid.New(), Email: "a@b.c", Text: "x"}
	c.Handle(context.Background(), amqp.Delivery{Acknowledger: ch, DeliveryTag: 3, Body: envelopeBody(t, env)})

	require.Len(t, alerted, 1)
	assert.ErrorIs(t, alerted[0], errspkg.ErrPersistence)
	assert.True(t, consumer.IsDeadLettered(alerted[0]))
	assert.Equal(t, []brokertest.Outcome{{Tag: 3}}, ch.Outcomes())
}

func TestLoggingHooksLogDeadLetter(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logging.NewEntryServiceLogger(logrus.NewEntry(logger))

	c := newDirectConsumer(t, &fakeStore{}, consumer.WithHooks(consumer.LoggingHooks(log)))
	ch := brokertest.NewFakeChannel()
	c.Handle(context.Background(), amqp.Delivery{Acknowledger: ch, DeliveryTag: 1, Body: []byte("[]")})

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Message dead-lettered" {
			found = true
			assert.Equal(t, logrus.ErrorLevel, entry.Level)
			assert.Equal(t, "comments", entry.Data["queue"])
		}
	}
	assert.True(t, found)
}

func TestMessageAgeFromPublishedHeader(t *testing.T) {
	// The consumer must accept headers written by the producer without
	// treating them as part of the payload.
	c := newDirectConsumer(t, &fakeStore{})
	ch := brokertest.NewFakeChannel()
	c.Handle(context.Background(), amqp.Delivery{
		Acknowledger: ch,
		DeliveryTag:  1,
		Headers:      amqp.Table{"published_at": time.Now().Add(-time.Second).UTC().Format(time.RFC3339Nano)},
		Body:         envelopeBody(t, validEnvelope()),
	})
	assert.Equal(t, []brokertest.Outcome{{Tag: 1, Ack: true}}, ch.Outcomes())
}

func TestFailedAckTriggersNoLifecycleHook(t *testing.T) {
	rec := &recordedHooks{}
	var alerted []error
	alerts := consumer.AlertingHooks(func(_ consumer.JobContext, err error) { alerted = append(alerted, err) })
	m := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	store := &fakeStore{}
	c := newDirectConsumer(t, store, consumer.WithHooks(rec.hooks()), consumer.WithHooks(alerts), consumer.WithMetrics(m))

	ch := brokertest.NewFakeChannel()
	ch.AckErr = amqp.ErrClosed

	c.Handle(context.Background(), amqp.Delivery{Acknowledger: ch, DeliveryTag: 4, Body: envelopeBody(t, validEnvelope())})

	assert.Len(t, store.Calls(), 1)
	assert.Empty(t, ch.Outcomes())
	assert.Empty(t, alerted)
	assert.Empty(t, rec.failed)
	assert.Empty(t, rec.done)
	require.Len(t, rec.started, 1)

	q := m.Queue("comments")
	require.NotNil(t, q)
	assert.Equal(t, uint64(1), q.AckFailures)
	assert.Zero(t, q.DeadLettered)
	assert.Zero(t, q.Acked)
}
