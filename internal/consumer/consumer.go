package consumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/commentflow/internal/broker"
	"github.com/drblury/commentflow/internal/comments"
	"github.com/drblury/commentflow/internal/runtime/config"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	"github.com/drblury/commentflow/internal/runtime/ids"
	"github.com/drblury/commentflow/internal/runtime/jsoncodec"
	"github.com/drblury/commentflow/internal/runtime/logging"
	"github.com/drblury/commentflow/internal/runtime/metadata"
	"github.com/drblury/commentflow/internal/runtime/metrics"
)

const metaRedelivered = "redelivered"

// UnitOfWork returns the store used for one message. Every delivery gets its
// own unit so no state leaks between messages.
type UnitOfWork func(ctx context.Context) comments.CommentWriter

// State is the supervisor state of a Consumer.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	default:
		return "unknown"
	}
}

type Consumer struct {
	cfg         config.BrokerConfig
	scope       UnitOfWork
	broadcaster comments.Broadcaster
	log         logging.ServiceLogger
	metrics     *metrics.PipelineMetrics
	hooks       JobHooks
	tracer      trace.Tracer

	state atomic.Int32
}

type Option func(*Consumer)

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithHooks adds lifecycle hooks. Repeated calls are merged in order.
func WithHooks(h JobHooks) Option {
	return func(c *Consumer) { c.hooks = c.hooks.Merge(h) }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Consumer) { c.tracer = t }
}

// New builds a consumer. A nil broadcaster disables broadcasting.
func New(cfg config.BrokerConfig, scope UnitOfWork, broadcaster comments.Broadcaster, log logging.ServiceLogger, opts ...Option) (*Consumer, error) {
	if scope == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if cfg.QueueName == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	if broadcaster == nil {
		broadcaster = comments.BroadcasterFunc(func(context.Context, comments.CommentRecord) error { return nil })
	}

	c := &Consumer{
		cfg:         cfg,
		scope:       scope,
		broadcaster: broadcaster,
		log:         logging.Component(log, metrics.ComponentConsumer, logging.LogFields{logging.FieldQueue: cfg.QueueName}),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.SetConnected(metrics.ComponentConsumer, s == StateConsuming)
}

// Run consumes until ctx is cancelled. Connection failures and channel loss
// are retried after the configured delay; Run only returns nil on
// cancellation. A message being handled when ctx ends runs to completion.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(StateConnecting)
		sess, err := broker.OpenSession(c.cfg)
		if err != nil {
			c.setState(StateDisconnected)
			c.metrics.RecordReconnect(metrics.ComponentConsumer)
			c.log.Error("Broker unreachable, retrying", err, logging.LogFields{
				"attempt":  attempt,
				"retry_in": c.cfg.ReconnectDelay.String(),
			})
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		c.log.Info("Consuming", logging.LogFields{"attempts": attempt})
		attempt = 0
		c.setState(StateConsuming)
		err = c.consume(ctx, sess)
		_ = sess.Close()
		c.setState(StateDisconnected)
		if err == nil {
			return nil
		}

		c.metrics.RecordReconnect(metrics.ComponentConsumer)
		c.log.Error("Broker channel lost, reconnecting", err, logging.LogFields{
			"retry_in": c.cfg.ReconnectDelay.String(),
		})
		if !c.sleep(ctx) {
			return nil
		}
	}
}

// consume returns nil when ctx ends and an error when the session is lost.
func (c *Consumer) consume(ctx context.Context, sess *broker.Session) error {
	deliveries := sess.Deliveries()
	closed := sess.Closed()
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case reason, ok := <-closed:
			if ok && reason != nil {
				return fmt.Errorf("%w: %s", errspkg.ErrChannelClosed, reason.Error())
			}
			return errspkg.ErrChannelClosed
		case d, ok := <-deliveries:
			if !ok {
				return errspkg.ErrChannelClosed
			}
			c.Handle(context.WithoutCancel(ctx), d)
		}
	}
}

// Handle processes one delivery and settles it. It is exported for callers
// that drive deliveries themselves.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	msg := c.toMessage(ctx, d)
	h := tracingMiddleware(c.tracer, c.cfg.QueueName)(
		jobHooksMiddleware(c.cfg.QueueName, c.hooks)(
			func(msg *message.Message) ([]*message.Message, error) {
				return nil, c.process(msg, d)
			},
		),
	)
	_, _ = h(msg)
}

func (c *Consumer) toMessage(ctx context.Context, d amqp.Delivery) *message.Message {
	uuid := d.MessageId
	if uuid == "" {
		uuid = ids.CreateULID()
	}
	md := metadata.FromAMQP(d.Headers).
		With(metadata.KeyMessageID, uuid).
		With(metadata.KeyQueue, c.cfg.QueueName).
		With(metaRedelivered, strconv.FormatBool(d.Redelivered))
	if md.CorrelationID() == "" && d.CorrelationId != "" {
		md = md.With(metadata.KeyCorrelationID, d.CorrelationId)
	}

	msg := message.NewMessage(uuid, d.Body)
	msg.Metadata = metadata.ToWatermill(md)
	msg.SetContext(ctx)
	return msg
}

// process returns an error when the delivery was dead-lettered or could not
// be acknowledged. Only the former satisfies IsDeadLettered.
func (c *Consumer) process(msg *message.Message, d amqp.Delivery) error {
	ctx := msg.Context()
	start := time.Now()
	fields := logging.LogFields{logging.FieldMessageID: msg.UUID, "delivery_tag": d.DeliveryTag}

	env, err := decode(msg.Payload)
	if err != nil {
		derr := &errspkg.DeserializationError{Payload: msg.Payload, Cause: err}
		fields["payload"] = string(msg.Payload)
		c.log.Error("Rejecting undecodable message", derr, fields)
		c.reject(d, fields)
		c.metrics.RecordDeadLettered(c.cfg.QueueName, time.Since(start))
		return derr
	}
	fields[logging.FieldCommentID] = env.Id.String()

	record, err := c.scope(ctx).AddComment(ctx, env)
	if err != nil {
		perr := &errspkg.PersistenceError{CommentID: env.Id.String(), Cause: err}
		c.log.Error("Rejecting comment the store refused", perr, fields)
		c.reject(d, fields)
		c.metrics.RecordDeadLettered(c.cfg.QueueName, time.Since(start))
		return perr
	}

	if err := d.Ack(false); err != nil {
		// The broker redelivers unacked messages and AddComment is
		// idempotent by id, so the comment is not duplicated.
		c.log.Error("Ack failed, awaiting redelivery", err, fields)
		c.metrics.RecordAckFailure(c.cfg.QueueName)
		return fmt.Errorf("ack comment %s: %w", env.Id, err)
	}
	c.metrics.RecordAcked(c.cfg.QueueName, time.Since(start), messageAge(msg))

	if err := c.broadcaster.Notify(ctx, record); err != nil {
		berr := &errspkg.BroadcastError{CommentID: env.Id.String(), Cause: err}
		c.log.Error("Broadcast failed", berr, fields)
		c.metrics.RecordBroadcastFailure(c.cfg.QueueName)
	}
	return nil
}

func (c *Consumer) reject(d amqp.Delivery, fields logging.LogFields) {
	if err := d.Reject(false); err != nil {
		c.log.Error("Reject failed", err, fields)
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func decode(payload []byte) (comments.Envelope, error) {
	var env comments.Envelope
	if err := jsoncodec.Unmarshal(payload, &env); err != nil {
		return comments.Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return comments.Envelope{}, err
	}
	return env, nil
}

// messageAge prefers the publish time in the headers and falls back to the
// timestamp inside a ULID message id.
func messageAge(msg *message.Message) time.Duration {
	if at, ok := metadata.FromWatermill(msg.Metadata).PublishedAt(); ok {
		return time.Since(at)
	}
	if at, ok := ids.ULIDTime(msg.UUID); ok {
		return time.Since(at)
	}
	return 0
}

// IsDeadLettered reports whether err came from a message that was rejected
// to the dead-letter queue.
func IsDeadLettered(err error) bool {
	return errors.Is(err, errspkg.ErrDeserialization) || errors.Is(err, errspkg.ErrPersistence)
}
