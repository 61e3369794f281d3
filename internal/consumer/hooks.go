package consumer

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/commentflow/internal/runtime/logging"
	"github.com/drblury/commentflow/internal/runtime/metadata"
)

// JobContext describes one consumed message to hooks.
type JobContext struct {
	// Queue is the queue the message was received from.
	Queue string
	// MessageUUID is the broker message id, or a generated ULID when the
	// publisher did not set one.
	MessageUUID string
	// CorrelationID is the comment id carried in the headers.
	CorrelationID string
	Metadata      message.Metadata
	Context       context.Context
	StartedAt     time.Time
	// Duration is only set in OnJobDone and OnJobError.
	Duration time.Duration
	// Redelivered is true when the broker has handed this message out before.
	Redelivered bool
}

// JobHooks defines callbacks around the handling of a single message.
// All hooks are optional.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	// OnJobDone is called after the message was persisted and acknowledged.
	OnJobDone func(ctx JobContext)
	// OnJobError is called when the message was dead-lettered. A failed
	// acknowledgement triggers neither hook; the broker redelivers the message.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks. The hooks from other run after the hooks from h.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainJobHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainJobHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainJobHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func jobHooksMiddleware(queue string, hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			jobCtx := JobContext{
				Queue:         queue,
				MessageUUID:   msg.UUID,
				CorrelationID: metadata.FromWatermill(msg.Metadata).CorrelationID(),
				Metadata:      msg.Metadata,
				Context:       msg.Context(),
				StartedAt:     time.Now(),
				Redelivered:   msg.Metadata.Get(metaRedelivered) == "true",
			}

			if hooks.OnJobStart != nil {
				hooks.OnJobStart(jobCtx)
			}

			msgs, err := h(msg)
			jobCtx.Duration = time.Since(jobCtx.StartedAt)

			switch {
			case err == nil:
				if hooks.OnJobDone != nil {
					hooks.OnJobDone(jobCtx)
				}
			case IsDeadLettered(err):
				if hooks.OnJobError != nil {
					hooks.OnJobError(jobCtx, err)
				}
			}
			return msgs, err
		}
	}
}

// LoggingHooks returns hooks that log the message lifecycle at debug level
// and failures at error level.
func LoggingHooks(log logging.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			log.Debug("Message received", logging.LogFields{
				logging.FieldQueue:     ctx.Queue,
				logging.FieldMessageID: ctx.MessageUUID,
				"correlation_id":       ctx.CorrelationID,
				"redelivered":          ctx.Redelivered,
			})
		},
		OnJobDone: func(ctx JobContext) {
			log.Debug("Message acknowledged", logging.LogFields{
				logging.FieldQueue:     ctx.Queue,
				logging.FieldMessageID: ctx.MessageUUID,
				"correlation_id":       ctx.CorrelationID,
				"duration_ms":          ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			log.Error("Message dead-lettered", err, logging.LogFields{
				logging.FieldQueue:     ctx.Queue,
				logging.FieldMessageID: ctx.MessageUUID,
				"correlation_id":       ctx.CorrelationID,
				"duration_ms":          ctx.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks returns hooks that call alertFunc for every dead-lettered message.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{OnJobError: alertFunc}
}
