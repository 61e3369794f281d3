package consumer

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/commentflow/internal/runtime/metadata"
)

const (
	tracerName = "github.com/drblury/commentflow/internal/consumer"
	spanName   = "comments.consume"
)

// tracingMiddleware opens a consumer span per delivery. The span is the
// parent of the store transaction through the message context.
func tracingMiddleware(tracer trace.Tracer, queue string) message.HandlerMiddleware {
	return func(next message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadata.FromWatermill(msg.Metadata)
			ctx, span := tracer.Start(msg.Context(), spanName,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.system", "rabbitmq"),
					attribute.String("messaging.operation.type", "process"),
					attribute.String("messaging.destination.name", queue),
					attribute.String("messaging.message.id", msg.UUID),
					attribute.Int("messaging.message.body.size", len(msg.Payload)),
					attribute.String("comment.id", md.CorrelationID()),
					attribute.Bool("comment.redelivered", md.Get(metaRedelivered) == "true"),
				),
			)
			defer span.End()
			msg.SetContext(ctx)

			out, err := next(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return out, err
		}
	}
}
