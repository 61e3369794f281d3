package broker

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/commentflow/internal/runtime/config"
	"github.com/drblury/commentflow/internal/runtime/metadata"
)

// DeadLetter is a message parked in the dead-letter queue.
type DeadLetter struct {
	MessageID     string
	CorrelationID string
	Headers       metadata.Metadata
	Body          []byte
	Timestamp     time.Time
}

// DeadLetterReport summarises the dead-letter queue for operators.
type DeadLetterReport struct {
	Queue     string
	Messages  int
	Consumers int
	Sample    []DeadLetter
}

// InspectDeadLetters reports the depth of the dead-letter queue and peeks at
// up to limit messages. Peeked messages are returned to the queue.
func InspectDeadLetters(cfg config.BrokerConfig, limit int) (DeadLetterReport, error) {
	conn, err := Dial(cfg.URL, dialConfig("commentflow-inspect"))
	if err != nil {
		return DeadLetterReport{}, err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return DeadLetterReport{}, err
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(cfg.DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return DeadLetterReport{}, err
	}
	report := DeadLetterReport{Queue: q.Name, Messages: q.Messages, Consumers: q.Consumers}

	var last *amqp.Delivery
	for i := 0; i < limit && i < q.Messages; i++ {
		d, ok, err := ch.Get(cfg.DeadLetterQueue, false)
		if err != nil {
			return report, err
		}
		if !ok {
			break
		}
		last = &d
		report.Sample = append(report.Sample, DeadLetter{
			MessageID:     d.MessageId,
			CorrelationID: d.CorrelationId,
			Headers:       metadata.FromAMQP(d.Headers),
			Body:          d.Body,
			Timestamp:     d.Timestamp,
		})
	}
	// Messages stay unacked until the peek ends so Get walks the queue
	// instead of returning the head again.
	if last != nil {
		if err := last.Nack(true, true); err != nil {
			return report, err
		}
	}
	return report, nil
}
