package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/commentflow/internal/runtime/config"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
)

const deadLetterExchangeArg = "x-dead-letter-exchange"

// QueueArgs returns the declaration arguments of the main queue. Any message
// rejected without requeue is routed to the dead-letter exchange.
func QueueArgs(cfg config.BrokerConfig) amqp.Table {
	return amqp.Table{deadLetterExchangeArg: cfg.DeadLetterExchange}
}

// DeclareTopology declares the dead-letter exchange (fanout, durable), the
// dead-letter queue bound to it with an empty routing key, and the durable main
// queue. Every declaration is idempotent.
func DeclareTopology(ch Channel, cfg config.BrokerConfig) error {
	if cfg.QueueName == "" {
		return errspkg.ErrQueueNameRequired
	}
	if cfg.DeadLetterExchange == "" || cfg.DeadLetterQueue == "" {
		return errspkg.ErrDeadLetterRequired
	}

	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange %q: %w", cfg.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter queue %q: %w", cfg.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueue, "", cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue %q: %w", cfg.DeadLetterQueue, err)
	}
	return declareQueue(ch, cfg)
}

func declareQueue(ch Channel, cfg config.BrokerConfig) error {
	if _, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, QueueArgs(cfg)); err != nil {
		return fmt.Errorf("declare queue %q: %w", cfg.QueueName, err)
	}
	return nil
}
