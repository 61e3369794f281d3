package broker

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/commentflow/internal/runtime/config"
)

// Prefetch is the number of unacknowledged deliveries the broker hands a
// consumer session. One keeps processing strictly sequential.
const Prefetch = 1

// Session is one consuming connection. It is discarded when the channel is
// lost; the consumer opens a new one.
type Session struct {
	conn       Connection
	ch         Channel
	deliveries <-chan amqp.Delivery
	closed     chan *amqp.Error
}

// OpenSession dials the broker, declares the topology, limits prefetch to one
// and starts a manual-ack consumer on the main queue.
func OpenSession(cfg config.BrokerConfig) (*Session, error) {
	conn, err := Dial(cfg.URL, dialConfig(cfg.ConsumerTag))
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &Session{conn: conn, ch: ch}
	if err := s.start(cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) start(cfg config.BrokerConfig) error {
	if err := DeclareTopology(s.ch, cfg); err != nil {
		return err
	}
	if err := s.ch.Qos(Prefetch, 0, false); err != nil {
		return err
	}
	s.closed = s.ch.NotifyClose(make(chan *amqp.Error, 1))
	deliveries, err := s.ch.Consume(cfg.QueueName, cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	s.deliveries = deliveries
	return nil
}

func (s *Session) Deliveries() <-chan amqp.Delivery {
	return s.deliveries
}

// Closed yields the close reason when the channel or its connection goes
// away. A graceful close closes it without a value.
func (s *Session) Closed() <-chan *amqp.Error {
	return s.closed
}

func (s *Session) Close() error {
	var errs []error
	if s.ch != nil && !s.ch.IsClosed() {
		errs = append(errs, s.ch.Close())
	}
	if s.conn != nil && !s.conn.IsClosed() {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}
