package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/commentflow/internal/comments"
	"github.com/drblury/commentflow/internal/runtime/config"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	"github.com/drblury/commentflow/internal/runtime/ids"
	"github.com/drblury/commentflow/internal/runtime/jsoncodec"
	"github.com/drblury/commentflow/internal/runtime/logging"
	"github.com/drblury/commentflow/internal/runtime/metadata"
	"github.com/drblury/commentflow/internal/runtime/metrics"
)

// Producer publishes envelopes to the comment queue over one shared channel.
//
// A one-slot semaphore serializes reconnects, declarations and publishes so
// frames from concurrent callers never interleave and only one reconnect
// runs at a time. The channel runs in confirm mode and a publish only counts
// once the broker acks it. While the broker is unreachable callers wait;
// Publish never gives up, PublishContext gives up when its context ends.
type Producer struct {
	cfg     config.BrokerConfig
	log     logging.ServiceLogger
	metrics *metrics.PipelineMetrics
	dial    DialFunc

	sem      chan struct{}
	conn     Connection
	ch       Channel
	confirms chan amqp.Confirmation
	lost     chan struct{}

	stateMu   sync.Mutex
	ready     chan struct{}
	connected bool
	current   chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

type ProducerOption func(*Producer)

func WithProducerMetrics(m *metrics.PipelineMetrics) ProducerOption {
	return func(p *Producer) { p.metrics = m }
}

func NewProducer(cfg config.BrokerConfig, log logging.ServiceLogger, opts ...ProducerOption) *Producer {
	p := &Producer{
		cfg:    cfg,
		log:    logging.Component(log, metrics.ComponentProducer, logging.LogFields{logging.FieldQueue: cfg.QueueName}),
		dial:   Dial,
		sem:    make(chan struct{}, 1),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish blocks until env is on the queue or the producer is closed.
func (p *Producer) Publish(env comments.Envelope) error {
	return p.PublishContext(context.Background(), env)
}

// PublishContext publishes env, reconnecting as often as needed, until it
// succeeds or ctx ends. On cancellation the returned error wraps both
// ErrPublishCancelled and ctx.Err().
func (p *Producer) PublishContext(ctx context.Context, env comments.Envelope) error {
	body, err := jsoncodec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", env.Id, err)
	}
	messageID := ids.CreateULID()
	now := time.Now()
	headers := metadata.ForComment(env.Id.String(), now)
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: env.Id.String(),
		Timestamp:     now,
		Headers:       metadata.ToAMQP(headers),
		Body:          body,
	}

	if err := p.acquire(ctx); err != nil {
		return p.cancelled(err)
	}
	defer p.release()

	for attempt := 1; ; attempt++ {
		if err := p.ensureChannel(ctx); err != nil {
			return p.cancelled(err)
		}
		err := p.publishOnce(ctx, msg)
		if err == nil {
			p.metrics.RecordPublished(p.cfg.QueueName)
			p.log.Debug("Comment published", logging.LogFields{
				logging.FieldCommentID: env.Id.String(),
				"message_id":           messageID,
				"attempt":              attempt,
			})
			return nil
		}
		if ctx.Err() != nil {
			return p.cancelled(ctx.Err())
		}
		if errors.Is(err, errspkg.ErrProducerClosed) {
			return err
		}
		p.metrics.RecordPublishRetry(p.cfg.QueueName)
		p.log.Error("Publish failed, retrying on a new channel", err, logging.LogFields{
			logging.FieldCommentID: env.Id.String(),
			"attempt":              attempt,
			"retry_in":             p.cfg.ReconnectDelay.String(),
		})
		p.dropChannel()
		if err := p.wait(ctx); err != nil {
			return p.cancelled(err)
		}
	}
}

// Run keeps the connection open in the background and reconnects as soon as
// it is lost, so Ready reflects broker availability between publishes. It
// returns when ctx ends or the producer is closed.
func (p *Producer) Run(ctx context.Context) error {
	for {
		if err := p.acquire(ctx); err != nil {
			return nil
		}
		err := p.ensureChannel(ctx)
		lost := p.lost
		p.release()
		if err != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.closed:
			return nil
		case <-lost:
			p.log.Info("Broker connection lost", nil)
		}
	}
}

// Ready returns a channel that is closed while the producer holds an open
// channel. Callers should fetch a fresh channel after each wake up.
func (p *Producer) Ready() <-chan struct{} {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.ready
}

func (p *Producer) Connected() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.connected
}

// Close releases the channel and connection. Pending publishes return
// ErrProducerClosed.
func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		p.sem <- struct{}{}
		defer p.release()
		err = p.closeConnection()
	})
	return err
}

// publishOnce returns nil only after the broker confirmed msg. A channel
// that closes before the confirmation arrives counts as a failed publish.
func (p *Producer) publishOnce(ctx context.Context, msg amqp.Publishing) error {
	if err := declareQueue(p.ch, p.cfg); err != nil {
		return err
	}
	if err := p.ch.PublishWithContext(ctx, "", p.cfg.QueueName, false, false, msg); err != nil {
		return err
	}

	select {
	case conf, ok := <-p.confirms:
		if !ok {
			return fmt.Errorf("%w before the publish was confirmed", errspkg.ErrChannelClosed)
		}
		if !conf.Ack {
			return fmt.Errorf("%w: delivery tag %d", errspkg.ErrPublishNacked, conf.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		// a late confirmation must not be read by the next publish
		p.dropChannel()
		return ctx.Err()
	case <-p.closed:
		return errspkg.ErrProducerClosed
	}
}

// ensureChannel must be called with the semaphore held.
func (p *Producer) ensureChannel(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if p.ch != nil && !p.ch.IsClosed() {
			return nil
		}
		err := p.connect()
		if err == nil {
			if attempt > 1 {
				p.log.Info("Reconnected to broker", logging.LogFields{"attempts": attempt})
			}
			return nil
		}
		p.metrics.RecordReconnect(metrics.ComponentProducer)
		p.log.Error("Broker unreachable, retrying", err, logging.LogFields{
			"attempt":  attempt,
			"retry_in": p.cfg.ReconnectDelay.String(),
		})
		if err := p.wait(ctx); err != nil {
			return err
		}
	}
}

func (p *Producer) connect() error {
	_ = p.closeConnection()

	conn, err := p.dial(p.cfg.URL, dialConfig("commentflow-producer"))
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := DeclareTopology(ch, p.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	lost := make(chan struct{})
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		select {
		case <-connClosed:
		case <-chClosed:
		}
		p.markUnready(lost)
		close(lost)
	}()

	p.conn, p.ch, p.confirms, p.lost = conn, ch, confirms, lost
	p.markReady(lost)
	return nil
}

func (p *Producer) dropChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.markUnready(nil)
}

func (p *Producer) closeConnection() error {
	var errs []error
	if p.ch != nil && !p.ch.IsClosed() {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	p.ch, p.conn, p.confirms = nil, nil, nil
	p.markUnready(nil)
	return errors.Join(errs...)
}

// markReady records the connection identified by lost as the live one.
func (p *Producer) markReady(lost chan struct{}) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.current = lost
	if p.connected {
		return
	}
	p.connected = true
	close(p.ready)
	p.metrics.SetConnected(metrics.ComponentProducer, true)
}

// markUnready flips the producer to unready. A non-nil lost only applies if it
// still identifies the live connection, so a late close notification from a
// replaced connection is ignored.
func (p *Producer) markUnready(lost chan struct{}) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if lost != nil && lost != p.current {
		return
	}
	p.current = nil
	if !p.connected {
		return
	}
	p.connected = false
	p.ready = make(chan struct{})
	p.metrics.SetConnected(metrics.ComponentProducer, false)
}

func (p *Producer) acquire(ctx context.Context) error {
	select {
	case <-p.closed:
		return errspkg.ErrProducerClosed
	default:
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return errspkg.ErrProducerClosed
	}
}

func (p *Producer) release() {
	<-p.sem
}

func (p *Producer) wait(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return errspkg.ErrProducerClosed
	}
}

func (p *Producer) cancelled(err error) error {
	if errors.Is(err, errspkg.ErrProducerClosed) {
		return err
	}
	return fmt.Errorf("%w: %w", errspkg.ErrPublishCancelled, err)
}
