// Package brokertest provides in-memory fakes of the broker connection and
// channel so producer and consumer behaviour can be tested without RabbitMQ.
package brokertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/commentflow/internal/broker"
)

var ErrDialRefused = errors.New("brokertest: connection refused")

// Install replaces broker.Dial with d for the duration of the test.
func Install(t testing.TB, d *Dialer) {
	t.Helper()
	original := broker.Dial
	broker.Dial = d.Dial
	t.Cleanup(func() { broker.Dial = original })
}

// Dialer hands out FakeConnections and can refuse a number of attempts to
// simulate a broker outage.
type Dialer struct {
	mu       sync.Mutex
	failures int
	attempts int
	conns    []*FakeConnection
	// ChannelSetup is applied to every channel opened on any connection.
	ChannelSetup func(*FakeChannel)
}

// FailNext makes the next n dial attempts fail.
func (d *Dialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *Dialer) Dial(url string, cfg amqp.Config) (broker.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.failures > 0 {
		d.failures--
		return nil, ErrDialRefused
	}
	conn := &FakeConnection{setup: d.ChannelSetup}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *Dialer) Connections() []*FakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeConnection(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *FakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Published collects every publishing accepted on any channel.
func (d *Dialer) Published() []Publishing {
	var out []Publishing
	for _, c := range d.Connections() {
		for _, ch := range c.ChannelList() {
			out = append(out, ch.Published()...)
		}
	}
	return out
}

type FakeConnection struct {
	mu       sync.Mutex
	channels []*FakeChannel
	notify   []chan *amqp.Error
	closed   bool
	setup    func(*FakeChannel)
	// ChannelErr fails Channel() when set.
	ChannelErr error
}

func (c *FakeConnection) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChannelErr != nil {
		return nil, c.ChannelErr
	}
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := NewFakeChannel()
	if c.setup != nil {
		c.setup(ch)
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *FakeConnection) ChannelList() []*FakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeChannel(nil), c.channels...)
}

func (c *FakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *FakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConnection) Close() error {
	c.shutdown(nil)
	return nil
}

// Break simulates the broker dropping the connection.
func (c *FakeConnection) Break() {
	c.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED", Server: true})
}

func (c *FakeConnection) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	notify := c.notify
	c.notify = nil
	channels := append([]*FakeChannel(nil), c.channels...)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(reason)
	}
	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

// Publishing is a message accepted by a FakeChannel.
type Publishing struct {
	Exchange string
	Key      string
	amqp.Publishing
}

// QueueDeclaration records one QueueDeclare call.
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Args       amqp.Table
}

type ExchangeDeclaration struct {
	Name    string
	Kind    string
	Durable bool
}

type Binding struct {
	Queue    string
	Key      string
	Exchange string
}

// Outcome records how a delivery was settled.
type Outcome struct {
	Tag     uint64
	Ack     bool
	Requeue bool
}

type FakeChannel struct {
	mu         sync.Mutex
	exchanges  []ExchangeDeclaration
	queues     []QueueDeclaration
	bindings   []Binding
	prefetch   int
	published  []Publishing
	outcomes   []Outcome
	notify     []chan *amqp.Error
	deliveries chan amqp.Delivery
	consumers  int
	closed     bool
	nextTag    uint64
	pending    []amqp.Delivery

	confirming bool
	confirmSeq uint64
	listeners  []chan amqp.Confirmation

	inflight atomic.Int32
	overlap  atomic.Bool

	// PublishErrs fails that many publishes before accepting.
	PublishErrs int
	// PublishHook runs inside PublishWithContext before the message is recorded.
	PublishHook func()
	// NackNext makes the broker nack that many confirmed publishes.
	NackNext int
	// LoseNext accepts that many publishes and then closes the channel before
	// the confirmation is sent.
	LoseNext int
	// HoldConfirms records publishes without ever confirming them.
	HoldConfirms bool
	// ConfirmErr fails Confirm when set.
	ConfirmErr error
	// DeclareErr fails every QueueDeclare when set.
	DeclareErr error
	// PassiveMessages is reported by QueueDeclarePassive.
	PassiveMessages int
	// SettleHook runs after an ack or reject is recorded.
	SettleHook func(Outcome)
	// AckErr fails every Ack without recording an outcome.
	AckErr error
}

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{deliveries: make(chan amqp.Delivery, 128)}
}

func (f *FakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	f.exchanges = append(f.exchanges, ExchangeDeclaration{Name: name, Kind: kind, Durable: durable})
	return nil
}

func (f *FakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if f.DeclareErr != nil {
		return amqp.Queue{}, f.DeclareErr
	}
	f.queues = append(f.queues, QueueDeclaration{Name: name, Durable: durable, AutoDelete: autoDelete, Exclusive: exclusive, Args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *FakeChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	return amqp.Queue{Name: name, Messages: f.PassiveMessages}, nil
}

func (f *FakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	f.bindings = append(f.bindings, Binding{Queue: name, Key: key, Exchange: exchange})
	return nil
}

func (f *FakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *FakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, amqp.ErrClosed
	}
	f.consumers++
	return f.deliveries, nil
}

// Enqueue makes a message available to Get.
func (f *FakeChannel) Enqueue(body []byte, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTag++
	f.pending = append(f.pending, amqp.Delivery{
		Acknowledger: f,
		DeliveryTag:  f.nextTag,
		MessageId:    messageID,
		Body:         body,
	})
}

func (f *FakeChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.pending[0]
	f.pending = f.pending[1:]
	return d, true, nil
}

func (f *FakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)

	if f.PublishHook != nil {
		f.PublishHook()
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return amqp.ErrClosed
	}
	if f.PublishErrs > 0 {
		f.PublishErrs--
		f.mu.Unlock()
		return errors.New("brokertest: publish failed")
	}
	f.published = append(f.published, Publishing{Exchange: exchange, Key: key, Publishing: msg})
	if !f.confirming || f.HoldConfirms {
		f.mu.Unlock()
		return nil
	}
	f.confirmSeq++
	conf := amqp.Confirmation{DeliveryTag: f.confirmSeq, Ack: true}
	if f.LoseNext > 0 {
		f.LoseNext--
		f.mu.Unlock()
		f.Break()
		return nil
	}
	if f.NackNext > 0 {
		f.NackNext--
		conf.Ack = false
	}
	// sent under the lock so shutdown cannot close a listener mid-send
	for _, l := range f.listeners {
		l <- conf
	}
	f.mu.Unlock()
	return nil
}

func (f *FakeChannel) Confirm(noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	if f.ConfirmErr != nil {
		return f.ConfirmErr
	}
	f.confirming = true
	return nil
}

func (f *FakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(confirm)
		return confirm
	}
	f.listeners = append(f.listeners, confirm)
	return confirm
}

// Confirming reports whether the channel was put in confirm mode.
func (f *FakeChannel) Confirming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirming
}

func (f *FakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(receiver)
		return receiver
	}
	f.notify = append(f.notify, receiver)
	return receiver
}

func (f *FakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeChannel) Close() error {
	f.shutdown(nil)
	return nil
}

// Break simulates the broker closing the channel.
func (f *FakeChannel) Break() {
	f.shutdown(&amqp.Error{Code: amqp.ChannelError, Reason: "CHANNEL_ERROR", Server: true})
}

func (f *FakeChannel) shutdown(reason *amqp.Error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	notify := f.notify
	f.notify = nil
	listeners := f.listeners
	f.listeners = nil
	close(f.deliveries)
	f.mu.Unlock()

	for _, l := range listeners {
		close(l)
	}
	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

// Deliver pushes a message to the consumer and returns its delivery tag.
func (f *FakeChannel) Deliver(body []byte, headers amqp.Table) uint64 {
	return f.DeliverMessage(amqp.Delivery{Body: body, Headers: headers})
}

// DeliverMessage pushes d, filling in the acknowledger and delivery tag.
func (f *FakeChannel) DeliverMessage(d amqp.Delivery) uint64 {
	f.mu.Lock()
	f.nextTag++
	d.Acknowledger = f
	d.DeliveryTag = f.nextTag
	ch := f.deliveries
	f.mu.Unlock()
	ch <- d
	return d.DeliveryTag
}

func (f *FakeChannel) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	err := f.AckErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.settle(Outcome{Tag: tag, Ack: true})
}

func (f *FakeChannel) Nack(tag uint64, multiple bool, requeue bool) error {
	return f.settle(Outcome{Tag: tag, Requeue: requeue})
}

func (f *FakeChannel) Reject(tag uint64, requeue bool) error {
	return f.settle(Outcome{Tag: tag, Requeue: requeue})
}

func (f *FakeChannel) settle(o Outcome) error {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, o)
	hook := f.SettleHook
	f.mu.Unlock()
	if hook != nil {
		hook(o)
	}
	return nil
}

func (f *FakeChannel) Exchanges() []ExchangeDeclaration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExchangeDeclaration(nil), f.exchanges...)
}

func (f *FakeChannel) Queues() []QueueDeclaration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]QueueDeclaration(nil), f.queues...)
}

func (f *FakeChannel) Bindings() []Binding {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Binding(nil), f.bindings...)
}

func (f *FakeChannel) Prefetch() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefetch
}

func (f *FakeChannel) Consumers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumers
}

func (f *FakeChannel) Published() []Publishing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Publishing(nil), f.published...)
}

func (f *FakeChannel) Outcomes() []Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Outcome(nil), f.outcomes...)
}

// Overlapped reports whether two publishes ever ran concurrently.
func (f *FakeChannel) Overlapped() bool {
	return f.overlap.Load()
}
