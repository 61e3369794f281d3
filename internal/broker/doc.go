// Package broker talks AMQP 0-9-1 to the durable comment queue.
//
// It owns the queue topology (main queue bound to a fanout dead-letter
// exchange and queue), the reconnecting Producer used by the intake API, and
// the prefetch-1 Session the consumer reads from. Connections go through the
// package level Dial so tests can substitute the fakes in brokertest.
package broker
