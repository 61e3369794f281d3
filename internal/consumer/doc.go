// Package consumer drains the comment queue one message at a time.
//
// A Consumer keeps a single broker session open, reconnecting after a fixed
// delay whenever the connection or channel is lost. Each delivery is decoded,
// persisted through a fresh unit of work and then acknowledged. Payloads that
// cannot be decoded and comments the store refuses are rejected without
// requeue so the broker moves them to the dead-letter queue. Broadcasting the
// persisted comment is best effort and never changes the outcome.
package consumer
