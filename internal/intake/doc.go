// Package intake accepts comment submissions over HTTP, gates them on the
// captcha and validation rules and hands accepted envelopes to the producer.
// The caller gets the correlation id back as soon as the broker has the
// message; persistence happens later in the consumer.
package intake
