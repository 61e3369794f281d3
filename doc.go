// Package commentflow is an asynchronous comment ingestion pipeline. An HTTP
// intake API checks a captcha answer, validates the submission and enqueues it
// on a durable RabbitMQ queue. A separate consumer process takes one message at
// a time, persists the comment through gorm inside a single transaction and
// acknowledges the delivery only after the commit. Messages that cannot be
// decoded or stored are rejected into a dead-letter queue instead of being
// redelivered forever.
//
// Persisted comments are broadcast to realtime viewers over a pluggable
// Watermill transport and relayed to browsers as server-sent events.
//
// # Transports
//
// The broadcast fan-out supports six transports out of the box:
//   - channel: in-process Go channels, for single-binary deployments and tests
//   - rabbitmq: a fanout exchange with one queue per api instance
//   - nats: core NATS subjects
//   - kafka: one consumer group per api instance
//   - http: webhook style delivery between processes
//   - aws: SNS topics with one SQS queue per api instance
//
// Import them through _ "github.com/drblury/commentflow/transport/transports".
//
// # Processes
//
// Service runs the components for a Role. RoleAPI serves the intake API and
// the event stream, RoleConsumer drains the queue, and RoleAll runs both in one
// process. The commentflow command in cmd/commentflow wraps these roles and adds
// migrate and dead-letter inspection commands.
//
// # Hooks
//
// JobHooks receive OnJobStart, OnJobDone and OnJobError callbacks around every
// consumed message. LoggingHooks and AlertingHooks cover the common cases and
// ServiceDependencies.Hooks plugs in custom ones.
package commentflow
