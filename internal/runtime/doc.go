/*
Package runtime wires the comment pipeline into runnable processes.

# Architecture Overview

A submission travels through two processes joined by a durable RabbitMQ queue:

	client -> api (captcha, validation) -> comments queue -> consumer -> database
	                                                            |
	                                       broadcast transport <-+-> api SSE stream

The api process owns the HTTP surface and the producer. The consumer process
owns the database and acknowledges a message only after the comment is
stored. Messages the consumer cannot handle are rejected into the
dead-letter queue. Both processes can run in one binary with RoleAll.

# Package Structure

## Service (service.go)

Service builds every component from a Config and runs them under one
errgroup. Components are created lazily by Run so a process only dials what
its role needs. ServiceDependencies overrides any collaborator, which is how
the tests inject fake brokers and in-memory databases.

# Sub-packages

  - config/: settings, defaults, file and environment loading, validation
  - errors/: sentinel errors and typed errors shared by every package
  - ids/: ULID message ids and comment ids
  - jsoncodec/: the JSON codec used for queue payloads and API bodies
  - logging/: the ServiceLogger interface with slog, logrus and zap backends
  - metadata/: header maps carried with queued and broadcast messages
  - metrics/: Prometheus collectors for the producer and consumer

# Usage Example

	cfg, err := config.Load("commentflow.yaml")
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	svc, err := runtime.NewService(cfg, log, config.RoleAll, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	return svc.Run(ctx, config.RoleAll)
*/
package runtime
