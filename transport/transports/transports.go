// Package transports registers every built-in broadcast backend.
package transports

import (
	_ "github.com/drblury/commentflow/transport/aws"
	_ "github.com/drblury/commentflow/transport/channel"
	_ "github.com/drblury/commentflow/transport/http"
	_ "github.com/drblury/commentflow/transport/kafka"
	_ "github.com/drblury/commentflow/transport/nats"
	_ "github.com/drblury/commentflow/transport/rabbitmq"
)
