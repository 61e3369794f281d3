package transport

// Capabilities describes how a backend delivers broadcast messages.
type Capabilities struct {
	Name string

	// Fanout is true when every subscriber sees every message. Backends
	// without it deliver each message to one subscriber of a group.
	Fanout bool

	// CrossProcess is true when API instances in other processes receive
	// messages published here.
	CrossProcess bool

	// Durable is true when messages published while nobody listens are kept.
	Durable bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64
}

// ReachesAllViewers reports whether a viewer attached to any API instance
// sees every comment.
func (c Capabilities) ReachesAllViewers() bool {
	return c.Fanout && c.CrossProcess
}

var (
	ChannelCapabilities = Capabilities{
		Name:   "channel",
		Fanout: true,
	}

	RabbitMQCapabilities = Capabilities{
		Name:         "rabbitmq",
		Fanout:       true,
		CrossProcess: true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		Fanout:         true,
		CrossProcess:   true,
		MaxMessageSize: 1 << 20,
	}

	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Fanout:         true,
		CrossProcess:   true,
		Durable:        true,
		MaxMessageSize: 1 << 20,
	}

	// HTTPCapabilities: the publisher posts to a single configured endpoint.
	HTTPCapabilities = Capabilities{
		Name:         "http",
		CrossProcess: true,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		Fanout:         true,
		CrossProcess:   true,
		Durable:        true,
		MaxMessageSize: 256 << 10,
	}
)
