package transport

// Capabilities describes what a transport backend guarantees to the queues
// built on top of it.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// Durable indicates queued messages survive a restart of the process
	// that published them.
	Durable bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsOrdering indicates messages on one queue arrive in publish order.
	SupportsOrdering bool

	// SupportsCompetingConsumers indicates several runners can share a queue,
	// each message going to one of them.
	SupportsCompetingConsumers bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SafeForRetries reports whether messages republished by the async
// middleware will still be there for the next runner.
func (c Capabilities) SafeForRetries() bool {
	return c.Durable && c.SupportsAck
}

// Capability sets of the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:        "channel",
		SupportsAck: true,
	}

	KafkaCapabilities = Capabilities{
		Name:                       "kafka",
		Durable:                    true,
		SupportsAck:                true,
		SupportsOrdering:           true,
		SupportsCompetingConsumers: true,
		MaxMessageSize:             1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                       "rabbitmq",
		Durable:                    true,
		SupportsAck:                true,
		SupportsOrdering:           true,
		SupportsCompetingConsumers: true,
	}

	NATSCapabilities = Capabilities{
		Name:                       "nats",
		SupportsCompetingConsumers: true,
		MaxMessageSize:             1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:                       "nats-jetstream",
		Durable:                    true,
		SupportsAck:                true,
		SupportsOrdering:           true,
		SupportsCompetingConsumers: true,
		MaxMessageSize:             1048576,
	}

	AWSCapabilities = Capabilities{
		Name:                       "aws",
		Durable:                    true,
		SupportsAck:                true,
		SupportsCompetingConsumers: true,
		MaxMessageSize:             262144,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)
