package transport

// Capabilities describes what a broker binding supports.
type Capabilities struct {
	Name string

	// SupportsExchangeRouting is true when the exchange half of a topic
	// selects a broker exchange rather than being folded into the subject.
	SupportsExchangeRouting bool

	// SupportsAck reports explicit acknowledgement; SupportsNack redelivery.
	SupportsAck  bool
	SupportsNack bool

	// SupportsOrdering is true when one queue is delivered in publish order.
	SupportsOrdering bool

	SupportsTracing bool

	// Durable is true when queued messages survive a broker restart.
	Durable bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once semantics.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// RequiresRoutingEmulation is true when exchanges must be emulated through
// subject naming.
func (c Capabilities) RequiresRoutingEmulation() bool {
	return !c.SupportsExchangeRouting
}

var (
	// ChannelCapabilities for the in-process gochannel broker.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                    "rabbitmq",
		SupportsExchangeRouting: true,
		SupportsAck:             true,
		SupportsNack:            true,
		SupportsOrdering:        true,
		SupportsTracing:         true,
		Durable:                 true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	// NATSJetStreamCapabilities for the durable stream binding. Nack asks
	// the server to redeliver after AckWait.
	NATSJetStreamCapabilities = Capabilities{
		Name:            "nats-jetstream",
		SupportsAck:     true,
		SupportsNack:    true,
		SupportsTracing: true,
		Durable:         true,
		MaxMessageSize:  1048576,
	}

	// HTTPCapabilities describe the ingress subscriber. Ack maps to a 2xx
	// response, Nack to a 5xx.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsAck:     true,
		SupportsNack:    true,
		SupportsTracing: true,
	}
)

// GetCapabilities looks name up in the default registry.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
