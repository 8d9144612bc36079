// Package transport defines the broker contracts used by apibridge. Each
// broker binding (rabbitmq, nats, channel) lives in its own sub-package and
// registers itself with the registry.
package transport

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the subset of gateway configuration a broker binding reads.
type Config interface {
	GetPubSubSystem() string
	GetServiceName() string
	GetRabbitMQURL() string
	GetNATSURL() string
	GetHTTPIngressAddress() string
}

// CapabilitiesProvider is implemented by transports that report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

const topicSeparator = "/"

// TopicFor encodes an exchange and queue into a Watermill topic. Brokers that
// know exchanges split it again; flat brokers use it as a subject.
func TopicFor(exchange, queue string) string {
	return exchange + topicSeparator + queue
}

// SplitTopic is the inverse of TopicFor. A topic without a separator is a
// queue on the default exchange.
func SplitTopic(topic string) (exchange, queue string) {
	i := strings.LastIndex(topic, topicSeparator)
	if i < 0 {
		return "", topic
	}
	return topic[:i], topic[i+1:]
}

// RoutingKey returns the binding key a queue is addressed with on a named
// exchange. The default exchange routes by queue name.
func RoutingKey(exchange, queue string) string {
	if exchange == "" {
		return queue
	}
	return "#" + queue + "#"
}
