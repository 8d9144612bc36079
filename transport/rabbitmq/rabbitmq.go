// Package rabbitmq binds apibridge topics to RabbitMQ. A topic
// "exchange/queue" declares a durable direct exchange and a durable queue
// bound to it with the routing key "#queue#".
package rabbitmq

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/apibridge/transport"
)

const TransportName = "rabbitmq"

// ExchangeType is the kind of exchange declared for every service.
const ExchangeType = "direct"

var errURLRequired = errors.New("rabbitmq: url is required")

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register adds the transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// ExchangeName is the exchange half of a topic.
func ExchangeName(topic string) string {
	exchange, _ := transport.SplitTopic(topic)
	return exchange
}

// QueueName is the queue half of a topic.
func QueueName(topic string) string {
	_, queue := transport.SplitTopic(topic)
	return queue
}

// BindingKey is the routing key used both to bind and to publish.
func BindingKey(topic string) string {
	return transport.RoutingKey(transport.SplitTopic(topic))
}

// NewConfig returns the AMQP layout for url.
func NewConfig(url string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(url, QueueName)
	cfg.Exchange.GenerateName = ExchangeName
	cfg.Exchange.Type = ExchangeType
	cfg.QueueBind.GenerateRoutingKey = BindingKey
	cfg.Publish.GenerateRoutingKey = BindingKey
	// one message in flight per consumer keeps queue order
	cfg.Consume.Qos.PrefetchCount = 1
	return cfg
}

// Build connects once and shares the connection between publisher and subscriber.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errURLRequired
	}
	amqpConfig := NewConfig(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
