// Package nats binds apibridge topics to NATS subjects. NATS has no
// exchanges, so "exchange/queue" becomes the subject "exchange.queue" and
// consumers of one service share a queue group.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/apibridge/transport"
)

const TransportName = "nats"

var errURLRequired = errors.New("nats: url is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Subject maps a topic to a NATS subject.
func Subject(topic string) string {
	exchange, queue := transport.SplitTopic(topic)
	if exchange == "" {
		return queue
	}
	return exchange + "." + queue
}

type subjectPublisher struct {
	message.Publisher
}

func (p subjectPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.Publisher.Publish(Subject(topic), messages...)
}

type subjectSubscriber struct {
	message.Subscriber
}

func (s subjectSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, Subject(topic))
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errURLRequired
	}
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:       url,
			Marshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			Unmarshaler:      marshaler,
			QueueGroupPrefix: cfg.GetServiceName(),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  subjectPublisher{publisher},
		Subscriber: subjectSubscriber{subscriber},
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
