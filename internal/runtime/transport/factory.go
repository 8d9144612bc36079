// Package transport builds the broker connection of a Service and performs
// outbound HTTP method calls.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/apibridge/internal/runtime/config"
	brokers "github.com/drblury/apibridge/transport"

	// Register the built-in broker bindings.
	_ "github.com/drblury/apibridge/transport/channel"
	_ "github.com/drblury/apibridge/transport/jetstream"
	_ "github.com/drblury/apibridge/transport/nats"
	_ "github.com/drblury/apibridge/transport/rabbitmq"
)

// DefaultSystem is used when PubSubSystem is empty.
const DefaultSystem = "rabbitmq"

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Factory abstracts how a Service connects to its broker.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// Static returns a factory that always hands out tr, for services sharing
// one in-process broker.
func Static(tr Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
		return tr, nil
	})
}

// DefaultFactory resolves PubSubSystem through the broker registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}
	if conf.PubSubSystem == "" {
		withDefault := *conf
		withDefault.PubSubSystem = DefaultSystem
		conf = &withDefault
	}

	t, err := brokers.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}
	return Transport{
		Publisher:  t.Publisher,
		Subscriber: t.Subscriber,
	}, nil
}

// Capabilities reports the capabilities of the configured broker.
func Capabilities(conf *config.Config) brokers.Capabilities {
	name := DefaultSystem
	if conf != nil && conf.PubSubSystem != "" {
		name = conf.PubSubSystem
	}
	return brokers.GetCapabilities(name)
}
