// Package channel provides an in-process broker built on Watermill's
// gochannel. Exchanges are not modelled: the full "exchange/queue" topic is
// the channel name, so two services only see each other when they share the
// same GoChannel instance.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/apibridge/transport"
)

const TransportName = "channel"

// DefaultBuffer is the per-subscriber output buffer.
const DefaultBuffer = 64

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a fresh in-process broker.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: DefaultBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Shared returns a transport backed by one GoChannel, for wiring several
// services into the same process-local broker.
func Shared(logger watermill.LoggerAdapter) transport.Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: DefaultBuffer}, logger)
	return transport.Transport{Publisher: pubSub, Subscriber: pubSub}
}

func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
