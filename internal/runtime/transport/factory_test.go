package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/apibridge/internal/runtime/config"
	brokers "github.com/drblury/apibridge/transport"
	"github.com/drblury/apibridge/transport/channel"
)

func TestDefaultFactoryBuildsChannel(t *testing.T) {
	tr, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "channel"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	_ = tr.Publisher.Close()
}

func TestDefaultFactoryErrors(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, watermill.NopLogger{})
	assert.ErrorContains(t, err, "config is required")

	_, err = DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "kafka"}, watermill.NopLogger{})
	assert.ErrorIs(t, err, brokers.ErrUnknownTransport)

	// rabbitmq is the default and needs a URL
	_, err = DefaultFactory().Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "url is required")
}

func TestStaticFactory(t *testing.T) {
	shared := channel.Shared(nil)
	factory := Static(Transport{Publisher: shared.Publisher, Subscriber: shared.Subscriber})

	a, err := factory.Build(context.Background(), nil, nil)
	require.NoError(t, err)
	b, err := factory.Build(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Same(t, a.Publisher, b.Publisher)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, "rabbitmq", Capabilities(nil).Name)
	assert.Equal(t, "channel", Capabilities(&config.Config{PubSubSystem: "channel"}).Name)
	assert.True(t, Capabilities(&config.Config{}).SupportsExchangeRouting)
}
