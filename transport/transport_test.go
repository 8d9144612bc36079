package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetServiceName() string        { return "API" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetHTTPIngressAddress() string { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                              { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}
func (m *mockSubscriber) Close() error { return nil }

func TestTopicRoundTrip(t *testing.T) {
	tests := []struct {
		exchange, queue string
	}{
		{"apibridge", "API"},
		{"", "API"},
		{"a/b", "queue"},
	}
	for _, tt := range tests {
		topic := TopicFor(tt.exchange, tt.queue)
		exchange, queue := SplitTopic(topic)
		assert.Equal(t, tt.exchange, exchange, topic)
		assert.Equal(t, tt.queue, queue, topic)
	}
}

func TestSplitTopicWithoutSeparator(t *testing.T) {
	exchange, queue := SplitTopic("plain")
	assert.Empty(t, exchange)
	assert.Equal(t, "plain", queue)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "#API#", RoutingKey("apibridge", "API"))
	assert.Equal(t, "API", RoutingKey("", "API"))
}

func TestCapabilities(t *testing.T) {
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	assert.False(t, RabbitMQCapabilities.RequiresRoutingEmulation())
	assert.True(t, ChannelCapabilities.RequiresRoutingEmulation())
	assert.False(t, NATSCapabilities.SupportsReliableDelivery())
	assert.Equal(t, int64(1048576), NATSCapabilities.MaxMessageSize)
}
