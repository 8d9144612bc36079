package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	idspkg "github.com/drblury/apibridge/internal/runtime/ids"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
)

// NewEnvelopeMessage wraps a serialized envelope into a Watermill message
// carrying md as headers. The message UUID is a fresh ULID so consumers can
// derive the enqueue time from it.
func NewEnvelopeMessage(payload []byte, md metadatapkg.Metadata) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	metadatapkg.Apply(msg, md)
	return msg
}

// PublishEnvelope publishes a serialized envelope to topic.
func PublishEnvelope(ctx context.Context, publisher message.Publisher, topic string, payload []byte, md metadatapkg.Metadata) error {
	if publisher == nil {
		return apierrors.ErrPublisherRequired
	}
	if topic == "" {
		return apierrors.ErrTopicRequired
	}

	msg := NewEnvelopeMessage(payload, md)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// publish applies the outbound rate limit before handing the envelope to
// the broker.
func (s *Service) publish(ctx context.Context, topic string, payload []byte, md metadatapkg.Metadata) error {
	if s.closed.Load() {
		return apierrors.ErrServiceClosed
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := PublishEnvelope(ctx, s.publisher, topic, payload, md); err != nil {
		return apierrors.Transport("publish", err)
	}
	return nil
}
