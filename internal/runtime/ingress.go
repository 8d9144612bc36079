package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/apibridge/internal/runtime/envelope"
	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
	"github.com/drblury/apibridge/internal/runtime/rls"
	schemapkg "github.com/drblury/apibridge/internal/runtime/schema"
	ingresspkg "github.com/drblury/apibridge/transport/http"
)

var errIngressAddressRequired = errors.New("apibridge: http ingress address is required")

// RegisterHTTPIngress accepts envelopes POSTed to /<service> for every
// service of the schema that has an AMQP section. Each envelope is validated
// the same way an outbound call is and forwarded to the target's queue.
// The ingress starts with Start.
func (s *Service) RegisterHTTPIngress(ctx context.Context) error {
	if s.Conf.HTTPIngressAddress == "" {
		return errIngressAddressRequired
	}
	sch, err := s.Schema(ctx)
	if err != nil {
		return err
	}
	ingress, err := ingresspkg.NewIngress(s.Conf.HTTPIngressAddress, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return err
	}
	s.mountIngress(sch, ingress)
	return nil
}

func (s *Service) mountIngress(sch *schemapkg.Schema, ingress *ingresspkg.Ingress) {
	for _, name := range sch.Services() {
		svc, _ := sch.Service(name)
		if _, ok := svc.Section(schemapkg.ProtocolAMQP); !ok {
			continue
		}
		s.router.AddConsumerHandler("ingress_"+name, ingresspkg.Path(name), ingress.Subscriber, s.ingressHandler(name))
	}
	s.ingress = ingress
}

// ingressHandler forwards envelopes addressed to target. Envelopes that can
// never be forwarded fail with a RejectedEnvelopeError.
func (s *Service) ingressHandler(target string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()
		env, err := ingressEnvelope(msg)
		if err != nil {
			return s.reject(msg, err)
		}

		sch, err := s.Schema(ctx)
		if err != nil {
			return err
		}
		desc, err := sch.FindMethod(target, env.Method)
		if err != nil {
			return s.reject(msg, err)
		}
		if desc.Protocol != schemapkg.ProtocolAMQP {
			return s.reject(msg, fmt.Errorf("method %s of %s is not served over AMQP", env.Method, target))
		}
		if err := desc.CheckParamMap(env.Params); err != nil {
			return s.reject(msg, err)
		}
		if err := rls.CheckSchema(sch, target, env.ServiceCallback, env.Method); err != nil {
			return s.reject(msg, err)
		}

		payload, err := env.Marshal()
		if err != nil {
			return s.reject(msg, err)
		}
		md := metadatapkg.ForRequest(env.ID, env.ServiceCallback, target, env.Method)
		if err := s.publish(ctx, queueTopic(desc.Config.AMQP()), payload, md); err != nil {
			s.metrics.RecordDispatch(string(schemapkg.ProtocolAMQP), OutcomeFailed)
			return err
		}
		s.metrics.RecordDispatch(string(schemapkg.ProtocolAMQP), OutcomeOK)
		s.Logger.Debug("Forwarded ingress envelope", loggingpkg.LogFields{
			"to":             target,
			"method":         env.Method,
			"correlation_id": env.ID,
		})
		return nil
	}
}

// ingressEnvelope decodes the request body. service_callback falls back to
// the sender header and a missing id is computed from the content.
func ingressEnvelope(msg *message.Message) (envelope.Envelope, error) {
	m, err := jsoncodec.DecodeObject(msg.Payload)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if from, _ := m[envelope.FieldServiceCallback].(string); from == "" {
		if header := msg.Metadata.Get(metadatapkg.KeyFromService); header != "" {
			m[envelope.FieldServiceCallback] = header
		}
	}
	if id, _ := m[envelope.FieldID].(string); id == "" {
		m[envelope.FieldID] = ""
	}
	env, err := envelope.FromMap(m)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if env.ID == "" {
		if err := env.Seal(); err != nil {
			return envelope.Envelope{}, err
		}
	}
	return env, nil
}

func (s *Service) reject(msg *message.Message, err error) error {
	s.metrics.RecordDispatch("", OutcomeRejected)
	s.Logger.Error("Rejected ingress envelope", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
	return &RejectedEnvelopeError{Payload: string(msg.Payload), Err: err}
}
