package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/apibridge/internal/runtime/correlation"
	"github.com/drblury/apibridge/internal/runtime/envelope"
	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
	"github.com/drblury/apibridge/internal/runtime/rls"
	schemapkg "github.com/drblury/apibridge/internal/runtime/schema"
)

// SendOptions tunes an outbound call.
type SendOptions struct {
	// CallbackMethod names the local callback handler that receives the result.
	CallbackMethod string
	// AdditionalData travels with the request and is handed back to the
	// callback handler. It does not change the request id.
	AdditionalData map[string]any
}

// Reply is the outcome of a dispatched call. Fire-and-forget AMQP sends only
// carry ID and Protocol.
type Reply struct {
	// ID is the request id, the content hash of the envelope.
	ID       string
	Protocol schemapkg.Protocol
	Result   bool
	// Response is the JSON-decoded answer, or the raw text when it is not JSON.
	Response any
	// Body is the raw HTTP body or callback payload.
	Body []byte
}

type preparedCall struct {
	target string
	desc   *schemapkg.MethodDescriptor
	env    envelope.Envelope
}

// prepare resolves, validates and authorizes a call. Nothing is sent when it fails.
func (s *Service) prepare(ctx context.Context, target, method string, params map[string]any, opts SendOptions) (*preparedCall, error) {
	sch, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	desc, err := sch.FindMethod(target, method)
	if err != nil {
		return nil, err
	}
	if err := desc.CheckParamMap(params); err != nil {
		return nil, err
	}
	if err := rls.CheckSchema(sch, target, s.Conf.ServiceName, method); err != nil {
		return nil, err
	}
	env, err := envelope.New(s.Conf.ServiceName, method, opts.CallbackMethod, params, opts.AdditionalData)
	if err != nil {
		return nil, apierrors.ParamValidateFail("", err)
	}
	return &preparedCall{target: target, desc: desc, env: env}, nil
}

func (s *Service) startSpan(ctx context.Context, name string, call *preparedCall) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("apibridge.from", s.Conf.ServiceName),
			attribute.String("apibridge.to", call.target),
			attribute.String("apibridge.method", call.desc.Name),
			attribute.String("apibridge.protocol", string(call.desc.Protocol)),
			attribute.String("apibridge.correlation_id", call.env.ID),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Send calls method on target. HTTP methods are called synchronously and the
// reply carries the response body. AMQP methods are published and Send
// returns at once; with a CallbackMethod the result arrives later at the
// matching callback handler.
func (s *Service) Send(ctx context.Context, target, method string, params map[string]any, opts SendOptions) (reply *Reply, err error) {
	call, err := s.prepare(ctx, target, method, params, opts)
	if err != nil {
		s.metrics.RecordDispatch("", OutcomeRejected)
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "apibridge.send", call)
	defer func() { endSpan(span, err) }()

	switch call.desc.Protocol {
	case schemapkg.ProtocolHTTP:
		reply, err = s.sendHTTP(ctx, call, opts)
	default:
		reply, err = s.sendAMQP(ctx, call)
	}
	if err != nil {
		s.metrics.RecordDispatch(string(call.desc.Protocol), OutcomeFailed)
		return nil, err
	}
	s.metrics.RecordDispatch(string(call.desc.Protocol), OutcomeOK)
	return reply, nil
}

// Call calls method on target and waits for its result. AMQP methods wait for
// the callback until the target's configured timeout, or Config.RPCTimeout.
// A result=false callback returns the reply together with an ErrHandlerFailed error.
func (s *Service) Call(ctx context.Context, target, method string, params map[string]any, opts SendOptions) (reply *Reply, err error) {
	call, err := s.prepare(ctx, target, method, params, opts)
	if err != nil {
		s.metrics.RecordDispatch("", OutcomeRejected)
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "apibridge.call", call)
	defer func() { endSpan(span, err) }()

	if call.desc.Protocol == schemapkg.ProtocolHTTP {
		reply, err = s.sendHTTP(ctx, call, opts)
		outcome := OutcomeOK
		if err != nil {
			outcome = OutcomeFailed
		}
		s.metrics.RecordDispatch(string(schemapkg.ProtocolHTTP), outcome)
		return reply, err
	}
	return s.rpc(ctx, call)
}

// CallBatch calls method once per parameter set and returns the replies in
// input order. Every set is validated before anything is sent. Calls run
// concurrently; failed calls leave a nil reply and their errors are joined.
func (s *Service) CallBatch(ctx context.Context, target, method string, paramSets []map[string]any, opts SendOptions) ([]*Reply, error) {
	for i, params := range paramSets {
		if _, err := s.prepare(ctx, target, method, params, opts); err != nil {
			s.metrics.RecordDispatch("", OutcomeRejected)
			return nil, fmt.Errorf("param set %d: %w", i, err)
		}
	}

	replies := make([]*Reply, len(paramSets))
	errs := make([]error, len(paramSets))
	var wg sync.WaitGroup
	for i, params := range paramSets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := s.Call(ctx, target, method, params, opts)
			replies[i] = reply
			if err != nil {
				errs[i] = fmt.Errorf("param set %d: %w", i, err)
			}
		}()
	}
	wg.Wait()
	return replies, errors.Join(errs...)
}

func (s *Service) sendHTTP(ctx context.Context, call *preparedCall, opts SendOptions) (*Reply, error) {
	body, err := s.caller.Call(ctx, call.desc.Config.HTTP(), call.desc.Name, call.env.Params)
	if err != nil {
		s.Logger.Error("HTTP method call failed", err, loggingpkg.LogFields{
			"target": call.target,
			"method": call.desc.Name,
		})
		return nil, err
	}
	reply := &Reply{
		ID:       call.env.ID,
		Protocol: schemapkg.ProtocolHTTP,
		Result:   true,
		Response: decodeBody(body),
		Body:     body,
	}
	if opts.CallbackMethod != "" {
		s.deliverLocalCallback(ctx, call, reply)
	}
	return reply, nil
}

// deliverLocalCallback hands an HTTP result to the local callback handler as
// if it had arrived over the broker.
func (s *Service) deliverLocalCallback(ctx context.Context, call *preparedCall, reply *Reply) {
	cb, err := envelope.NewCallback(call.env.ID, call.target, call.env.MethodCallback, true, reply.Response)
	if err != nil {
		s.Logger.Error("Failed to build callback of HTTP call", err, loggingpkg.LogFields{"method": call.desc.Name})
		return
	}
	original := call.env
	md := metadatapkg.ForCallback(cb.ID, call.env.ID, call.target, cb.Method)
	s.dispatchCallback(ctx, cb, &original, md, "")
}

func (s *Service) sendAMQP(ctx context.Context, call *preparedCall) (*Reply, error) {
	if err := s.publishRequest(ctx, call); err != nil {
		return nil, err
	}
	return &Reply{ID: call.env.ID, Protocol: schemapkg.ProtocolAMQP}, nil
}

func (s *Service) publishRequest(ctx context.Context, call *preparedCall) error {
	payload, err := call.env.Marshal()
	if err != nil {
		return fmt.Errorf("apibridge: encode request: %w", err)
	}
	if call.env.MethodCallback != "" {
		if _, err := s.store.Put(ctx, correlation.SentKey(call.env.ID), payload); err != nil {
			s.Logger.Error("Failed to record sent request", err, loggingpkg.LogFields{"correlation_id": call.env.ID})
		}
	}

	topic := queueTopic(call.desc.Config.AMQP())
	md := metadatapkg.ForRequest(call.env.ID, s.Conf.ServiceName, call.target, call.desc.Name)
	if err := s.publish(ctx, topic, payload, md); err != nil {
		s.Logger.Error("Failed to publish request", err, loggingpkg.LogFields{
			"topic":  topic,
			"method": call.desc.Name,
		})
		return err
	}
	s.Logger.Debug("Published request", loggingpkg.LogFields{
		"topic":          topic,
		"method":         call.desc.Name,
		"correlation_id": call.env.ID,
	})
	return nil
}

func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := jsoncodec.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

// newCallbackContext builds the handler view of a callback.
func (s *Service) newCallbackContext(cb envelope.CallbackEnvelope, original *envelope.Envelope, md metadatapkg.Metadata) *handlerpkg.Callback {
	logger := s.Logger.With(loggingpkg.LogFields{
		"callback":    cb.Method,
		"response_id": cb.ResponseID,
		"from":        cb.ServiceCallback,
	})
	return handlerpkg.NewCallback(cb, original, md, logger)
}
