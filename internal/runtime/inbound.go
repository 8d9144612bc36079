package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/apibridge/internal/runtime/correlation"
	"github.com/drblury/apibridge/internal/runtime/envelope"
	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
	"github.com/drblury/apibridge/internal/runtime/rls"
	schemapkg "github.com/drblury/apibridge/internal/runtime/schema"
)

// handleMessage processes one broker message. The message is acked once it
// is decoded and classified; nothing that happens afterwards redelivers it.
func (s *Service) handleMessage(ctx context.Context, topic string, msg *message.Message) {
	in, err := envelope.Decode(msg.Payload)
	msg.Ack()
	if err != nil {
		s.Logger.Error("Dropping undecodable message", err, loggingpkg.LogFields{
			"topic":        topic,
			"message_uuid": msg.UUID,
		})
		s.metrics.RecordInbound(InboundInvalid, OutcomeDropped)
		return
	}

	md := metadatapkg.FromWatermill(msg.Metadata)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "apibridge.inbound",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("apibridge.service", s.Conf.ServiceName),
			attribute.String("message.uuid", msg.UUID),
			attribute.String("messaging.destination", topic),
		),
	)
	defer span.End()

	if in.IsCallback() {
		span.SetAttributes(attribute.String("apibridge.response_id", in.Callback.ResponseID))
		s.handleCallback(ctx, msg.UUID, *in.Callback, msg.Payload, md)
		return
	}
	span.SetAttributes(attribute.String("apibridge.correlation_id", in.Request.ID))
	s.handleRequest(ctx, topic, msg.UUID, *in.Request, md)
}

func (s *Service) handleCallback(ctx context.Context, messageUUID string, cb envelope.CallbackEnvelope, raw []byte, md metadatapkg.Metadata) {
	fields := loggingpkg.LogFields{
		"response_id": cb.ResponseID,
		"from":        cb.ServiceCallback,
		"callback":    cb.Method,
	}

	if s.pending.Has(cb.ResponseID) {
		stored, err := s.store.Put(ctx, cb.ResponseID, raw)
		switch {
		case err != nil:
			s.Logger.Error("Failed to store RPC reply", err, fields)
			s.metrics.RecordInbound(InboundReply, OutcomeFailed)
		case !stored:
			s.Logger.Debug("Dropping duplicate RPC reply", fields)
			s.metrics.RecordInbound(InboundReply, OutcomeDuplicate)
		default:
			s.metrics.RecordInbound(InboundReply, OutcomeOK)
		}
		return
	}

	original := s.loadSent(ctx, cb.ResponseID)
	s.dispatchCallback(ctx, cb, original, md, messageUUID)
}

// loadSent returns the recorded outbound request answered by a callback and
// forgets it.
func (s *Service) loadSent(ctx context.Context, id string) *envelope.Envelope {
	key := correlation.SentKey(id)
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, correlation.ErrNotFound) {
			s.Logger.Error("Failed to load sent request", err, loggingpkg.LogFields{"correlation_id": id})
		}
		return nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.Logger.Error("Failed to delete sent request", err, loggingpkg.LogFields{"correlation_id": id})
	}
	in, err := envelope.Decode(raw)
	if err != nil || in.Request == nil {
		return nil
	}
	return in.Request
}

// dispatchCallback routes a callback to the handler registered for its method.
func (s *Service) dispatchCallback(ctx context.Context, cb envelope.CallbackEnvelope, original *envelope.Envelope, md metadatapkg.Metadata, messageUUID string) {
	fields := loggingpkg.LogFields{
		"response_id": cb.ResponseID,
		"from":        cb.ServiceCallback,
		"callback":    cb.Method,
	}
	if cb.Method == "" {
		s.Logger.Info("Dropping callback without method", fields)
		s.metrics.RecordInbound(InboundCallback, OutcomeDropped)
		return
	}
	h, ok := s.callbackHandler(cb.Method)
	if !ok {
		s.Logger.Info("Dropping callback without handler", fields)
		s.metrics.RecordInbound(InboundCallback, OutcomeDropped)
		return
	}

	c := s.newCallbackContext(cb, original, md)
	job := JobContext{
		HandlerName:   cb.Method,
		Kind:          HandlerKindCallback,
		Caller:        cb.ServiceCallback,
		MessageUUID:   messageUUID,
		CorrelationID: cb.ResponseID,
		Metadata:      md,
		Context:       ctx,
	}
	err := s.hooks.run(job, func() error {
		return s.observe(HandlerKindCallback, cb.Method, cb.ServiceCallback, messageUUID, func() error {
			return invokeCallback(ctx, h, c)
		})
	})
	if err != nil {
		s.Logger.Error("Callback handler failed", err, fields)
		s.metrics.RecordInbound(InboundCallback, OutcomeFailed)
		return
	}
	s.metrics.RecordInbound(InboundCallback, OutcomeOK)
}

func (s *Service) handleRequest(ctx context.Context, topic, messageUUID string, req envelope.Envelope, md metadatapkg.Metadata) {
	fields := loggingpkg.LogFields{
		"correlation_id": req.ID,
		"from":           req.ServiceCallback,
		"method":         req.Method,
	}

	sch, err := s.Schema(ctx)
	if err != nil {
		s.Logger.Error("Dropping request, schema unavailable", err, fields)
		s.metrics.RecordInbound(InboundRequest, OutcomeFailed)
		return
	}

	if err := rls.CheckSchema(sch, s.Conf.ServiceName, req.ServiceCallback, req.Method); err != nil {
		s.Logger.Error("Rejected request", err, fields)
		s.sendErrorCallback(ctx, sch, req, err)
		s.metrics.RecordInbound(InboundRequest, OutcomeRejected)
		return
	}

	h, ok := s.methodHandler(req.Method)
	if !ok {
		err := apierrors.MethodNotSet(s.Conf.ServiceName, req.Method)
		s.Logger.Error("No handler for method", err, fields)
		s.sendErrorCallback(ctx, sch, req, err)
		s.metrics.RecordInbound(InboundRequest, OutcomeRejected)
		return
	}

	logger := s.Logger.With(fields)
	request := handlerpkg.NewRequest(req, md, logger)
	job := JobContext{
		HandlerName:   req.Method,
		Kind:          HandlerKindMethod,
		Caller:        req.ServiceCallback,
		Topic:         topic,
		MessageUUID:   messageUUID,
		CorrelationID: req.ID,
		Metadata:      md,
		Context:       ctx,
	}

	var result any
	err = s.hooks.run(job, func() error {
		return s.observe(HandlerKindMethod, req.Method, req.ServiceCallback, messageUUID, func() error {
			var err error
			result, err = invokeMethod(ctx, h, request)
			return err
		})
	})
	if err != nil {
		logger.Error("Method handler failed", err, nil)
		s.sendErrorCallback(ctx, sch, req, err)
		s.metrics.RecordInbound(InboundRequest, OutcomeFailed)
		return
	}
	s.metrics.RecordInbound(InboundRequest, OutcomeOK)
	if result == nil {
		return
	}
	s.sendCallback(ctx, sch, req, true, result)
}

func invokeMethod(ctx context.Context, h handlerpkg.MethodHandler, req *handlerpkg.Request) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = apierrors.HandlerFailed(req.Method, fmt.Errorf("panic: %v", r))
		}
	}()
	out, err = h.HandleMethod(ctx, req)
	if err != nil && apierrors.KindOf(err) == apierrors.KindUnknown {
		err = apierrors.HandlerFailed(req.Method, err)
	}
	return out, err
}

func invokeCallback(ctx context.Context, h handlerpkg.CallbackHandler, cb *handlerpkg.Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apierrors.HandlerFailed(cb.Method, fmt.Errorf("panic: %v", r))
		}
	}()
	return h.HandleCallback(ctx, cb)
}

func (s *Service) sendErrorCallback(ctx context.Context, sch *schemapkg.Schema, req envelope.Envelope, cause error) {
	s.sendCallback(ctx, sch, req, false, map[string]any{"error": cause.Error()})
}

// sendCallback answers req on the caller's queue.
func (s *Service) sendCallback(ctx context.Context, sch *schemapkg.Schema, req envelope.Envelope, result bool, response any) {
	fields := loggingpkg.LogFields{
		"correlation_id": req.ID,
		"to":             req.ServiceCallback,
		"callback":       req.MethodCallback,
	}
	cb, err := envelope.NewCallback(req.ID, s.Conf.ServiceName, req.MethodCallback, result, response)
	if err != nil {
		s.Logger.Error("Failed to build callback", err, fields)
		return
	}
	callerCfg, err := amqpOf(sch, req.ServiceCallback)
	if err != nil {
		s.Logger.Error("Cannot route callback", err, fields)
		return
	}
	payload, err := cb.Marshal()
	if err != nil {
		s.Logger.Error("Failed to encode callback", err, fields)
		return
	}
	md := metadatapkg.ForCallback(cb.ID, req.ID, s.Conf.ServiceName, req.MethodCallback)
	if err := s.publish(ctx, queueTopic(callerCfg), payload, md); err != nil {
		s.Logger.Error("Failed to publish callback", err, fields)
	}
}
