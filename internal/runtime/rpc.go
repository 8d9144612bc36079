package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/apibridge/internal/runtime/correlation"
	"github.com/drblury/apibridge/internal/runtime/envelope"
	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	schemapkg "github.com/drblury/apibridge/internal/runtime/schema"
)

// replyListener is the consumer loop spawned for RPC callers while the
// inbound loop is not running. It is shared by concurrent callers and
// stopped when the last one releases it, unless Listen took it over.
type replyListener struct {
	mu     sync.Mutex
	refs   int
	cancel context.CancelFunc
	done   chan struct{}
}

// acquireReplyListener makes sure a consumer reads the own queue and returns
// the function that gives it back. The returned function cancels and joins
// the listener when no other caller holds it.
func (s *Service) acquireReplyListener(ctx context.Context) (func(), error) {
	s.reply.mu.Lock()
	defer s.reply.mu.Unlock()

	if s.listening.Load() {
		return func() {}, nil
	}
	if s.reply.cancel == nil {
		own, err := s.ownAMQP(ctx)
		if err != nil {
			return nil, err
		}
		topic := queueTopic(own)
		listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		messages, err := s.subscriber.Subscribe(listenCtx, topic)
		if err != nil {
			cancel()
			return nil, apierrors.Transport("subscribe", err)
		}
		done := make(chan struct{})
		s.startLoop(listenCtx, topic, messages, func() { close(done) })
		s.reply.cancel = cancel
		s.reply.done = done
		s.Logger.Debug("Started reply listener", loggingpkg.LogFields{"topic": topic})
	}
	s.reply.refs++

	var once sync.Once
	return func() { once.Do(s.releaseReplyListener) }, nil
}

func (s *Service) releaseReplyListener() {
	s.reply.mu.Lock()
	s.reply.refs--
	if s.reply.refs > 0 {
		s.reply.mu.Unlock()
		return
	}
	cancel, done := s.reply.cancel, s.reply.done
	s.reply.cancel, s.reply.done = nil, nil
	s.reply.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.Logger.Debug("Stopped reply listener", nil)
}

// adoptReplyListener hands a running reply listener over to the inbound
// loop, so the own queue never has two consumers. The loop then lives until
// ctx ends. Callers must hold s.reply.mu.
func (s *Service) adoptReplyListener(ctx context.Context) bool {
	if s.reply.cancel == nil {
		return false
	}
	cancel, done := s.reply.cancel, s.reply.done
	s.reply.cancel, s.reply.done = nil, nil

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
		<-done
		s.listening.Store(false)
	}()
	return true
}

// startLoop consumes messages sequentially until the channel closes.
func (s *Service) startLoop(ctx context.Context, topic string, messages <-chan *message.Message, onExit func()) {
	s.listeners.Add(1)
	s.loops.Add(1)
	go func() {
		defer func() {
			s.listeners.Add(-1)
			onExit()
			s.loops.Done()
		}()
		for msg := range messages {
			s.handleMessage(ctx, topic, msg)
		}
	}()
}

func (s *Service) rpcTimeout(desc *schemapkg.MethodDescriptor) time.Duration {
	if t := desc.Config.AMQP().Timeout; t > 0 {
		return t
	}
	return s.Conf.RPCTimeout
}

// rpc publishes the request and blocks until its callback is stored. Identical
// concurrent calls share the id: only the first one publishes and all of
// them receive the same callback.
func (s *Service) rpc(ctx context.Context, call *preparedCall) (*Reply, error) {
	protocol := string(schemapkg.ProtocolAMQP)
	id := call.env.ID

	release, err := s.acquireReplyListener(ctx)
	if err != nil {
		s.metrics.RecordDispatch(protocol, OutcomeFailed)
		return nil, err
	}
	defer release()

	first := s.pending.Register(id) == 1
	s.metrics.SetPending(s.pending.Len())
	defer func() {
		if s.pending.Release(id) {
			if err := s.store.Delete(context.WithoutCancel(ctx), id); err != nil {
				s.Logger.Error("Failed to delete correlation record", err, loggingpkg.LogFields{"correlation_id": id})
			}
		}
		s.metrics.SetPending(s.pending.Len())
	}()

	if first {
		if err := s.publishRequest(ctx, call); err != nil {
			s.metrics.RecordDispatch(protocol, OutcomeFailed)
			return nil, err
		}
	}

	timeout := s.rpcTimeout(call.desc)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	raw, err := correlation.Wait(waitCtx, s.store, id, s.Conf.RPCPollInterval)
	s.metrics.ObserveRPCWait(time.Since(started))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.metrics.RecordDispatch(protocol, OutcomeFailed)
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Info("RPC timed out", loggingpkg.LogFields{
				"target":         call.target,
				"method":         call.desc.Name,
				"correlation_id": id,
				"timeout":        timeout.String(),
			})
			s.metrics.RecordDispatch(protocol, OutcomeTimeout)
			return nil, apierrors.Timeout("rpc", id, timeout)
		}
		s.metrics.RecordDispatch(protocol, OutcomeFailed)
		return nil, apierrors.Transport("rpc wait", err)
	}

	in, err := envelope.Decode(raw)
	if err != nil || !in.IsCallback() {
		s.metrics.RecordDispatch(protocol, OutcomeFailed)
		if err == nil {
			err = errors.New("stored value is not a callback")
		}
		return nil, apierrors.Transport("rpc decode", err)
	}
	cb := in.Callback
	reply := &Reply{
		ID:       id,
		Protocol: schemapkg.ProtocolAMQP,
		Result:   cb.Message.Result,
		Response: cb.Message.Response,
		Body:     raw,
	}
	if !cb.Message.Result {
		s.metrics.RecordDispatch(protocol, OutcomeFailed)
		return reply, apierrors.HandlerFailed(call.desc.Name, errors.New(cb.ErrorText()))
	}
	s.metrics.RecordDispatch(protocol, OutcomeOK)
	return reply, nil
}
