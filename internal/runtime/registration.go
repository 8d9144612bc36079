package runtime

import (
	"context"
	"sort"
	"strings"
	"time"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
)

// RegisterMethod installs the handler invoked for inbound requests of
// method. Registering the same name again replaces the handler.
func (s *Service) RegisterMethod(name string, h handlerpkg.MethodHandler) error {
	if strings.TrimSpace(name) == "" {
		return apierrors.ErrMethodNameRequired
	}
	if h == nil {
		return apierrors.ErrHandlerRequired
	}
	s.registryMu.Lock()
	s.methods[name] = h
	s.registryMu.Unlock()

	s.trackHandler(HandlerKindMethod, name)
	return nil
}

// RegisterCallback installs the handler invoked for callbacks naming
// method. Registering the same name again replaces the handler.
func (s *Service) RegisterCallback(name string, h handlerpkg.CallbackHandler) error {
	if strings.TrimSpace(name) == "" {
		return apierrors.ErrMethodNameRequired
	}
	if h == nil {
		return apierrors.ErrHandlerRequired
	}
	s.registryMu.Lock()
	s.callbacks[name] = h
	s.registryMu.Unlock()

	s.trackHandler(HandlerKindCallback, name)
	return nil
}

func (s *Service) methodHandler(name string) (handlerpkg.MethodHandler, bool) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	h, ok := s.methods[name]
	return h, ok
}

func (s *Service) callbackHandler(name string) (handlerpkg.CallbackHandler, bool) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	h, ok := s.callbacks[name]
	return h, ok
}

// CheckHandlers fails with ErrMethodNotSet for the first AMQP method of the
// own schema entry that has no handler. It only runs when
// Config.StrictHandlers is set.
func (s *Service) CheckHandlers(ctx context.Context) error {
	if !s.Conf.StrictHandlers {
		return nil
	}
	sch, err := s.Schema(ctx)
	if err != nil {
		return err
	}
	svc, ok := sch.Service(s.Conf.ServiceName)
	if !ok {
		return apierrors.ServiceNotFound(s.Conf.ServiceName)
	}
	for _, name := range svc.AMQPMethods() {
		if _, ok := s.methodHandler(name); !ok {
			return apierrors.MethodNotSet(s.Conf.ServiceName, name)
		}
	}
	return nil
}

func statsKey(kind, name string) string {
	return kind + ":" + name
}

func (s *Service) trackHandler(kind, name string) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	key := statsKey(kind, name)
	if _, ok := s.stats[key]; ok {
		return
	}
	stats := newHandlerStats(s.getResourceTracker())
	s.stats[key] = stats
	s.handlers = append(s.handlers, &HandlerInfo{
		Name:  name,
		Kind:  kind,
		Queue: s.queueName,
		Stats: stats,
	})
}

func (s *Service) setQueue(topic string) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.queueName = topic
	for _, info := range s.handlers {
		info.Queue = topic
	}
}

// observe runs fn under the stats of the named handler.
func (s *Service) observe(kind, name, caller, messageID string, fn func() error) error {
	s.handlersMu.RLock()
	stats := s.stats[statsKey(kind, name)]
	s.handlersMu.RUnlock()
	if stats == nil {
		return fn()
	}

	inv := stats.onStart(caller, messageID)
	start := time.Now()
	err := fn()
	stats.onFinish(inv, time.Since(start), err, s.getErrorClassifier())
	return err
}

// Handlers returns the registered handlers sorted by kind and name.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	out := append([]*HandlerInfo(nil), s.handlers...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind > out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// HandlerInfo returns the entry of a registered handler.
func (s *Service) HandlerInfo(kind, name string) (*HandlerInfo, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	for _, info := range s.handlers {
		if info.Kind == kind && info.Name == name {
			return info, true
		}
	}
	return nil, false
}
