package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	configpkg "github.com/drblury/apibridge/internal/runtime/config"
	"github.com/drblury/apibridge/internal/runtime/correlation"
	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	schemapkg "github.com/drblury/apibridge/internal/runtime/schema"
	transportpkg "github.com/drblury/apibridge/internal/runtime/transport"
	brokers "github.com/drblury/apibridge/transport"
	ingresspkg "github.com/drblury/apibridge/transport/http"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators of a Service. Nil
// fields fall back to what the config describes.
type ServiceDependencies struct {
	// SchemaProvider defaults to an HTTP provider for Config.SchemaURL.
	SchemaProvider schemapkg.Provider
	// Store defaults to Redis when Config.RedisURL is set, in-memory otherwise.
	Store            correlation.Store
	TransportFactory transportpkg.Factory
	// HTTPClient is used for HTTP method calls.
	HTTPClient *http.Client

	Middlewares               []MiddlewareRegistration // Appended after the default ingress middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default ingress middleware chain when true.
	ErrorClassifier           ErrorClassifier
	// Hooks observe every inbound method and callback invocation.
	Hooks JobHooks
	// MetricsRegisterer defaults to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
}

// Service is one named participant of the shared schema. It owns its broker
// connection, correlation store and handler registries.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	ingress    *ingresspkg.Ingress

	schemas schemapkg.Provider
	store   correlation.Store
	pending *correlation.Pending
	caller  *transportpkg.HTTPCaller
	limiter *rate.Limiter
	metrics *DispatchMetrics
	hooks   JobHooks

	methods    map[string]handlerpkg.MethodHandler
	callbacks  map[string]handlerpkg.CallbackHandler
	registryMu sync.RWMutex

	handlers   []*HandlerInfo
	stats      map[string]*HandlerStats
	queueName  string
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker

	listening atomic.Bool
	listeners atomic.Int32
	loops     sync.WaitGroup
	reply     replyListener
	closed    atomic.Bool
}

// NewService constructs a Service for the supplied configuration and panics
// when it cannot be built. Register handlers before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService returning the construction error.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, apierrors.ErrConfigRequired
	}
	if log == nil {
		return nil, apierrors.ErrLoggerRequired
	}
	if strings.TrimSpace(conf.ServiceName) == "" {
		return nil, apierrors.ErrServiceNameRequired
	}
	cfg := *conf
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("apibridge: invalid config: %w", err)
	}

	log = log.With(loggingpkg.LogFields{"service": cfg.ServiceName})
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating exchange service", loggingpkg.LogFields{
		"pubsub_system": cfg.PubSubSystem,
		"config":        cfg.String(),
	})

	s := &Service{
		Conf:            &cfg,
		Logger:          log,
		pending:         correlation.NewPending(),
		methods:         make(map[string]handlerpkg.MethodHandler),
		callbacks:       make(map[string]handlerpkg.CallbackHandler),
		stats:           make(map[string]*HandlerStats),
		hooks:           deps.Hooks,
		errorClassifier: deps.ErrorClassifier,
		resourceTracker: newResourceTracker(),
		metrics:         NewDispatchMetrics(deps.MetricsRegisterer),
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	s.schemas = deps.SchemaProvider
	if s.schemas == nil {
		if cfg.SchemaURL == "" {
			return nil, apierrors.ErrSchemaRequired
		}
		s.schemas = &schemapkg.CachingProvider{
			Source: schemapkg.NewHTTPProvider(cfg.SchemaURL, cfg.SchemaUsername, cfg.SchemaPassword, cfg.HTTPClientTimeout),
		}
	}

	store, err := s.buildStore(ctx, deps.Store)
	if err != nil {
		return nil, err
	}
	s.store = store

	factory := deps.TransportFactory
	if factory == nil {
		if err := s.deriveBrokerURL(ctx); err != nil {
			return nil, err
		}
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, s.Conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("apibridge: build transport: %w", err)
	}
	if transport.Publisher == nil {
		return nil, apierrors.ErrPublisherRequired
	}
	if transport.Subscriber == nil {
		return nil, apierrors.ErrSubscriberRequired
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	s.caller = transportpkg.NewHTTPCaller(transportpkg.HTTPCallerOptions{
		Client:          deps.HTTPClient,
		Timeout:         cfg.HTTPClientTimeout,
		BreakerFailures: cfg.HTTPBreakerFailures,
		Logger:          log,
	})

	if cfg.PublishRatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.PublishRatePerSecond), max(cfg.PublishBurst, 1))
	}

	if cfg.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("apibridge: register metrics: %w", err)
		}
		if cfg.MetricsPort > 0 {
			s.RegisterHTTPHandler(cfg.MetricsPort, "/metrics", promhttp.Handler())
		}
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router
	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) buildStore(ctx context.Context, store correlation.Store) (correlation.Store, error) {
	if store != nil {
		return store, nil
	}
	if s.Conf.RedisURL != "" {
		rs, err := correlation.DialRedisStore(ctx, s.Conf.RedisURL, s.Conf.CorrelationTTL)
		if err != nil {
			return nil, fmt.Errorf("apibridge: correlation store: %w", err)
		}
		return rs, nil
	}
	return correlation.NewMemoryStore(s.Conf.CorrelationTTL), nil
}

// deriveBrokerURL fills RabbitMQURL from the own AMQP schema section when the
// config leaves it empty.
func (s *Service) deriveBrokerURL(ctx context.Context) error {
	system := brokers.Normalize(s.Conf.PubSubSystem)
	if system != "" && system != transportpkg.DefaultSystem {
		return nil
	}
	if s.Conf.RabbitMQURL != "" {
		return nil
	}
	own, err := s.ownAMQP(ctx)
	if err != nil {
		return fmt.Errorf("apibridge: derive broker url: %w", err)
	}
	s.Conf.RabbitMQURL = s.Conf.AMQPURLFor(own.Endpoint())
	return nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Schema returns the current schema snapshot.
func (s *Service) Schema(ctx context.Context) (*schemapkg.Schema, error) {
	sch, err := s.schemas.GetSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("apibridge: load schema: %w", err)
	}
	if sch == nil {
		return nil, apierrors.ErrSchemaRequired
	}
	return sch, nil
}

func (s *Service) ownAMQP(ctx context.Context) (schemapkg.AMQPConfig, error) {
	sch, err := s.Schema(ctx)
	if err != nil {
		return schemapkg.AMQPConfig{}, err
	}
	return amqpOf(sch, s.Conf.ServiceName)
}

func amqpOf(sch *schemapkg.Schema, service string) (schemapkg.AMQPConfig, error) {
	svc, ok := sch.Service(service)
	if !ok {
		return schemapkg.AMQPConfig{}, apierrors.ServiceNotFound(service)
	}
	sec, ok := svc.Section(schemapkg.ProtocolAMQP)
	if !ok {
		return schemapkg.AMQPConfig{}, fmt.Errorf("service %s has no AMQP section: %w", service, apierrors.ErrMethodNotFound)
	}
	return sec.Config.AMQP(), nil
}

// queueTopic is the broker topic a service consumes from.
func queueTopic(cfg schemapkg.AMQPConfig) string {
	return brokers.TopicFor(cfg.Exchange, cfg.Queue)
}

// Listen starts the inbound consumer loop on the service's own queue and
// returns once the subscription is in place. The loop stops with ctx.
func (s *Service) Listen(ctx context.Context) error {
	if s.closed.Load() {
		return apierrors.ErrServiceClosed
	}
	if err := s.CheckHandlers(ctx); err != nil {
		return err
	}
	own, err := s.ownAMQP(ctx)
	if err != nil {
		return err
	}

	s.reply.mu.Lock()
	defer s.reply.mu.Unlock()
	if !s.listening.CompareAndSwap(false, true) {
		return nil
	}

	topic := queueTopic(own)
	s.setQueue(topic)
	if s.adoptReplyListener(ctx) {
		s.Logger.Info("Listening for messages", loggingpkg.LogFields{"topic": topic, "adopted": true})
		return nil
	}
	messages, err := s.subscriber.Subscribe(ctx, topic)
	if err != nil {
		s.listening.Store(false)
		return apierrors.Transport("subscribe", err)
	}
	s.Logger.Info("Listening for messages", loggingpkg.LogFields{"topic": topic})

	s.startLoop(ctx, topic, messages, func() { s.listening.Store(false) })
	return nil
}

// Listening reports whether the inbound loop is running.
func (s *Service) Listening() bool {
	return s.listening.Load()
}

// ActiveListeners reports how many consumer loops are running, the inbound
// loop and any RPC reply listener included.
func (s *Service) ActiveListeners() int {
	return int(s.listeners.Load())
}

// Start listens, serves the HTTP ingress and auxiliary HTTP servers, and
// blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	s.StartWebUIServer()
	s.startHTTPServers(ctx)

	var runErr error
	if len(s.router.Handlers()) > 0 {
		runDone := make(chan error, 1)
		go func() { runDone <- routerRun(s.router, ctx) }()
		select {
		case <-s.router.Running():
			s.startIngress()
			runErr = <-runDone
		case runErr = <-runDone:
		}
	} else {
		<-ctx.Done()
	}

	s.loops.Wait()
	return runErr
}

func (s *Service) startIngress() {
	if s.ingress == nil {
		return
	}
	go func() {
		if err := s.ingress.Start(); err != nil {
			s.Logger.Error("HTTP ingress stopped", err, nil)
		}
	}()
}

// Close releases the broker connection and the correlation store. Running
// loops stop when their context ends.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := s.router.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if any(s.subscriber) != any(s.publisher) {
		if err := s.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}

// Metrics exposes the dispatch counters.
func (s *Service) Metrics() *DispatchMetrics {
	return s.metrics
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(ctx context.Context) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}
}
