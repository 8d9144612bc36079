package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/apibridge/internal/runtime/config"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	schemapkg "github.com/drblury/apibridge/internal/runtime/schema"
	transportpkg "github.com/drblury/apibridge/internal/runtime/transport"
	"github.com/drblury/apibridge/transport/channel"
)

const testExchange = "apibridge"

var errBoom = errors.New("boom")

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func amqpSection(queue string) schemapkg.ProtocolConfig {
	return schemapkg.ProtocolConfig{"exchange": testExchange, "queue": queue}
}

// httpSection points an HTTP schema section at srv with endpoint /api/.
func httpSection(t *testing.T, srv *httptest.Server) schemapkg.ProtocolConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return schemapkg.ProtocolConfig{
		"address":  host,
		"port":     port,
		"endpoint": "/api/",
		"type":     "POST",
		"format":   "json",
	}
}

// testSchema describes a Client calling a Worker over the broker and a Web
// service over HTTP. Mallory may not call Worker.process.
func testSchema(web schemapkg.ProtocolConfig) *schemapkg.Schema {
	b := schemapkg.NewBuilder()

	client := b.Service("Client")
	client.AddSection(schemapkg.ProtocolAMQP, amqpSection("Client_q")).
		AddMethod(schemapkg.DirectionWrite, "notify")
	client.Open("Worker").Open("Web")

	worker := b.Service("Worker")
	worker.AddSection(schemapkg.ProtocolAMQP, amqpSection("Worker_q")).
		AddMethod(schemapkg.DirectionWrite, "process", schemapkg.Param("text", schemapkg.TypeStr, 32, true)).
		AddMethod(schemapkg.DirectionWrite, "fail").
		AddMethod(schemapkg.DirectionWrite, "explode").
		AddMethod(schemapkg.DirectionWrite, "silent").
		AddMethod(schemapkg.DirectionWrite, "recheck").
		AddMethod(schemapkg.DirectionRead, "count", schemapkg.Param("limit", schemapkg.TypeInt, 3, false))
	worker.Open("Client")

	mallory := b.Service("Mallory")
	mallory.AddSection(schemapkg.ProtocolAMQP, amqpSection("Mallory_q"))
	mallory.Deny("Worker", "process")

	if web != nil {
		w := b.Service("Web")
		w.AddSection(schemapkg.ProtocolHTTP, web).
			AddMethod(schemapkg.DirectionRead, "getApiStruct").
			AddMethod(schemapkg.DirectionWrite, "publish", schemapkg.Param("title", schemapkg.TypeStr, nil, true))
	}
	return b.Build()
}

// testNet is a set of services sharing one in-process broker and schema.
type testNet struct {
	t         *testing.T
	ctx       context.Context
	schema    *schemapkg.Schema
	transport transportpkg.Transport
}

func newTestNet(t *testing.T, sch *schemapkg.Schema) *testNet {
	t.Helper()
	shared := channel.Shared(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = shared.Publisher.Close()
	})
	return &testNet{
		t:      t,
		ctx:    ctx,
		schema: sch,
		transport: transportpkg.Transport{
			Publisher:  shared.Publisher,
			Subscriber: shared.Subscriber,
		},
	}
}

func (n *testNet) service(name string, mutate ...func(*configpkg.Config)) *Service {
	n.t.Helper()
	return n.serviceWith(name, nil, mutate...)
}

// serviceWith lets a test swap dependencies such as the correlation store.
func (n *testNet) serviceWith(name string, deps func(*ServiceDependencies), mutate ...func(*configpkg.Config)) *Service {
	n.t.Helper()
	cfg := &configpkg.Config{
		ServiceName:     name,
		PubSubSystem:    "channel",
		RPCTimeout:      2 * time.Second,
		RPCPollInterval: 5 * time.Millisecond,
	}
	for _, m := range mutate {
		m(cfg)
	}
	d := ServiceDependencies{
		SchemaProvider:            schemapkg.StaticProvider{Schema: n.schema},
		TransportFactory:          transportpkg.Static(n.transport),
		DisableDefaultMiddlewares: true,
		MetricsRegisterer:         prometheus.NewRegistry(),
	}
	if deps != nil {
		deps(&d)
	}
	svc, err := TryNewService(cfg, newTestLogger(), n.ctx, d)
	require.NoError(n.t, err)
	return svc
}

func (n *testNet) listen(svc *Service) {
	n.t.Helper()
	require.NoError(n.t, svc.Listen(n.ctx))
}

// workerService registers the Worker methods used across the scenarios.
func (n *testNet) workerService() (*Service, *invocations) {
	n.t.Helper()
	svc := n.service("Worker")
	calls := &invocations{}
	register := func(name string, fn handlerpkg.MethodHandlerFunc) {
		require.NoError(n.t, svc.RegisterMethod(name, handlerpkg.MethodHandlerFunc(func(ctx context.Context, req *handlerpkg.Request) (any, error) {
			calls.add(req)
			return fn(ctx, req)
		})))
	}
	register("process", func(ctx context.Context, req *handlerpkg.Request) (any, error) {
		text, _ := req.Param("text")
		return map[string]any{"echo": text}, nil
	})
	register("fail", func(context.Context, *handlerpkg.Request) (any, error) {
		return nil, errBoom
	})
	register("explode", func(context.Context, *handlerpkg.Request) (any, error) {
		panic("kaboom")
	})
	register("silent", func(context.Context, *handlerpkg.Request) (any, error) {
		return nil, nil
	})
	return svc, calls
}

type invocations struct {
	mu       sync.Mutex
	requests []*handlerpkg.Request
}

func (i *invocations) add(req *handlerpkg.Request) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.requests = append(i.requests, req)
}

func (i *invocations) count(method string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, r := range i.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (i *invocations) all() []*handlerpkg.Request {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*handlerpkg.Request(nil), i.requests...)
}

// callbackSink collects callbacks delivered to a registered callback handler.
type callbackSink struct {
	ch chan *handlerpkg.Callback
}

func newCallbackSink(t *testing.T, svc *Service, name string) *callbackSink {
	t.Helper()
	sink := &callbackSink{ch: make(chan *handlerpkg.Callback, 16)}
	require.NoError(t, svc.RegisterCallback(name, handlerpkg.CallbackHandlerFunc(func(_ context.Context, cb *handlerpkg.Callback) error {
		sink.ch <- cb
		return nil
	})))
	return sink
}

func (s *callbackSink) next(t *testing.T) *handlerpkg.Callback {
	t.Helper()
	select {
	case cb := <-s.ch:
		return cb
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}
