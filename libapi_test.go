package apibridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/apibridge/transport/channel"
)

type greeting struct {
	Name string `json:"name"`
}

func quietLogger() ServiceLogger {
	return NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func greeterSchema() *Schema {
	b := NewSchemaBuilder()
	b.Service("Caller").
		AddSection(ProtocolAMQP, ProtocolConfig{"exchange": "apibridge", "queue": "Caller_q"})
	b.Service("Caller").Open("Greeter")
	b.Service("Greeter").
		AddSection(ProtocolAMQP, ProtocolConfig{"exchange": "apibridge", "queue": "Greeter_q"}).
		AddMethod(DirectionWrite, "greet", Param("name", TypeStr, 16, true))
	return b.Build()
}

func newFacadeService(t *testing.T, ctx context.Context, name string, tr Transport) *Service {
	t.Helper()
	svc, err := TryNewService(&Config{
		ServiceName:     name,
		PubSubSystem:    "channel",
		RPCTimeout:      2 * time.Second,
		RPCPollInterval: 5 * time.Millisecond,
	}, quietLogger(), ctx, ServiceDependencies{
		SchemaProvider:            NewStaticSchemaProvider(greeterSchema()),
		TransportFactory:          StaticTransport(tr),
		DisableDefaultMiddlewares: true,
		MetricsRegisterer:         prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestFacadeCallRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	shared := channel.Shared(nil)
	tr := Transport{Publisher: shared.Publisher, Subscriber: shared.Subscriber}

	greeter := newFacadeService(t, ctx, "Greeter", tr)
	require.NoError(t, RegisterJSONMethod(greeter, "greet", func(ctx context.Context, req *Request, in *greeting) (map[string]string, error) {
		return map[string]string{"text": "hello " + in.Name}, nil
	}))
	go func() { _ = greeter.Listen(ctx) }()
	require.Eventually(t, greeter.Listening, time.Second, 5*time.Millisecond)

	caller := newFacadeService(t, ctx, "Caller", tr)
	reply, err := caller.Call(ctx, "Greeter", "greet", map[string]any{"name": "ada"}, SendOptions{})
	require.NoError(t, err)
	assert.True(t, reply.Result)
	assert.Equal(t, map[string]any{"text": "hello ada"}, reply.Response)

	_, err = caller.Call(ctx, "Greeter", "greet", map[string]any{"name": 7}, SendOptions{})
	assert.ErrorIs(t, err, ErrWrongTypeParam)
	assert.Equal(t, KindWrongType, KindOf(err))

	var structured *Error
	require.True(t, errors.As(err, &structured))
	assert.Equal(t, "name", structured.Param)
}

func TestFacadeRegistrationGuards(t *testing.T) {
	assert.ErrorIs(t, RegisterJSONMethod[*greeting, *greeting](nil, "greet", nil), ErrServiceRequired)
	assert.ErrorIs(t, RegisterJSONCallback[*greeting](nil, "greeted", nil), ErrServiceRequired)
	assert.ErrorIs(t, RegisterProtoMethod[*structpb.Struct, *structpb.Struct](nil, "greet", nil), ErrServiceRequired)
}

func TestFacadeEnvelopeIDIsStable(t *testing.T) {
	a, err := NewEnvelope("Caller", "greet", "greeted", map[string]any{"name": "ada"}, nil)
	require.NoError(t, err)
	b, err := NewEnvelope("Caller", "greet", "greeted", map[string]any{"name": "ada"}, map[string]any{"trace": 1})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestFacadeStaticProviderWithoutSchema(t *testing.T) {
	_, err := NewStaticSchemaProvider(nil).GetSchema(context.Background())
	assert.Error(t, err)

	cached := NewCachingSchemaProvider(NewStaticSchemaProvider(greeterSchema()))
	first, err := cached.GetSchema(context.Background())
	require.NoError(t, err)
	second, err := cached.GetSchema(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestFacadeMemoryStore(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotCorrelated)
}

func TestFacadeConstants(t *testing.T) {
	assert.Equal(t, "AMQP", string(ProtocolAMQP))
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, ErrorCategory("validation"), ErrorCategoryValidation)
	assert.Equal(t, "channel", GetCapabilities("channel").Name)
	md := NewMetadata(MetadataKeyCorrelationID, "c-1")
	assert.Equal(t, "c-1", md[MetadataKeyCorrelationID])
}
