package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
)

type processParams struct {
	Text string `json:"text"`
}

type processResult struct {
	Echo string `json:"echo"`
}

func TestRegisterMethodValidation(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	svc := n.service("Worker")
	noop := handlerpkg.MethodHandlerFunc(func(context.Context, *handlerpkg.Request) (any, error) { return nil, nil })

	assert.ErrorIs(t, svc.RegisterMethod(" ", noop), apierrors.ErrMethodNameRequired)
	assert.ErrorIs(t, svc.RegisterMethod("process", nil), apierrors.ErrHandlerRequired)
	assert.ErrorIs(t, svc.RegisterCallback("", handlerpkg.CallbackHandlerFunc(func(context.Context, *handlerpkg.Callback) error { return nil })), apierrors.ErrMethodNameRequired)
	assert.ErrorIs(t, svc.RegisterCallback("done", nil), apierrors.ErrHandlerRequired)
	assert.ErrorIs(t, RegisterJSONMethod[*processParams, *processResult](nil, "process", nil), apierrors.ErrServiceRequired)
}

func TestRegisterMethodReplacesHandler(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	worker := n.service("Worker")
	for _, answer := range []string{"first", "second"} {
		require.NoError(t, worker.RegisterMethod("process", handlerpkg.MethodHandlerFunc(func(context.Context, *handlerpkg.Request) (any, error) {
			return answer, nil
		})))
	}
	n.listen(worker)
	client := n.service("Client")

	reply, err := client.Call(n.ctx, "Worker", "process", map[string]any{"text": "x"}, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "second", reply.Response)
	assert.Len(t, worker.Handlers(), 1)
}

func TestHandlersSortedMethodsFirst(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	svc := n.service("Worker")
	noopMethod := handlerpkg.MethodHandlerFunc(func(context.Context, *handlerpkg.Request) (any, error) { return nil, nil })
	noopCallback := handlerpkg.CallbackHandlerFunc(func(context.Context, *handlerpkg.Callback) error { return nil })

	require.NoError(t, svc.RegisterCallback("a_done", noopCallback))
	require.NoError(t, svc.RegisterMethod("silent", noopMethod))
	require.NoError(t, svc.RegisterMethod("fail", noopMethod))

	var got []string
	for _, info := range svc.Handlers() {
		got = append(got, info.Kind+":"+info.Name)
	}
	assert.Equal(t, []string{"method:fail", "method:silent", "callback:a_done"}, got)

	_, ok := svc.HandlerInfo(HandlerKindCallback, "missing")
	assert.False(t, ok)
}

func TestJSONHandlersRoundTrip(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	worker := n.service("Worker")
	require.NoError(t, RegisterJSONMethod(worker, "process", func(ctx context.Context, req *handlerpkg.Request, params *processParams) (*processResult, error) {
		return &processResult{Echo: params.Text}, nil
	}))
	n.listen(worker)

	client := n.service("Client")
	results := make(chan *processResult, 1)
	require.NoError(t, RegisterJSONCallback(client, "processed", func(ctx context.Context, cb *handlerpkg.Callback, res *processResult) error {
		results <- res
		return nil
	}))
	n.listen(client)

	_, err := client.Send(n.ctx, "Worker", "process", map[string]any{"text": "typed"}, SendOptions{CallbackMethod: "processed"})
	require.NoError(t, err)

	select {
	case res := <-results:
		assert.Equal(t, "typed", res.Echo)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestProtoMethodRoundTrip(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	worker := n.service("Worker")
	require.NoError(t, RegisterProtoMethod(worker, "process", func(ctx context.Context, req *handlerpkg.Request, params *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"echo": params.Fields["text"].GetStringValue()})
	}))
	n.listen(worker)
	client := n.service("Client")

	reply, err := client.Call(n.ctx, "Worker", "process", map[string]any{"text": "proto"}, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "proto"}, reply.Response)
}
