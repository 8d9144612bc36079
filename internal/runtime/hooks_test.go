package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
)

func TestJobHooksMergeOrder(t *testing.T) {
	var order []string
	a := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "a-start") },
		OnJobDone:  func(JobContext) { order = append(order, "a-done") },
	}
	b := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "b-start") },
		OnJobError: func(JobContext, error) { order = append(order, "b-error") },
	}
	merged := a.Merge(b)

	require.NoError(t, merged.run(JobContext{}, func() error { return nil }))
	require.ErrorIs(t, merged.run(JobContext{}, func() error { return errBoom }), errBoom)

	assert.Equal(t, []string{"a-start", "b-start", "a-done", "a-start", "b-start", "b-error"}, order)
}

func TestJobHooksRunSetsTiming(t *testing.T) {
	var done JobContext
	hooks := JobHooks{OnJobDone: func(ctx JobContext) { done = ctx }}
	require.NoError(t, hooks.run(JobContext{HandlerName: "process"}, func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}))
	assert.Equal(t, "process", done.HandlerName)
	assert.False(t, done.StartedAt.IsZero())
	assert.GreaterOrEqual(t, done.Duration, 5*time.Millisecond)
}

func TestServiceHooksSeeInboundJobs(t *testing.T) {
	var (
		mu     sync.Mutex
		starts []JobContext
		errs   []error
	)
	hooks := JobHooks{
		OnJobStart: func(ctx JobContext) {
			mu.Lock()
			starts = append(starts, ctx)
			mu.Unlock()
		},
		OnJobError: func(_ JobContext, err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	}

	n := newTestNet(t, testSchema(nil))
	worker := n.serviceWith("Worker", func(d *ServiceDependencies) { d.Hooks = hooks })
	require.NoError(t, worker.RegisterMethod("fail", handlerpkg.MethodHandlerFunc(func(context.Context, *handlerpkg.Request) (any, error) {
		return nil, errBoom
	})))
	n.listen(worker)
	client := n.service("Client")

	_, err := client.Call(n.ctx, "Worker", "fail", nil, SendOptions{})
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 1)
	assert.Equal(t, "fail", starts[0].HandlerName)
	assert.Equal(t, HandlerKindMethod, starts[0].Kind)
	assert.Equal(t, "Client", starts[0].Caller)
	assert.NotEmpty(t, starts[0].CorrelationID)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], errBoom)
}

func TestJobHooksMiddleware(t *testing.T) {
	var got JobContext
	mw := jobHooksMiddleware(JobHooks{OnJobDone: func(ctx JobContext) { got = ctx }})

	msg := message.NewMessage("uuid-1", nil)
	msg.Metadata.Set("correlation_id", "corr-1")
	_, err := mw(func(*message.Message) ([]*message.Message, error) { return nil, nil })(msg)
	require.NoError(t, err)

	assert.Equal(t, "ingress", got.Kind)
	assert.Equal(t, "uuid-1", got.MessageUUID)
	assert.Equal(t, "corr-1", got.CorrelationID)
}

func TestLoggingHooks(t *testing.T) {
	rec := loggingpkg.NewRecordingLogger()
	hooks := LoggingHooks(rec)

	_ = hooks.run(JobContext{HandlerName: "ok"}, func() error { return nil })
	_ = hooks.run(JobContext{HandlerName: "bad"}, func() error { return errBoom })

	assert.True(t, rec.Contains("debug", "Job started"))
	assert.True(t, rec.Contains("info", "Job completed"))
	assert.True(t, rec.Contains("error", "Job failed"))
}

func TestMetricsAndAlertingHooks(t *testing.T) {
	counts := map[string]int{}
	metrics := MetricsHooks(
		func(name, kind string) { counts["start:"+name+":"+kind]++ },
		func(name, kind string) { counts["done:"+name]++ },
		func(name, kind string) { counts["error:"+name]++ },
	)
	var alerted error
	hooks := metrics.Merge(AlertingHooks(func(_ JobContext, err error) { alerted = err }))

	_ = hooks.run(JobContext{HandlerName: "a", Kind: HandlerKindMethod}, func() error { return nil })
	_ = hooks.run(JobContext{HandlerName: "b", Kind: HandlerKindCallback}, func() error { return errBoom })

	assert.Equal(t, map[string]int{
		"start:a:method":   1,
		"done:a":           1,
		"start:b:callback": 1,
		"error:b":          1,
	}, counts)
	assert.ErrorIs(t, alerted, errBoom)
}
