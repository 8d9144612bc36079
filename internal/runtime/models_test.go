package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	idspkg "github.com/drblury/apibridge/internal/runtime/ids"
)

func TestHandlerStats_OnFinish(t *testing.T) {
	stats := newHandlerStats(nil)

	inv := stats.onStart("Client", "not-a-ulid")
	assert.EqualValues(t, 1, stats.Backlog.InFlight)
	stats.onFinish(inv, 10*time.Millisecond, nil, nil)

	inv = stats.onStart("Client", idspkg.CreateULID())
	stats.onFinish(inv, 30*time.Millisecond, apierrors.HandlerFailed("process", errBoom), nil)

	assert.EqualValues(t, 2, stats.MessagesProcessed)
	assert.EqualValues(t, 1, stats.MessagesFailed)
	assert.EqualValues(t, 0, stats.Backlog.InFlight)
	assert.EqualValues(t, 1, stats.Backlog.MaxInFlight)
	assert.GreaterOrEqual(t, stats.Backlog.EstimatedLagMillis, int64(0))
	assert.EqualValues(t, 2, stats.Callers["Client"])
	assert.EqualValues(t, 1, stats.Errors.Handler)
	assert.Contains(t, stats.Errors.LastError, "boom")
	assert.EqualValues(t, int64(20*time.Millisecond), stats.Latency.AverageNs)
	assert.EqualValues(t, 2, stats.Throughput.TotalMessages)
}

func TestHandlerStats_MarshalJSON(t *testing.T) {
	stats := newHandlerStats(newResourceTracker())
	stats.onFinish(stats.onStart("", ""), time.Millisecond, nil, nil)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 1, decoded["messages_processed"])
	assert.Contains(t, decoded, "latency")
	assert.Contains(t, decoded, "resource")
}

func TestDefaultErrorClassifier(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCategory
	}{
		{nil, ErrorCategoryNone},
		{context.DeadlineExceeded, ErrorCategoryTimeout},
		{apierrors.RequireParamNotSet("m", "p"), ErrorCategoryValidation},
		{apierrors.MethodNotFound("S", "m"), ErrorCategoryValidation},
		{apierrors.ServiceMethodNotAllowed("S", "m", "C"), ErrorCategoryUnauthorized},
		{apierrors.Transport("publish", errBoom), ErrorCategoryTransport},
		{apierrors.Timeout("rpc", "id", time.Second), ErrorCategoryTimeout},
		{apierrors.HandlerFailed("m", errBoom), ErrorCategoryHandler},
		{&RejectedEnvelopeError{Err: errBoom}, ErrorCategoryValidation},
		{fmt.Errorf("wrapped: %w", errBoom), ErrorCategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultErrorClassifier(tt.err), "%v", tt.err)
	}
}

func TestErrorBreakdown_Record(t *testing.T) {
	var b ErrorBreakdown
	b.Record(ErrorCategoryNone, nil)
	b.Record(ErrorCategoryNone, errBoom)
	b.Record(ErrorCategoryTimeout, errBoom)
	b.Record(ErrorCategory("custom"), errBoom)

	assert.EqualValues(t, 2, b.Other)
	assert.EqualValues(t, 1, b.Timeout)
	assert.Equal(t, "boom", b.LastError)
}

func TestLatencyWindowPercentiles(t *testing.T) {
	lw := newLatencyWindow(4)
	for _, ms := range []int{40, 10, 30, 20, 50} {
		lw.Add(time.Duration(ms) * time.Millisecond)
	}
	snap := lw.Snapshot()

	assert.Equal(t, 4, snap.SampleSize)
	assert.EqualValues(t, int64(50*time.Millisecond), snap.LastNs)
	assert.EqualValues(t, int64(27500*time.Microsecond), snap.AverageNs)
	assert.EqualValues(t, int64(25*time.Millisecond), snap.P50Ns)
}

func TestThroughputWindowDropsOldSamples(t *testing.T) {
	tw := newThroughputWindow(time.Second)
	start := time.Now()
	tw.AddAndSnapshot(start)
	tw.AddAndSnapshot(start.Add(500 * time.Millisecond))
	snap := tw.AddAndSnapshot(start.Add(1200 * time.Millisecond))

	assert.Equal(t, 2, snap.Count)
	assert.InDelta(t, 0.7, snap.WindowSeconds, 0.001)
}

func TestRejectedEnvelopeError(t *testing.T) {
	err := &RejectedEnvelopeError{Payload: "{}", Err: errBoom}
	assert.Equal(t, "rejected envelope: boom", err.Error())
	assert.ErrorIs(t, err, errBoom)
}
