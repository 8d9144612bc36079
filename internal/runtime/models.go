package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	"github.com/drblury/apibridge/internal/runtime/ids"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// Handler kinds listed by the introspection endpoint.
const (
	HandlerKindMethod   = "method"
	HandlerKindCallback = "callback"
)

// HandlerStats aggregates the invocations of one registered handler.
type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	MessagesProcessed   uint64            `json:"messages_processed"`
	MessagesFailed      uint64            `json:"messages_failed"`
	TotalProcessingTime int64             `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time         `json:"last_processed_at"`
	Latency             LatencyMetrics    `json:"latency"`
	Throughput          ThroughputMetrics `json:"throughput"`
	Errors              ErrorBreakdown    `json:"errors"`
	Resource            ResourceUsage     `json:"resource"`
	Backlog             BacklogMetrics    `json:"backlog"`
	// Callers counts invocations per calling (or responding) service.
	Callers map[string]uint64 `json:"callers"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
	resourceSampler  *resourceTracker  `json:"-"`
}

// HandlerInfo describes a registered method or callback handler.
type HandlerInfo struct {
	Name  string        `json:"name"`
	Kind  string        `json:"kind"`
	Queue string        `json:"queue"`
	Stats *HandlerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation   uint64 `json:"validation"`
	Unauthorized uint64 `json:"unauthorized"`
	Transport    uint64 `json:"transport"`
	Timeout      uint64 `json:"timeout"`
	Handler      uint64 `json:"handler"`
	Other        uint64 `json:"other"`
	LastError    string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

type BacklogMetrics struct {
	InFlight    uint64 `json:"in_flight"`
	MaxInFlight uint64 `json:"max_in_flight"`
	// EstimatedLagMillis is the age of the last message when it was picked
	// up, -1 when unknown.
	EstimatedLagMillis int64 `json:"estimated_lag_millis"`
}

type ErrorCategory string

const (
	ErrorCategoryNone         ErrorCategory = "none"
	ErrorCategoryValidation   ErrorCategory = "validation"
	ErrorCategoryUnauthorized ErrorCategory = "unauthorized"
	ErrorCategoryTransport    ErrorCategory = "transport"
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryHandler      ErrorCategory = "handler"
	ErrorCategoryOther        ErrorCategory = "other"
)

// ErrorClassifier buckets handler errors for HandlerStats.
type ErrorClassifier func(error) ErrorCategory

func newHandlerStats(sampler *resourceTracker) *HandlerStats {
	return &HandlerStats{
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		Backlog:          BacklogMetrics{EstimatedLagMillis: -1},
		Callers:          make(map[string]uint64),
	}
}

type handlerInvocation struct {
	caller  string
	lagMsec int64
}

// onStart marks an invocation as in flight. messageID is the broker
// message id; ULIDs yield the enqueue time.
func (h *HandlerStats) onStart(caller, messageID string) handlerInvocation {
	inv := handlerInvocation{caller: caller, lagMsec: -1}
	if at, err := ids.Time(messageID); err == nil {
		inv.lagMsec = max(time.Since(at).Milliseconds(), 0)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.Backlog.InFlight++
	if h.Backlog.InFlight > h.Backlog.MaxInFlight {
		h.Backlog.MaxInFlight = h.Backlog.InFlight
	}
	return inv
}

func (h *HandlerStats) onFinish(inv handlerInvocation, duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Backlog.InFlight > 0 {
		h.Backlog.InFlight--
	}
	if inv.lagMsec >= 0 {
		h.Backlog.EstimatedLagMillis = inv.lagMsec
	}
	if inv.caller != "" {
		if h.Callers == nil {
			h.Callers = make(map[string]uint64)
		}
		h.Callers[inv.caller]++
	}

	h.MessagesProcessed++
	if err != nil {
		h.MessagesFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = time.Now().UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)
		h.Latency = snapshot
	}

	if h.throughputWindow != nil {
		snapshot := h.throughputWindow.AddAndSnapshot(time.Now())
		h.Throughput.CurrentRPS = snapshot.CurrentRPS
		h.Throughput.WindowSeconds = snapshot.WindowSeconds
		h.Throughput.MessagesInWindow = uint64(snapshot.Count)
	}
	h.Throughput.TotalMessages = h.MessagesProcessed

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.Record(classifier(err), err)

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return json.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryUnauthorized:
		e.Unauthorized++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryTimeout:
		e.Timeout++
	case ErrorCategoryHandler:
		e.Handler++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var out LatencyMetrics
	if lw == nil {
		return out
	}
	out.LastNs = lw.last
	if lw.filled == 0 {
		return out
	}
	samples := make([]int64, 0, lw.filled)
	if lw.filled < len(lw.samples) {
		samples = append(samples, lw.samples[:lw.filled]...)
	} else {
		samples = append(samples, lw.samples...)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}
	out.SampleSize = len(samples)
	out.AverageNs = sum / int64(len(samples))
	out.P50Ns = percentile(samples, 0.50)
	out.P95Ns = percentile(samples, 0.95)
	out.P99Ns = percentile(samples, 0.99)
	return out
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	drop := sort.Search(len(tw.samples), func(i int) bool { return !tw.samples[i].Before(cutoff) })
	tw.samples = append(tw.samples[:0], tw.samples[drop:]...)

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	switch apierrors.KindOf(err) {
	case apierrors.KindValidation, apierrors.KindWrongType, apierrors.KindWrongSize,
		apierrors.KindRequiredMissing, apierrors.KindNotFound:
		return ErrorCategoryValidation
	case apierrors.KindUnauthorized:
		return ErrorCategoryUnauthorized
	case apierrors.KindTransport:
		return ErrorCategoryTransport
	case apierrors.KindTimeout:
		return ErrorCategoryTimeout
	case apierrors.KindHandler:
		return ErrorCategoryHandler
	}
	var rejected *RejectedEnvelopeError
	if errors.As(err, &rejected) {
		return ErrorCategoryValidation
	}
	return ErrorCategoryOther
}

// RejectedEnvelopeError marks an ingress envelope that can never be
// forwarded. It is not retried.
type RejectedEnvelopeError struct {
	Payload string
	Err     error
}

func (e *RejectedEnvelopeError) Error() string {
	return "rejected envelope: " + e.Err.Error()
}

func (e *RejectedEnvelopeError) Unwrap() error {
	return e.Err
}
