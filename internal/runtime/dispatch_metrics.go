package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded by DispatchMetrics.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeDropped   = "dropped"
	OutcomeDuplicate = "duplicate"
)

// ProtocolUnresolved labels calls rejected before a method was resolved.
const ProtocolUnresolved = "unresolved"

// Inbound kinds.
const (
	InboundRequest  = "request"
	InboundCallback = "callback"
	InboundReply    = "reply"
	InboundInvalid  = "invalid"
)

// DispatchMetrics counts outbound calls and inbound messages of a Service.
type DispatchMetrics struct {
	mu sync.RWMutex

	dispatchCounts map[string]map[string]uint64
	inboundCounts  map[string]map[string]uint64

	dispatchTotal *prometheus.CounterVec
	inboundTotal  *prometheus.CounterVec
	rpcWait       prometheus.Histogram
	pending       prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// DispatchMetricsSnapshot is a point-in-time copy of the counters.
type DispatchMetricsSnapshot struct {
	Dispatch    map[string]map[string]uint64 `json:"dispatch"`
	Inbound     map[string]map[string]uint64 `json:"inbound"`
	CollectedAt time.Time                    `json:"collected_at"`
}

func newDispatchCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apibridge",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewDispatchMetrics creates the collectors. Nothing is exported until Register is called.
func NewDispatchMetrics(registerer prometheus.Registerer) *DispatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DispatchMetrics{
		dispatchCounts: make(map[string]map[string]uint64),
		inboundCounts:  make(map[string]map[string]uint64),
		registerer:     registerer,
		dispatchTotal:  newDispatchCounterVec("dispatch_calls_total", "Outbound method calls by protocol and outcome", []string{"protocol", "outcome"}),
		inboundTotal:   newDispatchCounterVec("inbound_messages_total", "Inbound broker messages by kind and outcome", []string{"kind", "outcome"}),
		rpcWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apibridge",
			Name:      "rpc_wait_seconds",
			Help:      "Time an RPC caller waited for its callback",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3, 10, 30},
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apibridge",
			Name:      "pending_correlations",
			Help:      "Correlation ids with a blocked RPC caller",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *DispatchMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.dispatchTotal,
		m.inboundTotal,
		m.rpcWait,
		m.pending,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordDispatch counts one outbound call. protocol is empty when the call
// was rejected before a method was resolved.
func (m *DispatchMetrics) RecordDispatch(protocol, outcome string) {
	protocol = protocolLabel(protocol)
	m.mu.Lock()
	increment(m.dispatchCounts, protocol, outcome)
	m.mu.Unlock()

	m.dispatchTotal.WithLabelValues(protocol, outcome).Inc()
}

// RecordInbound counts one consumed message.
func (m *DispatchMetrics) RecordInbound(kind, outcome string) {
	m.mu.Lock()
	increment(m.inboundCounts, kind, outcome)
	m.mu.Unlock()

	m.inboundTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRPCWait records how long an RPC caller blocked.
func (m *DispatchMetrics) ObserveRPCWait(d time.Duration) {
	m.rpcWait.Observe(d.Seconds())
}

// SetPending publishes the number of awaited correlation ids.
func (m *DispatchMetrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

// Dispatched returns the count for one protocol and outcome. An empty
// protocol reads the calls rejected before resolution.
func (m *DispatchMetrics) Dispatched(protocol, outcome string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dispatchCounts[protocolLabel(protocol)][outcome]
}

func protocolLabel(protocol string) string {
	if protocol == "" {
		return ProtocolUnresolved
	}
	return protocol
}

// Inbound returns the count for one kind and outcome.
func (m *DispatchMetrics) Inbound(kind, outcome string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inboundCounts[kind][outcome]
}

// GetSnapshot returns a copy of every counter.
func (m *DispatchMetrics) GetSnapshot() DispatchMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return DispatchMetricsSnapshot{
		Dispatch:    copyCounts(m.dispatchCounts),
		Inbound:     copyCounts(m.inboundCounts),
		CollectedAt: time.Now(),
	}
}

// Reset clears every counter (useful for testing).
func (m *DispatchMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dispatchCounts = make(map[string]map[string]uint64)
	m.inboundCounts = make(map[string]map[string]uint64)
	m.dispatchTotal.Reset()
	m.inboundTotal.Reset()
	m.pending.Set(0)
}

func increment(counts map[string]map[string]uint64, label, outcome string) {
	byOutcome, ok := counts[label]
	if !ok {
		byOutcome = make(map[string]uint64)
		counts[label] = byOutcome
	}
	byOutcome[outcome]++
}

func copyCounts(src map[string]map[string]uint64) map[string]map[string]uint64 {
	out := make(map[string]map[string]uint64, len(src))
	for label, byOutcome := range src {
		inner := make(map[string]uint64, len(byOutcome))
		for outcome, n := range byOutcome {
			inner[outcome] = n
		}
		out[label] = inner
	}
	return out
}
