package observability

import (
	"sync"
	"time"
)

// StepSnapshot reports one guarded step (payment charge, refund, erp
// update, saga handlers).
type StepSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	Replays       int64   `json:"replays"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

// Snapshot is the JSON document served on /metrics.
type Snapshot struct {
	UptimeSec        int64                   `json:"uptime_sec"`
	TotalSteps       int64                   `json:"total_steps"`
	TotalErrors      int64                   `json:"total_errors"`
	InFlight         int64                   `json:"in_flight"`
	RetryExhaustions int64                   `json:"retry_exhaustions"`
	Compensations    int64                   `json:"compensations"`
	BreakerOpens     map[string]int64        `json:"breaker_opens,omitempty"`
	EventsConsumed   map[string]int64        `json:"events_consumed,omitempty"`
	DeadLettered     map[string]int64        `json:"dead_lettered,omitempty"`
	Statuses         map[string]int64        `json:"statuses,omitempty"`
	Steps            map[string]StepSnapshot `json:"steps"`
}

type stepStats struct {
	count        int64
	errors       int64
	inFlight     int64
	replays      int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

// Metrics accumulates saga counters. All methods are safe on a nil
// receiver so wiring stays optional.
type Metrics struct {
	mu               sync.Mutex
	start            time.Time
	steps            map[string]*stepStats
	retryExhaustions int64
	compensations    int64
	breakerOpens     map[string]int64
	eventsConsumed   map[string]int64
	deadLettered     map[string]int64
	statuses         map[string]int64
}

// NewMetrics constructs an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		start:          time.Now(),
		steps:          make(map[string]*stepStats),
		breakerOpens:   make(map[string]int64),
		eventsConsumed: make(map[string]int64),
		deadLettered:   make(map[string]int64),
		statuses:       make(map[string]int64),
	}
}

// StepSpan tracks one in-flight step execution.
type StepSpan struct {
	metrics *Metrics
	step    string
	start   time.Time
}

// StartStep opens a span for the named step.
func (m *Metrics) StartStep(step string) *StepSpan {
	if m == nil {
		return &StepSpan{}
	}
	m.mu.Lock()
	m.ensureStep(step).inFlight++
	m.mu.Unlock()
	return &StepSpan{
		metrics: m,
		step:    step,
		start:   time.Now(),
	}
}

// End closes the span, recording latency and the error outcome.
func (s *StepSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.finish(s.step, time.Since(s.start), err != nil)
}

// StepReplayed counts a duplicate delivery absorbed by the idempotency
// check.
func (m *Metrics) StepReplayed(step string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ensureStep(step).replays++
	m.mu.Unlock()
}

// RetryExhausted counts a guarded operation that gave up and escalated.
func (m *Metrics) RetryExhausted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.retryExhaustions++
	m.mu.Unlock()
}

// CompensationRequested counts an emitted compensation trigger.
func (m *Metrics) CompensationRequested() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.compensations++
	m.mu.Unlock()
}

// BreakerOpened counts a circuit breaker trip for the named dependency.
func (m *Metrics) BreakerOpened(dependency string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.breakerOpens[dependency]++
	m.mu.Unlock()
}

// EventConsumed counts a delivery on the named topic.
func (m *Metrics) EventConsumed(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.eventsConsumed[topic]++
	m.mu.Unlock()
}

// DeadLettered counts an arrival on the named dead-letter topic.
func (m *Metrics) DeadLettered(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.deadLettered[topic]++
	m.mu.Unlock()
}

// StatusTransition counts an order entering the given status.
func (m *Metrics) StatusTransition(status string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.statuses[status]++
	m.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		UptimeSec:        int64(time.Since(m.start).Seconds()),
		RetryExhaustions: m.retryExhaustions,
		Compensations:    m.compensations,
		BreakerOpens:     copyCounts(m.breakerOpens),
		EventsConsumed:   copyCounts(m.eventsConsumed),
		DeadLettered:     copyCounts(m.deadLettered),
		Statuses:         copyCounts(m.statuses),
		Steps:            make(map[string]StepSnapshot),
	}

	for step, stats := range m.steps {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Steps[step] = StepSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			Replays:       stats.replays,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalSteps += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	return snap
}

func (m *Metrics) ensureStep(step string) *stepStats {
	stats, ok := m.steps[step]
	if !ok {
		stats = &stepStats{}
		m.steps[step] = stats
	}
	return stats
}

func (m *Metrics) finish(step string, dur time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.ensureStep(step)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	stats.lastLatency = dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
