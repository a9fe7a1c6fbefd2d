package observability

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestMetrics_StepSpans(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	span := m.StartStep("payment-charge")
	span.End(nil)

	span = m.StartStep("payment-charge")
	span.End(errors.New("gateway timeout"))

	m.StepReplayed("payment-charge")

	snap := m.Snapshot()
	step, ok := snap.Steps["payment-charge"]
	if !ok {
		t.Fatalf("missing step snapshot: %+v", snap)
	}
	if step.Count != 2 || step.Errors != 1 || step.Replays != 1 || step.InFlight != 0 {
		t.Fatalf("unexpected step stats: %+v", step)
	}
	if snap.TotalSteps != 2 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RetryExhausted()
	m.CompensationRequested()
	m.BreakerOpened("payment-gateway")
	m.BreakerOpened("payment-gateway")
	m.EventConsumed("payment-responses")
	m.DeadLettered("saga-operations-dlq")
	m.StatusTransition("CANCELLED")

	snap := m.Snapshot()
	if snap.RetryExhaustions != 1 || snap.Compensations != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.BreakerOpens["payment-gateway"] != 2 {
		t.Fatalf("unexpected breaker opens: %+v", snap.BreakerOpens)
	}
	if snap.EventsConsumed["payment-responses"] != 1 {
		t.Fatalf("unexpected events consumed: %+v", snap.EventsConsumed)
	}
	if snap.DeadLettered["saga-operations-dlq"] != 1 {
		t.Fatalf("unexpected dead lettered: %+v", snap.DeadLettered)
	}
	if snap.Statuses["CANCELLED"] != 1 {
		t.Fatalf("unexpected statuses: %+v", snap.Statuses)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	span := m.StartStep("anything")
	span.End(nil)
	m.RetryExhausted()
	m.DeadLettered("x")
	if snap := m.Snapshot(); snap.TotalSteps != 0 {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

func TestHandler_ServesSnapshot(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.EventConsumed("payment-requests")

	rec := httptest.NewRecorder()
	Handler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.EventsConsumed["payment-requests"] != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
