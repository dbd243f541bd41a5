package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProviderLabel(t *testing.T) {
	id := int64(1000000000042)
	testCases := []struct {
		name     string
		input    *int64
		expected string
	}{
		{"nil provider", nil, "none"},
		{"region encoded", &id, "1000000000042"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ProviderLabel(tc.input); got != tc.expected {
				t.Errorf("ProviderLabel() = %q; want %q", got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || actionsTotal == nil || tasksTotal == nil || activeWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveAction("vms", "start", OutcomeQueued)
	if val := testutil.ToFloat64(actionsTotal.WithLabelValues("vms", "start", OutcomeQueued)); val < 1 {
		t.Errorf("Expected actionsTotal to be >= 1, got %f", val)
	}

	ObserveTask("start", "Ok", 10*time.Millisecond)
	if val := testutil.ToFloat64(tasksTotal.WithLabelValues("start", "Ok")); val < 1 {
		t.Errorf("Expected tasksTotal to be >= 1, got %f", val)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val < 1 {
		t.Errorf("Expected activeWorkers >= 1, got %f", val)
	}
	DecActiveWorkers()

	ObserveThrottleDelay("1", 200*time.Millisecond)
	if val := testutil.CollectAndCount(providerThrottleDelaySeconds); val <= 0 {
		t.Errorf("Expected throttle delay to be observed, got %d", val)
	}
}
