package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/infra-api/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow a task's lifecycle.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{TaskID: "a", TS: now, Stage: progress.StageTaskQueued, Method: "start"},
		{TaskID: "a", TS: now, Stage: progress.StageTaskStart, Method: "start", Provider: "1", Dur: 50 * time.Millisecond},
		{TaskID: "b", TS: now, Stage: progress.StageTaskStart, Method: "stop", Provider: "1"},
		{TaskID: "a", TS: now, Stage: progress.StageTaskDone, Method: "start", Dur: 2 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksQueued.WithLabelValues("start")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksStarted.WithLabelValues("start")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("start", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.queueWait, "infra_api_task_queue_wait_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "b", TS: now, Stage: progress.StageTaskError, Method: "stop", Dur: time.Second},
		{TaskID: "b", TS: now, Stage: progress.StageTaskError, Method: "stop"},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("stop", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.tasksRunning))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register task collector")
}
