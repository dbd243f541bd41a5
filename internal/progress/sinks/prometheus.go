package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/infra-api/internal/progress"
)

// PrometheusSink exports task lifecycle metrics via Prometheus.
type PrometheusSink struct {
	tasksQueued    *prometheus.CounterVec
	tasksStarted   *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	queueWait      *prometheus.HistogramVec
	taskRuntime    *prometheus.HistogramVec

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infra_api_tasks_queued_total",
			Help: "Tasks queued partitioned by method.",
		}, []string{"method"}),
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infra_api_tasks_started_total",
			Help: "Tasks picked up by a worker partitioned by method.",
		}, []string{"method"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infra_api_tasks_completed_total",
			Help: "Tasks finished partitioned by method and result.",
		}, []string{"method", "result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "infra_api_tasks_running",
			Help: "Current number of running tasks.",
		}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "infra_api_task_queue_wait_seconds",
			Help:    "Time between queueing and start partitioned by provider.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"provider"}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "infra_api_task_runtime_seconds",
			Help:    "Wall time per finished task partitioned by result.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"result"}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksQueued,
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.queueWait,
		s.taskRuntime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register task collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	method := evt.Method
	if method == "" {
		method = "unknown"
	}
	switch evt.Stage {
	case progress.StageTaskQueued:
		s.tasksQueued.WithLabelValues(method).Inc()
	case progress.StageTaskStart:
		s.tasksStarted.WithLabelValues(method).Inc()
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
		if evt.Dur > 0 {
			provider := evt.Provider
			if provider == "" {
				provider = "none"
			}
			s.queueWait.WithLabelValues(provider).Observe(evt.Dur.Seconds())
		}
	case progress.StageTaskDone:
		s.complete(evt, method, "success")
	case progress.StageTaskError:
		s.complete(evt, method, "error")
	}
}

func (s *PrometheusSink) complete(evt progress.Event, method, result string) {
	s.tasksCompleted.WithLabelValues(method, result).Inc()
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.TaskID) {
		s.tasksRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[string]struct{})}
}

func (t *taskTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
