// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/worker"
)

// drainer is implemented by queues that can hand back buffered items on shutdown.
type drainer interface {
	Drain() []inventory.QueueItem
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithAbandonedTasks makes Run mark tasks still waiting in the queue at
// shutdown as Finished/Error so clients polling them see a final state.
func WithAbandonedTasks(tasks inventory.TaskStore, logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.tasks = tasks
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   inventory.Queue
	workers []*worker.Worker
	tasks   inventory.TaskStore
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue inventory.Queue, workers []*worker.Worker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Size reports how many workers the dispatcher runs.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned, then settles whatever is left in the queue.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.abandonQueued(context.WithoutCancel(ctx))
}

func (d *Dispatcher) abandonQueued(ctx context.Context) {
	q, ok := d.queue.(drainer)
	if !ok || d.tasks == nil {
		return
	}
	items := q.Drain()
	for _, item := range items {
		if _, err := d.tasks.UpdateTask(ctx, item.TaskID, inventory.TaskUpdate{
			State:   inventory.TaskFinished,
			Status:  inventory.TaskError,
			Message: worker.MsgCanceled,
		}); err != nil {
			d.logger.Warn("abandon queued task failed", zap.String("task_id", item.TaskID), zap.Error(err))
		}
	}
	if len(items) > 0 {
		d.logger.Info("abandoned queued tasks at shutdown", zap.Int("count", len(items)))
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item inventory.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
