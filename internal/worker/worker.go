// Package worker implements the task execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/metrics"
	"github.com/JakeFAU/infra-api/internal/progress"
	"github.com/JakeFAU/infra-api/internal/provider"
	memqueue "github.com/JakeFAU/infra-api/internal/queue/memory"
)

// MsgCanceled is the task message recorded when the worker shuts down mid-task.
const MsgCanceled = "task canceled"

const tracerName = "github.com/JakeFAU/infra-api/internal/worker"

// Throttle blocks until work against key may proceed.
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Config controls Worker behavior.
type Config struct {
	// TaskTimeout bounds a single adapter call. Zero disables the bound.
	TaskTimeout time.Duration
}

// Worker consumes queue items and runs them through the provider adapter.
type Worker struct {
	queue    inventory.Queue
	tasks    inventory.TaskStore
	adapter  provider.Adapter
	throttle Throttle
	emitter  progress.Emitter
	clock    inventory.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. throttle and emitter may be nil.
func New(
	queue inventory.Queue,
	tasks inventory.TaskStore,
	adapter provider.Adapter,
	throttle Throttle,
	emitter progress.Emitter,
	clock inventory.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		tasks:    tasks,
		adapter:  adapter,
		throttle: throttle,
		emitter:  emitter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, memqueue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID), zap.String("method", item.MethodName))
		w.processTask(ctx, item)
	}
}

func (w *Worker) processTask(ctx context.Context, item inventory.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	providerLabel := metrics.ProviderLabel(item.ProviderID)
	started := w.clock.Now()
	var queueWait time.Duration
	if item.Submitted > 0 {
		queueWait = max(started.Sub(time.UnixMilli(item.Submitted)), 0)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "task "+item.MethodName,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("task.id", item.TaskID),
			attribute.String("task.resource_type", item.ResourceType),
			attribute.Int64("task.resource_id", item.ResourceID),
			attribute.String("task.provider", providerLabel),
		),
	)
	defer span.End()

	// Status transitions must land even when the worker is shutting down.
	persistCtx := context.WithoutCancel(ctx)

	// Dequeue may hand out an item after cancellation; it is already off the
	// queue, so settle it here instead of leaving it Queued.
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, MsgCanceled)
		w.finish(persistCtx, item, span.SpanContext(), providerLabel, 0, inventory.TaskUpdate{
			State:   inventory.TaskFinished,
			Status:  inventory.TaskError,
			Message: MsgCanceled,
		})
		return
	}

	if _, err := w.tasks.UpdateTask(persistCtx, item.TaskID, inventory.TaskUpdate{
		State:   inventory.TaskActive,
		Message: "Task started",
		At:      started,
	}); err != nil {
		w.logger.Error("update task status failed", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}
	w.emit(item, span.SpanContext(), progress.StageTaskStart, providerLabel, queueWait, "", nil)

	outcome, err := w.execute(ctx, item, providerLabel)
	elapsed := w.clock.Now().Sub(started)

	update := inventory.TaskUpdate{State: inventory.TaskFinished, Status: inventory.TaskOk}
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
		update.Status = inventory.TaskError
		update.Message = MsgCanceled
	case err != nil:
		update.Status = inventory.TaskError
		update.Message = err.Error()
	default:
		update.Message = outcome.Message
		update.ContextData = outcome.ContextData
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, update.Message)
	}
	w.finish(persistCtx, item, span.SpanContext(), providerLabel, elapsed, update)
}

// finish records the terminal transition and announces it.
func (w *Worker) finish(
	ctx context.Context,
	item inventory.QueueItem,
	sc trace.SpanContext,
	providerLabel string,
	elapsed time.Duration,
	update inventory.TaskUpdate,
) {
	update.At = w.clock.Now()
	task, err := w.tasks.UpdateTask(ctx, item.TaskID, update)
	if err != nil {
		w.logger.Error("final task status update failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
	metrics.ObserveTask(item.MethodName, string(update.Status), elapsed)

	var snapshot *inventory.Task
	if err == nil {
		snapshot = &task
	}
	stage := progress.StageTaskDone
	if update.Status == inventory.TaskError {
		stage = progress.StageTaskError
	}
	w.emit(item, sc, stage, providerLabel, elapsed, update.Message, snapshot)

	if update.Status == inventory.TaskError {
		w.logger.Warn("task failed",
			zap.String("task_id", item.TaskID),
			zap.String("method", item.MethodName),
			zap.String("message", update.Message),
		)
		return
	}
	w.logger.Info("task finished",
		zap.String("task_id", item.TaskID),
		zap.String("method", item.MethodName),
		zap.Duration("elapsed", elapsed),
	)
}

func (w *Worker) execute(ctx context.Context, item inventory.QueueItem, providerLabel string) (provider.Outcome, error) {
	if w.throttle != nil {
		if err := w.throttle.Wait(ctx, providerLabel); err != nil {
			return provider.Outcome{}, fmt.Errorf("throttle provider %s: %w", providerLabel, err)
		}
	}
	if w.adapter == nil {
		return provider.Outcome{}, errors.New("no provider adapter configured")
	}

	runCtx := ctx
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}
	outcome, err := w.adapter.Execute(runCtx, item)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return provider.Outcome{}, fmt.Errorf("task timed out after %s", w.cfg.TaskTimeout)
		}
		return provider.Outcome{}, err
	}
	return outcome, nil
}

func (w *Worker) emit(
	item inventory.QueueItem,
	sc trace.SpanContext,
	stage progress.Stage,
	providerLabel string,
	dur time.Duration,
	note string,
	task *inventory.Task,
) {
	w.emitter.Emit(progress.Event{
		TaskID:       item.TaskID,
		TS:           w.clock.Now(),
		Stage:        stage,
		ResourceType: item.ResourceType,
		ResourceID:   item.ResourceID,
		Provider:     providerLabel,
		Method:       item.MethodName,
		Dur:          dur,
		Note:         note,
		Task:         task,
		SpanContext:  sc,
	})
}
