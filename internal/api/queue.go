package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/metrics"
	"github.com/JakeFAU/infra-api/internal/progress"
)

const defaultEnqueueTimeout = 5 * time.Second

// queueTarget identifies the record a queued method runs against.
type queueTarget struct {
	resourceType string
	resourceID   int64
	providerID   *int64
}

// queueObjectAction records a task for the method and hands it to the queue.
// Failures become a failed result rather than an error so bulk requests
// continue with the next entry.
func (s *Server) queueObjectAction(
	ctx context.Context,
	call *actionCall,
	target queueTarget,
	description string,
	opts inventory.QueueOptions,
) ActionResult {
	taskID, err := s.deps.IDs.NewID()
	if err != nil {
		s.logger.Error("generate task id failed", zap.Error(err))
		return failed(fmt.Sprintf("%s - %s", description, err.Error()))
	}

	now := s.deps.Clock.Now().UTC()
	task := inventory.Task{
		ID:           taskID,
		Name:         description,
		State:        inventory.TaskQueued,
		Status:       inventory.TaskOk,
		Message:      fmt.Sprintf("Queued the action: [%s] being run for user: [%s]", description, call.identity.UserID),
		UserID:       call.identity.UserID,
		ResourceType: target.resourceType,
		ResourceID:   target.resourceID,
		MethodName:   opts.MethodName,
		Role:         opts.Role,
		Args:         opts.Args,
		CreatedOn:    now,
		UpdatedOn:    now,
	}
	if err := s.deps.Tasks.CreateTask(ctx, task); err != nil {
		s.logger.Error("create task failed", zap.String("task_id", taskID), zap.Error(err))
		return failed(fmt.Sprintf("%s - %s", description, err.Error()))
	}

	item := inventory.QueueItem{
		TaskID:       taskID,
		ResourceType: target.resourceType,
		ResourceID:   target.resourceID,
		ProviderID:   target.providerID,
		MethodName:   opts.MethodName,
		Role:         opts.Role,
		Args:         opts.Args,
		UserID:       call.identity.UserID,
		Submitted:    now.UnixMilli(),
	}

	timeout := defaultEnqueueTimeout
	if s.cfg.Queue.EnqueueTimeoutMs > 0 {
		timeout = time.Duration(s.cfg.Queue.EnqueueTimeoutMs) * time.Millisecond
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.deps.Queue.Enqueue(enqueueCtx, item); err != nil {
		s.logger.Warn("enqueue task failed", zap.String("task_id", taskID), zap.Error(err))
		msg := fmt.Sprintf("%s - %s", description, err.Error())
		if _, uerr := s.deps.Tasks.UpdateTask(context.WithoutCancel(ctx), taskID, inventory.TaskUpdate{
			State:   inventory.TaskFinished,
			Status:  inventory.TaskError,
			Message: msg,
			At:      s.deps.Clock.Now(),
		}); uerr != nil {
			s.logger.Error("mark task failed", zap.String("task_id", taskID), zap.Error(uerr))
		}
		return failed(msg)
	}

	s.deps.Emitter.Emit(progress.Event{
		TaskID:       taskID,
		TS:           now,
		Stage:        progress.StageTaskQueued,
		ResourceType: target.resourceType,
		ResourceID:   target.resourceID,
		Provider:     metrics.ProviderLabel(target.providerID),
		Method:       opts.MethodName,
	})
	s.logger.Info("task queued",
		zap.String("task_id", taskID),
		zap.String("method", opts.MethodName),
		zap.String("resource_type", target.resourceType),
		zap.Int64("resource_id", target.resourceID),
		zap.String("userid", call.identity.UserID),
	)

	res := succeeded(description)
	res.TaskID = taskID
	res.TaskHref = href(call.base, collectionTasks, taskID)
	return res
}
