package api

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/infra-api/internal/id/uuid"
	"github.com/JakeFAU/infra-api/internal/inventory"
)

const (
	klassTask   = "MiqTask"
	taskTimeout = 3 * time.Second
)

func (s *Server) tasksCollection() *collection {
	return &collection{
		name:     collectionTasks,
		klass:    klassTask,
		showList: "miq_task_view",
		show:     "miq_task_view",
		page:     s.pageTasks,
		get:      s.getTask,
		actions:  map[string]actionSpec{},
	}
}

func (s *Server) pageTasks(ctx context.Context, limit, offset int) ([]map[string]any, int, error) {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	tasks, total, err := s.deps.Tasks.ListTasks(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, renderTask(t))
	}
	return out, total, nil
}

func (s *Server) getTask(ctx context.Context, id string) (map[string]any, error) {
	if !uuid.Valid(id) {
		return nil, &NotFoundError{Klass: klassTask, ID: id}
	}
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	t, err := s.deps.Tasks.GetTask(ctx, id)
	if err != nil {
		return nil, notFound(err, klassTask, id)
	}
	return renderTask(t), nil
}

func renderTask(t inventory.Task) map[string]any {
	out := map[string]any{
		"id":            t.ID,
		"name":          t.Name,
		"state":         string(t.State),
		"status":        string(t.Status),
		"message":       t.Message,
		"userid":        t.UserID,
		"resource_type": t.ResourceType,
		"resource_id":   fmt.Sprint(t.ResourceID),
		"method_name":   t.MethodName,
		"created_on":    t.CreatedOn,
		"updated_on":    t.UpdatedOn,
	}
	if len(t.ContextData) > 0 {
		out["context_data"] = t.ContextData
	}
	if t.StartedOn != nil {
		out["started_on"] = *t.StartedOn
	}
	if t.FinishedOn != nil {
		out["finished_on"] = *t.FinishedOn
	}
	return out
}
