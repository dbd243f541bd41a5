package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// TaskStore provides an in-memory implementation for development/testing.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]inventory.Task
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]inventory.Task),
	}
}

// CreateTask stores a new task.
func (s *TaskStore) CreateTask(_ context.Context, task inventory.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// UpdateTask applies a state transition and returns the updated task.
func (s *TaskStore) UpdateTask(_ context.Context, id string, update inventory.TaskUpdate) (inventory.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return inventory.Task{}, fmt.Errorf("task %s: %w", id, inventory.ErrNotFound)
	}
	now := update.When()
	task.State = update.State
	if update.Status != "" {
		task.Status = update.Status
	}
	task.Message = update.Message
	if update.ContextData != nil {
		task.ContextData = update.ContextData
	}
	task.UpdatedOn = now
	if update.State == inventory.TaskActive && task.StartedOn == nil {
		task.StartedOn = pointerTime(now)
	}
	if update.State == inventory.TaskFinished {
		task.FinishedOn = pointerTime(now)
	}
	s.tasks[id] = task
	return task, nil
}

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(_ context.Context, id string) (inventory.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return inventory.Task{}, fmt.Errorf("task %s: %w", id, inventory.ErrNotFound)
	}
	return task, nil
}

// ListTasks returns a page of tasks, newest first, and the total count.
func (s *TaskStore) ListTasks(_ context.Context, limit, offset int) ([]inventory.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]inventory.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		all = append(all, task)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedOn.Equal(all[j].CreatedOn) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedOn.After(all[j].CreatedOn)
	})
	total := len(all)
	if offset >= total {
		return []inventory.Task{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
