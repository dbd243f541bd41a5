package inventory

import "time"

// TaskState is the lifecycle position of a task.
type TaskState string

// Task states persisted in the task store.
const (
	TaskQueued   TaskState = "Queued"
	TaskActive   TaskState = "Active"
	TaskFinished TaskState = "Finished"
)

// TaskStatus is the outcome of a task.
type TaskStatus string

// Task status values.
const (
	TaskOk    TaskStatus = "Ok"
	TaskWarn  TaskStatus = "Warn"
	TaskError TaskStatus = "Error"
)

// Task tracks one queued object action.
type Task struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	State        TaskState      `json:"state"`
	Status       TaskStatus     `json:"status"`
	Message      string         `json:"message"`
	UserID       string         `json:"userid,omitempty"`
	ContextData  map[string]any `json:"context_data,omitempty"`
	ResourceType string         `json:"resource_type"`
	ResourceID   int64          `json:"resource_id"`
	MethodName   string         `json:"method_name"`
	Role         string         `json:"role,omitempty"`
	Args         []any          `json:"args,omitempty"`
	CreatedOn    time.Time      `json:"created_on"`
	UpdatedOn    time.Time      `json:"updated_on"`
	StartedOn    *time.Time     `json:"started_on,omitempty"`
	FinishedOn   *time.Time     `json:"finished_on,omitempty"`
}

// TaskUpdate carries the mutable portion of a task transition.
type TaskUpdate struct {
	State       TaskState
	Status      TaskStatus
	Message     string
	ContextData map[string]any
	// At stamps UpdatedOn and, on the matching transitions, StartedOn and
	// FinishedOn. Stores fall back to the current UTC time when it is zero.
	At time.Time
}

// When returns the transition time, defaulting to now.
func (u TaskUpdate) When() time.Time {
	if u.At.IsZero() {
		return time.Now().UTC()
	}
	return u.At.UTC()
}

// QueueItem wraps a task ready to run. ProviderID is the EMS that owns the
// resource and keys the per-provider throttle.
type QueueItem struct {
	TaskID       string
	ResourceType string
	ResourceID   int64
	ProviderID   *int64
	MethodName   string
	Role         string
	Args         []any
	UserID       string
	Submitted    int64
}

// QueueOptions describes how an object action should be executed.
type QueueOptions struct {
	MethodName string
	Role       string
	Args       []any
}
