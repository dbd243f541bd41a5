package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported task stages.
const (
	StageTaskQueued Stage = "TASK_QUEUED"
	StageTaskStart  Stage = "TASK_START"
	StageTaskDone   Stage = "TASK_DONE"
	StageTaskError  Stage = "TASK_ERROR"
)

// Terminal reports whether the stage ends a task.
func (s Stage) Terminal() bool {
	return s == StageTaskDone || s == StageTaskError
}

// Event captures one task lifecycle transition.
type Event struct {
	TaskID string
	// TS is the UTC timestamp recorded by the emitter.
	TS           time.Time
	Stage        Stage
	ResourceType string
	ResourceID   int64
	// Provider is the metric label of the provider the task runs against.
	Provider string
	Method   string
	// Dur is the queue wait for TASK_START and the run time for terminal stages.
	Dur  time.Duration
	Note string
	// Task is a snapshot of the record after a terminal transition.
	Task *inventory.Task
	// SpanContext identifies the worker span that produced the event. Sinks
	// run on the hub's context, so they use it to continue the trace.
	SpanContext trace.SpanContext
}

// Context returns parent carrying the event's span context, if it has one.
func (e Event) Context(parent context.Context) context.Context {
	if !e.SpanContext.IsValid() {
		return parent
	}
	return trace.ContextWithSpanContext(parent, e.SpanContext)
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskQueued, StageTaskStart:
	case StageTaskDone, StageTaskError:
		if e.Task != nil && e.Task.ID != e.TaskID {
			return fmt.Errorf("task snapshot %q does not match event task %q", e.Task.ID, e.TaskID)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Notice is the wire form of an Event sent to subscribers.
type Notice struct {
	TaskID       string    `json:"task_id"`
	Stage        Stage     `json:"stage"`
	TS           time.Time `json:"ts"`
	ResourceType string    `json:"resource_type"`
	ResourceID   int64     `json:"resource_id"`
	Method       string    `json:"method_name"`
	State        string    `json:"state,omitempty"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
}

// NoticeFor renders the subscriber payload for evt.
func NoticeFor(evt Event) Notice {
	n := Notice{
		TaskID:       evt.TaskID,
		Stage:        evt.Stage,
		TS:           evt.TS,
		ResourceType: evt.ResourceType,
		ResourceID:   evt.ResourceID,
		Method:       evt.Method,
		Message:      evt.Note,
		DurationMs:   evt.Dur.Milliseconds(),
	}
	if evt.Task != nil {
		n.State = string(evt.Task.State)
		n.Status = string(evt.Task.Status)
		n.Message = evt.Task.Message
	}
	return n
}

// Attributes exposes routing attributes for message brokers.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"task_id":       n.TaskID,
		"stage":         string(n.Stage),
		"resource_type": n.ResourceType,
	}
}
