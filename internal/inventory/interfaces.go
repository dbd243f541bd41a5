package inventory

import (
	"context"
	"io"
	"time"
)

// Inventory is the resource store consulted by the API and mutated by the
// provider adapters. Finders return ErrNotFound for missing ids.
type Inventory interface {
	GetProvider(ctx context.Context, id int64) (Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	UpdateProvider(ctx context.Context, p Provider) error

	GetVM(ctx context.Context, id int64) (VM, error)
	ListVMs(ctx context.Context) ([]VM, error)
	UpdateVM(ctx context.Context, vm VM) error
	DeleteVM(ctx context.Context, id int64) error

	GetNetworkRouter(ctx context.Context, id int64) (NetworkRouter, error)
	ListNetworkRouters(ctx context.Context) ([]NetworkRouter, error)
	CreateNetworkRouter(ctx context.Context, r NetworkRouter) (NetworkRouter, error)
	UpdateNetworkRouter(ctx context.Context, r NetworkRouter) error
	DeleteNetworkRouter(ctx context.Context, id int64) error

	GetUser(ctx context.Context, id int64) (User, error)
	LookupUser(ctx context.Context, identity string) (User, error)
	GetServer(ctx context.Context, id int64) (Server, error)
	ListServers(ctx context.Context) ([]Server, error)
}

// TaskStore persists task records.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, id string, update TaskUpdate) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, limit, offset int) ([]Task, int, error)
}

// EventStore persists EMS and lifecycle events.
type EventStore interface {
	AddEvent(ctx context.Context, evt Event) error
	AddLifecycleEvent(ctx context.Context, evt LifecycleEvent) error
}

// Queue provides enqueue/dequeue semantics for task execution.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// BlobStore writes archived artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes task notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
