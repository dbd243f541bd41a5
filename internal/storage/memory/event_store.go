package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// EventStore keeps EMS and lifecycle events in memory.
type EventStore struct {
	mu        sync.RWMutex
	events    []inventory.Event
	lifecycle []inventory.LifecycleEvent
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// AddEvent appends an EMS event.
func (s *EventStore) AddEvent(_ context.Context, evt inventory.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// AddLifecycleEvent appends a lifecycle event.
func (s *EventStore) AddLifecycleEvent(_ context.Context, evt inventory.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycle = append(s.lifecycle, evt)
	return nil
}

// Events returns the EMS events recorded for a VM.
func (s *EventStore) Events(vmID int64) []inventory.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []inventory.Event
	for _, evt := range s.events {
		if evt.VMID == vmID {
			out = append(out, evt)
		}
	}
	return out
}

// LifecycleEvents returns the lifecycle events recorded for a VM.
func (s *EventStore) LifecycleEvents(vmID int64) []inventory.LifecycleEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []inventory.LifecycleEvent
	for _, evt := range s.lifecycle {
		if evt.VMID == vmID {
			out = append(out, evt)
		}
	}
	return out
}
