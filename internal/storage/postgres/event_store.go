package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// EventStore writes EMS and lifecycle events into Postgres.
type EventStore struct {
	pool           pool
	eventTable     string
	lifecycleTable string
}

// NewEventStoreWithPool constructs an EventStore from an existing pool.
func NewEventStoreWithPool(p pool, eventTable, lifecycleTable string) (*EventStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	eventTable, err := tableOrDefault(eventTable, "ems_events")
	if err != nil {
		return nil, err
	}
	lifecycleTable, err = tableOrDefault(lifecycleTable, "lifecycle_events")
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: p, eventTable: eventTable, lifecycleTable: lifecycleTable}, nil
}

// AddEvent inserts an EMS event row.
func (s *EventStore) AddEvent(ctx context.Context, evt inventory.Event) error {
	query := fmt.Sprintf(`
INSERT INTO %s (vm_id, event_type, message, timestamp)
VALUES ($1, $2, $3, $4)`, s.eventTable)
	if _, err := s.pool.Exec(ctx, query, evt.VMID, evt.EventType, evt.Message, evt.Timestamp); err != nil {
		return fmt.Errorf("insert ems event: %w", err)
	}
	return nil
}

// AddLifecycleEvent inserts a lifecycle event row.
func (s *EventStore) AddLifecycleEvent(ctx context.Context, evt inventory.LifecycleEvent) error {
	query := fmt.Sprintf(`
INSERT INTO %s (vm_id, event, status, message, created_by, created_on)
VALUES ($1, $2, $3, $4, $5, $6)`, s.lifecycleTable)
	_, err := s.pool.Exec(ctx, query, evt.VMID, evt.Event, evt.Status, evt.Message, evt.CreatedBy, evt.CreatedOn)
	if err != nil {
		return fmt.Errorf("insert lifecycle event: %w", err)
	}
	return nil
}
