package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/progress"
)

// PublisherSink forwards task events to a message broker topic.
type PublisherSink struct {
	publisher inventory.Publisher
	topic     string
	// terminalOnly limits notifications to TASK_DONE and TASK_ERROR.
	terminalOnly bool
}

// NewPublisherSink builds a sink publishing to topic. When terminalOnly is set
// only finished tasks are announced.
func NewPublisherSink(publisher inventory.Publisher, topic string, terminalOnly bool) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &PublisherSink{publisher: publisher, topic: topic, terminalOnly: terminalOnly}, nil
}

// Consume publishes one notice per event under the event's span context.
// Publishing continues past failures and the errors are joined.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if s.terminalOnly && !evt.Stage.Terminal() {
			continue
		}
		if _, err := s.publisher.Publish(evt.Context(ctx), s.topic, progress.NoticeFor(evt)); err != nil {
			errs = append(errs, fmt.Errorf("publish task %s %s: %w", evt.TaskID, evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
