package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/progress"
)

// ArchiveSink writes the final record of every finished task to a blob store
// at <prefix>/<task_id>.json.
type ArchiveSink struct {
	store       inventory.BlobStore
	prefix      string
	contentType string
	logger      *zap.Logger
}

// NewArchiveSink constructs an ArchiveSink.
func NewArchiveSink(store inventory.BlobStore, prefix, contentType string, logger *zap.Logger) (*ArchiveSink, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if contentType == "" {
		contentType = "application/json"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{
		store:       store,
		prefix:      strings.Trim(prefix, "/"),
		contentType: contentType,
		logger:      logger,
	}, nil
}

// ObjectPath returns the blob path used for a task id.
func (s *ArchiveSink) ObjectPath(taskID string) string {
	name := taskID + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Consume archives terminal events that carry a task snapshot.
func (s *ArchiveSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if !evt.Stage.Terminal() || evt.Task == nil {
			continue
		}
		data, err := json.Marshal(evt.Task)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal task %s: %w", evt.TaskID, err))
			continue
		}
		uri, err := s.store.PutObject(ctx, s.ObjectPath(evt.TaskID), s.contentType, bytes.NewReader(data))
		if err != nil {
			errs = append(errs, fmt.Errorf("archive task %s: %w", evt.TaskID, err))
			continue
		}
		s.logger.Debug("task archived", zap.String("task_id", evt.TaskID), zap.String("uri", uri))
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *ArchiveSink) Close(context.Context) error {
	return nil
}
