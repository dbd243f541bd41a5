// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Connect opens a pgx pool using the provided config.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

func tableOrDefault(table, fallback string) (string, error) {
	if table == "" {
		table = fallback
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

const taskColumns = `id, name, state, status, message, userid, context_data, resource_type, resource_id,
	method_name, role, args, created_on, updated_on, started_on, finished_on`

// TaskStore persists tasks into Postgres.
type TaskStore struct {
	pool  pool
	table string
}

// NewTaskStoreWithPool constructs a store from an existing pool (pgxpool or pgxmock).
func NewTaskStoreWithPool(p pool, table string) (*TaskStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table, "miq_tasks")
	if err != nil {
		return nil, err
	}
	return &TaskStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateTask inserts a task row.
func (s *TaskStore) CreateTask(ctx context.Context, task inventory.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	contextJSON, err := marshalNullable(task.ContextData)
	if err != nil {
		return fmt.Errorf("marshal context data: %w", err)
	}
	argsJSON, err := marshalNullable(task.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, name, state, status, message, userid, context_data, resource_type, resource_id,
	method_name, role, args, created_on, updated_on
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, s.table)

	args := []any{
		task.ID,
		task.Name,
		string(task.State),
		string(task.Status),
		task.Message,
		task.UserID,
		contextJSON,
		task.ResourceType,
		task.ResourceID,
		task.MethodName,
		task.Role,
		argsJSON,
		task.CreatedOn,
		task.UpdatedOn,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask applies a state transition and returns the stored row.
func (s *TaskStore) UpdateTask(ctx context.Context, id string, update inventory.TaskUpdate) (inventory.Task, error) {
	var contextJSON []byte
	if update.ContextData != nil {
		data, err := json.Marshal(update.ContextData)
		if err != nil {
			return inventory.Task{}, fmt.Errorf("marshal context data: %w", err)
		}
		contextJSON = data
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	state = $1,
	status = COALESCE(NULLIF($2, ''), status),
	message = $3,
	context_data = COALESCE($4, context_data),
	updated_on = $5,
	started_on = CASE WHEN $1 = 'Active' AND started_on IS NULL THEN $5 ELSE started_on END,
	finished_on = CASE WHEN $1 = 'Finished' THEN $5 ELSE finished_on END
WHERE id = $6
RETURNING %s`, s.table, taskColumns)

	now := update.When()
	row := s.pool.QueryRow(ctx, query, string(update.State), string(update.Status), update.Message, contextJSON, now, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Task{}, fmt.Errorf("task %s: %w", id, inventory.ErrNotFound)
		}
		return inventory.Task{}, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

// GetTask retrieves a single task by id.
func (s *TaskStore) GetTask(ctx context.Context, id string) (inventory.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, taskColumns, s.table)
	task, err := scanTask(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Task{}, fmt.Errorf("task %s: %w", id, inventory.ErrNotFound)
		}
		return inventory.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns a page of tasks, newest first, plus the total row count.
func (s *TaskStore) ListTasks(ctx context.Context, limit, offset int) ([]inventory.Task, int, error) {
	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	if limit <= 0 {
		limit = total
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_on DESC, id DESC LIMIT $1 OFFSET $2`, taskColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]inventory.Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, total, nil
}

func scanTask(row pgx.Row) (inventory.Task, error) {
	var (
		task        inventory.Task
		state       string
		status      string
		contextJSON []byte
		argsJSON    []byte
	)
	err := row.Scan(
		&task.ID,
		&task.Name,
		&state,
		&status,
		&task.Message,
		&task.UserID,
		&contextJSON,
		&task.ResourceType,
		&task.ResourceID,
		&task.MethodName,
		&task.Role,
		&argsJSON,
		&task.CreatedOn,
		&task.UpdatedOn,
		&task.StartedOn,
		&task.FinishedOn,
	)
	if err != nil {
		return inventory.Task{}, err
	}
	task.State = inventory.TaskState(state)
	task.Status = inventory.TaskStatus(status)
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &task.ContextData); err != nil {
			return inventory.Task{}, fmt.Errorf("decode context data: %w", err)
		}
	}
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &task.Args); err != nil {
			return inventory.Task{}, fmt.Errorf("decode args: %w", err)
		}
	}
	return task, nil
}

func marshalNullable[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}
