// Package sqlite provides the durable backend implementation. Events, once
// acknowledged as appended, survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/converter"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/metrics"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/core"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// NewInMemoryBackend creates a non-persistent sqlite backend, mainly useful
// for tests.
func NewInMemoryBackend(opts ...backend.BackendOption) (backend.Backend, error) {
	b, err := newSqliteBackend("file::memory:?mode=memory", opts...)
	if err != nil {
		return nil, err
	}

	// In-memory sqlite keeps its state per connection
	b.db.SetMaxOpenConns(1)

	return b, nil
}

// NewSqliteBackend creates a backend storing its state in the sqlite
// database at the given path, creating the file if it does not exist.
func NewSqliteBackend(path string, opts ...backend.BackendOption) (backend.Backend, error) {
	return newSqliteBackend(
		fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path), opts...)
}

func newSqliteBackend(dsn string, opts ...backend.BackendOption) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initializing database schema: %w", err)
	}

	return &sqliteBackend{
		db:         db,
		workerName: fmt.Sprintf("worker-%s", uuid.NewString()),
		options:    backend.ApplyOptions(opts...),
	}, nil
}

type sqliteBackend struct {
	db         *sql.DB
	workerName string
	options    backend.Options
}

var _ backend.Backend = (*sqliteBackend)(nil)

func (sb *sqliteBackend) CreateInstance(ctx context.Context, instance *core.Instance, workflowName string, input payload.Payload) error {
	res, err := sb.db.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO instances (id, workflow, input, state, created_at) VALUES (?, ?, ?, ?, ?)",
		instance.InstanceID,
		workflowName,
		[]byte(input),
		core.InstanceStateRunning,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting instance: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrInstanceAlreadyExists
	}

	return nil
}

func (sb *sqliteBackend) GetInstanceStatus(ctx context.Context, instanceID string) (*backend.InstanceStatus, error) {
	row := sb.db.QueryRowContext(
		ctx, "SELECT state, output FROM instances WHERE id = ?", instanceID)

	var state core.InstanceState
	var output []byte
	if err := row.Scan(&state, &output); err != nil {
		if err == sql.ErrNoRows {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("reading instance status: %w", err)
	}

	return &backend.InstanceStatus{
		InstanceID:    instanceID,
		RuntimeStatus: state,
		Output:        output,
	}, nil
}

func (sb *sqliteBackend) GetInstanceHistory(ctx context.Context, instance *core.Instance, lastSequenceID *int64) ([]*history.Event, error) {
	var after int64
	if lastSequenceID != nil {
		after = *lastSequenceID
	}

	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT id, sequence_id, event_type, schedule_event_id, attributes, timestamp FROM history WHERE instance_id = ? AND sequence_id > ? ORDER BY sequence_id",
		instance.InstanceID,
		after,
	)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	var events []*history.Event
	for rows.Next() {
		event, err := scanHistoryEvent(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func (sb *sqliteBackend) GetOrchestrationTask(ctx context.Context) (*backend.OrchestrationTask, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	row := tx.QueryRowContext(
		ctx,
		`SELECT i.id, i.workflow, i.input, i.state, i.last_sequence_id
			FROM instances i
			WHERE i.state = ? AND (i.locked_until IS NULL OR i.locked_until < ?)
				AND (i.last_sequence_id = 0 OR EXISTS (
					SELECT 1 FROM pending_events pe
					WHERE pe.instance_id = i.id AND (pe.visible_at IS NULL OR pe.visible_at <= ?)))
			LIMIT 1`,
		core.InstanceStateRunning,
		now,
		now,
	)

	var instanceID, workflowName string
	var input []byte
	var state core.InstanceState
	var lastSequenceID int64
	if err := row.Scan(&instanceID, &workflowName, &input, &state, &lastSequenceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("selecting orchestration task: %w", err)
	}

	taskID := uuid.NewString()
	if _, err := tx.ExecContext(
		ctx,
		"UPDATE instances SET locked_until = ?, locked_by = ? WHERE id = ?",
		now.Add(sb.options.OrchestrationLockTimeout),
		taskID,
		instanceID,
	); err != nil {
		return nil, fmt.Errorf("locking instance: %w", err)
	}

	events, err := tx.QueryContext(
		ctx,
		"SELECT id, event_type, schedule_event_id, attributes, timestamp FROM pending_events WHERE instance_id = ? AND (visible_at IS NULL OR visible_at <= ?) ORDER BY rowid",
		instanceID,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("reading pending events: %w", err)
	}
	defer events.Close()

	var newEvents []*history.Event
	for events.Next() {
		event, err := scanPendingEvent(events)
		if err != nil {
			return nil, err
		}

		newEvents = append(newEvents, event)
	}
	if err := events.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &backend.OrchestrationTask{
		ID:             taskID,
		Instance:       core.NewInstance(instanceID),
		WorkflowName:   workflowName,
		Input:          input,
		State:          state,
		LastSequenceID: lastSequenceID,
		NewEvents:      newEvents,
	}, nil
}

func (sb *sqliteBackend) ExtendOrchestrationTask(ctx context.Context, task *backend.OrchestrationTask) error {
	until := time.Now().UTC().Add(sb.options.OrchestrationLockTimeout)

	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE instances SET locked_until = ? WHERE id = ? AND locked_by = ?",
		until,
		task.Instance.InstanceID,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("extending instance lock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrConcurrentAppend
	}

	return nil
}

func (sb *sqliteBackend) CompleteOrchestrationTask(
	ctx context.Context, task *backend.OrchestrationTask, state core.InstanceState,
	executedEvents, activityEvents []*history.Event, output payload.Payload,
) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lastSequenceID := task.LastSequenceID
	for _, event := range executedEvents {
		if event.SequenceID > lastSequenceID {
			lastSequenceID = event.SequenceID
		}
	}

	now := time.Now().UTC()

	// Expected-sequence check doubles as the single-writer guard: the row is
	// only updated when this worker still holds the lock and no other
	// worker advanced the history.
	var completedAt any
	if state.Finished() {
		completedAt = now
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE instances SET last_sequence_id = ?, state = ?, output = ?, completed_at = ?, locked_until = NULL, locked_by = NULL
			WHERE id = ? AND locked_by = ? AND last_sequence_id = ?`,
		lastSequenceID,
		state,
		[]byte(output),
		completedAt,
		task.Instance.InstanceID,
		task.ID,
		task.LastSequenceID,
	)
	if err != nil {
		return fmt.Errorf("updating instance: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrConcurrentAppend
	}

	if err := insertHistoryEvents(ctx, tx, task.Instance.InstanceID, executedEvents); err != nil {
		return err
	}

	executed := make(map[string]struct{}, len(executedEvents))
	for _, event := range executedEvents {
		executed[event.ID] = struct{}{}
	}

	for id := range executed {
		if _, err := tx.ExecContext(ctx, "DELETE FROM pending_events WHERE id = ?", id); err != nil {
			return fmt.Errorf("removing pending event: %w", err)
		}
	}

	for _, event := range activityEvents {
		if err := enqueueActivity(ctx, tx, task.Instance.InstanceID, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("completing orchestration task: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) GetActivityTask(ctx context.Context) (*backend.ActivityTask, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	row := tx.QueryRowContext(
		ctx,
		`SELECT id, instance_id, event_type, schedule_event_id, attributes, timestamp, attempt
			FROM activities
			WHERE (visible_at IS NULL OR visible_at <= ?) AND (locked_until IS NULL OR locked_until < ?)
			LIMIT 1`,
		now,
		now,
	)

	var id, instanceID string
	var eventType history.EventType
	var scheduleEventID int64
	var attributes []byte
	var timestamp time.Time
	var attempt int
	if err := row.Scan(&id, &instanceID, &eventType, &scheduleEventID, &attributes, &timestamp, &attempt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("selecting activity task: %w", err)
	}

	taskID := uuid.NewString()
	if _, err := tx.ExecContext(
		ctx,
		"UPDATE activities SET locked_until = ?, locked_by = ? WHERE id = ?",
		now.Add(sb.options.ActivityLockTimeout),
		taskID,
		id,
	); err != nil {
		return nil, fmt.Errorf("locking activity task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	attr, err := history.DeserializeAttributes(eventType, attributes)
	if err != nil {
		return nil, err
	}

	event := &history.Event{
		ID:              id,
		Type:            eventType,
		Timestamp:       timestamp,
		SequenceID:      scheduleEventID,
		ScheduleEventID: scheduleEventID,
		Attributes:      attr,
	}

	return &backend.ActivityTask{
		ID:       taskID,
		Instance: core.NewInstance(instanceID),
		Event:    event,
		Attempt:  attempt,
	}, nil
}

func (sb *sqliteBackend) ExtendActivityTask(ctx context.Context, task *backend.ActivityTask) error {
	until := time.Now().UTC().Add(sb.options.ActivityLockTimeout)

	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE activities SET locked_until = ? WHERE id = ? AND locked_by = ?",
		until,
		task.Event.ID,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("extending activity lock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrTaskAlreadyCompleted
	}

	return nil
}

func (sb *sqliteBackend) CompleteActivityTask(ctx context.Context, task *backend.ActivityTask, result *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Only the lock holder may complete the task; this keeps at most one
	// recorded result per correlation id.
	res, err := tx.ExecContext(
		ctx,
		"DELETE FROM activities WHERE id = ? AND locked_by = ?",
		task.Event.ID,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("removing activity task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrTaskAlreadyCompleted
	}

	if err := insertPendingEvent(ctx, tx, task.Instance.InstanceID, result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("completing activity task: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) RetryActivityTask(ctx context.Context, task *backend.ActivityTask, attempt int, visibleAt time.Time) error {
	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE activities SET attempt = ?, visible_at = ?, locked_until = NULL, locked_by = NULL WHERE id = ? AND locked_by = ?",
		attempt,
		visibleAt.UTC(),
		task.Event.ID,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("retrying activity task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrTaskAlreadyCompleted
	}

	return nil
}

func (sb *sqliteBackend) Logger() *slog.Logger {
	return sb.options.Logger
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics
}

func (sb *sqliteBackend) Converter() converter.Converter {
	return sb.options.Converter
}

func (sb *sqliteBackend) Options() *backend.Options {
	return &sb.options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}
