package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/learn-automated-testing/invoiceflow/backend/history"
)

func insertHistoryEvents(ctx context.Context, tx *sql.Tx, instanceID string, events []*history.Event) error {
	for _, event := range events {
		attributes, err := history.SerializeAttributes(event.Attributes)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO history (instance_id, sequence_id, id, event_type, schedule_event_id, attributes, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
			instanceID,
			event.SequenceID,
			event.ID,
			event.Type,
			event.ScheduleEventID,
			attributes,
			event.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("inserting history event: %w", err)
		}
	}

	return nil
}

func insertPendingEvent(ctx context.Context, tx *sql.Tx, instanceID string, event *history.Event) error {
	attributes, err := history.SerializeAttributes(event.Attributes)
	if err != nil {
		return err
	}

	var visibleAt any
	if event.VisibleAt != nil {
		visibleAt = event.VisibleAt.UTC()
	}

	if _, err := tx.ExecContext(
		ctx,
		"INSERT INTO pending_events (id, instance_id, event_type, schedule_event_id, attributes, timestamp, visible_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		event.ID,
		instanceID,
		event.Type,
		event.ScheduleEventID,
		attributes,
		event.Timestamp.UTC(),
		visibleAt,
	); err != nil {
		return fmt.Errorf("inserting pending event: %w", err)
	}

	return nil
}

func enqueueActivity(ctx context.Context, tx *sql.Tx, instanceID string, event *history.Event) error {
	attributes, err := history.SerializeAttributes(event.Attributes)
	if err != nil {
		return err
	}

	attempt := 1
	if a, ok := event.Attributes.(*history.ActivityScheduledAttributes); ok && a.Attempt > 0 {
		attempt = a.Attempt
	}

	if _, err := tx.ExecContext(
		ctx,
		"INSERT INTO activities (id, instance_id, event_type, schedule_event_id, attributes, timestamp, attempt, visible_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		event.ID,
		instanceID,
		event.Type,
		event.ScheduleEventID,
		attributes,
		event.Timestamp.UTC(),
		attempt,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("enqueueing activity: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistoryEvent(row scanner) (*history.Event, error) {
	var id string
	var sequenceID, scheduleEventID int64
	var eventType history.EventType
	var attributes []byte
	var timestamp time.Time

	if err := row.Scan(&id, &sequenceID, &eventType, &scheduleEventID, &attributes, &timestamp); err != nil {
		return nil, fmt.Errorf("scanning history event: %w", err)
	}

	attr, err := history.DeserializeAttributes(eventType, attributes)
	if err != nil {
		return nil, err
	}

	return &history.Event{
		ID:              id,
		Type:            eventType,
		Timestamp:       timestamp,
		SequenceID:      sequenceID,
		ScheduleEventID: scheduleEventID,
		Attributes:      attr,
	}, nil
}

func scanPendingEvent(row scanner) (*history.Event, error) {
	var id string
	var scheduleEventID int64
	var eventType history.EventType
	var attributes []byte
	var timestamp time.Time

	if err := row.Scan(&id, &eventType, &scheduleEventID, &attributes, &timestamp); err != nil {
		return nil, fmt.Errorf("scanning pending event: %w", err)
	}

	attr, err := history.DeserializeAttributes(eventType, attributes)
	if err != nil {
		return nil, err
	}

	return &history.Event{
		ID:              id,
		Type:            eventType,
		Timestamp:       timestamp,
		ScheduleEventID: scheduleEventID,
		Attributes:      attr,
	}, nil
}
