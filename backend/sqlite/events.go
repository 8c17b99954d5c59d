package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Append writes the events in an immediate transaction, so concurrent appends to the same database are
// serialized and the sequence check sees the latest history.
func (sb *sqliteBackend) Append(ctx context.Context, instanceID string, events ...*history.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var lastSequenceID int64
	var finished bool
	if err := tx.QueryRowContext(
		ctx,
		"SELECT COALESCE(MAX(sequence_id), 0), COALESCE(MAX(event_type = ?), 0) FROM `history` WHERE instance_id = ?",
		history.EventType_OrchestratorCompleted,
		instanceID,
	).Scan(&lastSequenceID, &finished); err != nil {
		return fmt.Errorf("reading history state: %w", err)
	}

	if err := backend.CheckAppend(instanceID, lastSequenceID, finished, events); err != nil {
		return err
	}

	if err := insertEvents(ctx, tx, instanceID, events); err != nil {
		if isPrimaryKeyViolation(err) {
			return &backend.SequenceConflictError{InstanceID: instanceID, Expected: lastSequenceID + 1, Actual: events[0].SequenceID}
		}

		return fmt.Errorf("inserting events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing events: %w", err)
	}

	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, instanceID string, events []*history.Event) error {
	for _, e := range events {
		attributes, err := history.SerializeAttributes(e.Attributes)
		if err != nil {
			return fmt.Errorf("serializing attributes: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO `history` (instance_id, sequence_id, id, event_type, task_id, timestamp, attributes) VALUES (?, ?, ?, ?, ?, ?, ?)",
			instanceID,
			e.SequenceID,
			e.ID,
			e.Type,
			e.TaskID,
			e.Timestamp.UnixNano(),
			attributes,
		); err != nil {
			return err
		}
	}

	return nil
}

func (sb *sqliteBackend) ReadAll(ctx context.Context, instanceID string) ([]*history.Event, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT id, sequence_id, event_type, task_id, timestamp, attributes FROM `history` WHERE instance_id = ? ORDER BY sequence_id",
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	events := make([]*history.Event, 0)
	for rows.Next() {
		e := &history.Event{}

		var timestamp int64
		var attributes []byte
		if err := rows.Scan(&e.ID, &e.SequenceID, &e.Type, &e.TaskID, &timestamp, &attributes); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		e.Timestamp = time.Unix(0, timestamp).UTC()

		e.Attributes, err = history.DeserializeAttributes(e.Type, attributes)
		if err != nil {
			return nil, fmt.Errorf("deserializing attributes: %w", err)
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
