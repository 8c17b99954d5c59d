package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
)

// Append inserts the events in a single transaction. The primary key on (instance_id, sequence_id) rejects a
// concurrent append that read the same last sequence id.
func (b *mysqlBackend) Append(ctx context.Context, instanceID string, events ...*history.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
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

	conflict := &backend.SequenceConflictError{InstanceID: instanceID, Expected: lastSequenceID + 1, Actual: events[0].SequenceID}

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
			e.Timestamp.UTC(),
			attributes,
		); err != nil {
			if isDuplicateKey(err) || isDeadlock(err) {
				return conflict
			}

			return fmt.Errorf("inserting event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isDeadlock(err) {
			return conflict
		}

		return fmt.Errorf("committing events: %w", err)
	}

	return nil
}

func (b *mysqlBackend) ReadAll(ctx context.Context, instanceID string) ([]*history.Event, error) {
	rows, err := b.db.QueryContext(
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

		var attributes []byte
		if err := rows.Scan(&e.ID, &e.SequenceID, &e.Type, &e.TaskID, &e.Timestamp, &attributes); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		e.Timestamp = e.Timestamp.UTC()

		e.Attributes, err = history.DeserializeAttributes(e.Type, attributes)
		if err != nil {
			return nil, fmt.Errorf("deserializing attributes: %w", err)
		}

		events = append(events, e)
	}

	return events, rows.Err()
}
