package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlink/tutorbilling/domain/webhook"
	"github.com/tutorlink/tutorbilling/ports"
)

// EventStore implements ports.EventLog using SQLite.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new SQLite webhook event ledger.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Begin records an event as received. A redelivery bumps the attempt
// counter and returns the entry as it was before this delivery.
func (s *EventStore) Begin(ctx context.Context, eventID, eventType string, now time.Time) (webhook.Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return webhook.Entry{}, false, fmt.Errorf("begin event: %w", err)
	}
	defer tx.Rollback()

	prior, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE event_id = ?`, eventID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO webhook_events (event_id, event_type, status, attempts, received_at)
			VALUES (?, ?, ?, 1, ?)
		`, eventID, eventType, string(webhook.StatusReceived), now.UTC())
		if err != nil {
			return webhook.Entry{}, false, fmt.Errorf("insert event: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return webhook.Entry{}, false, err
		}
		return webhook.Entry{}, false, nil
	case err != nil:
		return webhook.Entry{}, false, err
	}

	if webhook.ShouldDispatch(prior, true) {
		_, err = tx.ExecContext(ctx, `
			UPDATE webhook_events SET attempts = attempts + 1, status = ?
			WHERE event_id = ?
		`, string(webhook.StatusReceived), eventID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE webhook_events SET attempts = attempts + 1 WHERE event_id = ?`, eventID)
	}
	if err != nil {
		return webhook.Entry{}, false, fmt.Errorf("update event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return webhook.Entry{}, false, err
	}
	return prior, true, nil
}

// Finish stores the processing outcome of an event.
func (s *EventStore) Finish(ctx context.Context, eventID string, status webhook.Status, errText string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = ?, error = ?, processed_at = ?
		WHERE event_id = ?
	`, string(status), nullString(errText), now.UTC(), eventID)
	if err != nil {
		return fmt.Errorf("finish event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

// Get retrieves a ledger entry.
func (s *EventStore) Get(ctx context.Context, eventID string) (webhook.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE event_id = ?`, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.Entry{}, webhook.ErrNotFound
	}
	return e, err
}

// ListFailed returns failed events, oldest first.
func (s *EventStore) ListFailed(ctx context.Context, limit int) ([]webhook.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM webhook_events
		WHERE status = ?
		ORDER BY received_at
		LIMIT ?
	`, string(webhook.StatusFailed), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []webhook.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const eventColumns = `event_id, event_type, status, attempts, error, received_at, processed_at`

func scanEntry(row scanner) (webhook.Entry, error) {
	var (
		e           webhook.Entry
		status      string
		errText     sql.NullString
		processedAt sql.NullTime
	)
	err := row.Scan(&e.EventID, &e.EventType, &status, &e.Attempts, &errText, &e.ReceivedAt, &processedAt)
	if err != nil {
		return webhook.Entry{}, err
	}
	e.Status = webhook.Status(status)
	e.Error = errText.String
	e.ReceivedAt = e.ReceivedAt.UTC()
	e.ProcessedAt = timePtr(processedAt)
	return e, nil
}

// Ensure interface compliance.
var _ ports.EventLog = (*EventStore)(nil)
