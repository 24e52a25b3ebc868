package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// OutboxStore implements domain.OutboxStore over the outbox table. Rows
// are appended by the repository inside mutation transactions; this
// store only ever updates dispatch bookkeeping. Rows are never deleted.
type OutboxStore struct {
	db *sql.DB
}

// Compile-time check: OutboxStore implements the port.
var _ domain.OutboxStore = (*OutboxStore)(nil)

// NewOutboxStore wraps an already-migrated database connection.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

const selectEvent = `SELECT
	seq, id, topic, convention_id, payload, occurred_at,
	publish_status, attempt_count, last_error, feedback_status, feedback_body
FROM outbox`

func (s *OutboxStore) GetEvent(ctx context.Context, id string) (domain.DomainEvent, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, selectEvent+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DomainEvent{}, domain.ErrEventNotFound
	}
	return e, err
}

// HasOlderPending reports whether an earlier event for the same
// convention has not yet reached a terminal publish status.
func (s *OutboxStore) HasOlderPending(ctx context.Context, conventionID string, seq int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM outbox
		 WHERE convention_id = ? AND seq < ? AND publish_status = ?
		 LIMIT 1`,
		conventionID, seq, string(domain.PublishPending),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking older pending events: %w", err)
	}
	return true, nil
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.PublishPublished, nil, nil, nil)
}

func (s *OutboxStore) RecordFailure(ctx context.Context, id string, attempts int, lastError string, fb *domain.ErrorFeedback) error {
	return s.setStatus(ctx, id, domain.PublishPending, &attempts, &lastError, fb)
}

func (s *OutboxStore) Quarantine(ctx context.Context, id string, attempts int, lastError string, fb *domain.ErrorFeedback) error {
	return s.setStatus(ctx, id, domain.PublishQuarantined, &attempts, &lastError, fb)
}

func (s *OutboxStore) setStatus(ctx context.Context, id string, status domain.PublishStatus, attempts *int, lastError *string, fb *domain.ErrorFeedback) error {
	query := `UPDATE outbox SET publish_status = ?`
	args := []any{string(status)}

	if attempts != nil {
		query += `, attempt_count = ?`
		args = append(args, *attempts)
	}
	if lastError != nil {
		query += `, last_error = ?`
		args = append(args, *lastError)
	}
	if fb != nil {
		query += `, feedback_status = ?, feedback_body = ?`
		args = append(args, fb.StatusCode, fb.Body)
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating outbox event %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// Drain returns PENDING events oldest first. The order is total within a
// convention (seq breaks occurred-at ties); no cross-convention order is
// promised.
func (s *OutboxStore) Drain(ctx context.Context, batchSize int) ([]domain.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEvent+` WHERE publish_status = ? ORDER BY occurred_at ASC, seq ASC LIMIT ?`,
		string(domain.PublishPending), batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("draining outbox: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func (s *OutboxStore) ListQuarantined(ctx context.Context, limit int) ([]domain.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEvent+` WHERE publish_status = ? ORDER BY occurred_at DESC LIMIT ?`,
		string(domain.PublishQuarantined), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing quarantined events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func scanEvent(row rowScanner) (domain.DomainEvent, error) {
	var (
		e              domain.DomainEvent
		topic          string
		payload        string
		occurredAt     string
		publishStatus  string
		feedbackStatus sql.NullInt64
		feedbackBody   sql.NullString
	)

	err := row.Scan(
		&e.Seq, &e.ID, &topic, &e.ConventionID, &payload, &occurredAt,
		&publishStatus, &e.AttemptCount, &e.LastError, &feedbackStatus, &feedbackBody,
	)
	if err != nil {
		return domain.DomainEvent{}, err
	}

	e.Topic = domain.Topic(topic)
	e.Payload = json.RawMessage(payload)
	e.PublishStatus = domain.PublishStatus(publishStatus)
	e.OccurredAt, _ = time.Parse(timeFormat, occurredAt)
	if feedbackStatus.Valid {
		e.Feedback = &domain.ErrorFeedback{
			StatusCode: int(feedbackStatus.Int64),
			Body:       feedbackBody.String,
		}
	}

	return e, nil
}

func collectEvents(rows *sql.Rows) ([]domain.DomainEvent, error) {
	var out []domain.DomainEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
