package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// JobEnqueuer inserts the dispatch job for an outbox event inside the
// caller's transaction, so the job exists exactly when the event does.
type JobEnqueuer interface {
	EnqueueDispatchTx(ctx context.Context, tx *sql.Tx, event domain.DomainEvent) error
}

// ConventionRepository implements domain.ConventionRepository using SQLite.
type ConventionRepository struct {
	db      *sql.DB
	enqueue JobEnqueuer
}

// Compile-time check: ConventionRepository implements the port.
var _ domain.ConventionRepository = (*ConventionRepository)(nil)

// Open opens a SQLite database, runs migrations, and returns a ready
// repository. The enqueuer may be nil only in tests that bypass dispatch.
func Open(dataSourceName string, enqueue JobEnqueuer) (*ConventionRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db, enqueue)
}

// NewFromDB wraps an existing database connection, runs migrations, and
// returns a ready repository. Use this when the *sql.DB has been
// pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB, enqueue JobEnqueuer) (*ConventionRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &ConventionRepository{db: db, enqueue: enqueue}, nil
}

// SetEnqueuer installs the dispatch enqueuer after construction. The job
// queue client needs the database, so wiring is circular at startup.
func (r *ConventionRepository) SetEnqueuer(enqueue JobEnqueuer) {
	r.enqueue = enqueue
}

// Close closes the underlying database connection.
func (r *ConventionRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying connection for use by other adapters
// (outbox store, river).
func (r *ConventionRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = time.RFC3339Nano

// CreateWithEvent inserts a convention and, when present, its
// identity-binding event in one transaction.
func (r *ConventionRepository) CreateWithEvent(ctx context.Context, c domain.Convention, event *domain.DomainEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	signatories, validators, err := marshalAggregates(c)
	if err != nil {
		return err
	}

	var renewedFrom, renewedJustification any
	if c.Renewed != nil {
		renewedFrom = c.Renewed.FromID
		renewedJustification = c.Renewed.Justification
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conventions (
			id, status, agency_id, siret, appellation_code,
			date_start, date_end,
			beneficiary_first_name, beneficiary_last_name, beneficiary_email, beneficiary_birthdate,
			signatories, validators, status_justification,
			renewed_from, renewed_justification, federated_identity,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Status), c.AgencyID, c.Siret, c.AppellationCode,
		c.DateStart.UTC().Format(timeFormat), c.DateEnd.UTC().Format(timeFormat),
		c.Beneficiary.FirstName, c.Beneficiary.LastName, c.Beneficiary.Email,
		c.Beneficiary.Birthdate.UTC().Format(timeFormat),
		signatories, validators, c.StatusJustification,
		renewedFrom, renewedJustification, c.FederatedIdentity,
		c.CreatedAt.UTC().Format(timeFormat), c.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting convention: %w", err)
	}

	if event != nil {
		if err := r.appendEventTx(ctx, tx, *event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing convention insert: %w", err)
	}
	return nil
}

// CommitWithEvent persists a mutation guarded by the expected current
// status, appending the event (when non-nil) atomically. The guard
// failing rolls everything back: no partial state, no orphan event.
func (r *ConventionRepository) CommitWithEvent(ctx context.Context, c domain.Convention, expected domain.Status, event *domain.DomainEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	signatories, validators, err := marshalAggregates(c)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE conventions
		 SET status = ?, signatories = ?, validators = ?,
		     status_justification = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(c.Status), signatories, validators,
		c.StatusJustification, c.UpdatedAt.UTC().Format(timeFormat),
		c.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("updating convention: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing row from a lost optimistic lock.
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM conventions WHERE id = ?`, c.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrConventionNotFound
		}
		if err != nil {
			return fmt.Errorf("checking convention existence: %w", err)
		}
		return &domain.ConcurrentModificationError{ConventionID: c.ID, Expected: expected}
	}

	if event != nil {
		if err := r.appendEventTx(ctx, tx, *event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing convention update: %w", err)
	}
	return nil
}

// appendEventTx writes the outbox row and enqueues its dispatch job in
// the same transaction.
func (r *ConventionRepository) appendEventTx(ctx context.Context, tx *sql.Tx, event domain.DomainEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (id, topic, convention_id, payload, occurred_at, publish_status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Topic), event.ConventionID, string(event.Payload),
		event.OccurredAt.UTC().Format(timeFormat), string(domain.PublishPending),
	)
	if err != nil {
		return fmt.Errorf("appending outbox event: %w", err)
	}

	if r.enqueue != nil {
		if err := r.enqueue.EnqueueDispatchTx(ctx, tx, event); err != nil {
			return fmt.Errorf("enqueuing dispatch job: %w", err)
		}
	}
	return nil
}

func (r *ConventionRepository) GetByID(ctx context.Context, id string) (domain.Convention, error) {
	row := r.db.QueryRowContext(ctx, selectConvention+` WHERE id = ?`, id)
	c, err := scanConvention(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Convention{}, domain.ErrConventionNotFound
	}
	return c, err
}

func (r *ConventionRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Convention, error) {
	query := selectConvention
	var clauses []string
	var args []any

	if filter.Status != nil {
		clauses = append(clauses, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if filter.AgencyID != "" {
		clauses = append(clauses, `agency_id = ?`)
		args = append(args, filter.AgencyID)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` WHERE ` + clause
		} else {
			query += ` AND ` + clause
		}
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conventions: %w", err)
	}
	defer rows.Close()

	return collectConventions(rows)
}

// FindCandidates returns conventions sharing siret and appellation code.
// Fine-grained duplicate filtering happens in the domain.
func (r *ConventionRepository) FindCandidates(ctx context.Context, siret, appellationCode string) ([]domain.Convention, error) {
	rows, err := r.db.QueryContext(ctx,
		selectConvention+` WHERE siret = ? AND appellation_code = ? ORDER BY date_start DESC`,
		siret, appellationCode,
	)
	if err != nil {
		return nil, fmt.Errorf("querying duplicate candidates: %w", err)
	}
	defer rows.Close()

	return collectConventions(rows)
}

const selectConvention = `SELECT
	id, status, agency_id, siret, appellation_code,
	date_start, date_end,
	beneficiary_first_name, beneficiary_last_name, beneficiary_email, beneficiary_birthdate,
	signatories, validators, status_justification,
	renewed_from, renewed_justification, federated_identity,
	created_at, updated_at
FROM conventions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConvention(row rowScanner) (domain.Convention, error) {
	var (
		c                                 domain.Convention
		status                            string
		dateStart, dateEnd, birthdate     string
		signatories, validators           string
		renewedFrom, renewedJustification sql.NullString
		createdAt, updatedAt              string
	)

	err := row.Scan(
		&c.ID, &status, &c.AgencyID, &c.Siret, &c.AppellationCode,
		&dateStart, &dateEnd,
		&c.Beneficiary.FirstName, &c.Beneficiary.LastName, &c.Beneficiary.Email, &birthdate,
		&signatories, &validators, &c.StatusJustification,
		&renewedFrom, &renewedJustification, &c.FederatedIdentity,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Convention{}, err
	}

	c.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(signatories), &c.Signatories); err != nil {
		return domain.Convention{}, fmt.Errorf("decoding signatories: %w", err)
	}
	if err := json.Unmarshal([]byte(validators), &c.Validators); err != nil {
		return domain.Convention{}, fmt.Errorf("decoding validators: %w", err)
	}
	if renewedFrom.Valid {
		c.Renewed = &domain.Renewal{
			FromID:        renewedFrom.String,
			Justification: renewedJustification.String,
		}
	}

	c.DateStart, _ = time.Parse(timeFormat, dateStart)
	c.DateEnd, _ = time.Parse(timeFormat, dateEnd)
	c.Beneficiary.Birthdate, _ = time.Parse(timeFormat, birthdate)
	c.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	c.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return c, nil
}

func collectConventions(rows *sql.Rows) ([]domain.Convention, error) {
	var out []domain.Convention
	for rows.Next() {
		c, err := scanConvention(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning convention row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalAggregates(c domain.Convention) (signatories, validators string, err error) {
	sigBytes, err := json.Marshal(c.Signatories)
	if err != nil {
		return "", "", fmt.Errorf("encoding signatories: %w", err)
	}
	vals := c.Validators
	if vals == nil {
		vals = []string{}
	}
	valBytes, err := json.Marshal(vals)
	if err != nil {
		return "", "", fmt.Errorf("encoding validators: %w", err)
	}
	return string(sigBytes), string(valBytes), nil
}
