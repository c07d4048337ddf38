package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository implements domain.EventRepository using PostgreSQL.
type Repository struct {
	db *sql.DB
}

var _ domain.EventRepository = (*Repository)(nil)

// NewRepository connects to PostgreSQL at the given URL, verifies the
// connection, applies pending migrations and returns a new Repository. The
// caller should call Close when the repository is no longer needed.
func NewRepository(databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// AppendEvent inserts an event. An existing hub_event_id is left untouched.
func (r *Repository) AppendEvent(ctx context.Context, event domain.Event) error {
	var mentions any
	if len(event.Mentions) > 0 {
		b, err := json.Marshal(event.Mentions)
		if err != nil {
			return fmt.Errorf("marshal mentions: %w", err)
		}
		mentions = string(b)
	}

	var parentFID any
	if event.ParentFID != nil {
		parentFID = int64(*event.ParentFID)
	}

	query := `
		INSERT INTO events (
			hub_event_id, hash, fid, event_type, message_type, timestamp,
			description, raw, mentions, parent_fid, parent_hash, parent_url, indexed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (hub_event_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		int64(event.SequenceID),
		event.Hash,
		int64(event.FID),
		string(event.Type),
		event.MessageType,
		int64(event.Timestamp),
		event.Description,
		string(event.Raw),
		mentions,
		parentFID,
		event.ParentHash,
		event.ParentURL,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", event.SequenceID, err)
	}
	return nil
}

const selectColumns = `
	SELECT hub_event_id, hash, fid, event_type, message_type, timestamp,
		description, raw, mentions, parent_fid, parent_hash, parent_url
	FROM events`

// RecentEvents returns up to limit events ordered by hub event id
// descending.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		ORDER BY hub_event_id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent events (limit=%d): %w", limit, err)
	}
	return scanEvents(rows)
}

// EventsAfter returns up to limit events with an id above after, ascending.
func (r *Repository) EventsAfter(ctx context.Context, after uint64, limit int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE hub_event_id > $1
		ORDER BY hub_event_id ASC
		LIMIT $2`,
		int64(after), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events after %d (limit=%d): %w", after, limit, err)
	}
	return scanEvents(rows)
}

// LatestSequenceID returns the highest stored hub event id, or 0 when the
// table is empty.
func (r *Repository) LatestSequenceID(ctx context.Context) (uint64, error) {
	var latest sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(hub_event_id) FROM events`).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("query latest sequence id: %w", err)
	}
	return uint64(latest.Int64), nil
}

// DeleteOldEvents removes events older than maxAge and any excess rows
// beyond maxRows, keeping the most recent. A zero limit skips that rule.
// Returns the total number of rows deleted.
func (r *Repository) DeleteOldEvents(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ttlDeleted, capDeleted int64

	// Delete events older than maxAge
	if maxAge > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE indexed_at < $1`,
			time.Now().UTC().Add(-maxAge),
		)
		if err != nil {
			return 0, fmt.Errorf("delete expired events: %w", err)
		}
		ttlDeleted, _ = res.RowsAffected()
	}

	// Delete excess rows beyond maxRows, keeping the most recent
	if maxRows > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE hub_event_id IN (
				SELECT hub_event_id FROM events
				ORDER BY hub_event_id DESC
				OFFSET $1
			)`, maxRows,
		)
		if err != nil {
			return 0, fmt.Errorf("delete excess events: %w", err)
		}
		capDeleted, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return ttlDeleted + capDeleted, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var (
			e          domain.Event
			seq, fid   int64
			ts         int64
			eventType  string
			raw        []byte
			mentions   []byte
			parentFID  sql.NullInt64
			parentHash sql.NullString
			parentURL  sql.NullString
		)
		err := rows.Scan(
			&seq, &e.Hash, &fid, &eventType, &e.MessageType, &ts,
			&e.Description, &raw, &mentions, &parentFID, &parentHash, &parentURL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.SequenceID = uint64(seq)
		e.FID = uint64(fid)
		e.Type = domain.EventType(eventType)
		e.Timestamp = uint64(ts)
		e.Raw = json.RawMessage(raw)
		if len(mentions) > 0 {
			if err := json.Unmarshal(mentions, &e.Mentions); err != nil {
				return nil, fmt.Errorf("unmarshal mentions of event %d: %w", seq, err)
			}
		}
		if parentFID.Valid {
			v := uint64(parentFID.Int64)
			e.ParentFID = &v
		}
		if parentHash.Valid {
			e.ParentHash = &parentHash.String
		}
		if parentURL.Valid {
			e.ParentURL = &parentURL.String
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
