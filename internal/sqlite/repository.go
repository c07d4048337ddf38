// Package sqlite implements domain.EventRepository on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository implements domain.EventRepository using SQLite.
type Repository struct {
	db *sql.DB
}

var _ domain.EventRepository = (*Repository)(nil)

// NewRepository opens the SQLite database at path, applies pending
// migrations and returns a new Repository. The caller should call Close
// when the repository is no longer needed.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared across queries.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %q: %w", pragma, err)
		}
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

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
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

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (
			hub_event_id, hash, fid, event_type, message_type, timestamp,
			description, raw, mentions, parent_fid, parent_hash, parent_url, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hub_event_id) DO NOTHING`,
		int64(event.SequenceID),
		event.Hash,
		int64(event.FID),
		string(event.Type),
		event.MessageType,
		int64(event.Timestamp),
		event.Description,
		string(event.Raw),
		mentions,
		nullableFID(event.ParentFID),
		event.ParentHash,
		event.ParentURL,
		time.Now().UTC().UnixMilli(),
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

// RecentEvents returns up to limit events, newest first.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		ORDER BY hub_event_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events (limit=%d): %w", limit, err)
	}
	return scanEvents(rows)
}

// EventsAfter returns up to limit events after the given id, oldest first.
func (r *Repository) EventsAfter(ctx context.Context, after uint64, limit int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE hub_event_id > ?
		ORDER BY hub_event_id ASC
		LIMIT ?`, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("query events after %d (limit=%d): %w", after, limit, err)
	}
	return scanEvents(rows)
}

// LatestSequenceID returns the highest stored hub event id, or 0.
func (r *Repository) LatestSequenceID(ctx context.Context) (uint64, error) {
	var latest sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(hub_event_id) FROM events`).Scan(&latest); err != nil {
		return 0, fmt.Errorf("query latest sequence id: %w", err)
	}
	return uint64(latest.Int64), nil
}

// DeleteOldEvents removes events indexed before maxAge ago and any rows
// beyond the maxRows most recent. A zero limit skips that rule.
func (r *Repository) DeleteOldEvents(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var deleted int64

	if maxAge > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE indexed_at < ?`,
			time.Now().UTC().Add(-maxAge).UnixMilli(),
		)
		if err != nil {
			return 0, fmt.Errorf("delete expired events: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if maxRows > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE hub_event_id IN (
				SELECT hub_event_id FROM events
				ORDER BY hub_event_id DESC
				LIMIT -1 OFFSET ?
			)`, maxRows,
		)
		if err != nil {
			return 0, fmt.Errorf("delete excess events: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return deleted, nil
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
			raw        string
			mentions   sql.NullString
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
		if mentions.Valid && mentions.String != "" {
			if err := json.Unmarshal([]byte(mentions.String), &e.Mentions); err != nil {
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

func nullableFID(fid *uint64) any {
	if fid == nil {
		return nil
	}
	return int64(*fid)
}
