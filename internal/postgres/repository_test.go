package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var eventColumns = []string{
	"hub_event_id", "hash", "fid", "event_type", "message_type", "timestamp",
	"description", "raw", "mentions", "parent_fid", "parent_hash", "parent_url",
}

func TestAppendEvent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &Repository{db: db}

	parentFID := uint64(3)
	parentHash := "0xparent"
	e := domain.Event{
		SequenceID:  100,
		Hash:        "0xcafe",
		FID:         5,
		Type:        domain.EventCastAdd,
		MessageType: 1,
		Timestamp:   1700000000,
		Description: "fid:5 casted cast:cafe gm",
		Raw:         []byte(`{"id":100}`),
		Mentions:    []uint64{7, 9},
		ParentFID:   &parentFID,
		ParentHash:  &parentHash,
	}

	mock.ExpectExec("INSERT INTO events .+ ON CONFLICT \\(hub_event_id\\) DO NOTHING").
		WithArgs(int64(100), "0xcafe", int64(5), "CAST_ADD", int32(1), int64(1700000000),
			"fid:5 casted cast:cafe gm", `{"id":100}`, "[7,9]", int64(3), "0xparent", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AppendEvent(context.Background(), e))
}

func TestAppendEventError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &Repository{db: db}

	mock.ExpectExec("INSERT INTO events").WillReturnError(errors.New("connection reset"))

	err := repo.AppendEvent(context.Background(), domain.Event{SequenceID: 1, Raw: []byte(`{}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert event 1")
}

func TestRecentEvents(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &Repository{db: db}

	rows := sqlmock.NewRows(eventColumns).
		AddRow(int64(9), "0xb", int64(2), "LINK_ADD", int32(5), int64(1700000009), "fid:2 link:follow fid:1",
			[]byte(`{"id":9}`), nil, nil, nil, nil).
		AddRow(int64(8), "0xa", int64(1), "CAST_ADD", int32(1), int64(1700000008), "fid:1 casted cast:a hi",
			[]byte(`{"id":8}`), []byte(`[4]`), int64(6), "0xp", "https://example.com")
	mock.ExpectQuery("SELECT .+ FROM events\\s+ORDER BY hub_event_id DESC\\s+LIMIT \\$1").
		WithArgs(2).
		WillReturnRows(rows)

	events, err := repo.RecentEvents(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, uint64(9), events[0].SequenceID)
	assert.Equal(t, domain.EventLinkAdd, events[0].Type)
	assert.Nil(t, events[0].Mentions)
	assert.Nil(t, events[0].ParentFID)

	assert.Equal(t, uint64(8), events[1].SequenceID)
	assert.Equal(t, []uint64{4}, events[1].Mentions)
	require.NotNil(t, events[1].ParentFID)
	assert.Equal(t, uint64(6), *events[1].ParentFID)
	assert.Equal(t, "https://example.com", *events[1].ParentURL)
	assert.JSONEq(t, `{"id":8}`, string(events[1].Raw))
}

func TestEventsAfter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &Repository{db: db}

	mock.ExpectQuery("SELECT .+ FROM events\\s+WHERE hub_event_id > \\$1\\s+ORDER BY hub_event_id ASC\\s+LIMIT \\$2").
		WithArgs(int64(5), 10).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(int64(6), "0xa", int64(1), "CAST_REMOVE", int32(2), int64(1), "fid:1 deleted cast:a",
				[]byte(`{}`), nil, nil, nil, nil))

	events, err := repo.EventsAfter(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCastRemove, events[0].Type)
}

func TestLatestSequenceID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &Repository{db: db}

	mock.ExpectQuery("SELECT MAX\\(hub_event_id\\) FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(77)))
	mock.ExpectQuery("SELECT MAX\\(hub_event_id\\) FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	latest, err := repo.LatestSequenceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(77), latest)

	latest, err = repo.LatestSequenceID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestDeleteOldEvents(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &Repository{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM events WHERE indexed_at < \\$1").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM events WHERE hub_event_id IN").
		WithArgs(500).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	deleted, err := repo.DeleteOldEvents(context.Background(), 3600e9, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
}

func TestDeleteOldEventsSkipsDisabledRules(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &Repository{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM events WHERE hub_event_id IN").
		WithArgs(10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	deleted, err := repo.DeleteOldEvents(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteOldEventsRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &Repository{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM events WHERE indexed_at").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := repo.DeleteOldEvents(context.Background(), 3600e9, 0)
	assert.Error(t, err)
}
