package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventwatch/pkg/logx"
)

func writeQueryDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	q := "SELECT id, event_name, created_at, email, vessel FROM events WHERE type_id = $1"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.sql"), []byte(q), 0o644))
	return dir
}

func TestFetchEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, event_name").
		WithArgs(18, 3, "%hot%", "%vessel%", 17).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_name", "created_at", "email", "vessel"}).
			AddRow(int64(101), "hot work aft deck", created, "ops@prominencemaritime.com", "MV Aurora").
			AddRow(int64(102), "hot work galley", created, "crew@seatraders.gr", "MV Boreas"))

	s := New(db, writeQueryDir(t), logx.Nop())
	events, err := s.FetchEvents(context.Background(), "events.sql", Params{
		TypeID: 18, StatusID: 3, NameFilter: "hot", NameExclude: "vessel", LookbackDays: 17,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(101), events[0].ID)
	assert.Equal(t, "hot work aft deck", events[0].Name)
	assert.Equal(t, created, events[0].CreatedAt)
	assert.Equal(t, "ops@prominencemaritime.com", events[0].RoutingKey)
	require.Len(t, events[0].Extra, 1)
	assert.Equal(t, "vessel", events[0].Extra[0].Name)
	assert.Equal(t, "MV Aurora", events[0].Extra[0].Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchEventsMissingColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, event_name").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_name"}).
			AddRow(int64(1), "hot work"))

	s := New(db, writeQueryDir(t), logx.Nop())
	_, err = s.FetchEvents(context.Background(), "events.sql", Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumns))
	assert.Contains(t, err.Error(), "created_at")
	assert.Contains(t, err.Error(), "email")
}

func TestFetchEventsEmptyResultSkipsValidation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Zero rows with the wrong columns is fine: validation only applies
	// to non-empty result sets.
	mock.ExpectQuery("SELECT id, event_name").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s := New(db, writeQueryDir(t), logx.Nop())
	events, err := s.FetchEvents(context.Background(), "events.sql", Params{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFetchTypeStatusDegradesToDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.sql"),
		[]byte("SELECT type_name, status_name FROM labels WHERE type_id = $1 AND status_id = $2"), 0o644))

	mock.ExpectQuery("SELECT type_name").WillReturnError(errors.New("boom"))

	s := New(db, dir, logx.Nop())
	ts := s.FetchTypeStatus(context.Background(), "labels.sql", 18, 3)
	assert.Equal(t, "Default Type", ts.TypeName)
	assert.Equal(t, "Default Status", ts.StatusName)
}

func TestLoadQueryContainment(t *testing.T) {
	dir := writeQueryDir(t)

	_, err := LoadQuery(dir, "../escape.sql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")

	_, err = LoadQuery(dir, "events.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".sql")

	_, err = LoadQuery(dir, "missing.sql")
	require.Error(t, err)

	q, err := LoadQuery(dir, "events.sql")
	require.NoError(t, err)
	assert.Contains(t, q, "SELECT")
}

func TestLoadQueryRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.sql"), []byte("  \n"), 0o644))
	_, err := LoadQuery(dir, "empty.sql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
