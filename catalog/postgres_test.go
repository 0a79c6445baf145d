package catalog

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T) (*PostgresCatalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresCatalog(db), mock
}

var testIdent = Ident{Namespace: "analytics", Name: "events"}

func TestPostgresCreateEntry(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO table_pointer (namespace, table_name, metadata_location)
VALUES ($1, $2, $3)
ON CONFLICT (namespace, table_name) DO NOTHING`)).
		WithArgs("analytics", "events", "analytics/events/metadata/v00001.metadata.json").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := cat.CreateEntry(context.Background(), testIdent, "analytics/events/metadata/v00001.metadata.json")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateEntryConflict(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectExec("INSERT INTO table_pointer").
		WithArgs("analytics", "events", "loc").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := cat.CreateEntry(context.Background(), testIdent, "loc")
	assert.ErrorIs(t, err, ErrTableExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCurrentPointer(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectQuery("SELECT metadata_location FROM table_pointer").
		WithArgs("analytics", "events").
		WillReturnRows(sqlmock.NewRows([]string{"metadata_location"}).AddRow("v3"))

	loc, err := cat.CurrentPointer(context.Background(), testIdent)
	require.NoError(t, err)
	assert.Equal(t, "v3", loc)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCurrentPointerNotFound(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectQuery("SELECT metadata_location FROM table_pointer").
		WithArgs("analytics", "events").
		WillReturnRows(sqlmock.NewRows([]string{"metadata_location"}))

	_, err := cat.CurrentPointer(context.Background(), testIdent)
	assert.ErrorIs(t, err, ErrTableNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSwapPointerWins(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE table_pointer SET metadata_location = $4
WHERE namespace = $1 AND table_name = $2 AND metadata_location = $3`)).
		WithArgs("analytics", "events", "v1", "v2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := cat.SwapPointer(context.Background(), testIdent, "v1", "v2")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSwapPointerLosesRace(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectExec("UPDATE table_pointer SET metadata_location").
		WithArgs("analytics", "events", "v1", "v2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The losing swap re-checks that the table still exists.
	mock.ExpectQuery("SELECT metadata_location FROM table_pointer").
		WithArgs("analytics", "events").
		WillReturnRows(sqlmock.NewRows([]string{"metadata_location"}).AddRow("v7"))

	ok, err := cat.SwapPointer(context.Background(), testIdent, "v1", "v2")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSwapPointerMissingTable(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectExec("UPDATE table_pointer SET metadata_location").
		WithArgs("analytics", "events", "v1", "v2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT metadata_location FROM table_pointer").
		WithArgs("analytics", "events").
		WillReturnRows(sqlmock.NewRows([]string{"metadata_location"}))

	_, err := cat.SwapPointer(context.Background(), testIdent, "v1", "v2")
	assert.ErrorIs(t, err, ErrTableNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDropEntry(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectExec("DELETE FROM table_pointer").
		WithArgs("analytics", "events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, cat.DropEntry(context.Background(), testIdent))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListTables(t *testing.T) {
	cat, mock := newPostgresMock(t)

	mock.ExpectQuery("SELECT namespace, table_name FROM table_pointer").
		WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"namespace", "table_name"}).
			AddRow("analytics", "events").
			AddRow("analytics", "users"))

	idents, err := cat.ListTables(context.Background(), "analytics")
	require.NoError(t, err)
	require.Len(t, idents, 2)
	assert.Equal(t, "events", idents[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
