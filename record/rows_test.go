package record

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountMatchesCountColumn(t *testing.T) {
	rows := Rows{NewRow([]string{"count(*)"}, []Value{String("5")})}
	n, err := rows.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestCountPicksColumn(t *testing.T) {
	rows := Rows{NewRow(
		[]string{"id", "Total_Count", "other"},
		[]Value{Int(9), Int(3), Int(7)},
	)}

	n, err := rows.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = rows.Count("other")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = rows.Count("nope")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestCountDefaultsToFirstColumn(t *testing.T) {
	rows := Rows{NewRow([]string{"n", "m"}, []Value{Int(11), Int(12)})}
	n, err := rows.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
}

func TestCountRequiresSingleRow(t *testing.T) {
	_, err := Rows{}.Count()
	assert.ErrorIs(t, err, ErrNotSingleRow)

	two := Rows{
		NewRow([]string{"count"}, []Value{Int(1)}),
		NewRow([]string{"count"}, []Value{Int(2)}),
	}
	_, err = two.Count()
	assert.ErrorIs(t, err, ErrNotSingleRow)
}

func TestFirst(t *testing.T) {
	_, err := Rows{}.First()
	assert.ErrorIs(t, err, ErrNoRows)

	rows := Rows{NewRow([]string{"a"}, []Value{Int(1)}), NewRow([]string{"a"}, []Value{Int(2)})}
	first, err := rows.First()
	require.NoError(t, err)
	v, _ := first.GetInt("a")
	assert.Equal(t, int64(1), *v)
}

func TestScanMaterializesAllRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "score", "ok", "at", "note"}).
			AddRow(int64(1), []byte("alice"), 1.5, true, now, nil).
			AddRow(int64(2), "bob", 2.0, false, now, ""),
	)

	cursor, err := db.Query("SELECT * FROM people")
	require.NoError(t, err)
	defer cursor.Close()

	rows, err := Scan(cursor)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, []string{"id", "name", "score", "ok", "at", "note"}, first.Columns())
	name, _ := first.Get("name")
	assert.Equal(t, KindString, name.Kind())
	assert.Equal(t, "alice", name.String())
	note, _ := first.Get("note")
	assert.True(t, note.IsNull())
	at, _ := first.Get("at")
	assert.Equal(t, KindTime, at.Kind())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanSurfacesIterationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("boom")
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).RowError(1, boom),
	)

	cursor, err := db.Query("SELECT id FROM t")
	require.NoError(t, err)
	defer cursor.Close()

	_, err = Scan(cursor)
	assert.ErrorIs(t, err, boom)
}

func TestRowsJSONKeepsKinds(t *testing.T) {
	at := time.Date(2023, 7, 8, 9, 10, 11, 12, time.UTC)
	in := Rows{NewRow(
		[]string{"i", "f", "s", "b", "t", "n"},
		[]Value{Int(7), Float(1.25), String("x"), Bool(true), Time(at), Null()},
	)}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Rows
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, in[0].Columns(), out[0].Columns())
	for _, c := range in[0].Columns() {
		want, _ := in[0].Get(c)
		got, _ := out[0].Get(c)
		assert.Equal(t, want.Kind(), got.Kind(), c)
		assert.Equal(t, want.String(), got.String(), c)
	}
}
