package core

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/dbutil/dialect"
	"github.com/shrek82/dbutil/pool"
)

func TestBuildBatchInsert(t *testing.T) {
	query, args, err := BuildBatchInsert("INSERT INTO t (a, b) VALUES ", "ON CONFLICT DO NOTHING",
		[][]any{{1, "x"}, {2, "y"}, {3, "z"}})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?), (?, ?), (?, ?) ON CONFLICT DO NOTHING", query)
	assert.Equal(t, []any{1, "x", 2, "y", 3, "z"}, args)

	query, _, err = BuildBatchInsert("INSERT INTO t (a) VALUES ", "", [][]any{{1}})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t (a) VALUES (?)", query)
}

func TestBuildBatchInsertErrors(t *testing.T) {
	_, _, err := BuildBatchInsert("INSERT INTO t VALUES ", "", nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, _, err = BuildBatchInsert("INSERT INTO t VALUES ", "", [][]any{{}})
	assert.ErrorIs(t, err, ErrBatchArity)

	_, _, err = BuildBatchInsert("INSERT INTO t VALUES ", "", [][]any{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrBatchArity)
}

func TestStatementClassification(t *testing.T) {
	tests := []struct {
		query     string
		insert    bool
		returning bool
	}{
		{"INSERT INTO t VALUES (1)", true, false},
		{"  insert into t values (1)", true, false},
		{"REPLACE INTO t VALUES (1)", true, false},
		{"(INSERT INTO t VALUES (1))", true, false},
		{"UPDATE t SET a = 1", false, false},
		{"INSERT INTO t (a) VALUES (1) RETURNING id", true, true},
		{"INSERT INTO t (a) OUTPUT INSERTED.id VALUES (1)", true, true},
		{"DELETE FROM t WHERE note = 'returning_soon'", false, false},
		{"UPDATE people SET note = 'returning customer'", false, false},
		{"UPDATE t SET note = 'it''s returning' WHERE id = 1", false, false},
		{`UPDATE t SET "returning" = 1`, false, false},
		{"UPDATE t SET a = 1 -- returning\nWHERE id = 2", false, false},
		{"UPDATE t SET a = 1 /* RETURNING id */", false, false},
		{"UPDATE t SET note = 'it''s' RETURNING id", false, true},
		{"INSERT INTO t (a) VALUES ('x') -- comment\nRETURNING id", true, true},
		{"INSERTED", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.insert, isInsert(tt.query))
			assert.Equal(t, tt.returning, returnsRows(tt.query))
		})
	}
}

func TestQueryAndUpdate(t *testing.T) {
	env := newSQLiteEnv(t)
	ds := env.reg.Default()
	ctx := context.Background()

	res, err := ds.Update(ctx,
		"INSERT INTO people (name, age, score, active, born) VALUES (?, ?, ?, ?, ?)",
		"ann", 31, 4.5, true, "1993-04-05")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	require.True(t, res.HasKey())
	assert.Equal(t, int64(1), res.GeneratedKey.Any())
	assert.Equal(t, 0, env.inUse(t, DefaultDatasource))

	rows, err := ds.QueryParams(ctx, "SELECT * FROM people WHERE name = ?", "ann")
	require.NoError(t, err)
	row, err := rows.First()
	require.NoError(t, err)

	age, err := row.GetInt("age")
	require.NoError(t, err)
	assert.Equal(t, int64(31), *age)

	score, err := row.GetFloat("score")
	require.NoError(t, err)
	assert.Equal(t, 4.5, *score)

	active, err := row.GetBool("active")
	require.NoError(t, err)
	assert.True(t, *active)

	born, err := row.GetDate("born")
	require.NoError(t, err)
	assert.Equal(t, time.Date(1993, 4, 5, 0, 0, 0, 0, time.UTC), born.UTC())

	note, err := row.GetString("note")
	require.NoError(t, err)
	assert.Nil(t, note)

	_, err = row.GetString("missing")
	assert.Error(t, err)
	assert.Equal(t, 0, env.inUse(t, DefaultDatasource))
}

func TestUpdateWithoutInsertHasNoKey(t *testing.T) {
	env := newSQLiteEnv(t)
	ds := env.reg.Default()
	ctx := context.Background()

	_, err := ds.BatchInsert(ctx, "INSERT INTO people (name, age) VALUES ", "",
		[][]any{{"a", 1}, {"b", 2}, {"c", 3}})
	require.NoError(t, err)

	res, err := ds.Update(ctx, "UPDATE people SET age = age + 1 WHERE age >= ?", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.RowsAffected)
	assert.False(t, res.HasKey())

	res, err = ds.Exec(ctx, "DELETE FROM people")
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsAffected)
	assert.False(t, res.HasKey())
}

func TestUpdateCountsRowsWhenLiteralMentionsReturning(t *testing.T) {
	env := newSQLiteEnv(t)
	ds := env.reg.Default()
	ctx := context.Background()

	_, err := ds.Update(ctx, "INSERT INTO people (name) VALUES (?)", "ann")
	require.NoError(t, err)

	res, err := ds.Exec(ctx, "UPDATE people SET note = 'returning customer' WHERE name = 'ann'")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	assert.False(t, res.HasKey())

	rows, err := ds.QueryParams(ctx, "SELECT note FROM people WHERE name = ?", "ann")
	require.NoError(t, err)
	note, err := rows[0].GetString("note")
	require.NoError(t, err)
	assert.Equal(t, "returning customer", *note)
}

func TestUpdateReturning(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	res, err := env.reg.Default().Update(ctx, "INSERT INTO people (name) VALUES (?) RETURNING id", "zed")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	assert.Equal(t, int64(1), res.GeneratedKey.Any())
	assert.Equal(t, 0, env.inUse(t, DefaultDatasource))
}

func TestBatchInsertAndCount(t *testing.T) {
	env := newSQLiteEnv(t)
	ds := env.reg.Default()
	ctx := context.Background()

	res, err := ds.BatchInsert(ctx, "INSERT INTO people (name, age) VALUES ", "",
		[][]any{{"a", 1}, {"b", 2}, {"c", nil}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsAffected)

	rows, err := ds.Query(ctx, "SELECT count(*) FROM people")
	require.NoError(t, err)
	n, err := rows.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rows, err = ds.QueryParams(ctx, "SELECT name, count(age) AS with_age FROM people WHERE name <> ?", "zzz")
	require.NoError(t, err)
	n, err = rows.Count("with_age")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = ds.BatchInsert(ctx, "INSERT INTO people (name, age) VALUES ", "", nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	_, err = ds.BatchInsert(ctx, "INSERT INTO people (name, age) VALUES ", "", [][]any{{"d", 1}, {"e"}})
	assert.ErrorIs(t, err, ErrBatchArity)
	assert.Equal(t, 0, env.inUse(t, DefaultDatasource))
}

func TestDuplicateKeyIsClassified(t *testing.T) {
	env := newSQLiteEnv(t)
	ds := env.reg.Default()
	ctx := context.Background()

	_, err := ds.Update(ctx, "INSERT INTO people (name) VALUES (?)", "dup")
	require.NoError(t, err)
	_, err = ds.Update(ctx, "INSERT INTO people (name) VALUES (?)", "dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, DefaultDatasource, opErr.Datasource)
	assert.Equal(t, 0, env.inUse(t, DefaultDatasource))
}

func TestInvalidSQL(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	_, err := env.reg.Default().Query(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidSQL)
	_, err = env.reg.Default().Exec(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidSQL)

	_, err = env.reg.Default().Query(ctx, "SELECT * FROM nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
	assert.Equal(t, 0, env.inUse(t, DefaultDatasource))
}

func TestCallProcedureUnsupportedOnSQLite(t *testing.T) {
	env := newSQLiteEnv(t)
	err := env.reg.Default().CallProcedure(context.Background(), "refresh_totals", 1)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, 0, env.inUse(t, DefaultDatasource))
}

func TestConnKeepsConnectionAcrossCalls(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	c, err := env.reg.Conn(ctx, DefaultDatasource)
	require.NoError(t, err)
	_, err = c.Exec(ctx, "CREATE TEMP TABLE scratch (v INTEGER)")
	require.NoError(t, err)
	_, err = c.Update(ctx, "INSERT INTO scratch (v) VALUES (?)", 7)
	require.NoError(t, err)

	// temp tables are visible only on the connection that created them
	rows, err := c.Query(ctx, "SELECT v FROM scratch")
	require.NoError(t, err)
	v, err := rows[0].GetInt("v")
	require.NoError(t, err)
	assert.Equal(t, int64(7), *v)
	assert.Equal(t, 1, env.inUse(t, DefaultDatasource))

	require.NoError(t, c.Close())
	assert.Equal(t, 0, env.inUse(t, DefaultDatasource))
}

func TestPackageFunctionsOnBoundDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pg, err := dialect.Lookup("postgres")
	require.NoError(t, err)
	ex := Bind(db, pg)

	mock.ExpectPrepare(`SELECT id FROM t WHERE a = \$1 AND b = \$2`).WillBeClosed().
		ExpectQuery().WithArgs(1, "x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	rows, err := QueryParams(context.Background(), ex, "SELECT id FROM t WHERE a = ? AND b = ?", 1, "x")
	require.NoError(t, err)
	id, err := rows[0].GetInt("id")
	require.NoError(t, err)
	assert.Equal(t, int64(9), *id)

	mock.ExpectPrepare(`INSERT INTO t \(a\) VALUES \(\$1\)`).WillBeClosed().
		ExpectExec().WithArgs(1).
		WillReturnResult(sqlmock.NewResult(5, 1))
	res, err := Update(context.Background(), ex, "INSERT INTO t (a) VALUES (?)", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	// postgres does not report LastInsertId
	assert.False(t, res.HasKey())

	mock.ExpectQuery(`CALL refresh\(\$1, \$2\)`).WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"ignored"}).AddRow("x"))
	require.NoError(t, CallProcedure(context.Background(), ex, "refresh(?, ?)", 1, 2))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallProcedureSQLServerUnwrapsArgs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ms, err := dialect.Lookup("sqlserver")
	require.NoError(t, err)

	mock.ExpectQuery(`EXEC refresh @p1, @p2`).WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"n"}))
	require.NoError(t, CallProcedure(context.Background(), Bind(db, ms), "refresh(?, ?)", 1, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementCloseErrorIsLoggedNotReturned(t *testing.T) {
	env, mock := newMockEnv(t)
	mock.ExpectPrepare("SELECT name FROM people WHERE id = ?").WillReturnCloseError(errors.New("close boom")).
		ExpectQuery().WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ann"))

	rows, err := env.reg.DataSource("mock").QueryParams(context.Background(), "SELECT name FROM people WHERE id = ?", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, env.logs.FilterMessage("failed to close statement").Len())
}

func TestPreparedStatementIsClosed(t *testing.T) {
	env, mock := newMockEnv(t)
	mock.ExpectPrepare("SELECT name FROM people WHERE id = ?").WillBeClosed().
		ExpectQuery().WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("bob")))

	rows, err := env.reg.DataSource("mock").QueryParams(context.Background(), "SELECT name FROM people WHERE id = ?", 3)
	require.NoError(t, err)
	name, err := rows[0].GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "bob", *name)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []StatementKind{KindQuery}, env.observer.statements)
}

func TestDriverErrorIsWrapped(t *testing.T) {
	env, mock := newMockEnv(t)
	boom := errors.New("syntax error at or near")
	mock.ExpectExec("UPDATE people SET").WillReturnError(boom)

	_, err := env.reg.DataSource("mock").Exec(context.Background(), "UPDATE people SET x")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDuplicateKey)
	assert.NotErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, 1, env.logs.FilterMessage("statement failed").Len())
}

func TestRowErrorReleasesConnection(t *testing.T) {
	env, mock := newMockEnv(t)
	boom := errors.New("connection reset mid-stream")
	mock.ExpectPrepare("SELECT id FROM people WHERE age > ?").WillBeClosed().
		ExpectQuery().WithArgs(18).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3).RowError(1, boom)).
		RowsWillBeClosed()

	rows, err := env.reg.DataSource("mock").QueryParams(context.Background(), "SELECT id FROM people WHERE age > ?", 18)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, env.inUse(t, "mock"))
	assert.Equal(t, 1, env.logs.FilterMessage("statement failed").Len())
}

func TestCallProcedureRecoversWhenFirstOpenFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	opener := failFirstOpener(errors.New("connection refused"), func(string, string) (*sql.DB, error) { return db, nil })
	obs := &recordingObserver{}
	reg, err := NewRegistry(WithOpener(opener.Open), WithObserver(obs))
	require.NoError(t, err)
	defer reg.Close()
	require.NoError(t, reg.Register("pg", pool.Config{Driver: "postgres", URL: "postgres://db.internal:5432/app"}))

	mock.ExpectQuery(`CALL refresh\(\$1, \$2\)`).WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"ignored"}))
	require.NoError(t, reg.DataSource("pg").CallProcedure(context.Background(), "refresh(?, ?)", 1, 2))

	assert.EqualValues(t, 2, opener.calls.Load())
	assert.Equal(t, 1, obs.count(&obs.reconnected))
	assert.Equal(t, []StatementKind{KindCall}, obs.statements)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallProcedureUnknownDatasource(t *testing.T) {
	opener := &countingOpener{}
	reg, err := NewRegistry(WithOpener(opener.Open))
	require.NoError(t, err)
	defer reg.Close()

	err = reg.DataSource("ghost").CallProcedure(context.Background(), "refresh()")
	assert.ErrorIs(t, err, ErrUnknownDatasource)
	assert.NotErrorIs(t, err, ErrUnsupported)
	assert.Zero(t, opener.calls.Load())
}
