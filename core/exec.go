package core

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shrek82/dbutil/dialect"
	"github.com/shrek82/dbutil/logger"
	"github.com/shrek82/dbutil/record"
)

// Executor runs SQL. *pool.Pool, *Conn and *Tx implement it; Bind adapts a
// plain *sql.DB, *sql.Conn or *sql.Tx.
type Executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	Dialect() dialect.Dialect
}

type sqlExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type boundExecutor struct {
	sqlExecutor
	d dialect.Dialect
}

func (b boundExecutor) Dialect() dialect.Dialect { return b.d }

// Bind pairs a database/sql handle with a dialect.
func Bind(ex sqlExecutor, d dialect.Dialect) Executor {
	return boundExecutor{sqlExecutor: ex, d: d}
}

// Query runs an unparameterized query and materializes every row.
func Query(ctx context.Context, ex Executor, query string) (record.Rows, error) {
	return queryRows(ctx, ex, loggerOf(ex), query, nil)
}

// QueryParams runs a query with positional ? parameters.
func QueryParams(ctx context.Context, ex Executor, query string, params ...any) (record.Rows, error) {
	return queryRows(ctx, ex, loggerOf(ex), query, params)
}

// Update runs an INSERT, UPDATE or DELETE. For INSERT/REPLACE on drivers that
// report it, or for statements with RETURNING / OUTPUT INSERTED, the
// generated key is captured.
func Update(ctx context.Context, ex Executor, query string, params ...any) (UpdateResult, error) {
	return update(ctx, ex, loggerOf(ex), query, params)
}

// Exec runs an unparameterized update.
func Exec(ctx context.Context, ex Executor, query string) (UpdateResult, error) {
	return update(ctx, ex, loggerOf(ex), query, nil)
}

// BatchInsert runs one multi-row INSERT built by BuildBatchInsert.
func BatchInsert(ctx context.Context, ex Executor, prefix, suffix string, tuples [][]any) (UpdateResult, error) {
	query, args, err := BuildBatchInsert(prefix, suffix, tuples)
	if err != nil {
		return UpdateResult{}, err
	}
	return update(ctx, ex, loggerOf(ex), query, args)
}

// CallProcedure invokes a stored procedure. proc is embedded in the statement
// verbatim and must come from trusted code, never from user input.
func CallProcedure(ctx context.Context, ex Executor, proc string, params ...any) error {
	query, err := ex.Dialect().CallSQL(proc)
	if err != nil {
		return &OpError{Op: "call", Datasource: nameOf(ex), Kind: ErrUnsupported, Err: err}
	}
	return call(ctx, ex, loggerOf(ex), query, params)
}

// execute dispatches a statement that has passed the middleware chain.
func execute(ctx context.Context, ex Executor, log *zap.Logger, stmt *Statement) (*Outcome, error) {
	if len(stmt.Fields) > 0 {
		fields := make([]zap.Field, 0, len(stmt.Fields))
		for k, v := range stmt.Fields {
			fields = append(fields, zap.Any(k, v))
		}
		log = log.With(fields...)
	}
	switch stmt.Kind {
	case KindQuery:
		rows, err := queryRows(ctx, ex, log, stmt.SQL, stmt.Args)
		if err != nil {
			return nil, err
		}
		return &Outcome{Rows: rows}, nil
	case KindCall:
		query, err := ex.Dialect().CallSQL(stmt.SQL)
		if err != nil {
			return nil, &OpError{Op: "call", Datasource: nameOf(ex), Kind: ErrUnsupported, Err: err}
		}
		if err := call(ctx, ex, log, query, stmt.Args); err != nil {
			return nil, err
		}
		return &Outcome{}, nil
	default:
		res, err := update(ctx, ex, log, stmt.SQL, stmt.Args)
		if err != nil {
			return nil, err
		}
		return &Outcome{Update: res}, nil
	}
}

func queryRows(ctx context.Context, ex Executor, log *zap.Logger, query string, args []any) (record.Rows, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidSQL
	}
	d := ex.Dialect()
	start := time.Now()

	var (
		rows *sql.Rows
		err  error
	)
	if len(args) > 0 {
		var stmt *sql.Stmt
		stmt, err = ex.PrepareContext(ctx, d.Rebind(query))
		if err != nil {
			logger.SQL(log, query, time.Since(start), args, err)
			return nil, statementError("prepare", nameOf(ex), d, err)
		}
		defer closeLogged(log, "statement", stmt)
		rows, err = stmt.QueryContext(ctx, args...)
	} else {
		rows, err = ex.QueryContext(ctx, query)
	}
	if err != nil {
		logger.SQL(log, query, time.Since(start), args, err)
		return nil, statementError("query", nameOf(ex), d, err)
	}
	defer closeLogged(log, "rows", rows)

	out, err := record.Scan(rows)
	logger.SQL(log, query, time.Since(start), args, err)
	if err != nil {
		return nil, statementError("scan", nameOf(ex), d, err)
	}
	return out, nil
}

func update(ctx context.Context, ex Executor, log *zap.Logger, query string, args []any) (UpdateResult, error) {
	if strings.TrimSpace(query) == "" {
		return UpdateResult{}, ErrInvalidSQL
	}
	if returnsRows(query) {
		rows, err := queryRows(ctx, ex, log, query, args)
		if err != nil {
			return UpdateResult{}, err
		}
		res := UpdateResult{RowsAffected: int64(len(rows))}
		if len(rows) > 0 && rows[0].Len() > 0 {
			res.GeneratedKey, _ = rows[0].Get(rows[0].Columns()[0])
		}
		return res, nil
	}

	d := ex.Dialect()
	start := time.Now()
	var (
		result sql.Result
		err    error
	)
	if len(args) > 0 {
		var stmt *sql.Stmt
		stmt, err = ex.PrepareContext(ctx, d.Rebind(query))
		if err != nil {
			logger.SQL(log, query, time.Since(start), args, err)
			return UpdateResult{}, statementError("prepare", nameOf(ex), d, err)
		}
		defer closeLogged(log, "statement", stmt)
		result, err = stmt.ExecContext(ctx, args...)
	} else {
		result, err = ex.ExecContext(ctx, query)
	}
	logger.SQL(log, query, time.Since(start), args, err)
	if err != nil {
		return UpdateResult{}, statementError("update", nameOf(ex), d, err)
	}

	var res UpdateResult
	if res.RowsAffected, err = result.RowsAffected(); err != nil {
		return UpdateResult{}, statementError("rows affected", nameOf(ex), d, err)
	}
	if d.SupportsLastInsertID() && isInsert(query) {
		if id, err := result.LastInsertId(); err == nil && id > 0 {
			res.GeneratedKey = record.Int(id)
		}
	}
	return res, nil
}

func call(ctx context.Context, ex Executor, log *zap.Logger, query string, args []any) error {
	d := ex.Dialect()
	start := time.Now()
	if len(args) > 0 {
		query = d.Rebind(query)
	}
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		logger.SQL(log, query, time.Since(start), args, err)
		return statementError("call", nameOf(ex), d, err)
	}
	defer closeLogged(log, "rows", rows)
	// procedures may return result sets; they are not captured
	for rows.Next() {
	}
	err = rows.Err()
	logger.SQL(log, query, time.Since(start), args, err)
	if err != nil {
		return statementError("call", nameOf(ex), d, err)
	}
	return nil
}

// closeLogged closes a resource on a cleanup path. Failures are logged and
// never replace the primary result.
func closeLogged(log *zap.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+what, zap.String("error", logger.RedactError(err)))
	}
}

func loggerOf(ex Executor) *zap.Logger {
	if l, ok := ex.(interface{ Logger() *zap.Logger }); ok {
		return logger.OrNop(l.Logger())
	}
	return zap.NewNop()
}

func nameOf(ex Executor) string {
	if n, ok := ex.(interface{ Name() string }); ok {
		return n.Name()
	}
	return ""
}
