package core

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shrek82/dbutil/dialect"
	"github.com/shrek82/dbutil/record"
)

// Tx represents a database transaction on a Conn.
// It implements the Executor interface and runs operations through the
// registry's middleware.
type Tx struct {
	id    string
	conn  *Conn
	sqlTx *sql.Tx
	owns  bool
	log   *zap.Logger
	done  atomic.Bool
}

func (c *Conn) begin(ctx context.Context, opts *sql.TxOptions, owns bool) (*Tx, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	sqlTx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, &OpError{Op: "begin", Datasource: c.name, Err: err}
	}
	id := uuid.NewString()
	tx := &Tx{id: id, conn: c, sqlTx: sqlTx, owns: owns, log: c.log.With(zap.String("tx", id))}
	tx.log.Debug("transaction started")
	return tx, nil
}

// ID returns the transaction id attached to its log entries.
func (tx *Tx) ID() string { return tx.id }

// Name returns the datasource name.
func (tx *Tx) Name() string { return tx.conn.name }

// Dialect returns the datasource dialect.
func (tx *Tx) Dialect() dialect.Dialect { return tx.conn.dialect }

// Logger returns the transaction's logger.
func (tx *Tx) Logger() *zap.Logger { return tx.log }

// Commit commits the transaction and releases its connection, even if the
// commit fails.
func (tx *Tx) Commit() error {
	if !tx.done.CompareAndSwap(false, true) {
		return ErrTxDone
	}
	err := tx.sqlTx.Commit()
	tx.finish("commit", err)
	if err != nil {
		return &OpError{Op: "commit", Datasource: tx.conn.name, Err: err}
	}
	return nil
}

// Rollback rolls back the transaction and releases its connection.
func (tx *Tx) Rollback() error {
	if !tx.done.CompareAndSwap(false, true) {
		return ErrTxDone
	}
	err := tx.sqlTx.Rollback()
	tx.finish("rollback", err)
	if err != nil {
		return &OpError{Op: "rollback", Datasource: tx.conn.name, Err: err}
	}
	return nil
}

// Close rolls back an unfinished transaction. After Commit or Rollback it
// does nothing, so it is safe to defer.
func (tx *Tx) Close() error {
	if tx.done.Load() {
		return nil
	}
	err := tx.Rollback()
	if err == ErrTxDone {
		return nil
	}
	return err
}

func (tx *Tx) finish(op string, err error) {
	if err != nil {
		tx.log.Error("transaction "+op+" failed", zap.Error(err))
	} else {
		tx.log.Debug("transaction " + op)
	}
	if tx.owns {
		tx.conn.release()
	}
}

// QueryContext executes a query that returns rows, typically a SELECT.
func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.sqlTx.QueryContext(ctx, query, args...)
}

// ExecContext executes a query that doesn't return rows, such as an INSERT or UPDATE.
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.sqlTx.ExecContext(ctx, query, args...)
}

// PrepareContext creates a prepared statement bound to the transaction.
func (tx *Tx) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return tx.sqlTx.PrepareContext(ctx, query)
}

// Query runs an unparameterized query inside the transaction.
func (tx *Tx) Query(ctx context.Context, query string) (record.Rows, error) {
	return tx.QueryParams(ctx, query)
}

// QueryParams runs a query with positional ? parameters.
func (tx *Tx) QueryParams(ctx context.Context, query string, params ...any) (record.Rows, error) {
	out, err := tx.do(ctx, &Statement{Datasource: tx.conn.name, Kind: KindQuery, SQL: query, Args: params})
	if err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// Update runs an INSERT, UPDATE or DELETE. See the package-level Update.
func (tx *Tx) Update(ctx context.Context, query string, params ...any) (UpdateResult, error) {
	out, err := tx.do(ctx, &Statement{Datasource: tx.conn.name, Kind: KindUpdate, SQL: query, Args: params})
	if err != nil {
		return UpdateResult{}, err
	}
	return out.Update, nil
}

// Exec runs an unparameterized update.
func (tx *Tx) Exec(ctx context.Context, query string) (UpdateResult, error) {
	return tx.Update(ctx, query)
}

// BatchInsert runs a multi-row INSERT. See BuildBatchInsert.
func (tx *Tx) BatchInsert(ctx context.Context, prefix, suffix string, tuples [][]any) (UpdateResult, error) {
	query, args, err := BuildBatchInsert(prefix, suffix, tuples)
	if err != nil {
		return UpdateResult{}, err
	}
	out, err := tx.do(ctx, &Statement{Datasource: tx.conn.name, Kind: KindBatch, SQL: query, Args: args})
	if err != nil {
		return UpdateResult{}, err
	}
	return out.Update, nil
}

// CallProcedure invokes a stored procedure inside the transaction.
func (tx *Tx) CallProcedure(ctx context.Context, proc string, params ...any) error {
	_, err := tx.do(ctx, &Statement{Datasource: tx.conn.name, Kind: KindCall, SQL: proc, Args: params})
	return err
}

func (tx *Tx) do(ctx context.Context, stmt *Statement) (*Outcome, error) {
	if tx.done.Load() {
		return nil, ErrTxDone
	}
	stmt.WithField("tx", tx.id)
	return tx.conn.reg.run(ctx, stmt, func(ctx context.Context, stmt *Statement) (*Outcome, error) {
		return execute(ctx, tx, tx.log, stmt)
	})
}
