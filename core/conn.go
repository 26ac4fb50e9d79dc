package core

import (
	"context"
	"database/sql"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shrek82/dbutil/dialect"
	"github.com/shrek82/dbutil/logger"
	"github.com/shrek82/dbutil/pool"
	"github.com/shrek82/dbutil/record"
)

// Conn is a dedicated connection checked out of a named pool. Operations run
// through the registry's middleware. Close returns it to the pool exactly once.
type Conn struct {
	reg      *Registry
	name     string
	conn     *sql.Conn
	dialect  dialect.Dialect
	log      *zap.Logger
	acquired time.Time

	leak   *time.Timer
	leaked atomic.Bool
	closed atomic.Bool
}

func (r *Registry) newConn(name string, p *pool.Pool, sc *sql.Conn) *Conn {
	c := &Conn{
		reg:      r,
		name:     name,
		conn:     sc,
		dialect:  p.Dialect(),
		log:      r.log.With(zap.String("datasource", name)),
		acquired: time.Now(),
	}
	if th := p.Config().LeakDetectionThreshold; th > 0 {
		stack := string(debug.Stack())
		c.leak = time.AfterFunc(th, func() {
			c.leaked.Store(true)
			c.log.Warn("connection leak detection triggered, connection held past threshold",
				zap.Duration("threshold", th),
				zap.String("checkout_stack", stack))
			r.observer.LeakSuspected(name, time.Since(c.acquired))
		})
	}
	return c
}

// Name returns the datasource name.
func (c *Conn) Name() string { return c.name }

// Dialect returns the datasource dialect.
func (c *Conn) Dialect() dialect.Dialect { return c.dialect }

// Logger returns the connection's logger.
func (c *Conn) Logger() *zap.Logger { return c.log }

// Raw returns the underlying *sql.Conn.
func (c *Conn) Raw() *sql.Conn { return c.conn }

// Close returns the connection to the pool. A second Close returns ErrConnClosed.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrConnClosed
	}
	if c.leak != nil && !c.leak.Stop() && c.leaked.Load() {
		c.log.Info("previously reported leaked connection returned", zap.Duration("held", time.Since(c.acquired)))
	}
	return c.conn.Close()
}

// QueryContext runs query on the held connection without middleware.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.conn.QueryContext(ctx, query, args...)
}

// ExecContext executes query on the held connection without middleware.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.conn.ExecContext(ctx, query, args...)
}

// PrepareContext prepares a statement on the held connection.
func (c *Conn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.conn.PrepareContext(ctx, query)
}

// Query runs an unparameterized query. The connection stays open.
func (c *Conn) Query(ctx context.Context, query string) (record.Rows, error) {
	return c.QueryParams(ctx, query)
}

// QueryParams runs a query with positional ? parameters.
func (c *Conn) QueryParams(ctx context.Context, query string, params ...any) (record.Rows, error) {
	out, err := c.do(ctx, &Statement{Datasource: c.name, Kind: KindQuery, SQL: query, Args: params})
	if err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// Update runs an INSERT, UPDATE or DELETE. See the package-level Update.
func (c *Conn) Update(ctx context.Context, query string, params ...any) (UpdateResult, error) {
	out, err := c.do(ctx, &Statement{Datasource: c.name, Kind: KindUpdate, SQL: query, Args: params})
	if err != nil {
		return UpdateResult{}, err
	}
	return out.Update, nil
}

// Exec runs an unparameterized update.
func (c *Conn) Exec(ctx context.Context, query string) (UpdateResult, error) {
	return c.Update(ctx, query)
}

// BatchInsert runs a multi-row INSERT. See BuildBatchInsert.
func (c *Conn) BatchInsert(ctx context.Context, prefix, suffix string, tuples [][]any) (UpdateResult, error) {
	query, args, err := BuildBatchInsert(prefix, suffix, tuples)
	if err != nil {
		return UpdateResult{}, err
	}
	out, err := c.do(ctx, &Statement{Datasource: c.name, Kind: KindBatch, SQL: query, Args: args})
	if err != nil {
		return UpdateResult{}, err
	}
	return out.Update, nil
}

// CallProcedure invokes a stored procedure. proc must come from trusted code.
func (c *Conn) CallProcedure(ctx context.Context, proc string, params ...any) error {
	_, err := c.do(ctx, &Statement{Datasource: c.name, Kind: KindCall, SQL: proc, Args: params})
	return err
}

// Begin starts a transaction on this connection. Completing the transaction
// does not close the connection.
func (c *Conn) Begin(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	return c.begin(ctx, opts, false)
}

func (c *Conn) do(ctx context.Context, stmt *Statement) (*Outcome, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.reg.run(ctx, stmt, func(ctx context.Context, stmt *Statement) (*Outcome, error) {
		return execute(ctx, c, c.log, stmt)
	})
}

// release closes the connection on an internal cleanup path.
func (c *Conn) release() {
	if err := c.Close(); err != nil && err != ErrConnClosed {
		c.log.Error("failed to release connection", zap.String("error", logger.RedactError(err)))
	}
}
