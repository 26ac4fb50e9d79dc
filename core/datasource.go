package core

import (
	"context"

	"github.com/shrek82/dbutil/record"
)

// DataSource runs each operation on its own connection from a named pool,
// released before the call returns.
type DataSource struct {
	reg  *Registry
	name string
}

// Name returns the datasource name.
func (ds *DataSource) Name() string { return ds.name }

// Conn checks out a dedicated connection; the caller must Close it.
func (ds *DataSource) Conn(ctx context.Context) (*Conn, error) {
	return ds.reg.Conn(ctx, ds.name)
}

// Transaction runs fn in a transaction. See Registry.Transaction.
func (ds *DataSource) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	return ds.reg.Transaction(ctx, ds.name, fn)
}

// Query runs an unparameterized query and materializes every row.
func (ds *DataSource) Query(ctx context.Context, query string) (record.Rows, error) {
	return ds.QueryParams(ctx, query)
}

// QueryParams runs a query with positional ? parameters.
func (ds *DataSource) QueryParams(ctx context.Context, query string, params ...any) (record.Rows, error) {
	out, err := ds.do(ctx, &Statement{Datasource: ds.name, Kind: KindQuery, SQL: query, Args: params})
	if err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// Update runs an INSERT, UPDATE or DELETE and reports the affected row count
// and any generated key.
func (ds *DataSource) Update(ctx context.Context, query string, params ...any) (UpdateResult, error) {
	out, err := ds.do(ctx, &Statement{Datasource: ds.name, Kind: KindUpdate, SQL: query, Args: params})
	if err != nil {
		return UpdateResult{}, err
	}
	return out.Update, nil
}

// Exec runs an unparameterized update.
func (ds *DataSource) Exec(ctx context.Context, query string) (UpdateResult, error) {
	return ds.Update(ctx, query)
}

// BatchInsert runs one multi-row INSERT. See BuildBatchInsert.
func (ds *DataSource) BatchInsert(ctx context.Context, prefix, suffix string, tuples [][]any) (UpdateResult, error) {
	query, args, err := BuildBatchInsert(prefix, suffix, tuples)
	if err != nil {
		return UpdateResult{}, err
	}
	out, err := ds.do(ctx, &Statement{Datasource: ds.name, Kind: KindBatch, SQL: query, Args: args})
	if err != nil {
		return UpdateResult{}, err
	}
	return out.Update, nil
}

// CallProcedure invokes a stored procedure. proc is embedded verbatim and
// must come from trusted code. The call statement is rendered for the
// datasource's dialect once a connection is held.
func (ds *DataSource) CallProcedure(ctx context.Context, proc string, params ...any) error {
	_, err := ds.do(ctx, &Statement{Datasource: ds.name, Kind: KindCall, SQL: proc, Args: params})
	return err
}

func (ds *DataSource) do(ctx context.Context, stmt *Statement) (*Outcome, error) {
	return ds.reg.run(ctx, stmt, func(ctx context.Context, stmt *Statement) (*Outcome, error) {
		c, err := ds.reg.Conn(ctx, ds.name)
		if err != nil {
			return nil, err
		}
		defer c.release()
		return execute(ctx, c, c.log, stmt)
	})
}
