// Package dbutil runs SQL against named, pooled datasources and returns
// materialized rows.
//
//	reg, err := dbutil.NewRegistry(dbutil.WithLogger(log))
//	if err != nil { ... }
//	defer reg.Close()
//	_ = reg.Register("default", pool.Config{URL: "jdbc:mysql://db:3306/app", Username: "app", Password: pw})
//
//	rows, err := reg.Default().QueryParams(ctx, "SELECT id, name FROM users WHERE age > ?", 30)
//	for _, r := range rows {
//		name, _ := r.GetString("name")
//		...
//	}
package dbutil

import (
	"github.com/shrek82/dbutil/core"
	"github.com/shrek82/dbutil/pool"
	"github.com/shrek82/dbutil/record"
)

// Re-export core types and functions
type (
	Registry     = core.Registry
	DataSource   = core.DataSource
	Conn         = core.Conn
	Tx           = core.Tx
	Executor     = core.Executor
	Option       = core.Option
	UpdateResult = core.UpdateResult
	OpError      = core.OpError
	Middleware   = core.Middleware
	Statement    = core.Statement
	Observer     = core.Observer
	PoolConfig   = pool.Config
)

var (
	NewRegistry    = core.NewRegistry
	WithLogger     = core.WithLogger
	WithSettings   = core.WithSettings
	WithOpener     = core.WithOpener
	WithObserver   = core.WithObserver
	WithMiddleware = core.WithMiddleware

	Bind             = core.Bind
	Query            = core.Query
	QueryParams      = core.QueryParams
	Update           = core.Update
	Exec             = core.Exec
	BatchInsert      = core.BatchInsert
	CallProcedure    = core.CallProcedure
	BuildBatchInsert = core.BuildBatchInsert
)

// Re-export record types
type (
	Row   = record.Row
	Rows  = record.Rows
	Value = record.Value
)

// Errors
var (
	ErrConnectionFailed  = core.ErrConnectionFailed
	ErrUnknownDatasource = core.ErrUnknownDatasource
	ErrInvalidConfig     = core.ErrInvalidConfig
	ErrColumnNotFound    = record.ErrColumnNotFound
	ErrNotSingleRow      = record.ErrNotSingleRow
	ErrNoRows            = record.ErrNoRows
	ErrConversion        = record.ErrConversion
	ErrEmptyBatch        = core.ErrEmptyBatch
	ErrBatchArity        = core.ErrBatchArity
	ErrDuplicateKey      = core.ErrDuplicateKey
	ErrForeignKey        = core.ErrForeignKey
	ErrUnsupported       = core.ErrUnsupported
)
