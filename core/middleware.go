package core

import (
	"context"

	"github.com/shrek82/dbutil/record"
)

// StatementKind identifies which operation produced a Statement.
type StatementKind string

const (
	KindQuery  StatementKind = "query"
	KindUpdate StatementKind = "update"
	KindBatch  StatementKind = "batch"
	KindCall   StatementKind = "call"
)

// Statement is what middleware sees: the SQL as supplied by the caller (before
// placeholder rebinding) and its arguments. For KindCall, SQL is the procedure
// expression such as "refresh(?, ?)"; the dialect's call syntax is applied
// when the statement runs.
type Statement struct {
	Datasource string
	Kind       StatementKind
	SQL        string
	Args       []any
	// Fields are attached to the statement log entry
	Fields map[string]any
}

// WithField sets a log field on the statement.
func (s *Statement) WithField(key string, value any) {
	if s.Fields == nil {
		s.Fields = make(map[string]any)
	}
	s.Fields[key] = value
}

// Outcome is the result of a statement. Rows is set for KindQuery, Update
// for KindUpdate and KindBatch; KindCall sets neither.
type Outcome struct {
	Rows   record.Rows
	Update UpdateResult
	// Cached is set by cache middleware when the statement did not run
	Cached bool
}

// Handler is the next step in the middleware chain.
type Handler func(ctx context.Context, stmt *Statement) (*Outcome, error)

// Component is the lifecycle part of a middleware.
type Component interface {
	Name() string
	Init(r *Registry) error
	Shutdown() error
}

// Middleware intercepts statements run through a DataSource, Conn or Tx.
type Middleware interface {
	Component
	Process(ctx context.Context, stmt *Statement, next Handler) (*Outcome, error)
}

// chain wraps final with mws, the first middleware outermost.
func chain(mws []Middleware, final Handler) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(ctx context.Context, stmt *Statement) (*Outcome, error) {
			return mw.Process(ctx, stmt, next)
		}
	}
	return h
}
