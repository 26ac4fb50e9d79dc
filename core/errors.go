package core

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/shrek82/dbutil/dialect"
	"github.com/shrek82/dbutil/pool"
)

var (
	// ErrConnectionFailed is returned when a connection cannot be obtained even after the pool was rebuilt.
	ErrConnectionFailed = errors.New("dbutil: connection failed")
	// ErrUnknownDatasource is returned for a name with no registered config and no settings.
	ErrUnknownDatasource = errors.New("dbutil: unknown datasource")
	// ErrRegistryClosed is returned by a registry after Close.
	ErrRegistryClosed = errors.New("dbutil: registry closed")
	// ErrEmptyBatch is returned by BatchInsert for an empty tuple list.
	ErrEmptyBatch = errors.New("dbutil: empty batch")
	// ErrBatchArity is returned when batch tuples have differing or zero arity.
	ErrBatchArity = errors.New("dbutil: batch tuple arity mismatch")
	// ErrInvalidSQL is returned when a raw SQL statement is empty.
	ErrInvalidSQL = errors.New("dbutil: invalid sql")
	// ErrConnClosed is returned when a connection is used or closed after Close.
	ErrConnClosed = errors.New("dbutil: connection already closed")
	// ErrTxDone is returned when a transaction is committed or rolled back twice.
	ErrTxDone = errors.New("dbutil: transaction already completed")

	// ErrInvalidConfig is returned by Register and pool construction for a bad config.
	ErrInvalidConfig = pool.ErrInvalidConfig
	// ErrDuplicateKey marks a unique or primary key violation.
	ErrDuplicateKey = dialect.ErrDuplicateKey
	// ErrForeignKey marks a foreign key violation.
	ErrForeignKey = dialect.ErrForeignKey
	// ErrUnsupported is returned when the dialect cannot express an operation.
	ErrUnsupported = dialect.ErrUnsupported
)

// OpError describes a failed operation. errors.Is matches both Kind (one of
// the sentinels above, may be nil) and the underlying Err.
type OpError struct {
	Op         string
	Datasource string
	Kind       error
	Err        error
}

func (e *OpError) Error() string {
	msg := "dbutil: " + e.Op
	if e.Datasource != "" {
		msg += " [" + e.Datasource + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// statementError wraps a driver error from executing SQL, classifying
// constraint violations.
func statementError(op, datasource string, d dialect.Dialect, err error) error {
	if err == nil {
		return nil
	}
	var kind error
	if d != nil {
		kind = d.Classify(err)
	}
	return &OpError{Op: op, Datasource: datasource, Kind: kind, Err: err}
}

// IsConnectivity reports whether err means the database could not be reached
// or the connection broke, as opposed to a problem with the statement.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionFailed) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// retryable reports whether a failed acquisition may succeed after the pool
// is rebuilt.
func retryable(err error) bool {
	return !errors.Is(err, ErrUnknownDatasource) &&
		!errors.Is(err, ErrInvalidConfig) &&
		!errors.Is(err, ErrRegistryClosed)
}
