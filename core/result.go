package core

import "github.com/shrek82/dbutil/record"

// UpdateResult is the outcome of an update or batch insert.
type UpdateResult struct {
	RowsAffected int64
	// GeneratedKey is null when the statement produced no key
	GeneratedKey record.Value
}

// HasKey reports whether a generated key was captured.
func (r UpdateResult) HasKey() bool { return !r.GeneratedKey.IsNull() }
