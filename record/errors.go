package record

import "errors"

var (
	// ErrColumnNotFound is returned when a row has no column with the requested label.
	ErrColumnNotFound = errors.New("column not found")
	// ErrConversion is returned when a stored value cannot be coerced to the requested type.
	ErrConversion = errors.New("value conversion failed")
	// ErrNotSingleRow is returned when a single-row result was expected.
	ErrNotSingleRow = errors.New("result does not contain exactly one row")
	// ErrNoRows is returned when at least one row was expected but none were found.
	ErrNoRows = errors.New("no rows in result")
)
