package dialect

import (
	"errors"
	"fmt"

	driver "github.com/mattn/go-sqlite3"
)

// SQLite dialect implementation
type sqlite3 struct{}

func init() {
	Register("sqlite3", &sqlite3{})
}

func (d *sqlite3) Name() string { return "sqlite3" }

func (d *sqlite3) Rebind(query string) string { return query }

// SQLite has no stored procedures.
func (d *sqlite3) CallSQL(proc string) (string, error) {
	return "", fmt.Errorf("%w: sqlite3 has no stored procedures (%s)", ErrUnsupported, proc)
}

func (d *sqlite3) SupportsLastInsertID() bool { return true }

// DSN returns the file name unchanged; SQLite has no credentials.
func (d *sqlite3) DSN(dsn, _, _ string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("sqlite3 dsn: empty file name")
	}
	return dsn, nil
}

func (d *sqlite3) Classify(err error) error {
	var se driver.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.ExtendedCode {
	case driver.ErrConstraintUnique, driver.ErrConstraintPrimaryKey:
		return ErrDuplicateKey
	case driver.ErrConstraintForeignKey:
		return ErrForeignKey
	}
	return nil
}
