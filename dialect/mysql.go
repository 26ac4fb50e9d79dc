package dialect

import (
	"errors"
	"fmt"

	driver "github.com/go-sql-driver/mysql"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDupEntry        = 1062
	mysqlRowIsReferenced = 1451
	mysqlNoReferencedRow = 1452
)

// MySQL dialect implementation
type mysql struct{}

func init() {
	Register("mysql", &mysql{})
}

func (d *mysql) Name() string { return "mysql" }

func (d *mysql) Rebind(query string) string { return query }

func (d *mysql) CallSQL(proc string) (string, error) { return callStatement(proc) }

func (d *mysql) SupportsLastInsertID() bool { return true }

// DSN parses the go-sql-driver DSN and sets the configured credentials on it.
func (d *mysql) DSN(dsn, username, password string) (string, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	if username != "" {
		cfg.User = username
	}
	if password != "" {
		cfg.Passwd = password
	}
	// DATETIME columns scan as time.Time instead of []byte
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func (d *mysql) Classify(err error) error {
	var me *driver.MySQLError
	if !errors.As(err, &me) {
		return nil
	}
	switch me.Number {
	case mysqlDupEntry:
		return ErrDuplicateKey
	case mysqlRowIsReferenced, mysqlNoReferencedRow:
		return ErrForeignKey
	}
	return nil
}
