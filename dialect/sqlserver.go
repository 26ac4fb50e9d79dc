package dialect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
)

// SQL Server error numbers for constraint violations.
const (
	mssqlUniqueConstraint = 2627
	mssqlUniqueIndex      = 2601
	mssqlConstraintFailed = 547
)

type sqlserver struct{}

func init() {
	Register("sqlserver", &sqlserver{})
}

func (d *sqlserver) Name() string { return "sqlserver" }

// Rebind turns ? into @p1, @p2, ...
func (d *sqlserver) Rebind(query string) string { return rebind("sqlserver", query) }

// CallSQL renders EXEC. A trailing parenthesised argument list is unwrapped:
// "p(?, ?)" becomes "EXEC p ?, ?".
func (d *sqlserver) CallSQL(proc string) (string, error) {
	proc = strings.TrimSpace(proc)
	if proc == "" {
		return "", fmt.Errorf("%w: empty procedure name", ErrUnsupported)
	}
	if strings.HasSuffix(proc, ")") {
		if open := strings.Index(proc, "("); open > 0 {
			name := strings.TrimSpace(proc[:open])
			args := strings.TrimSpace(proc[open+1 : len(proc)-1])
			if args == "" {
				return "EXEC " + name, nil
			}
			return "EXEC " + name + " " + args, nil
		}
	}
	return "EXEC " + proc, nil
}

// go-mssqldb does not implement LastInsertId; use OUTPUT INSERTED.
func (d *sqlserver) SupportsLastInsertID() bool { return false }

// DSN accepts the URL form ("sqlserver://host?database=db") and the ADO form
// ("server=host;database=db").
func (d *sqlserver) DSN(dsn, username, password string) (string, error) {
	if strings.HasPrefix(dsn, "sqlserver://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("sqlserver dsn: %w", err)
		}
		if username != "" || password != "" {
			user := u.User.Username()
			pass, _ := u.User.Password()
			if username != "" {
				user = username
			}
			if password != "" {
				pass = password
			}
			u.User = url.UserPassword(user, pass)
		}
		return u.String(), nil
	}

	out := strings.TrimRight(strings.TrimSpace(dsn), ";")
	if username != "" {
		out += ";user id=" + username
	}
	if password != "" {
		out += ";password=" + password
	}
	return strings.TrimLeft(out, ";"), nil
}

func (d *sqlserver) Classify(err error) error {
	var me mssql.Error
	if !errors.As(err, &me) {
		return nil
	}
	switch me.Number {
	case mssqlUniqueConstraint, mssqlUniqueIndex:
		return ErrDuplicateKey
	case mssqlConstraintFailed:
		return ErrForeignKey
	}
	return nil
}
