package dialect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// SQLSTATE codes for constraint violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgreSQL dialect implementation, shared by lib/pq ("postgres") and
// pgx's database/sql driver ("pgx").
type postgres struct {
	driver string
}

func init() {
	Register("postgres", &postgres{driver: "postgres"})
	Register("pgx", &postgres{driver: "pgx"})
}

func (d *postgres) Name() string { return d.driver }

// Rebind turns ? into $1, $2, ...
func (d *postgres) Rebind(query string) string { return rebind(d.driver, query) }

func (d *postgres) CallSQL(proc string) (string, error) { return callStatement(proc) }

// LastInsertId is not implemented by either driver; use RETURNING.
func (d *postgres) SupportsLastInsertID() bool { return false }

// DSN accepts both URL ("postgres://host/db") and keyword/value
// ("host=... dbname=...") forms.
func (d *postgres) DSN(dsn, username, password string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("postgres dsn: %w", err)
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
		// lib/pq rejects malformed URLs lazily; fail at configuration time instead
		if _, err := pq.ParseURL(u.String()); err != nil {
			return "", fmt.Errorf("postgres dsn: %w", err)
		}
		return u.String(), nil
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(dsn))
	if username != "" {
		fmt.Fprintf(&b, " user=%s", quoteKeyword(username))
	}
	if password != "" {
		fmt.Fprintf(&b, " password=%s", quoteKeyword(password))
	}
	return strings.TrimSpace(b.String()), nil
}

func quoteKeyword(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (d *postgres) Classify(err error) error {
	var code string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	default:
		return nil
	}
	switch code {
	case pgUniqueViolation:
		return ErrDuplicateKey
	case pgForeignKeyViolation:
		return ErrForeignKey
	}
	return nil
}
