package dialect

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrUnsupported is returned when a driver has no dialect or a dialect
	// cannot render a statement.
	ErrUnsupported = errors.New("dbutil: unsupported by dialect")
	// ErrDuplicateKey classifies unique and primary key violations.
	ErrDuplicateKey = errors.New("dbutil: duplicate key")
	// ErrForeignKey classifies foreign key violations.
	ErrForeignKey = errors.New("dbutil: foreign key violation")
)

// Dialect captures the per-driver behaviour needed to run caller-supplied SQL.
// Each driver (MySQL, PostgreSQL, SQLite, SQL Server) implements this interface.
type Dialect interface {
	// Name returns the database/sql driver name
	Name() string
	// Rebind rewrites ? placeholders into the driver's bind style
	Rebind(query string) string
	// CallSQL renders the statement that invokes a stored procedure
	CallSQL(proc string) (string, error)
	// SupportsLastInsertID reports whether sql.Result.LastInsertId is meaningful
	SupportsLastInsertID() bool
	// DSN merges separately configured credentials into a data source name
	DSN(dsn, username, password string) (string, error)
	// Classify maps a driver error onto ErrDuplicateKey or ErrForeignKey, or nil
	Classify(err error) error
}

var (
	mu       sync.RWMutex
	dialects = make(map[string]Dialect)
)

// Register registers a new dialect for a given driver name
func Register(name string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[name] = d
}

// Get retrieves a registered dialect by driver name
func Get(name string) (Dialect, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[name]
	return d, ok
}

// Lookup is Get with an error naming the registered drivers.
func Lookup(name string) (Dialect, error) {
	if d, ok := Get(name); ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: driver %q (known: %s)", ErrUnsupported, name, strings.Join(Names(), ", "))
}

// Names returns the registered driver names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(dialects))
	for n := range dialects {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// rebind is shared by the dialects; sqlx knows every driver's bind style.
func rebind(driver, query string) string {
	bt := sqlx.BindType(driver)
	if bt == sqlx.QUESTION || bt == sqlx.UNKNOWN {
		return query
	}
	return sqlx.Rebind(bt, query)
}

// callStatement renders "CALL proc" for dialects using the standard syntax.
func callStatement(proc string) (string, error) {
	proc = strings.TrimSpace(proc)
	if proc == "" {
		return "", fmt.Errorf("%w: empty procedure name", ErrUnsupported)
	}
	return "CALL " + proc, nil
}
