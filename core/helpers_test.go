package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shrek82/dbutil/pool"
)

// countingOpener wraps sql.Open (or another opener) and counts calls.
type countingOpener struct {
	calls atomic.Int32
	open  pool.Opener
}

func (o *countingOpener) Open(driver, dsn string) (*sql.DB, error) {
	o.calls.Add(1)
	if o.open != nil {
		return o.open(driver, dsn)
	}
	return sql.Open(driver, dsn)
}

// failFirstOpener fails the first open with err and delegates later calls to
// next, or sql.Open when next is nil.
func failFirstOpener(err error, next pool.Opener) *countingOpener {
	o := &countingOpener{}
	o.open = func(driver, dsn string) (*sql.DB, error) {
		if o.calls.Load() == 1 {
			return nil, err
		}
		if next != nil {
			return next(driver, dsn)
		}
		return sql.Open(driver, dsn)
	}
	return o
}

// recordingObserver keeps every event for assertions.
type recordingObserver struct {
	mu          sync.Mutex
	created     []string
	reconnected []string
	leaks       []string
	statements  []StatementKind
}

func (o *recordingObserver) PoolCreated(ds string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, ds)
}

func (o *recordingObserver) Reconnected(ds string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnected = append(o.reconnected, ds)
}

func (o *recordingObserver) LeakSuspected(ds string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.leaks = append(o.leaks, ds)
}

func (o *recordingObserver) StatementDone(_ string, kind StatementKind, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statements = append(o.statements, kind)
}

func (o *recordingObserver) count(which *[]string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(*which)
}

func sqliteConfig(t *testing.T) pool.Config {
	t.Helper()
	return pool.Config{
		Driver:          "sqlite3",
		URL:             "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_foreign_keys=on",
		MinimumIdle:     1,
		MaximumPoolSize: 4,
	}
}

type testEnv struct {
	reg      *Registry
	opener   *countingOpener
	observer *recordingObserver
	logs     *observer.ObservedLogs
}

// newSQLiteEnv returns a registry with "default" registered on a fresh
// SQLite database file holding a people table.
func newSQLiteEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	zc, logs := observer.New(zapcore.DebugLevel)
	env := &testEnv{opener: &countingOpener{}, observer: &recordingObserver{}, logs: logs}

	all := append([]Option{
		WithLogger(zap.New(zc)),
		WithOpener(env.opener.Open),
		WithObserver(env.observer),
	}, opts...)
	reg, err := NewRegistry(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	env.reg = reg

	require.NoError(t, reg.Register(DefaultDatasource, sqliteConfig(t)))
	_, err = reg.Default().Exec(context.Background(),
		`CREATE TABLE people (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			age INTEGER,
			score REAL,
			active BOOLEAN,
			born TEXT,
			note TEXT
		)`)
	require.NoError(t, err)
	return env
}

// inUse reports checked-out connections of a live pool.
func (e *testEnv) inUse(t *testing.T, name string) int {
	t.Helper()
	stats, ok := e.reg.Stats()[name]
	require.True(t, ok, "no live pool %s", name)
	return stats.InUse
}

// newMockEnv returns a registry whose "mock" datasource is backed by sqlmock.
func newMockEnv(t *testing.T, opts ...Option) (*testEnv, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	zc, logs := observer.New(zapcore.DebugLevel)
	env := &testEnv{
		opener:   &countingOpener{open: func(string, string) (*sql.DB, error) { return db, nil }},
		observer: &recordingObserver{},
		logs:     logs,
	}
	all := append([]Option{
		WithLogger(zap.New(zc)),
		WithOpener(env.opener.Open),
		WithObserver(env.observer),
	}, opts...)
	reg, err := NewRegistry(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	env.reg = reg

	require.NoError(t, reg.Register("mock", pool.Config{Driver: "sqlite3", URL: "mock", MinimumIdle: 0}))
	return env, mock
}
