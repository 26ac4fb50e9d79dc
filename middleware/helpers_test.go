package middleware

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/dbutil/core"
	"github.com/shrek82/dbutil/pool"
)

// newRegistry returns a registry with the given middleware and a "default"
// SQLite datasource holding an items table with two rows.
func newRegistry(t *testing.T, mws ...core.Middleware) *core.Registry {
	t.Helper()
	reg, err := core.NewRegistry(core.WithMiddleware(mws...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	require.NoError(t, reg.Register(core.DefaultDatasource, pool.Config{
		Driver:          "sqlite3",
		URL:             "file:" + filepath.Join(t.TempDir(), "mw.db") + "?_busy_timeout=5000",
		MinimumIdle:     1,
		MaximumPoolSize: 2,
	}))
	ctx := context.Background()
	_, err = reg.Default().Exec(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT)")
	require.NoError(t, err)
	_, err = reg.Default().BatchInsert(ctx, "INSERT INTO items (id, label) VALUES ", "",
		[][]any{{1, "one"}, {2, "two"}})
	require.NoError(t, err)
	return reg
}

func labelOf(t *testing.T, reg *core.Registry, ctx context.Context, id int) string {
	t.Helper()
	rows, err := reg.Default().QueryParams(ctx, "SELECT label FROM items WHERE id = ?", id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	label, err := rows[0].GetString("label")
	require.NoError(t, err)
	return *label
}

// stubHandler returns a fixed outcome and counts calls.
type stubHandler struct {
	calls int
	out   *core.Outcome
	err   error
}

func (s *stubHandler) handle(context.Context, *core.Statement) (*core.Outcome, error) {
	s.calls++
	if s.out == nil && s.err == nil {
		return &core.Outcome{}, nil
	}
	return s.out, s.err
}
