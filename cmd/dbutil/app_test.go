package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setup writes a settings file pointing the default datasource at a fresh
// SQLite database and returns its directory.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	url := "file:" + filepath.Join(dir, "cli.db")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("DB_DRIVER: sqlite3\nDB_URL: \""+url+"\"\n"), 0o644))
	return dir
}

func run(t *testing.T, dir string, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config-dir", dir, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLIRoundTrip(t *testing.T) {
	dir := setup(t)

	_, err := run(t, dir, "", "update", "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	out, err := run(t, dir, "", "update", "INSERT INTO t (name) VALUES (?)", "-p", "ann")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 1, res["rows_affected"])
	assert.EqualValues(t, 1, res["generated_key"])

	out, err = run(t, dir, `[[2, "bob"], [3, "cy"]]`, "batch", "INSERT INTO t (id, name) VALUES ", "--tuples", "-")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 2, res["rows_affected"])

	out, err = run(t, dir, "", "query", "SELECT name FROM t WHERE id >= ? ORDER BY id", "--param", "2")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []map[string]any{{"name": "bob"}, {"name": "cy"}}, rows)
}

func TestCLIPing(t *testing.T) {
	dir := setup(t)
	out, err := run(t, dir, "", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, `"ok": true`)
	assert.Contains(t, out, `"dialect": "sqlite3"`)
}

func TestCLIErrors(t *testing.T) {
	dir := setup(t)

	_, err := run(t, dir, "", "call", "refresh()")
	assert.ErrorContains(t, err, "unsupported")

	_, err = run(t, dir, "", "--datasource", "missing", "query", "SELECT 1")
	assert.ErrorContains(t, err, "unknown datasource")

	_, err = run(t, dir, "not json", "batch", "INSERT INTO t VALUES ")
	assert.ErrorContains(t, err, "failed to parse tuples")

	_, err = run(t, dir, "", "query")
	assert.Error(t, err)
}
