//go:build integration

package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/dbutil/internal/testhelpers"
	"github.com/shrek82/dbutil/pool"
)

func TestPostgresDrivers(t *testing.T) {
	pg := testhelpers.GetPostgres(t)

	for _, driver := range []string{"pgx", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			reg, err := NewRegistry()
			require.NoError(t, err)
			defer reg.Close()

			require.NoError(t, reg.Register(driver, pool.Config{
				Driver:          driver,
				URL:             pg.URL,
				Username:        pg.Username,
				Password:        pg.Password,
				MinimumIdle:     1,
				MaximumPoolSize: 4,
			}))
			ds := reg.DataSource(driver)
			ctx := context.Background()
			table := "people_" + driver

			_, err = ds.Exec(ctx, "DROP TABLE IF EXISTS "+table)
			require.NoError(t, err)
			_, err = ds.Exec(ctx, "CREATE TABLE "+table+" (id SERIAL PRIMARY KEY, name TEXT NOT NULL UNIQUE, born DATE)")
			require.NoError(t, err)

			res, err := ds.Update(ctx, "INSERT INTO "+table+" (name, born) VALUES (?, ?) RETURNING id", "ann", "1990-02-03")
			require.NoError(t, err)
			assert.EqualValues(t, 1, res.RowsAffected)
			assert.Equal(t, int64(1), res.GeneratedKey.Any())

			_, err = ds.Update(ctx, "INSERT INTO "+table+" (name) VALUES (?)", "ann")
			assert.ErrorIs(t, err, ErrDuplicateKey)

			_, err = ds.BatchInsert(ctx, "INSERT INTO "+table+" (name) VALUES ", "ON CONFLICT DO NOTHING",
				[][]any{{"bob"}, {"ann"}, {"cy"}})
			require.NoError(t, err)

			rows, err := ds.QueryParams(ctx, "SELECT count(*) FROM "+table+" WHERE name <> ?", "zz")
			require.NoError(t, err)
			n, err := rows.Count()
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			rows, err = ds.QueryParams(ctx, "SELECT born FROM "+table+" WHERE name = ?", "ann")
			require.NoError(t, err)
			born, err := rows[0].GetDate("born")
			require.NoError(t, err)
			assert.Equal(t, "1990-02-03", born.Format("2006-01-02"))

			_, err = ds.Exec(ctx, "CREATE OR REPLACE PROCEDURE rename_"+driver+"(old TEXT, new TEXT) LANGUAGE SQL AS $$ UPDATE "+table+" SET name = new WHERE name = old $$")
			require.NoError(t, err)
			require.NoError(t, ds.CallProcedure(ctx, "rename_"+driver+"(?, ?)", "cy", "cyd"))

			rows, err = ds.QueryParams(ctx, "SELECT id FROM "+table+" WHERE name = ?", "cyd")
			require.NoError(t, err)
			assert.Len(t, rows, 1)

			assert.Equal(t, 0, reg.Stats()[driver].InUse)
		})
	}
}
