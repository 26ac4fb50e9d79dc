package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shrek82/dbutil/config"
	"github.com/shrek82/dbutil/core"
	"github.com/shrek82/dbutil/logger"
)

var version = "0.1.0"

// globalFlags are shared by every subcommand. Unset flags fall back to the
// DBUTIL_* environment.
type globalFlags struct {
	configDir  string
	configName string
	env        string
	datasource string
	logLevel   string
	timeout    time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "dbutil",
		Short: "Run SQL against a configured named datasource",
		Long: `dbutil runs queries, updates, batch inserts and stored procedures against a
named datasource configured in cascaded settings files (config.yaml,
config-<env>.yaml) or DBUTIL_* environment variables. Results are printed as JSON.`,
		SilenceUsage: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configDir, "config-dir", "", "Directory holding the settings files (default: $DBUTIL_SETTINGS_DIR or .)")
	pf.StringVar(&g.configName, "config-name", "", "Settings file base name (default: $DBUTIL_SETTINGS_NAME or config)")
	pf.StringVar(&g.env, "env", "", "Environment overlay to merge, e.g. prod (default: $DBUTIL_ENVIRONMENT)")
	pf.StringVarP(&g.datasource, "datasource", "d", core.DefaultDatasource, "Datasource name")
	pf.StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "Overall timeout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbutil v%s\n", version)
		},
	})

	var params []string

	queryCmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run a query and print the rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataSource(cmd, &g, func(ctx context.Context, ds *core.DataSource) error {
				rows, err := ds.QueryParams(ctx, args[0], toArgs(params)...)
				if err != nil {
					return err
				}
				out := make([]map[string]any, len(rows))
				for i, r := range rows {
					out[i] = r.Map()
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	queryCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Positional parameter, repeatable")

	updateCmd := &cobra.Command{
		Use:   "update SQL",
		Short: "Run an INSERT, UPDATE or DELETE and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataSource(cmd, &g, func(ctx context.Context, ds *core.DataSource) error {
				res, err := ds.Update(ctx, args[0], toArgs(params)...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updateOutput(res))
			})
		},
	}
	updateCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Positional parameter, repeatable")

	callCmd := &cobra.Command{
		Use:   "call PROCEDURE",
		Short: "Call a stored procedure, e.g. 'refresh(?, ?)'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataSource(cmd, &g, func(ctx context.Context, ds *core.DataSource) error {
				if err := ds.CallProcedure(ctx, args[0], toArgs(params)...); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"ok": true})
			})
		},
	}
	callCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Positional parameter, repeatable")

	var tuplesFile, suffix string
	batchCmd := &cobra.Command{
		Use:   "batch PREFIX",
		Short: "Insert many rows in one statement",
		Long: `Insert many rows in one statement. The tuples are read as a JSON array of
arrays from --tuples (a file, or - for stdin).

Example:
  echo '[[1, "a"], [2, "b"]]' | dbutil batch 'INSERT INTO t (id, name) VALUES ' --tuples -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tuples, err := readTuples(cmd.InOrStdin(), tuplesFile)
			if err != nil {
				return err
			}
			return withDataSource(cmd, &g, func(ctx context.Context, ds *core.DataSource) error {
				res, err := ds.BatchInsert(ctx, args[0], suffix, tuples)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updateOutput(res))
			})
		},
	}
	batchCmd.Flags().StringVar(&tuplesFile, "tuples", "-", "JSON file with the rows to insert, - for stdin")
	batchCmd.Flags().StringVar(&suffix, "suffix", "", "Clause appended after the values, e.g. 'ON CONFLICT DO NOTHING'")

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the datasource is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDataSource(cmd, &g, func(ctx context.Context, ds *core.DataSource) error {
				start := time.Now()
				c, err := ds.Conn(ctx)
				if err != nil {
					return err
				}
				defer c.Close()
				if err := c.Raw().PingContext(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"datasource": ds.Name(),
					"dialect":    c.Dialect().Name(),
					"ok":         true,
					"took_ms":    time.Since(start).Milliseconds(),
				})
			})
		},
	}

	root.AddCommand(queryCmd, updateCmd, callCmd, batchCmd, pingCmd)
	return root
}

// withDataSource builds the registry from the environment and flags, runs
// fn on the selected datasource and closes everything.
func withDataSource(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, ds *core.DataSource) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("config-dir") {
		cfg.Settings.Dir = g.configDir
	}
	if flags.Changed("config-name") {
		cfg.Settings.Name = g.configName
	}
	if flags.Changed("env") {
		cfg.Settings.Environment = g.env
	}
	cfg.Log.Level = g.logLevel
	cfg.Log.Format = logger.LogFormatConsole
	cfg.Log.OutputPaths = []string{"stderr"}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg, err := cfg.NewRegistry(log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reg.Close(); cerr != nil {
			log.Warn("failed to close registry", zap.String("error", logger.RedactError(cerr)))
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	return fn(ctx, reg.DataSource(g.datasource))
}

func toArgs(params []string) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = p
	}
	return out
}

func updateOutput(res core.UpdateResult) map[string]any {
	out := map[string]any{"rows_affected": res.RowsAffected}
	if res.HasKey() {
		out["generated_key"] = res.GeneratedKey.Any()
	}
	return out
}

func readTuples(stdin io.Reader, name string) ([][]any, error) {
	var (
		data []byte
		err  error
	)
	if name == "" || name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tuples: %w", err)
	}
	var tuples [][]any
	if err := json.Unmarshal(data, &tuples); err != nil {
		return nil, fmt.Errorf("failed to parse tuples: %w", err)
	}
	return tuples, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
