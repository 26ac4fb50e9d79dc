package record

import (
	"database/sql"
	"fmt"
	"strings"
)

// Rows is a fully materialized result set.
type Rows []Row

// First returns the first row.
func (rs Rows) First() (Row, error) {
	if len(rs) == 0 {
		return Row{}, ErrNoRows
	}
	return rs[0], nil
}

// Count extracts a scalar count from a one-row result. The column is the one
// given, otherwise the first whose label contains "count" (case-insensitive),
// otherwise the first column. A NULL count reads as zero.
func (rs Rows) Count(column ...string) (int64, error) {
	if len(rs) != 1 {
		return 0, fmt.Errorf("%w: got %d", ErrNotSingleRow, len(rs))
	}
	row := rs[0]
	col := ""
	if len(column) > 0 && column[0] != "" {
		col = column[0]
	} else {
		col = countColumn(row)
	}
	if col == "" {
		return 0, fmt.Errorf("%w: result has no columns", ErrColumnNotFound)
	}
	n, err := row.GetInt(col)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

func countColumn(row Row) string {
	for _, c := range row.columns {
		if strings.Contains(strings.ToLower(c), "count") {
			return c
		}
	}
	if len(row.columns) > 0 {
		return row.columns[0]
	}
	return ""
}

// Scan materializes every remaining row of the cursor. It does not close
// rows; the caller owns the cursor.
func Scan(rows *sql.Rows) (Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make(Rows, 0)
	for rows.Next() {
		values := make([]Value, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
