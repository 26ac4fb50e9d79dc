package record

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DateLayout is the default layout used by GetDate.
	DateLayout = "2006-01-02"
	// DateTimeLayout is the default layout used by GetDateTime. Fractional
	// seconds in the input are accepted without being named in the layout.
	DateTimeLayout = "2006-01-02 15:04:05"
)

// Row is one materialized result record: column labels in result order and
// a value per label.
type Row struct {
	columns []string
	values  map[string]Value
}

// NewRow builds a row from parallel label and value slices. When a label
// repeats, the later value wins and the label keeps its first position.
func NewRow(columns []string, values []Value) Row {
	r := Row{
		columns: make([]string, 0, len(columns)),
		values:  make(map[string]Value, len(columns)),
	}
	for i, col := range columns {
		var v Value
		if i < len(values) {
			v = values[i]
		}
		if _, dup := r.values[col]; !dup {
			r.columns = append(r.columns, col)
		}
		r.values[col] = v
	}
	return r
}

// RowOf builds a row from a map. Columns are ordered by label.
func RowOf(m map[string]any) Row {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	vals := make([]Value, len(cols))
	for i, c := range cols {
		vals[i] = Of(m[c])
	}
	return NewRow(cols, vals)
}

// Columns returns the column labels in result order.
func (r Row) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Len returns the number of distinct columns.
func (r Row) Len() int { return len(r.columns) }

// Has reports whether the row contains the column.
func (r Row) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Get returns the raw value of a column.
func (r Row) Get(column string) (Value, error) {
	v, ok := r.values[column]
	if !ok {
		return Value{}, fmt.Errorf("%w: result does not contain column with name %q", ErrColumnNotFound, column)
	}
	return v, nil
}

// Map returns the row as a plain map of Go values.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for k, v := range r.values {
		m[k] = v.Any()
	}
	return m
}

// lookup is shared by the typed getters: missing column is an error, a blank
// value yields ok=false with no error.
func (r Row) lookup(column string) (Value, bool, error) {
	v, err := r.Get(column)
	if err != nil {
		return Value{}, false, err
	}
	if v.IsBlank() {
		return Value{}, false, nil
	}
	return v, true, nil
}

func conversionError(column, target string, v Value, err error) error {
	return fmt.Errorf("%w: column %q value %q to %s: %v", ErrConversion, column, v.String(), target, err)
}

// GetInt returns the column as an integer, or nil when it is NULL or empty.
func (r Row) GetInt(column string) (*int64, error) {
	v, ok, err := r.lookup(column)
	if err != nil || !ok {
		return nil, err
	}
	if v.kind == KindInt {
		i := v.i
		return &i, nil
	}
	i, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil {
		return nil, conversionError(column, "int", v, err)
	}
	return &i, nil
}

// GetFloat returns the column as a float, or nil when it is NULL or empty.
func (r Row) GetFloat(column string) (*float64, error) {
	v, ok, err := r.lookup(column)
	if err != nil || !ok {
		return nil, err
	}
	if v.kind == KindFloat {
		f := v.f
		return &f, nil
	}
	f, err := strconv.ParseFloat(v.String(), 64)
	if err != nil {
		return nil, conversionError(column, "float", v, err)
	}
	return &f, nil
}

// GetString returns the column as a string, or nil when it is NULL or empty.
func (r Row) GetString(column string) (*string, error) {
	v, ok, err := r.lookup(column)
	if err != nil || !ok {
		return nil, err
	}
	s := v.String()
	return &s, nil
}

// GetBool returns the column as a boolean, or nil when it is NULL or empty.
// "true" in any case and "1" are true; every other value is false.
func (r Row) GetBool(column string) (*bool, error) {
	v, ok, err := r.lookup(column)
	if err != nil || !ok {
		return nil, err
	}
	if v.kind == KindBool {
		b := v.b
		return &b, nil
	}
	s := v.String()
	b := strings.EqualFold(s, "true") || s == "1"
	return &b, nil
}

// GetDate returns the column as a date at midnight. The optional layout
// overrides DateLayout for string values.
func (r Row) GetDate(column string, layout ...string) (*time.Time, error) {
	v, ok, err := r.lookup(column)
	if err != nil || !ok {
		return nil, err
	}
	if v.kind == KindTime {
		y, m, d := v.t.Date()
		t := time.Date(y, m, d, 0, 0, 0, 0, v.t.Location())
		return &t, nil
	}
	t, err := time.Parse(pickLayout(layout, DateLayout), v.String())
	if err != nil {
		return nil, conversionError(column, "date", v, err)
	}
	return &t, nil
}

// GetDateTime returns the column as a timestamp. The optional layout
// overrides DateTimeLayout for string values.
func (r Row) GetDateTime(column string, layout ...string) (*time.Time, error) {
	v, ok, err := r.lookup(column)
	if err != nil || !ok {
		return nil, err
	}
	if v.kind == KindTime {
		t := v.t
		return &t, nil
	}
	t, err := time.Parse(pickLayout(layout, DateTimeLayout), v.String())
	if err != nil {
		return nil, conversionError(column, "datetime", v, err)
	}
	return &t, nil
}

func pickLayout(layout []string, def string) string {
	if len(layout) > 0 && layout[0] != "" {
		return layout[0]
	}
	return def
}

type rowJSON struct {
	Columns []string `json:"columns"`
	Values  []Value  `json:"values"`
}

// MarshalJSON encodes the row with its column order.
func (r Row) MarshalJSON() ([]byte, error) {
	out := rowJSON{Columns: r.columns, Values: make([]Value, len(r.columns))}
	for i, c := range r.columns {
		out.Values[i] = r.values[c]
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (r *Row) UnmarshalJSON(data []byte) error {
	var in rowJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = NewRow(in.Columns, in.Values)
	return nil
}
