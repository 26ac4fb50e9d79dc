package record

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
)

var kindNames = [...]string{
	KindNull:   "null",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindBool:   "bool",
	KindTime:   "time",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func parseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindNull, fmt.Errorf("%w: unknown value kind %q", ErrConversion, s)
}

// Value is a dynamically typed scalar used both for statement parameters and
// for materialized column values. The zero Value is SQL NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
	t    time.Time
}

// Null returns the SQL NULL value.
func Null() Value { return Value{} }

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating-point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Time returns a temporal value.
func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }

// Of converts a Go value of any supported scalar type into a Value.
// Unsupported types are stored as their fmt representation.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return Of(uint64(x))
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint64:
		// beyond int64 the exact digits are kept as text
		if x > math.MaxInt64 {
			return String(strconv.FormatUint(x, 10))
		}
		return Int(int64(x))
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	case []byte:
		return String(string(x))
	case bool:
		return Bool(x)
	case time.Time:
		return Time(x)
	case *time.Time:
		if x == nil {
			return Null()
		}
		return Time(*x)
	case fmt.Stringer:
		return String(x.String())
	default:
		return String(fmt.Sprint(x))
	}
}

// Kind reports the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsBlank reports whether v is NULL or an empty string. Some drivers surface
// an empty string where the column is NULL, so accessors treat both alike.
func (v Value) IsBlank() bool {
	return v.kind == KindNull || (v.kind == KindString && v.s == "")
}

// Any returns the Go value held by v, or nil for NULL.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	default:
		return nil
	}
}

// String returns the textual form used for coercion. NULL renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Value implements driver.Valuer so a Value can be bound as a parameter.
func (v Value) Value() (driver.Value, error) {
	return v.Any(), nil
}

// Scan implements sql.Scanner.
func (v *Value) Scan(src any) error {
	switch x := src.(type) {
	case []byte:
		// the driver may reuse the buffer after Scan returns
		*v = String(string(x))
	default:
		*v = Of(x)
	}
	return nil
}

type valueJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes v together with its kind so it round-trips exactly.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.kind.String()}
	if v.kind != KindNull {
		var (
			raw []byte
			err error
		)
		if v.kind == KindTime {
			raw, err = json.Marshal(v.t.Format(time.RFC3339Nano))
		} else {
			raw, err = json.Marshal(v.Any())
		}
		if err != nil {
			return nil, err
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, err := parseKind(in.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case KindNull:
		*v = Null()
	case KindInt:
		var i int64
		if err := json.Unmarshal(in.Value, &i); err != nil {
			return err
		}
		*v = Int(i)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(in.Value, &f); err != nil {
			return err
		}
		*v = Float(f)
	case KindString:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		*v = String(s)
	case KindBool:
		var b bool
		if err := json.Unmarshal(in.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case KindTime:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConversion, err)
		}
		*v = Time(t)
	}
	return nil
}
