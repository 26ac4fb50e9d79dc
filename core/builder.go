package core

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var builderPool = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

func getBuilder() *strings.Builder {
	sb := builderPool.Get().(*strings.Builder)
	sb.Reset()
	return sb
}

func putBuilder(sb *strings.Builder) {
	// don't keep very large buffers around
	if sb.Cap() > 64<<10 {
		return
	}
	builderPool.Put(sb)
}

// BuildBatchInsert renders prefix + "(?, ?), (?, ?)" + " " + suffix and the
// flattened arguments. Every tuple must have the arity of the first one.
//
//	BuildBatchInsert("INSERT INTO t (a, b) VALUES ", "", [][]any{{1, "x"}, {2, "y"}})
//	// INSERT INTO t (a, b) VALUES (?, ?), (?, ?)
func BuildBatchInsert(prefix, suffix string, tuples [][]any) (string, []any, error) {
	if len(tuples) == 0 {
		return "", nil, ErrEmptyBatch
	}
	arity := len(tuples[0])
	if arity == 0 {
		return "", nil, fmt.Errorf("%w: first tuple is empty", ErrBatchArity)
	}
	for i, t := range tuples {
		if len(t) != arity {
			return "", nil, fmt.Errorf("%w: tuple %d has %d values, want %d", ErrBatchArity, i, len(t), arity)
		}
	}

	group := "(" + strings.Repeat("?, ", arity-1) + "?)"

	sb := getBuilder()
	defer putBuilder(sb)
	sb.Grow(len(prefix) + len(tuples)*(len(group)+2) + len(suffix) + 1)
	sb.WriteString(prefix)
	args := make([]any, 0, len(tuples)*arity)
	for i, t := range tuples {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(group)
		args = append(args, t...)
	}
	if suffix != "" {
		sb.WriteByte(' ')
		sb.WriteString(suffix)
	}
	return sb.String(), args, nil
}

var returningPattern = regexp.MustCompile(`(?i)\bRETURNING\b|\bOUTPUT\s+INSERTED\b`)

// returnsRows reports whether an update statement yields rows, i.e. carries a
// RETURNING or OUTPUT INSERTED clause outside literals and comments.
func returnsRows(query string) bool {
	return returningPattern.MatchString(stripLiterals(query))
}

// stripLiterals blanks out quoted strings, quoted identifiers and comments so
// keyword matching only sees SQL text. Doubled quotes inside a literal are
// escapes; an unterminated literal runs to the end of the query.
func stripLiterals(query string) string {
	sb := getBuilder()
	defer putBuilder(sb)
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			i++
			for i < len(query) {
				if query[i] == ch {
					if i+1 < len(query) && query[i+1] == ch {
						i += 2
						continue
					}
					break
				}
				i++
			}
			sb.WriteByte(' ')
		case ch == '-' && i+1 < len(query) && query[i+1] == '-':
			for i < len(query) && query[i] != '\n' {
				i++
			}
			sb.WriteByte(' ')
		case ch == '/' && i+1 < len(query) && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				i = len(query)
			} else {
				i += end + 3
			}
			sb.WriteByte(' ')
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// isInsert reports whether the statement's leading keyword is INSERT or REPLACE.
func isInsert(query string) bool {
	q := strings.TrimLeft(query, " \t\r\n(")
	end := strings.IndexAny(q, " \t\r\n(")
	if end < 0 {
		end = len(q)
	}
	switch strings.ToUpper(q[:end]) {
	case "INSERT", "REPLACE":
		return true
	}
	return false
}
