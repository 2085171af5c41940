// Package sqlbuilder translates structured filter, order, and limit
// descriptors into parameterized SQL fragments.
//
// The operator set is a closed enum, so an invalid operator is a
// compile-time concern for callers. Conditions are AND-joined in input
// order; there is no OR support and no nested grouping. Column names are
// supplied by repository code, never by callers outside this module, and
// are interpolated as-is; values always travel as positional parameters.
package sqlbuilder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/solenoid-labs/storekit/internal/dberr"
)

// Op enumerates the supported condition operators.
type Op int

const (
	Eq Op = iota
	Ne
	Gt
	Lt
	Gte
	Lte
	Like
	In
	NotIn
	IsNull
	IsNotNull
)

func (op Op) String() string {
	switch op {
	case Eq:
		return "="
	case Ne:
		return "!="
	case Gt:
		return ">"
	case Lt:
		return "<"
	case Gte:
		return ">="
	case Lte:
		return "<="
	case Like:
		return "LIKE"
	case In:
		return "IN"
	case NotIn:
		return "NOT IN"
	case IsNull:
		return "IS NULL"
	case IsNotNull:
		return "IS NOT NULL"
	default:
		return "<invalid>"
	}
}

// Condition is a single column predicate. Value is ignored for IsNull and
// IsNotNull; In and NotIn require a non-empty slice value.
type Condition struct {
	Column string
	Op     Op
	Value  any
}

// Order is a single sort key.
type Order struct {
	Column string
	Desc   bool
}

// Options describes the full filter surface of a findMany-style query.
type Options struct {
	Conditions []Condition
	OrderBy    []Order
	Limit      *int
	Offset     *int
}

// Where renders an AND-joined WHERE clause with placeholders starting at
// $startIndex. An empty condition list produces an empty clause (matches
// all rows).
func Where(conds []Condition, startIndex int) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(conds))
	next := startIndex

	sb.WriteString("WHERE ")
	for i, c := range conds {
		if i > 0 {
			sb.WriteString(" AND ")
		}

		switch c.Op {
		case IsNull, IsNotNull:
			// Any supplied value is deliberately ignored.
			fmt.Fprintf(&sb, "%s %s", c.Column, c.Op)

		case In, NotIn:
			values, err := sliceValues(c)
			if err != nil {
				return "", nil, err
			}
			placeholders := make([]string, len(values))
			for j, v := range values {
				placeholders[j] = fmt.Sprintf("$%d", next)
				args = append(args, v)
				next++
			}
			fmt.Fprintf(&sb, "%s %s (%s)", c.Column, c.Op, strings.Join(placeholders, ", "))

		default:
			fmt.Fprintf(&sb, "%s %s $%d", c.Column, c.Op, next)
			args = append(args, c.Value)
			next++
		}
	}

	return sb.String(), args, nil
}

// Build renders the full WHERE / ORDER BY / LIMIT / OFFSET tail of a
// query, returning the fragment and its positional parameters.
func Build(opts Options, startIndex int) (string, []any, error) {
	clause, args, err := Where(opts.Conditions, startIndex)
	if err != nil {
		return "", nil, err
	}
	next := startIndex + len(args)

	var sb strings.Builder
	sb.WriteString(clause)

	if len(opts.OrderBy) > 0 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("ORDER BY ")
		for i, o := range opts.OrderBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			direction := "ASC"
			if o.Desc {
				direction = "DESC"
			}
			fmt.Fprintf(&sb, "%s %s", o.Column, direction)
		}
	}

	if opts.Limit != nil {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "LIMIT $%d", next)
		args = append(args, *opts.Limit)
		next++
	}

	if opts.Offset != nil {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "OFFSET $%d", next)
		args = append(args, *opts.Offset)
	}

	return sb.String(), args, nil
}

// sliceValues expands the value of an IN/NOT IN condition. A non-slice or
// empty value is a validation failure: expanding it would produce a clause
// with zero placeholders, which is never what the caller meant.
func sliceValues(c Condition) ([]any, error) {
	rv := reflect.ValueOf(c.Value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, dberr.Newf(dberr.Validation, "operator %s on column %q requires a slice value", c.Op, c.Column)
	}
	if rv.Len() == 0 {
		return nil, dberr.Newf(dberr.Validation, "operator %s on column %q requires a non-empty slice", c.Op, c.Column)
	}

	values := make([]any, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return values, nil
}
