// Package store is the data access gateway: a uniform, read-only, paginated row
// fetch over the backing store's collections. Three gateways are provided:
// PostgREST over HTTP, direct Postgres, and an in-memory fixture store.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	perrors "peripheral/internal/errors"
)

// MaxPageSize bounds every fetch regardless of the caller's limit.
const MaxPageSize = 200

// Op is a filter operator.
type Op string

const (
	OpEq            Op = "eq"             // exact equality
	OpIEq           Op = "ieq"            // case-insensitive equality
	OpContains      Op = "contains"       // case-insensitive substring
	OpArrayContains Op = "array_contains" // some array element contains the value
	OpGte           Op = "gte"
	OpLte           Op = "lte"
	OpIn            Op = "in" // value is []string
	OpOr            Op = "or" // any of Any matches
)

// Filter is one predicate on a column.
type Filter struct {
	Column string
	Op     Op
	Value  interface{}
	Any    []Filter
}

// Eq matches column == value.
func Eq(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// IEq matches column equal to value after case folding.
func IEq(column, value string) Filter {
	return Filter{Column: column, Op: OpIEq, Value: value}
}

// Contains matches when value is a case-folded substring of column.
func Contains(column, value string) Filter {
	return Filter{Column: column, Op: OpContains, Value: value}
}

// ArrayContains matches when some element of an array column contains value.
func ArrayContains(column, value string) Filter {
	return Filter{Column: column, Op: OpArrayContains, Value: value}
}

// Since is the time lower bound used on time-series collections.
func Since(column string, t time.Time) Filter {
	return Filter{Column: column, Op: OpGte, Value: t.UTC()}
}

// Until is an inclusive time upper bound.
func Until(column string, t time.Time) Filter {
	return Filter{Column: column, Op: OpLte, Value: t.UTC()}
}

// In matches column against a set of values.
func In(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

// Or matches when any sub-filter matches.
func Or(filters ...Filter) Filter {
	return Filter{Op: OpOr, Any: filters}
}

// Order is one sort key.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a single page fetch.
type Query struct {
	Collection string
	Select     []string // empty selects all columns
	Filters    []Filter
	Order      []Order
	Limit      int // clamped to [1, MaxPageSize]; 0 means MaxPageSize
	Offset     int
	CountTotal bool // ask the store for an exact total
}

// Page is one fetched page. Total is nil when the store did not report one.
type Page struct {
	Rows  []json.RawMessage
	Total *int
}

// Gateway is implemented by every backing store adapter.
type Gateway interface {
	// Fetch returns one page of rows. It fails with TRANSIENT_UNAVAILABLE on
	// connectivity problems or timeouts and INVALID_FILTER on a rejected query.
	Fetch(ctx context.Context, q Query) (*Page, error)
	// Ping checks reachability.
	Ping(ctx context.Context) error
	// Name identifies the gateway kind for provenance.
	Name() string
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// normalize validates identifiers and operators and clamps paging.
func (q Query) normalize() (Query, error) {
	if !identRe.MatchString(q.Collection) {
		return q, perrors.NewInvalidFilterError(fmt.Sprintf("invalid collection %q", q.Collection), nil)
	}
	for _, c := range q.Select {
		if c != "*" && !identRe.MatchString(c) {
			return q, perrors.NewInvalidFilterError(fmt.Sprintf("invalid column %q", c), nil)
		}
	}
	for _, o := range q.Order {
		if !identRe.MatchString(o.Column) {
			return q, perrors.NewInvalidFilterError(fmt.Sprintf("invalid order column %q", o.Column), nil)
		}
	}
	for _, f := range q.Filters {
		if err := f.validate(); err != nil {
			return q, err
		}
	}
	if q.Limit <= 0 || q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q, nil
}

func (f Filter) validate() error {
	if f.Op == OpOr {
		if len(f.Any) == 0 {
			return perrors.NewInvalidFilterError("empty or-filter", nil)
		}
		for _, sub := range f.Any {
			if sub.Op == OpOr {
				return perrors.NewInvalidFilterError("nested or-filters are not supported", nil)
			}
			if err := sub.validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if !identRe.MatchString(f.Column) {
		return perrors.NewInvalidFilterError(fmt.Sprintf("invalid filter column %q", f.Column), nil)
	}
	switch f.Op {
	case OpEq, OpGte, OpLte:
		if f.Value == nil {
			return perrors.NewInvalidFilterError(fmt.Sprintf("%s on %s needs a value", f.Op, f.Column), nil)
		}
	case OpIEq, OpContains, OpArrayContains:
		if _, ok := f.Value.(string); !ok {
			return perrors.NewInvalidFilterError(fmt.Sprintf("%s on %s needs a string", f.Op, f.Column), nil)
		}
	case OpIn:
		if _, ok := f.Value.([]string); !ok {
			return perrors.NewInvalidFilterError(fmt.Sprintf("in on %s needs a string list", f.Column), nil)
		}
	default:
		return perrors.NewInvalidFilterError(fmt.Sprintf("unknown operator %q", f.Op), nil)
	}
	return nil
}

// formatValue renders a filter value the way both SQL text and PostgREST expect.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
