package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	perrors "peripheral/internal/errors"
	"peripheral/internal/textnorm"
)

const totalColumn = "__total"

// Postgres reads collections with SQL over database/sql and lib/pq. Every fetch
// runs in a read-only transaction.
type Postgres struct {
	db     *sql.DB
	schema string
}

var _ Gateway = (*Postgres)(nil)

// OpenPostgres connects to dsn. The pool is sized by maxConns.
func OpenPostgres(dsn, schema string, maxConns int) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	return NewPostgres(db, schema), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB, schema string) *Postgres {
	if schema == "" {
		schema = "public"
	}
	return &Postgres{db: db, schema: schema}
}

// Name implements Gateway.
func (p *Postgres) Name() string { return "postgres" }

// Close releases the pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Ping implements Gateway.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return classifyPG("ping", err)
	}
	return nil
}

// Fetch implements Gateway.
func (p *Postgres) Fetch(ctx context.Context, q Query) (*Page, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	query, args, err := buildPostgresSelect(p.schema, q)
	if err != nil {
		return nil, perrors.NewInvalidFilterError("build sql", err)
	}

	op := "fetch " + q.Collection
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classifyPG(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyPG(op, err)
	}
	defer rows.Close()

	page := &Page{Rows: []json.RawMessage{}}
	for rows.Next() {
		var doc string
		if q.CountTotal {
			var total int
			if err := rows.Scan(&doc, &total); err != nil {
				return nil, classifyPG(op, err)
			}
			page.Total = &total
		} else if err := rows.Scan(&doc); err != nil {
			return nil, classifyPG(op, err)
		}
		page.Rows = append(page.Rows, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG(op, err)
	}
	if q.CountTotal && page.Total == nil {
		// An empty page carries no window total; the offset may simply be past the end.
		total, err := p.count(ctx, tx, q)
		if err != nil {
			return nil, classifyPG(op, err)
		}
		page.Total = &total
	}
	return page, nil
}

func (p *Postgres) count(ctx context.Context, tx *sql.Tx, q Query) (int, error) {
	where, err := whereClause(q.Filters)
	if err != nil {
		return 0, err
	}
	b := sq.Select("count(*)").From(p.table(q.Collection)).PlaceholderFormat(sq.Dollar)
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (p *Postgres) table(collection string) string {
	return pq.QuoteIdentifier(p.schema) + "." + pq.QuoteIdentifier(collection)
}

// buildPostgresSelect renders q as a single statement returning one JSON
// document per row, plus the window total when requested.
func buildPostgresSelect(schema string, q Query) (string, []interface{}, error) {
	cols := []string{"*"}
	if len(q.Select) > 0 {
		cols = make([]string, 0, len(q.Select)+len(q.Order))
		seen := make(map[string]bool, len(q.Select))
		for _, c := range q.Select {
			seen[c] = true
			if c == "*" {
				cols = append(cols, c)
				continue
			}
			cols = append(cols, pq.QuoteIdentifier(c))
		}
		// the outer query re-sorts on these, so they must be projected
		for _, o := range q.Order {
			if !seen[o.Column] && !seen["*"] {
				seen[o.Column] = true
				cols = append(cols, pq.QuoteIdentifier(o.Column))
			}
		}
	}
	if q.CountTotal {
		cols = append(cols, "count(*) OVER() AS "+totalColumn)
	}

	inner := sq.Select(cols...).
		From(pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(q.Collection))
	where, err := whereClause(q.Filters)
	if err != nil {
		return "", nil, err
	}
	if where != nil {
		inner = inner.Where(where)
	}
	orderBy := orderClauses(q.Order, "")
	if len(orderBy) > 0 {
		inner = inner.OrderBy(orderBy...)
	}
	inner = inner.Limit(uint64(q.Limit)).Offset(uint64(q.Offset))

	outerCols := []string{"to_jsonb(t)::text"}
	if q.CountTotal {
		outerCols = []string{"(to_jsonb(t) - '" + totalColumn + "')::text", "t." + totalColumn}
	}
	outer := sq.Select(outerCols...).FromSelect(inner, "t").PlaceholderFormat(sq.Dollar)
	if len(orderBy) > 0 {
		outer = outer.OrderBy(orderClauses(q.Order, "t.")...)
	}
	return outer.ToSql()
}

func orderClauses(order []Order, prefix string) []string {
	out := make([]string, 0, len(order))
	for _, o := range order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		out = append(out, prefix+pq.QuoteIdentifier(o.Column)+" "+dir+" NULLS LAST")
	}
	return out
}

func whereClause(filters []Filter) (sq.Sqlizer, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	and := sq.And{}
	for _, f := range filters {
		s, err := filterSQL(f)
		if err != nil {
			return nil, err
		}
		and = append(and, s)
	}
	return and, nil
}

func filterSQL(f Filter) (sq.Sqlizer, error) {
	col := pq.QuoteIdentifier(f.Column)
	switch f.Op {
	case OpEq:
		return sq.Eq{col: sqlValue(f.Value)}, nil
	case OpIEq:
		return sq.Expr(col+`::text ILIKE ? ESCAPE '\'`, textnorm.EscapeLike(textnorm.Clean(f.Value.(string)))), nil
	case OpContains:
		return sq.Expr(col+`::text ILIKE ? ESCAPE '\'`, "%"+textnorm.EscapeLike(textnorm.Clean(f.Value.(string)))+"%"), nil
	case OpArrayContains:
		return sq.Expr(`EXISTS (SELECT 1 FROM unnest(`+col+`) AS el WHERE el ILIKE ? ESCAPE '\')`,
			"%"+textnorm.EscapeLike(textnorm.Clean(f.Value.(string)))+"%"), nil
	case OpGte:
		return sq.GtOrEq{col: sqlValue(f.Value)}, nil
	case OpLte:
		return sq.LtOrEq{col: sqlValue(f.Value)}, nil
	case OpIn:
		return sq.Expr(col+"::text = ANY(?)", pq.Array(f.Value.([]string))), nil
	case OpOr:
		or := sq.Or{}
		for _, sub := range f.Any {
			s, err := filterSQL(sub)
			if err != nil {
				return nil, err
			}
			or = append(or, s)
		}
		return or, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", f.Op)
	}
}

// sqlValue passes times and scalars through for the driver and renders other
// Stringers (row ids) as text.
func sqlValue(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case string, int, int64, float64, bool:
		return v
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}

// classifyPG maps driver errors onto the gateway taxonomy.
func classifyPG(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := perrors.As(err); ok {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57", "40":
			return perrors.NewTransientError(op, err)
		case "22", "42":
			return perrors.NewInvalidFilterError("store rejected query", err)
		}
		return perrors.NewInternalError("store error", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "connection refused") {
		return perrors.NewTransientError(op, err)
	}
	return perrors.NewInternalError("store error", err)
}
