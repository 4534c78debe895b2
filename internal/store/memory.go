package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	perrors "peripheral/internal/errors"
	"peripheral/internal/model"
	"peripheral/internal/textnorm"
)

type memRow struct {
	raw  json.RawMessage
	cols map[string]interface{}
}

// Memory is an in-process gateway over fixture rows. Its matching semantics are
// the reference the other gateways approximate.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]memRow
	pingErr     error
}

var _ Gateway = (*Memory)(nil)

// NewMemory creates an empty memory gateway.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]memRow)}
}

// Name implements Gateway.
func (m *Memory) Name() string { return "memory" }

// Insert appends rows to a collection. Each row is any JSON-marshalable value.
func (m *Memory) Insert(collection string, rows ...interface{}) error {
	decoded := make([]memRow, 0, len(rows))
	for i, r := range rows {
		raw, ok := r.(json.RawMessage)
		if !ok {
			b, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("%s row %d: %w", collection, i, err)
			}
			raw = b
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var cols map[string]interface{}
		if err := dec.Decode(&cols); err != nil {
			return fmt.Errorf("%s row %d: %w", collection, i, err)
		}
		decoded = append(decoded, memRow{raw: raw, cols: cols})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append(m.collections[collection], decoded...)
	return nil
}

// SetPingError makes Ping and Fetch fail with err, simulating an outage.
func (m *Memory) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// Collections lists the loaded collection names.
func (m *Memory) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping implements Gateway.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pingErr != nil {
		return perrors.NewTransientError("ping", m.pingErr)
	}
	return ctx.Err()
}

// Fetch implements Gateway.
func (m *Memory) Fetch(ctx context.Context, q Query) (*Page, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, perrors.NewTransientError("fetch "+q.Collection, err)
	}

	m.mu.RLock()
	if m.pingErr != nil {
		m.mu.RUnlock()
		return nil, perrors.NewTransientError("fetch "+q.Collection, m.pingErr)
	}
	all := m.collections[q.Collection]
	matched := make([]memRow, 0, len(all))
	for _, r := range all {
		if matchesAll(r.cols, q.Filters) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	if len(q.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return lessRow(matched[i].cols, matched[j].cols, q.Order)
		})
	}

	total := len(matched)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	page := &Page{Rows: make([]json.RawMessage, 0, end-start)}
	for _, r := range matched[start:end] {
		row, err := project(r, q.Select)
		if err != nil {
			return nil, perrors.NewInternalError("project row", err)
		}
		page.Rows = append(page.Rows, row)
	}
	if q.CountTotal {
		page.Total = &total
	}
	return page, nil
}

func project(r memRow, sel []string) (json.RawMessage, error) {
	if len(sel) == 0 {
		return r.raw, nil
	}
	out := make(map[string]interface{}, len(sel))
	for _, c := range sel {
		if c == "*" {
			return r.raw, nil
		}
		if v, ok := r.cols[c]; ok {
			out[c] = v
		}
	}
	return json.Marshal(out)
}

func matchesAll(cols map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		if !matches(cols, f) {
			return false
		}
	}
	return true
}

func matches(cols map[string]interface{}, f Filter) bool {
	if f.Op == OpOr {
		for _, sub := range f.Any {
			if matches(cols, sub) {
				return true
			}
		}
		return false
	}

	v, ok := cols[f.Column]
	if !ok || v == nil {
		return false
	}

	switch f.Op {
	case OpEq:
		return scalarString(v) == formatValue(f.Value)
	case OpIEq:
		return textnorm.Equal(scalarString(v), f.Value.(string))
	case OpContains:
		return textnorm.Contains(scalarString(v), f.Value.(string))
	case OpArrayContains:
		return textnorm.AnyContains(stringElements(v), f.Value.(string))
	case OpGte:
		c, ok := compareToFilter(v, f.Value)
		return ok && c >= 0
	case OpLte:
		c, ok := compareToFilter(v, f.Value)
		return ok && c <= 0
	case OpIn:
		s := scalarString(v)
		for _, want := range f.Value.([]string) {
			if s == want {
				return true
			}
		}
		return false
	}
	return false
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func stringElements(v interface{}) []string {
	switch x := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if e != nil {
				out = append(out, scalarString(e))
			}
		}
		return out
	case string:
		var l model.StringList
		raw, _ := json.Marshal(x)
		if err := l.UnmarshalJSON(raw); err == nil {
			return l
		}
	}
	return nil
}

// compareToFilter compares a row value with a filter bound; ok is false when
// the two cannot be compared.
func compareToFilter(v interface{}, bound interface{}) (int, bool) {
	switch b := bound.(type) {
	case time.Time:
		t, err := model.ParseTime(scalarString(v))
		if err != nil {
			return 0, false
		}
		return t.Compare(b), true
	case int, int64, float64:
		n, err := strconv.ParseFloat(scalarString(v), 64)
		if err != nil {
			return 0, false
		}
		f, _ := strconv.ParseFloat(formatValue(b), 64)
		return cmpFloat(n, f), true
	default:
		return strings.Compare(scalarString(v), formatValue(b)), true
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// lessRow orders by keys in turn; nulls sort last in both directions.
func lessRow(a, b map[string]interface{}, order []Order) bool {
	for _, o := range order {
		av, bv := a[o.Column], b[o.Column]
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			return false
		case bv == nil:
			return true
		}
		c := compareValues(av, bv)
		if c == 0 {
			continue
		}
		if o.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func compareValues(a, b interface{}) int {
	an, aNum := a.(json.Number)
	bn, bNum := b.(json.Number)
	if aNum && bNum {
		af, _ := an.Float64()
		bf, _ := bn.Float64()
		return cmpFloat(af, bf)
	}
	as, bs := scalarString(a), scalarString(b)
	if at, err := model.ParseTime(as); err == nil {
		if bt, err := model.ParseTime(bs); err == nil {
			return at.Compare(bt)
		}
	}
	return strings.Compare(as, bs)
}
