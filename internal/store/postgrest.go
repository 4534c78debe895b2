package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	perrors "peripheral/internal/errors"
	"peripheral/internal/model"
	"peripheral/internal/textnorm"
	"peripheral/internal/version"
)

const maxResponseBytes = 32 << 20

// PostgRESTOptions configures a PostgREST gateway.
type PostgRESTOptions struct {
	BaseURL    string // project URL; "/rest/v1" is appended when missing
	Key        string // read credential sent as apikey and bearer token
	Schema     string // sent as Accept-Profile when not "public"
	HTTPClient *http.Client
}

// PostgREST reads collections through a PostgREST HTTP endpoint.
type PostgREST struct {
	base   string
	key    string
	schema string
	client *http.Client
}

var _ Gateway = (*PostgREST)(nil)

// NewPostgREST creates a PostgREST gateway.
func NewPostgREST(opts PostgRESTOptions) (*PostgREST, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid postgrest url %q", opts.BaseURL)
	}
	base := u.String()
	if !strings.HasSuffix(base, "/rest/v1") {
		base += "/rest/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &PostgREST{base: base, key: opts.Key, schema: opts.Schema, client: client}, nil
}

// Name implements Gateway.
func (p *PostgREST) Name() string { return "postgrest" }

// Fetch implements Gateway.
func (p *PostgREST) Fetch(ctx context.Context, q Query) (*Page, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	return p.get(ctx, q.Collection, encodePostgREST(q), q.CountTotal)
}

// Ping implements Gateway.
func (p *PostgREST) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("select", "id")
	params.Set("limit", "1")
	_, err := p.get(ctx, model.CollectionArticles, params, false)
	return err
}

func (p *PostgREST) get(ctx context.Context, collection string, params url.Values, count bool) (*Page, error) {
	op := "fetch " + collection
	endpoint := p.base + "/" + collection + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, perrors.NewInternalError("create store request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if p.key != "" {
		req.Header.Set("apikey", p.key)
		req.Header.Set("Authorization", "Bearer "+p.key)
	}
	if p.schema != "" && p.schema != "public" {
		req.Header.Set("Accept-Profile", p.schema)
	}
	if count {
		req.Header.Set("Prefer", "count=exact")
	}

	res, err := p.client.Do(req)
	if err != nil {
		return nil, perrors.NewTransientError(op, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, perrors.NewTransientError(op, err)
	}

	total := parseContentRange(res.Header.Get("Content-Range"))

	switch {
	case res.StatusCode == http.StatusOK || res.StatusCode == http.StatusPartialContent:
	case res.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return &Page{Rows: []json.RawMessage{}, Total: total}, nil
	case res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusNotFound:
		return nil, perrors.NewInvalidFilterError(
			fmt.Sprintf("store rejected query on %s (status %d)", collection, res.StatusCode),
			fmt.Errorf("%s", postgrestMessage(body)))
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, perrors.NewInternalError(
			fmt.Sprintf("store rejected read credential (status %d)", res.StatusCode),
			fmt.Errorf("%s", postgrestMessage(body)))
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusRequestTimeout || res.StatusCode >= 500:
		return nil, perrors.NewTransientError(op, fmt.Errorf("status %d: %s", res.StatusCode, postgrestMessage(body)))
	default:
		return nil, perrors.NewInternalError(fmt.Sprintf("unexpected store status %d", res.StatusCode), nil)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, perrors.NewInternalError("decode store response", err)
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return &Page{Rows: rows, Total: total}, nil
}

// parseContentRange reads the total from "0-24/3573", "*/0" or "0-24/*".
func parseContentRange(h string) *int {
	i := strings.LastIndex(h, "/")
	if i < 0 {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(h[i+1:]))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func postgrestMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Code + " " + e.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// encodePostgREST renders q as PostgREST query parameters.
func encodePostgREST(q Query) url.Values {
	v := url.Values{}
	if len(q.Select) > 0 {
		v.Set("select", strings.Join(q.Select, ","))
	} else {
		v.Set("select", "*")
	}

	for _, f := range q.Filters {
		if f.Op == OpOr {
			parts := make([]string, 0, len(f.Any))
			for _, sub := range f.Any {
				parts = append(parts, sub.Column+"."+postgrestOperand(sub, true))
			}
			v.Add("or", "("+strings.Join(parts, ",")+")")
			continue
		}
		v.Add(f.Column, postgrestOperand(f, false))
	}

	if len(q.Order) > 0 {
		keys := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			keys[i] = o.Column + "." + dir
		}
		v.Set("order", strings.Join(keys, ","))
	}

	v.Set("limit", strconv.Itoa(q.Limit))
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// postgrestOperand renders "op.value". Values inside or=(...) are quoted.
func postgrestOperand(f Filter, nested bool) string {
	quote := func(s string) string {
		if !nested {
			return s
		}
		return postgrestQuote(s)
	}

	switch f.Op {
	case OpIEq:
		return "ilike." + quote(likePattern(f.Value.(string), false))
	case OpContains:
		return "ilike." + quote(likePattern(f.Value.(string), true))
	case OpArrayContains:
		// Exact element containment; PostgREST has no substring-in-array operator.
		return "cs." + quote("{"+postgrestQuote(textnorm.Clean(f.Value.(string)))+"}")
	case OpGte:
		return "gte." + quote(formatValue(f.Value))
	case OpLte:
		return "lte." + quote(formatValue(f.Value))
	case OpIn:
		values := f.Value.([]string)
		quoted := make([]string, len(values))
		for i, s := range values {
			quoted[i] = postgrestQuote(s)
		}
		return "in.(" + strings.Join(quoted, ",") + ")"
	default:
		return "eq." + quote(formatValue(f.Value))
	}
}

// likePattern escapes LIKE wildcards in s. PostgREST treats '*' as '%' and
// offers no escape for it, so a literal '*' degrades to a one-character wildcard.
func likePattern(s string, substring bool) string {
	p := strings.ReplaceAll(textnorm.EscapeLike(textnorm.Clean(s)), "*", "_")
	if substring {
		return "*" + p + "*"
	}
	return p
}

func postgrestQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
