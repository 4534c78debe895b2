package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	perrors "peripheral/internal/errors"
)

func TestBuildPostgresSelect(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	q, err := Query{
		Collection: "signal",
		Filters: []Filter{
			Since("created_at", since),
			Contains("target_region", "Kyiv_1"),
		},
		Order:      []Order{{Column: "created_at", Desc: true}, {Column: "id"}},
		Limit:      50,
		Offset:     40,
		CountTotal: true,
	}.normalize()
	if err != nil {
		t.Fatal(err)
	}

	sql, args, err := buildPostgresSelect("osint", q)
	if err != nil {
		t.Fatalf("buildPostgresSelect: %v", err)
	}

	for _, want := range []string{
		`FROM "osint"."signal"`,
		`"created_at" >= $1`,
		`"target_region"::text ILIKE $2 ESCAPE '\'`,
		`count(*) OVER() AS __total`,
		`LIMIT 50`,
		`OFFSET 40`,
		`(to_jsonb(t) - '__total')::text, t.__total`,
		`ORDER BY t."created_at" DESC NULLS LAST, t."id" ASC NULLS LAST`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("sql missing %q:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, "?") {
		t.Errorf("unreplaced placeholder in %s", sql)
	}

	if len(args) != 2 {
		t.Fatalf("args = %v", args)
	}
	if ts, ok := args[0].(time.Time); !ok || !ts.Equal(since) {
		t.Errorf("args[0] = %v", args[0])
	}
	if args[1] != `%Kyiv\_1%` {
		t.Errorf("args[1] = %v, want escaped pattern", args[1])
	}
}

func TestBuildPostgresSelect_ProjectsOrderColumns(t *testing.T) {
	q, _ := Query{
		Collection: "story",
		Select:     []string{"id", "title"},
		Order:      []Order{{Column: "source_count", Desc: true}},
	}.normalize()

	sql, _, err := buildPostgresSelect("public", q)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, `SELECT "id", "title", "source_count" FROM`) {
		t.Errorf("order column not projected:\n%s", sql)
	}
	if !strings.HasPrefix(sql, "SELECT to_jsonb(t)::text FROM (") {
		t.Errorf("unexpected outer select:\n%s", sql)
	}
}

func TestFilterSQL_OrInArray(t *testing.T) {
	s, err := filterSQL(Or(
		Contains("name", "nato"),
		ArrayContains("aliases", "nato"),
		In("id", []string{"1", "2"}),
	))
	if err != nil {
		t.Fatal(err)
	}
	sql, args, err := s.ToSql()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"name"::text ILIKE ? ESCAPE '\'`,
		`EXISTS (SELECT 1 FROM unnest("aliases") AS el WHERE el ILIKE ? ESCAPE '\')`,
		`"id"::text = ANY(?)`,
		" OR ",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("sql missing %q: %s", want, sql)
		}
	}
	if len(args) != 3 {
		t.Errorf("args = %v", args)
	}
}

func TestClassifyPG(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want perrors.ErrorCode
	}{
		{"undefined column", &pq.Error{Code: "42703"}, perrors.InvalidFilter},
		{"bad datetime", &pq.Error{Code: "22007"}, perrors.InvalidFilter},
		{"connection failure", &pq.Error{Code: "08006"}, perrors.TransientUnavailable},
		{"admin shutdown", &pq.Error{Code: "57P01"}, perrors.TransientUnavailable},
		{"deadline", context.DeadlineExceeded, perrors.TransientUnavailable},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), perrors.TransientUnavailable},
		{"other", errors.New("boom"), perrors.InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := perrors.CodeOf(classifyPG("fetch x", tt.err)); got != tt.want {
				t.Errorf("code = %s, want %s", got, tt.want)
			}
		})
	}
}
