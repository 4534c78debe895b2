package tools

import (
	"context"
	"encoding/json"
	"testing"

	"peripheral/internal/config"
	perrors "peripheral/internal/errors"
	"peripheral/internal/query"
	"peripheral/internal/slogutil"
	"peripheral/internal/testutil"
)

func TestNewDefault_Catalogue(t *testing.T) {
	e := query.NewEngine(testutil.Dataset(t), config.DefaultConfig().Query, slogutil.NewDiscardLogger())
	c := NewDefault(e)

	want := []string{
		OpHealthCheck, OpLatestBriefing, OpMilitarySignals, OpSignalTimeline, OpTrendingStories,
		OpSearchStories, OpStoryDetails, OpSearchArticles, OpSearchEntities, OpEntityContext,
	}
	if c.Len() != len(want) {
		t.Fatalf("catalogue has %d tools, want %d", c.Len(), len(want))
	}
	defs := c.Definitions()
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("definition %d = %s, want %s", i, defs[i].Name, name)
		}
		if defs[i].Description == "" {
			t.Errorf("%s has no description", name)
		}
		if defs[i].InputSchema["type"] != "object" {
			t.Errorf("%s schema = %v", name, defs[i].InputSchema)
		}
	}
}

func TestDefinitions_Schema(t *testing.T) {
	e := query.NewEngine(testutil.Dataset(t), config.DefaultConfig().Query, slogutil.NewDiscardLogger())
	c := NewDefault(e)

	var search Definition
	for _, d := range c.Definitions() {
		if d.Name == OpSearchStories {
			search = d
		}
	}
	raw, err := json.Marshal(search.InputSchema)
	if err != nil {
		t.Fatal(err)
	}

	var s struct {
		Properties map[string]struct {
			Type      string      `json:"type"`
			MinLength int         `json:"minLength"`
			MaxLength int         `json:"maxLength"`
			Default   interface{} `json:"default"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatal(err)
	}
	q := s.Properties["query"]
	if q.Type != "string" || q.MinLength != 2 || q.MaxLength != 200 {
		t.Errorf("query = %+v", q)
	}
	if s.Properties["limit"].Type != "integer" || s.Properties["limit"].Default != float64(20) {
		t.Errorf("limit = %+v", s.Properties["limit"])
	}
	if s.Properties["hours"].Default != float64(168) {
		t.Errorf("hours default = %v", s.Properties["hours"].Default)
	}
	if len(s.Required) != 1 || s.Required[0] != "query" {
		t.Errorf("required = %v", s.Required)
	}
}

func TestCatalogue_Register(t *testing.T) {
	noop := func(context.Context, Args) (query.Result, error) { return query.Meta{}, nil }

	tests := []struct {
		name    string
		tool    Tool
		wantErr bool
	}{
		{"ok", Tool{Name: "a", Handler: noop}, false},
		{"duplicate", Tool{Name: "a", Handler: noop}, true},
		{"no handler", Tool{Name: "b"}, true},
		{"no name", Tool{Handler: noop}, true},
		{"duplicate param", Tool{Name: "c", Handler: noop, Params: []Param{{Name: "x"}, {Name: "x"}}}, true},
		{"empty enum", Tool{Name: "d", Handler: noop, Params: []Param{{Name: "x", Kind: KindEnum}}}, true},
	}

	c := NewCatalogue()
	for _, tt := range tests {
		err := c.Register(tt.tool)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
	if names := c.Names(); len(names) != 1 || names[0] != "a" {
		t.Errorf("names = %v", names)
	}
}

func TestCatalogue_AddingAnOperation(t *testing.T) {
	c := NewCatalogue()
	err := c.Register(Tool{
		Name:   "echo_hours",
		Params: []Param{hoursParam(6, 720)},
		Handler: func(_ context.Context, a Args) (query.Result, error) {
			return query.Meta{Shown: a.Int("hours")}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(c, "memory", slogutil.NewDiscardLogger())

	resp := d.Dispatch(context.Background(), Call{Name: "echo_hours"})
	if !resp.OK() {
		t.Fatalf("error = %+v", resp.Error)
	}
	if m := resp.Data.(query.Meta); m.Shown != 6 {
		t.Errorf("default not applied: %+v", m)
	}
}

func TestResolve(t *testing.T) {
	params := []Param{
		{Name: "q", Kind: KindString, Required: true, MinLen: 2, MaxLen: 5},
		{Name: "n", Kind: KindInteger, Default: 10},
		{Name: "kind", Kind: KindEnum, Enum: []string{"all", "person"}, Default: "all"},
	}

	tests := []struct {
		name      string
		raw       map[string]interface{}
		want      Args
		wantField string
		unknown   int
	}{
		{"defaults", map[string]interface{}{"q": "ab"}, Args{"q": "ab", "n": 10, "kind": "all"}, "", 0},
		{"cleaned", map[string]interface{}{"q": "  a   b "}, Args{"q": "a b", "n": 10, "kind": "all"}, "", 0},
		{"numeric string", map[string]interface{}{"q": "ab", "n": " 7 "}, Args{"q": "ab", "n": 7, "kind": "all"}, "", 0},
		{"null is absent", map[string]interface{}{"q": "ab", "n": nil}, Args{"q": "ab", "n": 10, "kind": "all"}, "", 0},
		{"enum folded", map[string]interface{}{"q": "ab", "kind": "PERSON"}, Args{"q": "ab", "n": 10, "kind": "person"}, "", 0},
		{"extra", map[string]interface{}{"q": "ab", "z": 1, "y": 2}, Args{"q": "ab", "n": 10, "kind": "all"}, "", 2},
		{"numeric id", map[string]interface{}{"q": float64(12345)}, Args{"q": "12345", "n": 10, "kind": "all"}, "", 0},
		{"too long", map[string]interface{}{"q": "abcdef"}, nil, "q", 0},
		{"too short runes", map[string]interface{}{"q": "é"}, nil, "q", 0},
		{"bad enum", map[string]interface{}{"q": "ab", "kind": "robot"}, nil, "kind", 0},
		{"huge float", map[string]interface{}{"q": "ab", "n": 1e12}, nil, "n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unknown, err := resolve(params, tt.raw)
			if tt.wantField != "" {
				pe, ok := perrors.As(err)
				if !ok || pe.Code != perrors.InvalidParameter || pe.Field != tt.wantField {
					t.Fatalf("err = %v, want InvalidParameter on %s", err, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("args = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %#v, want %#v", k, got[k], v)
				}
			}
			if len(unknown) != tt.unknown {
				t.Errorf("unknown = %v", unknown)
			}
		})
	}
}
