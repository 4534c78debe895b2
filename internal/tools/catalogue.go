// Package tools is the dispatch router: a catalogue of named operations, each
// declared as a parameter schema plus an engine call, and a dispatcher that
// validates calls and wraps results in response envelopes.
package tools

import (
	"context"
	"fmt"
	"sort"

	"peripheral/internal/envelope"
	"peripheral/internal/query"
)

// Handler runs a validated call against the engine.
type Handler func(ctx context.Context, args Args) (query.Result, error)

// NextCalls proposes follow-up calls from a successful result.
type NextCalls func(args Args, result query.Result) []envelope.SuggestedCall

// Tool is one catalogue entry.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
	Next        NextCalls
	NoCache     bool // results must always be computed fresh
}

// Definition is the protocol-facing description of a tool.
type Definition struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	InputSchema map[string]interface{} `json:"inputSchema" yaml:"inputSchema"`
}

// Catalogue maps operation names to tools, in registration order.
type Catalogue struct {
	tools map[string]*Tool
	order []string
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{tools: make(map[string]*Tool)}
}

// Register adds t. Names must be unique and every tool needs a handler.
func (c *Catalogue) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool %q: name and handler are required", t.Name)
	}
	if _, exists := c.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	seen := make(map[string]bool, len(t.Params))
	for _, p := range t.Params {
		if seen[p.Name] {
			return fmt.Errorf("tool %q: duplicate parameter %q", t.Name, p.Name)
		}
		seen[p.Name] = true
		if p.Kind == KindEnum && len(p.Enum) == 0 {
			return fmt.Errorf("tool %q: enum parameter %q has no values", t.Name, p.Name)
		}
	}
	c.tools[t.Name] = &t
	c.order = append(c.order, t.Name)
	return nil
}

// Lookup returns the tool registered under name.
func (c *Catalogue) Lookup(name string) (*Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// Names returns the registered names, sorted.
func (c *Catalogue) Names() []string {
	out := append([]string(nil), c.order...)
	sort.Strings(out)
	return out
}

// Len returns the number of registered tools.
func (c *Catalogue) Len() int { return len(c.order) }

// Definitions renders every tool in registration order.
func (c *Catalogue) Definitions() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, name := range c.order {
		t := c.tools[name]
		out = append(out, Definition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema(t.Params),
		})
	}
	return out
}

// Operation names.
const (
	OpHealthCheck     = "health_check"
	OpLatestBriefing  = "get_latest_briefing"
	OpMilitarySignals = "get_military_signals"
	OpSignalTimeline  = "get_signal_timeline"
	OpTrendingStories = "get_trending_stories"
	OpSearchStories   = "search_stories"
	OpStoryDetails    = "get_story_details"
	OpSearchArticles  = "search_articles"
	OpSearchEntities  = "search_entities"
	OpEntityContext   = "get_entity_context"
)

const (
	queryMinLen   = 2
	queryMaxLen   = 200
	entityTypeAll = "all"
)

// entityTypes accepts both spellings of organisation.
var entityTypes = []string{"person", "organisation", "organization", "location", "country", "product"}

func hoursParam(def, max int) Param {
	return Param{
		Name:        "hours",
		Description: "Look-back window in hours",
		Kind:        KindInteger,
		Default:     def,
		Cap:         max,
	}
}

func limitParam(def, max int) Param {
	return Param{
		Name:        "limit",
		Description: "Maximum number of results",
		Kind:        KindInteger,
		Default:     def,
		Cap:         max,
	}
}

func textParam(name, desc string) Param {
	return Param{
		Name:        name,
		Description: desc,
		Kind:        KindString,
		Required:    true,
		MinLen:      queryMinLen,
		MaxLen:      queryMaxLen,
	}
}

// NewDefault builds the catalogue of every operation served by e.
func NewDefault(e *query.Engine) *Catalogue {
	c := NewCatalogue()
	maxHours := e.MaxHours()

	for _, t := range []Tool{
		{
			Name:        OpHealthCheck,
			Description: "Report service status and whether the backing store is reachable, with row counts per collection",
			NoCache:     true,
			Handler: func(ctx context.Context, _ Args) (query.Result, error) {
				return e.Health(ctx), nil
			},
		},
		{
			Name:        OpLatestBriefing,
			Description: "Summarise recent articles: counts per source, the most recent articles, top stories and a military signal summary, optionally for one region",
			Params: []Param{
				hoursParam(24, maxHours),
				{Name: "region", Description: "Region name matched case-insensitively against article and signal regions", Kind: KindString, MaxLen: queryMaxLen},
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.Briefing(ctx, query.BriefingParams{Hours: a.Int("hours"), Region: a.String("region")})
			},
			Next: briefingNext,
		},
		{
			Name:        OpMilitarySignals,
			Description: "List military signals detected for a region, newest first, with a breakdown by signal type",
			Params: []Param{
				{Name: "region", Description: "Region name, matched as a case-insensitive substring", Kind: KindString, Required: true, MaxLen: queryMaxLen},
				hoursParam(24, maxHours),
				{Name: "signal_type", Description: "Only signals of this type, e.g. air-defense", Kind: KindString, MaxLen: queryMaxLen},
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.MilitarySignals(ctx, query.SignalParams{
					Region:     a.String("region"),
					Hours:      a.Int("hours"),
					SignalType: a.String("signal_type"),
				})
			},
			Next: signalsNext,
		},
		{
			Name:        OpSignalTimeline,
			Description: "Hourly timeline of military signals for a region; every hour of the window is present, empty hours count zero",
			Params: []Param{
				{Name: "region", Description: "Region name, matched as a case-insensitive substring", Kind: KindString, Required: true, MaxLen: queryMaxLen},
				hoursParam(168, maxHours),
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.SignalTimeline(ctx, query.TimelineParams{Region: a.String("region"), Hours: a.Int("hours")})
			},
		},
		{
			Name:        OpTrendingStories,
			Description: "Stories updated within the window, ranked by the number of sources covering them",
			Params: []Param{
				hoursParam(24, maxHours),
				limitParam(10, query.MaxTrendingLimit),
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.TrendingStories(ctx, query.TrendingParams{Hours: a.Int("hours"), Limit: a.Int("limit")})
			},
			Next: storiesNext,
		},
		{
			Name:        OpSearchStories,
			Description: "Find stories whose title or summary contains the query, most recently updated first",
			Params: []Param{
				textParam("query", "Text to search for"),
				hoursParam(168, maxHours),
				limitParam(20, query.MaxStorySearchLimit),
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.SearchStories(ctx, query.SearchParams{Query: a.String("query"), Hours: a.Int("hours"), Limit: a.Int("limit")})
			},
			Next: storiesNext,
		},
		{
			Name:        OpStoryDetails,
			Description: "A story with its member articles and the entities linked to it",
			Params: []Param{
				{Name: "story_id", Description: "Story identifier", Kind: KindString, Required: true, MaxLen: queryMaxLen},
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.StoryDetails(ctx, a.String("story_id"))
			},
		},
		{
			Name:        OpSearchArticles,
			Description: "Find articles whose title or content contains the query, newest first",
			Params: []Param{
				textParam("query", "Text to search for"),
				hoursParam(168, maxHours),
				limitParam(50, query.MaxArticleSearchLimit),
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.SearchArticles(ctx, query.SearchParams{Query: a.String("query"), Hours: a.Int("hours"), Limit: a.Int("limit")})
			},
		},
		{
			Name:        OpSearchEntities,
			Description: "Find people, organisations, locations and countries by name or alias; exact matches rank first",
			Params: []Param{
				textParam("name", "Name or alias to search for"),
				{
					Name:        "entity_type",
					Description: "Restrict to one entity type",
					Kind:        KindEnum,
					Default:     entityTypeAll,
					Enum:        append([]string{entityTypeAll}, entityTypes...),
				},
				limitParam(20, query.MaxEntitySearchLimit),
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.SearchEntities(ctx, query.EntitySearchParams{
					Name:  a.String("name"),
					Type:  a.String("entity_type"),
					Limit: a.Int("limit"),
				})
			},
			Next: entitiesNext,
		},
		{
			Name:        OpEntityContext,
			Description: "Articles and stories that mention an entity within the window",
			Params: []Param{
				{Name: "entity_id", Description: "Entity identifier, as returned by search_entities", Kind: KindString, Required: true, MaxLen: queryMaxLen},
				{Name: "entity_type", Description: "Entity type", Kind: KindEnum, Required: true, Enum: entityTypes},
				hoursParam(168, maxHours),
			},
			Handler: func(ctx context.Context, a Args) (query.Result, error) {
				return e.EntityContext(ctx, query.EntityContextParams{
					EntityID:   a.String("entity_id"),
					EntityType: a.String("entity_type"),
					Hours:      a.Int("hours"),
				})
			},
		},
	} {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}
	return c
}

func briefingNext(a Args, r query.Result) []envelope.SuggestedCall {
	b, ok := r.(*query.Briefing)
	if !ok || len(b.TopStories) == 0 {
		return nil
	}
	return []envelope.SuggestedCall{{
		Tool:   OpStoryDetails,
		Params: map[string]interface{}{"story_id": b.TopStories[0].ID.String()},
		Reason: "Most covered story in this briefing",
	}}
}

func signalsNext(a Args, r query.Result) []envelope.SuggestedCall {
	s, ok := r.(*query.RegionSignals)
	if !ok || s.Count == 0 {
		return nil
	}
	return []envelope.SuggestedCall{{
		Tool:   OpSignalTimeline,
		Params: map[string]interface{}{"region": a.String("region"), "hours": a.Int("hours")},
		Reason: "Hourly activity for the same region",
	}}
}

func storiesNext(a Args, r query.Result) []envelope.SuggestedCall {
	l, ok := r.(*query.StoryList)
	if !ok || len(l.Stories) == 0 {
		return nil
	}
	return []envelope.SuggestedCall{{
		Tool:   OpStoryDetails,
		Params: map[string]interface{}{"story_id": l.Stories[0].ID.String()},
		Reason: "Articles and entities of the top story",
	}}
}

func entitiesNext(a Args, r query.Result) []envelope.SuggestedCall {
	s, ok := r.(*query.EntitySearch)
	if !ok || len(s.Entities) == 0 {
		return nil
	}
	top := s.Entities[0]
	return []envelope.SuggestedCall{{
		Tool:   OpEntityContext,
		Params: map[string]interface{}{"entity_id": top.ID.String(), "entity_type": string(top.Type)},
		Reason: "Recent coverage of the best match",
	}}
}
