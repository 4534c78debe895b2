package query

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	perrors "peripheral/internal/errors"
	"peripheral/internal/model"
	"peripheral/internal/store"
	"peripheral/internal/textnorm"
)

// EntitySearchParams searches entity names. An empty Type or "all" searches
// every linked type.
type EntitySearchParams struct {
	Name  string
	Type  string
	Limit int
}

// Match kinds, best first.
const (
	MatchExact     = "exact"
	MatchPrefix    = "prefix"
	MatchSubstring = "substring"
	MatchAlias     = "alias"
)

var matchKinds = []string{MatchExact, MatchPrefix, MatchSubstring, MatchAlias}

// EntityMatch is an entity found by name or alias.
type EntityMatch struct {
	model.EntityView
	Match string `json:"match"`

	rank   int
	folded string
	order  int
}

// EntitySearch is the merged, ranked result of an entity search.
type EntitySearch struct {
	Meta `json:"-"`

	Query      string        `json:"query"`
	TypeFilter string        `json:"typeFilter"`
	Count      int           `json:"count"`
	Entities   []EntityMatch `json:"entities"`
}

// resolveTypes maps the entity_type argument onto tables to search.
func resolveTypes(s string) ([]model.EntityType, string, error) {
	s = strings.ToLower(textnorm.Clean(s))
	if s == "" || s == "all" {
		return LinkedTypes, "all", nil
	}
	t, ok := model.ParseEntityType(s)
	if !ok {
		return nil, "", perrors.NewInvalidParameterError("entity_type", "must be one of all, person, organisation, location, country, product")
	}
	return []model.EntityType{t}, string(t), nil
}

// SearchEntities matches name against display names and aliases in each type
// table and ranks the merged result exact, prefix, substring, alias; then by
// folded name and id. The limit applies after merging.
func (e *Engine) SearchEntities(ctx context.Context, p EntitySearchParams) (*EntitySearch, error) {
	name, err := requireText("name", p.Name, 2, 200)
	if err != nil {
		return nil, err
	}
	types, filter, err := resolveTypes(p.Type)
	if err != nil {
		return nil, err
	}
	limit, err := clampLimit(p.Limit, MaxEntitySearchLimit)
	if err != nil {
		return nil, err
	}

	var matches []EntityMatch
	collections := make([]string, 0, len(types))
	for i, t := range types {
		rows, err := e.searchEntityTable(ctx, t, name, limit)
		if err != nil {
			return nil, err
		}
		collections = append(collections, t.Table())
		for _, raw := range rows {
			ent, err := model.DecodeEntity(raw, t)
			if err != nil {
				return nil, perrors.NewInternalError("malformed "+t.Table()+" row", err)
			}
			rank := textnorm.MatchRank(ent.Name, name)
			if rank < 0 {
				if !textnorm.AnyContains(ent.Aliases, name) {
					continue
				}
				rank = 3
			}
			matches = append(matches, EntityMatch{
				EntityView: ent.View(),
				Match:      matchKinds[rank],
				rank:       rank,
				folded:     textnorm.Fold(ent.Name),
				order:      i,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.folded != b.folded {
			return a.folded < b.folded
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.ID.Less(b.ID)
	})
	found := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if matches == nil {
		matches = []EntityMatch{}
	}

	return &EntitySearch{
		Query:      name,
		TypeFilter: filter,
		Count:      len(matches),
		Entities:   matches,
		Meta: Meta{
			Collections: collections,
			Shown:       len(matches),
			Total:       intPtr(found),
			Truncated:   found > len(matches),
			Reason:      truncReason(found > len(matches), "limit"),
		},
	}, nil
}

// searchEntityTable fetches candidates from one table. Tables without an
// aliases column reject the alias filter, so the search falls back to names.
func (e *Engine) searchEntityTable(ctx context.Context, t model.EntityType, name string, limit int) ([]json.RawMessage, error) {
	q := store.Query{
		Collection: t.Table(),
		Filters:    []store.Filter{store.Or(store.Contains("name", name), store.ArrayContains("aliases", name))},
		Order:      []store.Order{{Column: "name"}, {Column: "id"}},
		Limit:      limit,
	}
	p, err := e.gateway.Fetch(ctx, q)
	if perrors.Is(err, perrors.InvalidFilter) {
		e.logger.Debug("Alias search rejected, retrying on name only", "table", t.Table())
		q.Filters = []store.Filter{store.Contains("name", name)}
		p, err = e.gateway.Fetch(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	return p.Rows, nil
}

// EntityContextParams selects an entity and window.
type EntityContextParams struct {
	EntityID   string
	EntityType string
	Hours      int
}

// EntityContext lists the articles and stories mentioning one entity.
type EntityContext struct {
	Meta `json:"-"`

	Entity       model.EntityView    `json:"entity"`
	Timeframe    string              `json:"timeframe"`
	ArticleCount int                 `json:"articleCount"`
	Articles     []model.ArticleView `json:"articles"`
	StoryCount   int                 `json:"storyCount"`
	Stories      []StoryMention      `json:"stories"`
}

// StoryMention is a story linked to the entity.
type StoryMention struct {
	model.StoryView
	Rank       *int     `json:"rank,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// EntityContext resolves the entity, then the articles and stories joined to it
// within the window, newest first. Unknown ids fail with NotFound.
func (e *Engine) EntityContext(ctx context.Context, p EntityContextParams) (*EntityContext, error) {
	id, err := requireText("entity_id", p.EntityID, 1, 200)
	if err != nil {
		return nil, err
	}
	t, ok := model.ParseEntityType(strings.ToLower(textnorm.Clean(p.EntityType)))
	if !ok {
		return nil, perrors.NewInvalidParameterError("entity_type", "must be one of person, organisation, location, country, product")
	}
	w, err := e.window(p.Hours)
	if err != nil {
		return nil, err
	}

	ep, err := e.gateway.Fetch(ctx, store.Query{
		Collection: t.Table(),
		Filters:    []store.Filter{store.Eq("id", id)},
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(ep.Rows) == 0 {
		return nil, perrors.NewNotFoundError(string(t), id)
	}
	ent, err := model.DecodeEntity(ep.Rows[0], t)
	if err != nil {
		return nil, perrors.NewInternalError("malformed "+t.Table()+" row", err)
	}

	articles, articlesTruncated, err := e.mentionedArticles(ctx, t, id, w)
	if err != nil {
		return nil, err
	}
	stories, storiesTruncated, err := e.linkedStories(ctx, t, id, w)
	if err != nil {
		return nil, err
	}

	c := &EntityContext{
		Entity:       ent.View(),
		Timeframe:    timeframe(w),
		ArticleCount: len(articles),
		Articles:     make([]model.ArticleView, 0, min(len(articles), contextArticlesShown)),
		StoryCount:   len(stories),
		Stories:      stories,
	}
	for i, a := range articles {
		if i == contextArticlesShown {
			break
		}
		c.Articles = append(c.Articles, a.View())
	}
	if len(c.Stories) > contextStoriesShown {
		c.Stories = c.Stories[:contextStoriesShown]
	}

	truncated := articlesTruncated || storiesTruncated ||
		len(c.Articles) < c.ArticleCount || len(c.Stories) < c.StoryCount
	c.Meta = Meta{
		Window:      w,
		Collections: []string{t.Table(), t.ArticleJoin(), model.CollectionArticles, t.StoryJoin(), model.CollectionStories},
		Shown:       len(c.Articles),
		Total:       intPtr(c.ArticleCount),
		Truncated:   truncated,
	}
	switch {
	case articlesTruncated || storiesTruncated:
		c.Meta.Reason = "scan-limit"
	case truncated:
		c.Meta.Reason = "display-limit"
	}
	return c, nil
}

func (e *Engine) mentionedArticles(ctx context.Context, t model.EntityType, id string, w Window) ([]model.Article, bool, error) {
	scan, err := store.Scan(ctx, e.gateway, store.Query{
		Collection: t.ArticleJoin(),
		Filters:    []store.Filter{store.Eq(t.IDColumn(), id)},
		Order:      []store.Order{{Column: "news_item_id"}},
	}, mentionScanLimit)
	if err != nil {
		return nil, false, err
	}

	ids := make([]string, 0, len(scan.Rows))
	seen := make(map[model.ID]bool, len(scan.Rows))
	for _, raw := range scan.Rows {
		m, err := model.DecodeArticleMention(raw, t)
		if err != nil {
			return nil, false, perrors.NewInternalError("malformed "+t.ArticleJoin()+" row", err)
		}
		if m.NewsItemID == "" || seen[m.NewsItemID] {
			continue
		}
		seen[m.NewsItemID] = true
		ids = append(ids, m.NewsItemID.String())
	}

	rows, err := e.fetchByIDs(ctx, model.CollectionArticles, ids, windowFilters(model.ArticleTimeColumn, w)...)
	if err != nil {
		return nil, false, err
	}
	articles, err := decodeRows[model.Article](model.CollectionArticles, rows)
	if err != nil {
		return nil, false, err
	}
	sortArticles(articles)
	return articles, scan.Truncated, nil
}

func (e *Engine) linkedStories(ctx context.Context, t model.EntityType, id string, w Window) ([]StoryMention, bool, error) {
	scan, err := store.Scan(ctx, e.gateway, store.Query{
		Collection: t.StoryJoin(),
		Filters:    []store.Filter{store.Eq(t.IDColumn(), id)},
		Order:      []store.Order{{Column: "story_id"}},
	}, mentionScanLimit)
	if err != nil {
		return nil, false, err
	}

	links := make(map[model.ID]model.StoryLink, len(scan.Rows))
	ids := make([]string, 0, len(scan.Rows))
	for _, raw := range scan.Rows {
		l, err := model.DecodeStoryLink(raw, t)
		if err != nil {
			return nil, false, perrors.NewInternalError("malformed "+t.StoryJoin()+" row", err)
		}
		if _, dup := links[l.StoryID]; dup || l.StoryID == "" {
			continue
		}
		links[l.StoryID] = l
		ids = append(ids, l.StoryID.String())
	}

	rows, err := e.fetchByIDs(ctx, model.CollectionStories, ids, windowFilters(model.StoryTimeColumn, w)...)
	if err != nil {
		return nil, false, err
	}
	stories, err := decodeRows[model.Story](model.CollectionStories, rows)
	if err != nil {
		return nil, false, err
	}
	sort.SliceStable(stories, func(i, j int) bool {
		a, b := stories[i], stories[j]
		if !a.Updated.Equal(b.Updated.Time) {
			return a.Updated.After(b.Updated.Time)
		}
		return a.ID.Less(b.ID)
	})

	out := make([]StoryMention, len(stories))
	for i, s := range stories {
		l := links[s.ID]
		out[i] = StoryMention{StoryView: s.View(), Rank: l.Rank, Confidence: l.Confidence}
	}
	return out, scan.Truncated, nil
}

func truncReason(truncated bool, reason string) string {
	if truncated {
		return reason
	}
	return ""
}
