package query

import (
	"context"
	"sort"

	perrors "peripheral/internal/errors"
	"peripheral/internal/model"
	"peripheral/internal/store"
)

// TrendingParams selects trending stories.
type TrendingParams struct {
	Hours int
	Limit int
}

// StoryList is a ranked list of stories.
type StoryList struct {
	Meta `json:"-"`

	Query     string            `json:"query,omitempty"`
	Timeframe string            `json:"timeframe"`
	Count     int               `json:"count"`
	Stories   []model.StoryView `json:"stories"`
}

var trendingOrder = []store.Order{
	{Column: "source_count", Desc: true},
	{Column: model.StoryTimeColumn, Desc: true},
	{Column: "id"},
}

// TrendingStories ranks stories seen within the window by cluster size, then
// last seen descending, then id ascending.
func (e *Engine) TrendingStories(ctx context.Context, p TrendingParams) (*StoryList, error) {
	w, err := e.window(p.Hours)
	if err != nil {
		return nil, err
	}
	limit, err := clampLimit(p.Limit, MaxTrendingLimit)
	if err != nil {
		return nil, err
	}

	page, err := e.gateway.Fetch(ctx, store.Query{
		Collection: model.CollectionStories,
		Filters:    windowFilters(model.StoryTimeColumn, w),
		Order:      trendingOrder,
		Limit:      limit,
		CountTotal: true,
	})
	if err != nil {
		return nil, err
	}
	stories, err := decodeRows[model.Story](model.CollectionStories, page.Rows)
	if err != nil {
		return nil, err
	}
	sortTrending(stories)

	return e.storyList(w, "", stories, page.Total, "limit"), nil
}

// SearchParams is a keyword search over a window.
type SearchParams struct {
	Query string
	Hours int
	Limit int
}

// SearchStories matches the query against story title and summary, newest first.
func (e *Engine) SearchStories(ctx context.Context, p SearchParams) (*StoryList, error) {
	q, err := requireText("query", p.Query, 2, 200)
	if err != nil {
		return nil, err
	}
	w, err := e.window(p.Hours)
	if err != nil {
		return nil, err
	}
	limit, err := clampLimit(p.Limit, MaxStorySearchLimit)
	if err != nil {
		return nil, err
	}

	filters := append(windowFilters(model.StoryTimeColumn, w),
		store.Or(store.Contains("title", q), store.Contains("summary", q)))
	page, err := e.gateway.Fetch(ctx, store.Query{
		Collection: model.CollectionStories,
		Filters:    filters,
		Order:      []store.Order{{Column: model.StoryTimeColumn, Desc: true}, {Column: "id"}},
		Limit:      limit,
		CountTotal: true,
	})
	if err != nil {
		return nil, err
	}
	stories, err := decodeRows[model.Story](model.CollectionStories, page.Rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(stories, func(i, j int) bool {
		a, b := stories[i], stories[j]
		if !a.Updated.Equal(b.Updated.Time) {
			return a.Updated.After(b.Updated.Time)
		}
		return a.ID.Less(b.ID)
	})

	return e.storyList(w, q, stories, page.Total, "limit"), nil
}

func (e *Engine) storyList(w Window, q string, stories []model.Story, total *int, reason string) *StoryList {
	l := &StoryList{
		Query:     q,
		Timeframe: timeframe(w),
		Count:     len(stories),
		Stories:   make([]model.StoryView, len(stories)),
	}
	for i, s := range stories {
		l.Stories[i] = s.View()
	}
	l.Meta = Meta{
		Window:      w,
		Collections: []string{model.CollectionStories},
		Shown:       len(stories),
		Total:       total,
	}
	if total != nil && *total > len(stories) {
		l.Meta.Truncated = true
		l.Meta.Reason = reason
	}
	return l
}

func sortTrending(stories []model.Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		a, b := stories[i], stories[j]
		if a.SourceCount != b.SourceCount {
			return a.SourceCount > b.SourceCount
		}
		if !a.Updated.Equal(b.Updated.Time) {
			return a.Updated.After(b.Updated.Time)
		}
		return a.ID.Less(b.ID)
	})
}

// StoryDetails is a story with its member articles and linked entities.
type StoryDetails struct {
	Meta `json:"-"`

	Story        model.StoryView                     `json:"story"`
	Description  string                              `json:"description,omitempty"`
	ArticleCount int                                 `json:"articleCount"`
	Articles     []model.ArticleView                 `json:"articles"`
	Entities     map[model.EntityType][]LinkedEntity `json:"entities"`
}

// LinkedEntity is an entity associated with a story.
type LinkedEntity struct {
	model.EntityView
	Rank       *int     `json:"rank,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// LinkedTypes are the entity types with story and article join collections.
var LinkedTypes = []model.EntityType{
	model.EntityPerson,
	model.EntityOrganisation,
	model.EntityLocation,
	model.EntityCountry,
}

// StoryDetails loads one story. Unknown ids fail with NotFound.
func (e *Engine) StoryDetails(ctx context.Context, storyID string) (*StoryDetails, error) {
	id, err := requireText("story_id", storyID, 1, 200)
	if err != nil {
		return nil, err
	}

	page, err := e.gateway.Fetch(ctx, store.Query{
		Collection: model.CollectionStories,
		Filters:    []store.Filter{store.Eq("id", id)},
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Rows) == 0 {
		return nil, perrors.NewNotFoundError("story", id)
	}
	var story model.Story
	if err := model.Decode(page.Rows[0], &story); err != nil {
		return nil, perrors.NewInternalError("malformed story row", err)
	}

	ap, err := e.gateway.Fetch(ctx, store.Query{
		Collection: model.CollectionArticles,
		Filters:    []store.Filter{store.Eq("story_id", id)},
		Order:      []store.Order{{Column: model.ArticleTimeColumn, Desc: true}, {Column: "id"}},
		Limit:      storyArticlesShown,
		CountTotal: true,
	})
	if err != nil {
		return nil, err
	}
	articles, err := decodeRows[model.Article](model.CollectionArticles, ap.Rows)
	if err != nil {
		return nil, err
	}
	sortArticles(articles)

	d := &StoryDetails{
		Story:        story.View(),
		ArticleCount: len(articles),
		Articles:     make([]model.ArticleView, len(articles)),
		Entities:     make(map[model.EntityType][]LinkedEntity, len(LinkedTypes)),
	}
	if story.Summary != "" {
		d.Description = story.Description
	}
	if ap.Total != nil {
		d.ArticleCount = *ap.Total
	}
	for i, a := range articles {
		d.Articles[i] = a.View()
	}

	collections := []string{model.CollectionStories, model.CollectionArticles}
	for _, t := range LinkedTypes {
		linked, err := e.storyEntities(ctx, id, t)
		if err != nil {
			return nil, err
		}
		d.Entities[t] = linked
		collections = append(collections, t.StoryJoin(), t.Table())
	}

	d.Meta = Meta{
		Collections: collections,
		Shown:       len(d.Articles),
		Total:       intPtr(d.ArticleCount),
		Truncated:   d.ArticleCount > len(d.Articles),
	}
	if d.Meta.Truncated {
		d.Meta.Reason = "article-limit"
	}
	return d, nil
}

// storyEntities resolves the story's links of type t in rank order.
func (e *Engine) storyEntities(ctx context.Context, storyID string, t model.EntityType) ([]LinkedEntity, error) {
	lp, err := e.gateway.Fetch(ctx, store.Query{
		Collection: t.StoryJoin(),
		Filters:    []store.Filter{store.Eq("story_id", storyID)},
		Order:      []store.Order{{Column: "rank"}, {Column: t.IDColumn()}},
		Limit:      storyEntitiesPerType,
	})
	if err != nil {
		return nil, err
	}
	if len(lp.Rows) == 0 {
		return []LinkedEntity{}, nil
	}

	links := make([]model.StoryLink, 0, len(lp.Rows))
	ids := make([]string, 0, len(lp.Rows))
	for _, raw := range lp.Rows {
		l, err := model.DecodeStoryLink(raw, t)
		if err != nil {
			return nil, perrors.NewInternalError("malformed "+t.StoryJoin()+" row", err)
		}
		links = append(links, l)
		ids = append(ids, l.EntityID.String())
	}

	rows, err := e.fetchByIDs(ctx, t.Table(), ids)
	if err != nil {
		return nil, err
	}
	entities := make(map[model.ID]model.Entity, len(rows))
	for _, raw := range rows {
		ent, err := model.DecodeEntity(raw, t)
		if err != nil {
			return nil, perrors.NewInternalError("malformed "+t.Table()+" row", err)
		}
		entities[ent.ID] = ent
	}

	out := make([]LinkedEntity, 0, len(links))
	for _, l := range links {
		ent, ok := entities[l.EntityID]
		if !ok {
			continue
		}
		out = append(out, LinkedEntity{EntityView: ent.View(), Rank: l.Rank, Confidence: l.Confidence})
	}
	return out, nil
}
