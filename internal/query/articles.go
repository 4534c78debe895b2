package query

import (
	"context"

	"peripheral/internal/model"
	"peripheral/internal/store"
)

// ArticleList is a list of matching articles.
type ArticleList struct {
	Meta `json:"-"`

	Query     string              `json:"query"`
	Timeframe string              `json:"timeframe"`
	Count     int                 `json:"count"`
	Articles  []model.ArticleView `json:"articles"`
}

// SearchArticles matches the query against article title and content, newest
// first.
func (e *Engine) SearchArticles(ctx context.Context, p SearchParams) (*ArticleList, error) {
	q, err := requireText("query", p.Query, 2, 200)
	if err != nil {
		return nil, err
	}
	w, err := e.window(p.Hours)
	if err != nil {
		return nil, err
	}
	limit, err := clampLimit(p.Limit, MaxArticleSearchLimit)
	if err != nil {
		return nil, err
	}

	filters := append(windowFilters(model.ArticleTimeColumn, w),
		store.Or(store.Contains("title", q), store.Contains("content", q)))
	page, err := e.gateway.Fetch(ctx, store.Query{
		Collection: model.CollectionArticles,
		Filters:    filters,
		Order:      []store.Order{{Column: model.ArticleTimeColumn, Desc: true}, {Column: "id"}},
		Limit:      limit,
		CountTotal: true,
	})
	if err != nil {
		return nil, err
	}
	articles, err := decodeRows[model.Article](model.CollectionArticles, page.Rows)
	if err != nil {
		return nil, err
	}
	sortArticles(articles)

	l := &ArticleList{
		Query:     q,
		Timeframe: timeframe(w),
		Count:     len(articles),
		Articles:  make([]model.ArticleView, len(articles)),
	}
	for i, a := range articles {
		l.Articles[i] = a.View()
	}
	l.Meta = Meta{
		Window:      w,
		Collections: []string{model.CollectionArticles},
		Shown:       len(articles),
		Total:       page.Total,
	}
	if page.Total != nil && *page.Total > len(articles) {
		l.Meta.Truncated = true
		l.Meta.Reason = "limit"
	}
	return l, nil
}
