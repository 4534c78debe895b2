package query

import (
	"context"
	"sort"

	"peripheral/internal/model"
	"peripheral/internal/store"
	"peripheral/internal/textnorm"
)

// BriefingParams selects a briefing window.
type BriefingParams struct {
	Hours  int
	Region string
}

// Briefing is a time-windowed digest of recent articles and signal activity.
type Briefing struct {
	Meta `json:"-"`

	Timeframe     string              `json:"timeframe"`
	Region        string              `json:"region,omitempty"`
	Count         int                 `json:"count"`
	SourcesActive int                 `json:"sourcesActive"`
	BySource      map[string]int      `json:"bySource"`
	Articles      []model.ArticleView `json:"articles"`
	TopStories    []StoryRef          `json:"topStories"`
	Signals       SignalSummary       `json:"signals"`
}

// StoryRef names a story and how many briefing articles belong to it.
type StoryRef struct {
	ID       model.ID `json:"id"`
	Title    string   `json:"title,omitempty"`
	Articles int      `json:"articles"`
}

// SignalSummary condenses the signals of a briefing window.
type SignalSummary struct {
	Count         int            `json:"count"`
	ByType        map[string]int `json:"byType"`
	ActiveRegions []RegionCount  `json:"activeRegions"`
}

// RegionCount is a region with its signal count.
type RegionCount struct {
	Region string `json:"region"`
	Count  int    `json:"count"`
}

// Briefing assembles the latest briefing. Articles are scanned newest first;
// the region filter runs in the store against article region tags, so counts
// and totals describe the region's articles only.
func (e *Engine) Briefing(ctx context.Context, p BriefingParams) (*Briefing, error) {
	w, err := e.window(p.Hours)
	if err != nil {
		return nil, err
	}
	region := textnorm.Clean(p.Region)

	filters := windowFilters(model.ArticleTimeColumn, w)
	if region != "" {
		filters = append(filters, store.ArrayContains("regions", region))
	}
	scan, err := store.Scan(ctx, e.gateway, store.Query{
		Collection: model.CollectionArticles,
		Filters:    filters,
		Order:      []store.Order{{Column: model.ArticleTimeColumn, Desc: true}, {Column: "id"}},
		CountTotal: true,
	}, e.cfg.BriefingScanLimit)
	if err != nil {
		return nil, err
	}
	articles, err := decodeRows[model.Article](model.CollectionArticles, scan.Rows)
	if err != nil {
		return nil, err
	}

	sortArticles(articles)

	b := &Briefing{
		Timeframe:  timeframe(w),
		Region:     region,
		Count:      len(articles),
		BySource:   make(map[string]int),
		Articles:   make([]model.ArticleView, 0, min(len(articles), briefingArticlesShown)),
		TopStories: []StoryRef{},
	}

	storyCounts := make(map[model.ID]int)
	for i, a := range articles {
		b.BySource[a.SourceID.String()]++
		if a.StoryID != nil && *a.StoryID != "" {
			storyCounts[*a.StoryID]++
		}
		if i < briefingArticlesShown {
			b.Articles = append(b.Articles, a.View())
		}
	}
	b.SourcesActive = len(b.BySource)

	if b.TopStories, err = e.topStories(ctx, storyCounts); err != nil {
		return nil, err
	}
	if b.Signals, err = e.signalSummary(ctx, w, region); err != nil {
		return nil, err
	}

	b.Meta = Meta{
		Window:      w,
		Collections: []string{model.CollectionArticles, model.CollectionStories, model.CollectionSignals},
		Truncated:   scan.Truncated,
		Shown:       len(b.Articles),
		Total:       intPtr(b.Count),
	}
	if scan.Truncated {
		b.Meta.Reason = "scan-limit"
		b.Meta.Total = scan.Total
	}
	return b, nil
}

// topStories ranks stories by briefing article count, then id.
func (e *Engine) topStories(ctx context.Context, counts map[model.ID]int) ([]StoryRef, error) {
	refs := make([]StoryRef, 0, len(counts))
	for id, n := range counts {
		refs = append(refs, StoryRef{ID: id, Articles: n})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Articles != refs[j].Articles {
			return refs[i].Articles > refs[j].Articles
		}
		return refs[i].ID.Less(refs[j].ID)
	})
	if len(refs) > briefingTopStories {
		refs = refs[:briefingTopStories]
	}
	if len(refs) == 0 {
		return refs, nil
	}

	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID.String()
	}
	rows, err := e.fetchByIDs(ctx, model.CollectionStories, ids)
	if err != nil {
		return nil, err
	}
	stories, err := decodeRows[model.Story](model.CollectionStories, rows)
	if err != nil {
		return nil, err
	}
	titles := make(map[model.ID]string, len(stories))
	for _, s := range stories {
		titles[s.ID] = s.Title
	}
	for i := range refs {
		refs[i].Title = titles[refs[i].ID]
	}
	return refs, nil
}

func (e *Engine) signalSummary(ctx context.Context, w Window, region string) (SignalSummary, error) {
	filters := windowFilters(model.SignalTimeColumn, w)
	if region != "" {
		filters = append(filters, store.Contains("target_region", region))
	}
	scan, err := store.Scan(ctx, e.gateway, store.Query{
		Collection: model.CollectionSignals,
		Select:     []string{"id", "signal_type", "alert_type", "target_region", "created_at"},
		Filters:    filters,
		Order:      []store.Order{{Column: model.SignalTimeColumn, Desc: true}, {Column: "id"}},
	}, e.cfg.SignalScanLimit)
	if err != nil {
		return SignalSummary{}, err
	}
	signals, err := decodeRows[model.Signal](model.CollectionSignals, scan.Rows)
	if err != nil {
		return SignalSummary{}, err
	}

	sum := SignalSummary{Count: len(signals), ByType: make(map[string]int), ActiveRegions: []RegionCount{}}
	regions := make(map[string]int)
	for _, s := range signals {
		sum.ByType[signalKind(s)]++
		if s.TargetRegion != "" {
			regions[s.TargetRegion]++
		}
	}
	for r, n := range regions {
		sum.ActiveRegions = append(sum.ActiveRegions, RegionCount{Region: r, Count: n})
	}
	sort.Slice(sum.ActiveRegions, func(i, j int) bool {
		a, b := sum.ActiveRegions[i], sum.ActiveRegions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Region < b.Region
	})
	if len(sum.ActiveRegions) > briefingTopRegions {
		sum.ActiveRegions = sum.ActiveRegions[:briefingTopRegions]
	}
	return sum, nil
}

// sortArticles orders by published descending, then id ascending.
func sortArticles(articles []model.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		a, b := articles[i], articles[j]
		if !a.Published.Equal(b.Published.Time) {
			return a.Published.After(b.Published.Time)
		}
		return a.ID.Less(b.ID)
	})
}
