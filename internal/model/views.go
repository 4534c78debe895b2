package model

import "time"

// ContentPreviewRunes bounds article content in every public view.
const ContentPreviewRunes = 500

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// ArticleView is the public projection of an Article.
type ArticleView struct {
	ID        ID        `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	Published time.Time `json:"published"`
	Source    ID        `json:"source,omitempty"`
	Author    string    `json:"author,omitempty"`
	Link      string    `json:"link,omitempty"`
	Sentiment string    `json:"sentiment,omitempty"`
	StoryID   *ID       `json:"storyId,omitempty"`
	Regions   []string  `json:"regions,omitempty"`
}

// View projects a for output.
func (a Article) View() ArticleView {
	return ArticleView{
		ID:        a.ID,
		Title:     a.Title,
		Content:   Truncate(a.Content, ContentPreviewRunes),
		Published: a.Published.UTC(),
		Source:    a.SourceID,
		Author:    a.Author,
		Link:      a.Link,
		Sentiment: a.SentimentCategory,
		StoryID:   a.StoryID,
		Regions:   a.Regions,
	}
}

// StoryView is the public projection of a Story.
type StoryView struct {
	ID            ID        `json:"id"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary,omitempty"`
	TopicKeywords []string  `json:"topicKeywords,omitempty"`
	SourceCount   int       `json:"sourceCount"`
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`
}

// View projects s for output.
func (s Story) View() StoryView {
	summary := s.Summary
	if summary == "" {
		summary = s.Description
	}
	return StoryView{
		ID:            s.ID,
		Title:         s.Title,
		Summary:       Truncate(summary, ContentPreviewRunes),
		TopicKeywords: s.TopicKeywords,
		SourceCount:   s.SourceCount,
		FirstSeen:     s.Created.UTC(),
		LastSeen:      s.Updated.UTC(),
	}
}

// SignalView is the public projection of a Signal.
type SignalView struct {
	ID          ID        `json:"id"`
	SignalType  string    `json:"signalType"`
	WeaponType  string    `json:"weaponType,omitempty"`
	AlertType   string    `json:"alertType,omitempty"`
	AlertStatus string    `json:"alertStatus,omitempty"`
	Location    string    `json:"location,omitempty"`
	Region      string    `json:"region"`
	Direction   string    `json:"direction,omitempty"`
	Severity    *float64  `json:"severity,omitempty"`
	ArticleID   *ID       `json:"articleId,omitempty"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// View projects s for output.
func (s Signal) View() SignalView {
	return SignalView{
		ID:          s.ID,
		SignalType:  s.SignalType,
		WeaponType:  s.WeaponType,
		AlertType:   s.AlertType,
		AlertStatus: s.AlertStatus,
		Location:    s.TargetLocation,
		Region:      s.TargetRegion,
		Direction:   s.Direction,
		Severity:    s.Severity,
		ArticleID:   s.NewsItemID,
		DetectedAt:  s.CreatedAt.UTC(),
	}
}

// EntityView is the public projection of an Entity.
type EntityView struct {
	ID         ID                     `json:"id"`
	Type       EntityType             `json:"type"`
	Name       string                 `json:"name"`
	Aliases    []string               `json:"aliases,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// View projects e for output.
func (e Entity) View() EntityView {
	return EntityView{
		ID:         e.ID,
		Type:       e.Type,
		Name:       e.Name,
		Aliases:    e.Aliases,
		Attributes: e.Attributes,
	}
}
