// Package model defines the row projections read from the backing store and the
// public views returned to callers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Collections.
const (
	CollectionArticles = "news_item"
	CollectionStories  = "story"
	CollectionSignals  = "signal"
)

// Time columns used for windowing.
const (
	ArticleTimeColumn = "published"
	StoryTimeColumn   = "updated"
	SignalTimeColumn  = "created_at"
)

// ID is a row identifier. Stores emit either JSON strings (uuid) or numbers.
type ID string

// UnmarshalJSON accepts a string, a number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Less orders ids the way the store does: numerically when both are integers,
// otherwise by their string form.
func (id ID) Less(other ID) bool {
	a, errA := strconv.ParseInt(string(id), 10, 64)
	b, errB := strconv.ParseInt(string(other), 10, 64)
	if errA == nil && errB == nil {
		return a < b
	}
	return id < other
}

// Time decodes the timestamp shapes produced by PostgREST and row_to_json.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses s using the accepted layouts; zone-less values are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON writes RFC 3339 in UTC.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339))), nil
}

// StringList decodes a text[] column, a JSON-encoded list, or a comma-separated string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = nil
		return nil
	case len(b) > 0 && b[0] == '[':
		var out []string
		if err := json.Unmarshal(b, &out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			*l = out
			return nil
		}
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.Trim(strings.TrimSpace(part), `"`); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

// Article is a news_item row.
type Article struct {
	ID                ID         `json:"id"`
	Title             string     `json:"title"`
	Content           string     `json:"content"`
	Published         Time       `json:"published"`
	Author            string     `json:"author"`
	Link              string     `json:"link"`
	SentimentCategory string     `json:"sentiment_category"`
	StoryID           *ID        `json:"story_id"`
	SourceID          ID         `json:"osint_source_id"`
	Regions           StringList `json:"regions"`
}

// Story is a cluster of related articles.
type Story struct {
	ID            ID         `json:"id"`
	Title         string     `json:"title"`
	Summary       string     `json:"summary"`
	Description   string     `json:"description"`
	TopicKeywords StringList `json:"topic_keywords"`
	Created       Time       `json:"created"`
	Updated       Time       `json:"updated"`
	SourceCount   int        `json:"source_count"`
}

// Signal is a detected, timestamped event.
type Signal struct {
	ID             ID       `json:"id"`
	SignalType     string   `json:"signal_type"`
	WeaponType     string   `json:"weapon_type"`
	AlertType      string   `json:"alert_type"`
	AlertStatus    string   `json:"alert_status"`
	TargetLocation string   `json:"target_location"`
	TargetRegion   string   `json:"target_region"`
	Direction      string   `json:"direction"`
	Severity       *float64 `json:"severity"`
	NewsItemID     *ID      `json:"news_item_id"`
	CreatedAt      Time     `json:"created_at"`
}

// Decode unmarshals a raw store row into v.
func Decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}
