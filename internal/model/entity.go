package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// EntityType discriminates the entity tables.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganisation EntityType = "organisation"
	EntityLocation     EntityType = "location"
	EntityCountry      EntityType = "country"
	EntityProduct      EntityType = "product"
)

// EntityTypes lists every concrete type in search order.
var EntityTypes = []EntityType{
	EntityPerson,
	EntityOrganisation,
	EntityLocation,
	EntityCountry,
	EntityProduct,
}

// ParseEntityType validates s. "organization" is accepted as a spelling variant.
func ParseEntityType(s string) (EntityType, bool) {
	if s == "organization" {
		return EntityOrganisation, true
	}
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Table is the entity collection, e.g. entity_person.
func (t EntityType) Table() string { return "entity_" + string(t) }

// ArticleJoin is the article mention collection, e.g. news_item_entity_person.
func (t EntityType) ArticleJoin() string { return "news_item_entity_" + string(t) }

// StoryJoin is the story association collection, e.g. story_entity_person.
func (t EntityType) StoryJoin() string { return "story_entity_" + string(t) }

// IDColumn is the foreign key naming this type in join rows, e.g. person_id.
func (t EntityType) IDColumn() string { return string(t) + "_id" }

// Entity is a row of one of the entity tables. Columns other than id, name and
// aliases are kept verbatim in Attributes.
type Entity struct {
	ID         ID
	Type       EntityType
	Name       string
	Aliases    []string
	Attributes map[string]interface{}
}

// DecodeEntity decodes an entity row of type t.
func DecodeEntity(raw json.RawMessage, t EntityType) (Entity, error) {
	var cols map[string]json.RawMessage
	if err := json.Unmarshal(raw, &cols); err != nil {
		return Entity{}, fmt.Errorf("decode %s row: %w", t.Table(), err)
	}

	e := Entity{Type: t}
	if v, ok := cols["id"]; ok {
		if err := e.ID.UnmarshalJSON(v); err != nil {
			return Entity{}, err
		}
	}
	if v, ok := cols["name"]; ok {
		_ = json.Unmarshal(v, &e.Name)
	}
	if v, ok := cols["aliases"]; ok {
		var aliases StringList
		if err := aliases.UnmarshalJSON(v); err == nil {
			e.Aliases = aliases
		}
	}

	keys := make([]string, 0, len(cols))
	for k := range cols {
		switch k {
		case "id", "name", "aliases":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		e.Attributes = make(map[string]interface{}, len(keys))
		for _, k := range keys {
			var v interface{}
			if err := json.Unmarshal(cols[k], &v); err == nil && v != nil {
				e.Attributes[k] = v
			}
		}
		if len(e.Attributes) == 0 {
			e.Attributes = nil
		}
	}
	return e, nil
}

// ArticleMention links an article to an entity.
type ArticleMention struct {
	NewsItemID ID
	EntityID   ID
}

// StoryLink links a story to an entity with the clustering rank and confidence.
type StoryLink struct {
	StoryID    ID
	EntityID   ID
	Rank       *int
	Confidence *float64
}

type rawLink struct {
	NewsItemID ID       `json:"news_item_id"`
	StoryID    ID       `json:"story_id"`
	Rank       *int     `json:"rank"`
	Confidence *float64 `json:"confidence"`
}

func entityIDFrom(raw json.RawMessage, t EntityType) (ID, error) {
	var cols map[string]json.RawMessage
	if err := json.Unmarshal(raw, &cols); err != nil {
		return "", err
	}
	var id ID
	if v, ok := cols[t.IDColumn()]; ok {
		if err := id.UnmarshalJSON(v); err != nil {
			return "", err
		}
	}
	return id, nil
}

// DecodeArticleMention decodes a news_item_entity_<type> row.
func DecodeArticleMention(raw json.RawMessage, t EntityType) (ArticleMention, error) {
	var l rawLink
	if err := json.Unmarshal(raw, &l); err != nil {
		return ArticleMention{}, fmt.Errorf("decode %s row: %w", t.ArticleJoin(), err)
	}
	eid, err := entityIDFrom(raw, t)
	if err != nil {
		return ArticleMention{}, fmt.Errorf("decode %s row: %w", t.ArticleJoin(), err)
	}
	return ArticleMention{NewsItemID: l.NewsItemID, EntityID: eid}, nil
}

// DecodeStoryLink decodes a story_entity_<type> row.
func DecodeStoryLink(raw json.RawMessage, t EntityType) (StoryLink, error) {
	var l rawLink
	if err := json.Unmarshal(raw, &l); err != nil {
		return StoryLink{}, fmt.Errorf("decode %s row: %w", t.StoryJoin(), err)
	}
	eid, err := entityIDFrom(raw, t)
	if err != nil {
		return StoryLink{}, fmt.Errorf("decode %s row: %w", t.StoryJoin(), err)
	}
	return StoryLink{StoryID: l.StoryID, EntityID: eid, Rank: l.Rank, Confidence: l.Confidence}, nil
}
