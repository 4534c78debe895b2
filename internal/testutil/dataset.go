package testutil

import (
	"strings"
	"testing"
	"time"

	"peripheral/internal/store"
)

// Row is one fixture row.
type Row = map[string]interface{}

// LongContent exceeds the public content preview.
var LongContent = strings.Repeat("Ракетний удар. ", 50)

// DatasetRows is the shared OSINT fixture, keyed by collection.
//
// Windows relative to Now: articles a1..a4 and a7 fall inside 24h, a5 inside
// 168h, a8 only inside 720h and a6 is future-dated. Signals s1..s4 match
// region "Kyiv"; s1..s3 are also air-defense within 12h.
func DatasetRows() map[string][]Row {
	h := time.Hour
	return map[string][]Row{
		"news_item": {
			{"id": "a1", "title": "Drone strike on Kyiv energy grid", "content": LongContent, "published": Ago(1 * h), "author": "Reporter One", "link": "https://example.org/a1", "sentiment_category": "negative", "story_id": "st1", "osint_source_id": "src-1", "regions": []string{"Kyiv Oblast"}},
			{"id": "a2", "title": "Air defense active over Kyiv", "content": "Interceptors launched overnight.", "published": Ago(2 * h), "story_id": "st1", "osint_source_id": "src-2", "regions": []string{"Kyiv"}},
			{"id": "a7", "title": "Zelensky addresses parliament", "content": "Speech on reconstruction.", "published": Ago(2 * h), "story_id": nil, "osint_source_id": "src-3", "regions": []string{"Lviv"}},
			{"id": "a3", "title": "Kharkiv shelling continues", "content": "Artillery reported in the north.", "published": Ago(3 * h), "story_id": "st2", "osint_source_id": "src-1", "regions": []string{"Kharkiv"}},
			{"id": "a4", "title": "NATO ministers meet in Brussels", "content": "Air defense packages discussed.", "published": Ago(5 * h), "story_id": "st3", "osint_source_id": "src-3", "regions": []string{"Brussels"}},
			{"id": "a5", "title": "Port traffic resumes in Odesa", "content": "Grain corridor update.", "published": Ago(30 * h), "story_id": "st2", "osint_source_id": "src-2", "regions": []string{"Odesa"}},
			{"id": "a6", "title": "Scheduled item", "content": "Embargoed.", "published": Now.Add(2 * h).Format(time.RFC3339), "osint_source_id": "src-4", "regions": []string{"Kyiv"}},
			{"id": "a8", "title": "Archive: Zelensky inauguration anniversary", "content": "Retrospective.", "published": Ago(400 * h), "osint_source_id": "src-1", "regions": []string{"Kyiv"}},
		},
		"story": {
			{"id": "st1", "title": "Strikes on Kyiv infrastructure", "summary": "Overnight drone and missile attacks on the capital.", "topic_keywords": []string{"kyiv", "drones"}, "created": Ago(20 * h), "updated": Ago(1 * h), "source_count": 12},
			{"id": "st2", "title": "Kharkiv front", "summary": "", "description": "Shelling along the northern front.", "created": Ago(40 * h), "updated": Ago(3 * h), "source_count": 7},
			{"id": "st3", "title": "NATO summit preparations", "summary": "Ministers prepare the air defense agenda.", "created": Ago(10 * h), "updated": Ago(5 * h), "source_count": 3},
			{"id": "st4", "title": "Winter energy crisis", "summary": "Archived cluster.", "created": Ago(300 * h), "updated": Ago(200 * h), "source_count": 20},
		},
		"signal": {
			{"id": "s1", "signal_type": "air-defense", "weapon_type": "shahed", "target_region": "Kyiv Oblast", "created_at": Ago(1 * h), "severity": 3, "news_item_id": "a1"},
			{"id": "s2", "signal_type": "air-defense", "weapon_type": "missile", "target_region": "kyiv", "created_at": Ago(2 * h), "severity": 5, "news_item_id": "a2"},
			{"id": "s3", "signal_type": "Air-Defense", "target_region": "Kyiv City", "created_at": Ago(4 * h)},
			{"id": "s4", "signal_type": "troop-movement", "target_region": "Kyiv", "created_at": Ago(3 * h), "severity": 2},
			{"id": "s5", "signal_type": "air-defense", "target_region": "Kharkiv", "created_at": Ago(1 * h), "severity": 4},
			{"id": "s6", "signal_type": "", "alert_type": "air-raid", "target_region": "Kyiv", "created_at": Ago(20 * h)},
		},
		"entity_person": {
			{"id": "p1", "name": "Volodymyr Zelenskyy", "aliases": []string{"Zelensky", "Zelenskyi"}, "role": "President"},
			{"id": "p2", "name": "John Doe", "role": "Analyst"},
		},
		"entity_organisation": {
			{"id": "o3", "name": "Friends of NATO", "org_type": "ngo"},
			{"id": "o1", "name": "NATO", "org_type": "alliance"},
			{"id": "o4", "name": "North Atlantic Treaty Organization", "aliases": []string{"NATO", "OTAN"}, "org_type": "alliance"},
			{"id": "o2", "name": "NATO Parliamentary Assembly", "org_type": "assembly"},
		},
		"entity_location": {
			{"id": "l1", "name": "Kyiv", "lat": 50.45, "lon": 30.52, "country_code": "UA"},
			{"id": "l2", "name": "Kharkiv", "lat": 49.99, "lon": 36.23, "country_code": "UA"},
		},
		"entity_country": {
			{"id": "c1", "name": "Ukraine", "iso_alpha2": "UA"},
		},
		"news_item_entity_person": {
			{"news_item_id": "a1", "person_id": "p1"},
			{"news_item_id": "a7", "person_id": "p1"},
			{"news_item_id": "a8", "person_id": "p1"},
		},
		"news_item_entity_organisation": {
			{"news_item_id": "a4", "organisation_id": "o1"},
		},
		"story_entity_person": {
			{"story_id": "st4", "person_id": "p1", "rank": 2, "confidence": 0.5},
			{"story_id": "st1", "person_id": "p1", "rank": 1, "confidence": 0.9},
		},
		"story_entity_organisation": {
			{"story_id": "st3", "organisation_id": "o1", "rank": 1, "confidence": 0.95},
		},
		"story_entity_location": {
			{"story_id": "st1", "location_id": "l2", "rank": nil, "confidence": 0.4},
			{"story_id": "st1", "location_id": "l1", "rank": 2, "confidence": 0.8},
		},
	}
}

// Dataset loads DatasetRows into a fresh memory gateway.
func Dataset(t testing.TB) *store.Memory {
	t.Helper()
	return Load(t, DatasetRows())
}

// Load inserts rows into a fresh memory gateway.
func Load(t testing.TB, rows map[string][]Row) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	for collection, rs := range rows {
		items := make([]interface{}, len(rs))
		for i, r := range rs {
			items[i] = r
		}
		if err := m.Insert(collection, items...); err != nil {
			t.Fatalf("load %s: %v", collection, err)
		}
	}
	return m
}
