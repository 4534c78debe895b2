package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFixtures reads a fixture file into a memory gateway. The file maps
// collection names to row lists and may be JSON or YAML (by extension):
//
//	news_item:
//	  - {id: a1, title: "...", published: "2026-03-01T10:00:00Z", regions: [Kyiv]}
//	signal:
//	  - {id: s1, signal_type: air-defense, target_region: Kyiv, created_at: "..."}
func LoadFixtures(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}

	var doc map[string][]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
		}
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("fixtures %s: invalid collection name %q", path, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	m := NewMemory()
	for _, name := range names {
		if err := m.Insert(name, doc[name]...); err != nil {
			return nil, fmt.Errorf("fixtures %s: %w", path, err)
		}
	}
	return m, nil
}
