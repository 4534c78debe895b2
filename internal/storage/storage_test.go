package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"peripheral/internal/slogutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(MemoryPath, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "peripheral.db")
	db, err := Open(path, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Database file was not created at %s: %v", path, err)
	}
	version, err := db.schemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, version)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening an initialised database is a no-op migration.
	db, err = Open(path, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	db.Close()
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("", slogutil.NewDiscardLogger()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestResponseCache(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	c := NewResponseCache(db, 0)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	if _, ok, err := c.Get(ctx, "k1"); err != nil || ok {
		t.Fatalf("empty cache Get = %v, %v", ok, err)
	}

	if err := c.Set(ctx, "k1", "get_trending_stories", []byte(`{"count":3}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = now.Add(30 * time.Second)
	e, ok, err := c.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(e.Value) != `{"count":3}` || e.Tool != "get_trending_stories" {
		t.Errorf("entry = %+v", e)
	}
	if e.Age(now) != 30*time.Second {
		t.Errorf("age = %v", e.Age(now))
	}

	// An entry is never served at or past its expiry.
	now = now.Add(30 * time.Second)
	if _, ok, _ := c.Get(ctx, "k1"); ok {
		t.Error("expired entry served")
	}

	n, err := c.Purge(ctx)
	if err != nil || n != 1 {
		t.Errorf("Purge = %d, %v", n, err)
	}
}

func TestResponseCache_ZeroTTL(t *testing.T) {
	ctx := context.Background()
	c := NewResponseCache(setupTestDB(t), 0)

	if err := c.Set(ctx, "k", "health_check", []byte("{}"), 0); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Errorf("zero ttl stored %d entries", n)
	}
}

func TestResponseCache_Eviction(t *testing.T) {
	ctx := context.Background()
	c := NewResponseCache(setupTestDB(t), 2)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, k, "t", []byte(k), time.Hour); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Second)
	}

	if n, _ := c.Len(ctx); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok, _ := c.Get(ctx, "c"); !ok {
		t.Error("newest entry evicted")
	}
}

func TestUsageLog(t *testing.T) {
	ctx := context.Background()
	l := NewUsageLog(setupTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []UsageRecord{
		{Tool: "search_stories", ClientID: "friend_0", Status: "ok", DurationMs: 10, At: base},
		{Tool: "search_stories", ClientID: "friend_1", Status: "INVALID_PARAMETER", DurationMs: 2, At: base.Add(time.Minute)},
		{Tool: "search_stories", ClientID: "friend_0", Status: "ok", DurationMs: 30, At: base.Add(2 * time.Minute)},
		{Tool: "health_check", ClientID: "anonymous", Status: "ok", DurationMs: 1, At: base.Add(3 * time.Minute)},
		{Tool: "health_check", ClientID: "anonymous", Status: "ok", DurationMs: 1, At: base.Add(-48 * time.Hour)},
	}
	for _, r := range records {
		if err := l.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	stats, err := l.Stats(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	s := stats[0]
	if s.Tool != "search_stories" || s.Calls != 3 || s.Errors != 1 || s.Clients != 2 || s.MaxLatency != 30 {
		t.Errorf("search_stories = %+v", s)
	}
	if s.AvgLatency != 14 {
		t.Errorf("avg latency = %v, want 14", s.AvgLatency)
	}
	if rate := s.ErrorRate(); rate < 0.33 || rate > 0.34 {
		t.Errorf("error rate = %v", rate)
	}
	if stats[1].Tool != "health_check" || stats[1].Calls != 1 {
		t.Errorf("health_check = %+v", stats[1])
	}

	recent, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Tool != "health_check" || recent[0].ParamsJSON != "{}" {
		t.Errorf("recent = %+v", recent)
	}

	pruned, err := l.Prune(ctx, base.Add(-time.Hour))
	if err != nil || pruned != 1 {
		t.Errorf("Prune = %d, %v", pruned, err)
	}
}
