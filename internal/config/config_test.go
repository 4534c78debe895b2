package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.Driver != DriverPostgREST {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, DriverPostgREST)
	}
	if cfg.Store.Timeout != 10*time.Second {
		t.Errorf("Store.Timeout = %v, want 10s", cfg.Store.Timeout)
	}
	if cfg.Query.MaxHours != 720 {
		t.Errorf("Query.MaxHours = %d, want 720", cfg.Query.MaxHours)
	}
	if cfg.Query.BriefingScanLimit != 500 || cfg.Query.SignalScanLimit != 200 || cfg.Query.TimelineScanLimit != 5000 {
		t.Errorf("scan limits = %+v", cfg.Query)
	}
	if cfg.Cache.TTLSeconds != 0 {
		t.Error("response cache should be off by default")
	}
	if cfg.Auth.Required {
		t.Error("auth.required should default to false")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"memory driver ok", func(c *Config) { c.Store.Driver = DriverMemory }, ""},
		{"postgrest needs url", func(c *Config) {}, "store.url"},
		{"postgrest with url", func(c *Config) { c.Store.URL = "https://x.supabase.co" }, ""},
		{"postgres needs dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"bad port", func(c *Config) { c.Store.Driver = DriverMemory; c.Server.Port = 70000 }, "server.port"},
		{"zero timeout", func(c *Config) { c.Store.Driver = DriverMemory; c.Store.Timeout = 0 }, "store.timeout"},
		{"required without tokens", func(c *Config) { c.Store.Driver = DriverMemory; c.Auth.Required = true }, "auth.tokens"},
		{"required with tokens file", func(c *Config) {
			c.Store.Driver = DriverMemory
			c.Auth.Required = true
			c.Auth.TokensFile = "tokens.toml"
		}, ""},
		{"negative rate", func(c *Config) { c.Store.Driver = DriverMemory; c.Auth.RateLimit.Burst = -1 }, "auth.rateLimit"},
		{"zero max hours", func(c *Config) { c.Store.Driver = DriverMemory; c.Query.MaxHours = 0 }, "query.maxHours"},
		{"negative ttl", func(c *Config) { c.Store.Driver = DriverMemory; c.Cache.TTLSeconds = -5 }, "cache.ttlSeconds"},
		{"bad log format", func(c *Config) { c.Store.Driver = DriverMemory; c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peripheral.yaml")
	content := `
server:
  port: 9090
store:
  driver: memory
  timeout: 3s
auth:
  tokens: ["alpha", " beta "]
query:
  maxHours: 168
cache:
  ttlSeconds: 60
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Store.Driver != DriverMemory || cfg.Store.Timeout != 3*time.Second {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if strings.Join(cfg.Auth.Tokens, ",") != "alpha,beta" {
		t.Errorf("Auth.Tokens = %q", cfg.Auth.Tokens)
	}
	if cfg.Query.MaxHours != 168 {
		t.Errorf("Query.MaxHours = %d", cfg.Query.MaxHours)
	}
	// untouched keys keep defaults
	if cfg.Query.TimelineScanLimit != 5000 {
		t.Errorf("TimelineScanLimit = %d, want default", cfg.Query.TimelineScanLimit)
	}
	if !cfg.NeedsLocalDB() {
		t.Error("cache ttl > 0 should require the local db")
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("explicit config path that does not exist should fail")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PERIPHERAL_STORE_DRIVER", "memory")
	t.Setenv("PERIPHERAL_STORE_TIMEOUT", "2s")
	t.Setenv("PERIPHERAL_AUTH_TOKENS", "one, two,,three")
	t.Setenv("PERIPHERAL_SERVER_PORT", "7000")

	path := filepath.Join(t.TempDir(), "peripheral.toml")
	if err := os.WriteFile(path, []byte("[server]\nhost = \"0.0.0.0\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Store.Timeout != 2*time.Second {
		t.Errorf("Store.Timeout = %v", cfg.Store.Timeout)
	}
	if got := strings.Join(cfg.Auth.Tokens, "|"); got != "one|two|three" {
		t.Errorf("Auth.Tokens = %q", got)
	}
	if cfg.Addr() != "0.0.0.0:7000" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadConfig_LegacyTokens(t *testing.T) {
	t.Setenv(LegacyTokensEnv, "tok-a,tok-b")
	path := filepath.Join(t.TempDir(), "peripheral.json")
	if err := os.WriteFile(path, []byte(`{"store":{"driver":"memory"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if strings.Join(cfg.Auth.Tokens, ",") != "tok-a,tok-b" {
		t.Errorf("Auth.Tokens = %q", cfg.Auth.Tokens)
	}
}

func TestMasked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Key = "eyJhbGciOiJIUzI1NiJ9.secret"
	cfg.Store.DSN = "postgres://reader:hunter2@db:5432/osint?sslmode=disable"
	cfg.Auth.Tokens = []string{"short", "a-much-longer-token"}

	m := cfg.Masked()

	if strings.Contains(m.Store.Key, "secret") {
		t.Errorf("Store.Key not masked: %q", m.Store.Key)
	}
	if strings.Contains(m.Store.DSN, "hunter2") || !strings.Contains(m.Store.DSN, "reader:****@db") {
		t.Errorf("Store.DSN = %q", m.Store.DSN)
	}
	if m.Auth.Tokens[0] != "****" || m.Auth.Tokens[1] != "a-mu****" {
		t.Errorf("Auth.Tokens = %q", m.Auth.Tokens)
	}
	if cfg.Auth.Tokens[1] != "a-much-longer-token" {
		t.Error("Masked must not modify the receiver")
	}

	kv := maskDSN("host=db user=reader password=hunter2 dbname=osint")
	if strings.Contains(kv, "hunter2") {
		t.Errorf("key=value DSN not masked: %q", kv)
	}
}

func TestEnvVars(t *testing.T) {
	vars := EnvVars()
	names := make(map[string]string, len(vars))
	for _, v := range vars {
		names[v.Name] = v.Key
	}

	for _, want := range []string{"PERIPHERAL_AUTH_TOKENS", "PERIPHERAL_STORE_URL", "PERIPHERAL_QUERY_MAXHOURS", LegacyTokensEnv} {
		if _, ok := names[want]; !ok {
			t.Errorf("EnvVars() missing %s", want)
		}
	}
	for i := 1; i < len(vars); i++ {
		if vars[i-1].Name > vars[i].Name {
			t.Fatalf("EnvVars() not sorted at %d", i)
		}
	}
}
