package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PERIPHERAL"

// LegacyTokensEnv is the comma-separated token list honoured when auth.tokens is empty.
const LegacyTokensEnv = "MCP_AUTH_TOKENS"

// Store drivers.
const (
	DriverPostgREST = "postgrest"
	DriverPostgres  = "postgres"
	DriverMemory    = "memory"
)

// Config represents the complete peripheral configuration
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server" mapstructure:"server"`
	Store   StoreConfig   `json:"store" yaml:"store" toml:"store" mapstructure:"store"`
	Auth    AuthConfig    `json:"auth" yaml:"auth" toml:"auth" mapstructure:"auth"`
	Query   QueryConfig   `json:"query" yaml:"query" toml:"query" mapstructure:"query"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" toml:"cache" mapstructure:"cache"`
	Usage   UsageConfig   `json:"usage" yaml:"usage" toml:"usage" mapstructure:"usage"`
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging" mapstructure:"logging"`
}

// ServerConfig contains the HTTP listener settings
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" toml:"host" mapstructure:"host"`
	Port            int           `json:"port" yaml:"port" toml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"readTimeout" yaml:"readTimeout" toml:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout" yaml:"writeTimeout" toml:"writeTimeout" mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout" toml:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	CORSOrigins     []string      `json:"corsOrigins" yaml:"corsOrigins" toml:"corsOrigins" mapstructure:"corsOrigins"`
	// MaxConcurrent caps in-flight HTTP requests; 0 disables load shedding.
	MaxConcurrent int `json:"maxConcurrent" yaml:"maxConcurrent" toml:"maxConcurrent" mapstructure:"maxConcurrent"`
}

// StoreConfig selects and parameterises the backing store gateway
type StoreConfig struct {
	Driver   string        `json:"driver" yaml:"driver" toml:"driver" mapstructure:"driver"`
	URL      string        `json:"url" yaml:"url" toml:"url" mapstructure:"url"`
	Key      string        `json:"key" yaml:"key" toml:"key" mapstructure:"key"`
	DSN      string        `json:"dsn" yaml:"dsn" toml:"dsn" mapstructure:"dsn"`
	Schema   string        `json:"schema" yaml:"schema" toml:"schema" mapstructure:"schema"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" toml:"timeout" mapstructure:"timeout"`
	MaxConns int           `json:"maxConns" yaml:"maxConns" toml:"maxConns" mapstructure:"maxConns"`
	Fixtures string        `json:"fixtures" yaml:"fixtures" toml:"fixtures" mapstructure:"fixtures"`
}

// AuthConfig contains access gate settings
type AuthConfig struct {
	Tokens     []string        `json:"tokens" yaml:"tokens" toml:"tokens" mapstructure:"tokens"`
	TokensFile string          `json:"tokensFile" yaml:"tokensFile" toml:"tokensFile" mapstructure:"tokensFile"`
	Required   bool            `json:"required" yaml:"required" toml:"required" mapstructure:"required"`
	RateLimit  RateLimitConfig `json:"rateLimit" yaml:"rateLimit" toml:"rateLimit" mapstructure:"rateLimit"`
}

// RateLimitConfig bounds per-client request rates. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute" yaml:"requestsPerMinute" toml:"requestsPerMinute" mapstructure:"requestsPerMinute"`
	Burst             int `json:"burst" yaml:"burst" toml:"burst" mapstructure:"burst"`
}

// QueryConfig bounds the aggregation engine
type QueryConfig struct {
	MaxHours          int `json:"maxHours" yaml:"maxHours" toml:"maxHours" mapstructure:"maxHours"`
	BriefingScanLimit int `json:"briefingScanLimit" yaml:"briefingScanLimit" toml:"briefingScanLimit" mapstructure:"briefingScanLimit"`
	SignalScanLimit   int `json:"signalScanLimit" yaml:"signalScanLimit" toml:"signalScanLimit" mapstructure:"signalScanLimit"`
	TimelineScanLimit int `json:"timelineScanLimit" yaml:"timelineScanLimit" toml:"timelineScanLimit" mapstructure:"timelineScanLimit"`
}

// CacheConfig controls the response cache. TTLSeconds of 0 disables it.
type CacheConfig struct {
	TTLSeconds int `json:"ttlSeconds" yaml:"ttlSeconds" toml:"ttlSeconds" mapstructure:"ttlSeconds"`
	MaxEntries int `json:"maxEntries" yaml:"maxEntries" toml:"maxEntries" mapstructure:"maxEntries"`
}

// UsageConfig controls the local usage log. DBPath also hosts the response cache.
type UsageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath" toml:"dbPath" mapstructure:"dbPath"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format     string `json:"format" yaml:"format" toml:"format" mapstructure:"format"`
	Level      string `json:"level" yaml:"level" toml:"level" mapstructure:"level"`
	File       string `json:"file" yaml:"file" toml:"file" mapstructure:"file"`
	MaxSize    string `json:"maxSize" yaml:"maxSize" toml:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups" toml:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			MaxConcurrent:   64,
		},
		Store: StoreConfig{
			Driver:   DriverPostgREST,
			Schema:   "public",
			Timeout:  10 * time.Second,
			MaxConns: 8,
		},
		Auth: AuthConfig{
			Tokens: []string{},
		},
		Query: QueryConfig{
			MaxHours:          720,
			BriefingScanLimit: 500,
			SignalScanLimit:   200,
			TimelineScanLimit: 5000,
		},
		Cache: CacheConfig{
			TTLSeconds: 0,
			MaxEntries: 10000,
		},
		Usage: UsageConfig{
			Enabled: true,
			DBPath:  defaultDBPath(),
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxBackups: 3,
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".peripheral", "peripheral.db")
	}
	return filepath.Join(home, ".peripheral", "peripheral.db")
}

// setDefaults registers every key with viper so env overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.readTimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdownTimeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.corsOrigins", d.Server.CORSOrigins)
	v.SetDefault("server.maxConcurrent", d.Server.MaxConcurrent)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.url", d.Store.URL)
	v.SetDefault("store.key", d.Store.Key)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.schema", d.Store.Schema)
	v.SetDefault("store.timeout", d.Store.Timeout)
	v.SetDefault("store.maxConns", d.Store.MaxConns)
	v.SetDefault("store.fixtures", d.Store.Fixtures)

	v.SetDefault("auth.tokens", d.Auth.Tokens)
	v.SetDefault("auth.tokensFile", d.Auth.TokensFile)
	v.SetDefault("auth.required", d.Auth.Required)
	v.SetDefault("auth.rateLimit.requestsPerMinute", d.Auth.RateLimit.RequestsPerMinute)
	v.SetDefault("auth.rateLimit.burst", d.Auth.RateLimit.Burst)

	v.SetDefault("query.maxHours", d.Query.MaxHours)
	v.SetDefault("query.briefingScanLimit", d.Query.BriefingScanLimit)
	v.SetDefault("query.signalScanLimit", d.Query.SignalScanLimit)
	v.SetDefault("query.timelineScanLimit", d.Query.TimelineScanLimit)

	v.SetDefault("cache.ttlSeconds", d.Cache.TTLSeconds)
	v.SetDefault("cache.maxEntries", d.Cache.MaxEntries)

	v.SetDefault("usage.enabled", d.Usage.Enabled)
	v.SetDefault("usage.dbPath", d.Usage.DBPath)

	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration. An explicit path must exist; otherwise
// peripheral.{toml,yaml,json} is searched in the working directory and
// $HOME/.peripheral. A .env file in the working directory is applied to the
// process environment first without overriding variables already set.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("peripheral")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".peripheral"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Auth.Tokens = normalizeTokens(cfg.Auth.Tokens)
	if len(cfg.Auth.Tokens) == 0 {
		cfg.Auth.Tokens = normalizeTokens(strings.Split(os.Getenv(LegacyTokensEnv), ","))
	}

	return &cfg, nil
}

// normalizeTokens trims entries, splits any comma-joined values and drops empties.
func normalizeTokens(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	if c.Server.MaxConcurrent < 0 {
		return &ConfigError{Field: "server.maxConcurrent", Message: "must not be negative"}
	}

	switch c.Store.Driver {
	case DriverPostgREST:
		if c.Store.URL == "" {
			return &ConfigError{Field: "store.url", Message: "required for the postgrest driver"}
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return &ConfigError{Field: "store.dsn", Message: "required for the postgres driver"}
		}
	case DriverMemory:
	default:
		return &ConfigError{Field: "store.driver", Message: fmt.Sprintf("unknown driver %q", c.Store.Driver)}
	}
	if c.Store.Timeout <= 0 {
		return &ConfigError{Field: "store.timeout", Message: "must be positive"}
	}

	if c.Auth.Required && len(c.Auth.Tokens) == 0 && c.Auth.TokensFile == "" {
		return &ConfigError{Field: "auth.tokens", Message: "auth.required is set but no tokens are configured"}
	}
	if c.Auth.RateLimit.RequestsPerMinute < 0 || c.Auth.RateLimit.Burst < 0 {
		return &ConfigError{Field: "auth.rateLimit", Message: "must not be negative"}
	}

	if c.Query.MaxHours <= 0 {
		return &ConfigError{Field: "query.maxHours", Message: "must be positive"}
	}
	if c.Query.BriefingScanLimit <= 0 || c.Query.SignalScanLimit <= 0 || c.Query.TimelineScanLimit <= 0 {
		return &ConfigError{Field: "query", Message: "scan limits must be positive"}
	}

	if c.Cache.TTLSeconds < 0 {
		return &ConfigError{Field: "cache.ttlSeconds", Message: "must not be negative"}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "human", "text", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}

	return nil
}

// NeedsLocalDB reports whether the sqlite store has to be opened.
func (c *Config) NeedsLocalDB() bool {
	return c.Usage.Enabled || c.Cache.TTLSeconds > 0
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Masked returns a copy with credentials replaced, for display.
func (c *Config) Masked() *Config {
	out := *c
	out.Store.Key = mask(c.Store.Key)
	out.Store.DSN = maskDSN(c.Store.DSN)
	out.Auth.Tokens = make([]string, len(c.Auth.Tokens))
	for i, t := range c.Auth.Tokens {
		out.Auth.Tokens[i] = mask(t)
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDSN hides the password of a postgres URL or key=value DSN.
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if i := strings.Index(dsn, "://"); i >= 0 {
		rest := dsn[i+3:]
		at := strings.LastIndex(rest, "@")
		if at < 0 {
			return dsn
		}
		creds := rest[:at]
		if colon := strings.Index(creds, ":"); colon >= 0 {
			return dsn[:i+3] + creds[:colon] + ":****" + rest[at:]
		}
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=****"
		}
	}
	return strings.Join(fields, " ")
}

// EnvVar describes one environment override.
type EnvVar struct {
	Name string
	Key  string
}

// EnvVars lists every recognised environment variable, sorted by name.
func EnvVars() []EnvVar {
	v := newViper()
	keys := v.AllKeys()
	out := make([]EnvVar, 0, len(keys)+1)
	for _, k := range keys {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))
		out = append(out, EnvVar{Name: name, Key: k})
	}
	out = append(out, EnvVar{Name: LegacyTokensEnv, Key: "auth.tokens"})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
