package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Elasticsearch.Addresses) != 1 || cfg.Elasticsearch.Addresses[0] != "http://localhost:9200" {
		t.Errorf("unexpected ES addresses: %v", cfg.Elasticsearch.Addresses)
	}
	if cfg.Elasticsearch.Index != "productos" {
		t.Errorf("expected index 'productos', got %s", cfg.Elasticsearch.Index)
	}
	if cfg.Elasticsearch.RequestTimeout != 5*time.Second {
		t.Errorf("expected request timeout 5s, got %v", cfg.Elasticsearch.RequestTimeout)
	}
	if cfg.Catalog.Timeout != 5*time.Second {
		t.Errorf("expected catalog timeout 5s, got %v", cfg.Catalog.Timeout)
	}
	if cfg.Reindex.Interval != 5*time.Minute {
		t.Errorf("expected reindex interval 5m, got %v", cfg.Reindex.Interval)
	}
	if !cfg.Reindex.RunOnStartup {
		t.Error("expected run on startup by default")
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("expected cache ttl 30s, got %v", cfg.Cache.TTL)
	}
	if cfg.Search.DefaultSize != 20 {
		t.Errorf("expected default size 20, got %d", cfg.Search.DefaultSize)
	}
	if cfg.Search.SuggestSize != 5 {
		t.Errorf("expected suggest size 5, got %d", cfg.Search.SuggestSize)
	}
	if cfg.Search.SuggestMinChars != 2 {
		t.Errorf("expected suggest min chars 2, got %d", cfg.Search.SuggestMinChars)
	}
	if cfg.Search.UnavailablePolicy != PolicyFailLoud {
		t.Errorf("expected fail_loud policy, got %s", cfg.Search.UnavailablePolicy)
	}
	if cfg.Redis.Enabled() {
		t.Error("expected redis lease disabled by default")
	}
	if cfg.Kafka.Enabled() {
		t.Error("expected kafka disabled by default")
	}
	if cfg.ClickHouse.Enabled() {
		t.Error("expected clickhouse disabled by default")
	}
	if cfg.Observability.ServiceName != "catalog-search" {
		t.Errorf("expected service name 'catalog-search', got %s", cfg.Observability.ServiceName)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error for default config, got %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Server.Port = tt.port
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected error for port %d, got nil", tt.port)
			}
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative reindex rate", func(c *Config) { c.Server.ReindexPerMinute = -1 }},
		{"negative query timeout", func(c *Config) { c.Search.QueryTimeout = -time.Second }},
		{"empty es addresses", func(c *Config) { c.Elasticsearch.Addresses = nil }},
		{"empty index", func(c *Config) { c.Elasticsearch.Index = "" }},
		{"zero es timeout", func(c *Config) { c.Elasticsearch.RequestTimeout = 0 }},
		{"bad catalog url", func(c *Config) { c.Catalog.URL = "not a url" }},
		{"zero catalog timeout", func(c *Config) { c.Catalog.Timeout = 0 }},
		{"zero interval", func(c *Config) { c.Reindex.Interval = 0 }},
		{"negative initial delay", func(c *Config) { c.Reindex.InitialDelay = -time.Second }},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"zero default size", func(c *Config) { c.Search.DefaultSize = 0 }},
		{"max size too large", func(c *Config) { c.Search.MaxSize = 1001 }},
		{"zero suggest size", func(c *Config) { c.Search.SuggestSize = 0 }},
		{"unknown policy", func(c *Config) { c.Search.UnavailablePolicy = "sometimes" }},
		{"redis without lease ttl", func(c *Config) {
			c.Redis.Addresses = []string{"localhost:6379"}
			c.Redis.LeaseTTL = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestValidate_FailSoftPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.UnavailablePolicy = PolicyFailSoft
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected fail_soft to be valid, got %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9090
elasticsearch:
  addresses:
    - "http://es:9200"
  api_key: "secret"
catalog:
  url: "http://operador:8081/productos"
reindex:
  interval: 1m
  initial_delay: 0s
cache:
  ttl: 10s
search:
  default_size: 10
  unavailable_policy: fail_soft
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Elasticsearch.APIKey != "secret" {
		t.Errorf("expected api key 'secret', got %q", cfg.Elasticsearch.APIKey)
	}
	if cfg.Catalog.URL != "http://operador:8081/productos" {
		t.Errorf("unexpected catalog url %s", cfg.Catalog.URL)
	}
	if cfg.Reindex.Interval != time.Minute {
		t.Errorf("expected interval 1m, got %v", cfg.Reindex.Interval)
	}
	if cfg.Cache.TTL != 10*time.Second {
		t.Errorf("expected ttl 10s, got %v", cfg.Cache.TTL)
	}
	if cfg.Search.DefaultSize != 10 {
		t.Errorf("expected default size 10, got %d", cfg.Search.DefaultSize)
	}
	if cfg.Search.UnavailablePolicy != PolicyFailSoft {
		t.Errorf("expected fail_soft, got %s", cfg.Search.UnavailablePolicy)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{invalid yaml")

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 0
`)

	_, err := Load(path)
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_ES_HOST", "http://prod-es:9200")
	t.Setenv("TEST_ES_API_KEY", "abc123")

	path := writeConfig(t, `
elasticsearch:
  addresses:
    - "$TEST_ES_HOST"
  api_key: "${TEST_ES_API_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Elasticsearch.Addresses[0] != "http://prod-es:9200" {
		t.Errorf("expected expanded env var, got %s", cfg.Elasticsearch.Addresses[0])
	}
	if cfg.Elasticsearch.APIKey != "abc123" {
		t.Errorf("expected expanded api key, got %s", cfg.Elasticsearch.APIKey)
	}
}

func TestLoad_DefaultsPreservedWhenNotOverridden(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected default read timeout preserved, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("expected default cache ttl preserved, got %v", cfg.Cache.TTL)
	}
	if cfg.Reindex.Interval != 5*time.Minute {
		t.Errorf("expected default interval preserved, got %v", cfg.Reindex.Interval)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CATALOG_SEARCH_TEST_VAR=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CATALOG_SEARCH_TEST_VAR") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := os.Getenv("CATALOG_SEARCH_TEST_VAR"); got != "from-dotenv" {
		t.Errorf("expected 'from-dotenv', got %q", got)
	}
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("expected nil for missing .env, got %v", err)
	}
}
