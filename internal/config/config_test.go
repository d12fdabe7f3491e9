package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/prreview/internal/fingerprint"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prreview.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func mapLookup(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v, want 1h", cfg.Cache.TTL)
	}
	if cfg.Registry.TaskTTL != 24*time.Hour {
		t.Errorf("Registry.TaskTTL = %v, want 24h", cfg.Registry.TaskTTL)
	}
	if cfg.Batch.MaxItems != 10 {
		t.Errorf("Batch.MaxItems = %d, want 10", cfg.Batch.MaxItems)
	}
	if cfg.Fingerprint.Marker != fingerprint.ModeHeadSHA {
		t.Errorf("Fingerprint.Marker = %q", cfg.Fingerprint.Marker)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9000"
store:
  driver: postgres
  url: postgresql://u:p@db:5432/prreview
backend:
  driver: amqp
  amqp_url: amqp://guest:guest@mq:5672/
  workers: 8
fingerprint:
  marker: diff
cache:
  ttl: 30m
retry:
  max_attempts: 5
  initial_delay: 2s
  backoff: fixed
janitor:
  schedule: "*/10 * * * *"
`)
	t.Setenv("PRREVIEW_CONFIG", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != StorePostgres || cfg.Store.URL == "" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Backend.Workers != 8 || cfg.Backend.Driver != BackendAMQP {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if cfg.Fingerprint.Marker != fingerprint.ModeDiff {
		t.Errorf("Marker = %q", cfg.Fingerprint.Marker)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("Cache.TTL = %v", cfg.Cache.TTL)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.InitialDelay != 2*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	// не указанные в файле поля сохраняют default
	if cfg.Registry.TaskTTL != 24*time.Hour {
		t.Errorf("Registry.TaskTTL = %v", cfg.Registry.TaskTTL)
	}
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := writeFile(t, "batch:\n  max_items: 3\n")
	t.Setenv("PRREVIEW_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Batch.MaxItems != 3 {
		t.Errorf("Batch.MaxItems = %d, want 3", cfg.Batch.MaxItems)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeFile(t, "server: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.applyEnv(mapLookup(map[string]string{
		"API_PORT":         "8081",
		"DB_URL":           "postgresql://x@y/z",
		"GITHUB_TOKEN":     "ghp_test",
		"OPENAI_API_KEY":   "sk-test",
		"LOG_LEVEL":        "DEBUG",
		"CACHE_TTL":        "15m",
		"CORS_ORIGINS":     "http://a.test, http://b.test",
		"BATCH_MAX_ITEMS":  "not-a-number",
		"ANALYSIS_TIMEOUT": "90s",
	}))

	if cfg.Server.Addr != ":8081" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != StorePostgres {
		t.Errorf("DB_URL should switch store to postgres, got %q", cfg.Store.Driver)
	}
	if cfg.GitHub.Token != "ghp_test" || cfg.Analyzer.APIKey != "sk-test" {
		t.Errorf("credentials not applied: %+v %+v", cfg.GitHub, cfg.Analyzer)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Cache.TTL != 15*time.Minute {
		t.Errorf("Cache.TTL = %v", cfg.Cache.TTL)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Batch.MaxItems != 10 {
		t.Errorf("unparsable int must keep default, got %d", cfg.Batch.MaxItems)
	}
	if cfg.Backend.AnalysisTimeout != 90*time.Second {
		t.Errorf("AnalysisTimeout = %v", cfg.Backend.AnalysisTimeout)
	}
}

func TestApplyEnv_ExplicitStoreWins(t *testing.T) {
	cfg := Default()
	cfg.applyEnv(mapLookup(map[string]string{
		"DB_URL":         "postgresql://x@y/z",
		"PRREVIEW_STORE": "memory",
	}))
	if cfg.Store.Driver != StoreMemory {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"unknown backend", func(c *Config) { c.Backend.Driver = "kafka" }, "backend.driver"},
		{"amqp needs postgres", func(c *Config) { c.Backend.Driver = BackendAMQP }, "requires store.driver postgres"},
		{"minio without endpoint", func(c *Config) { c.Archive.Driver = ArchiveMinio }, "archive.minio.endpoint"},
		{"unknown marker", func(c *Config) { c.Fingerprint.Marker = "mtime" }, "fingerprint.marker"},
		{"unknown provider", func(c *Config) { c.Analyzer.Provider = "claude" }, "analyzer.provider"},
		{"unknown backoff", func(c *Config) { c.Retry.Backoff = "linear" }, "retry.backoff"},
		{"bad cron", func(c *Config) { c.Janitor.Schedule = "every five minutes" }, "janitor.schedule"},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }, "ttl"},
		{"stale_after below execution time", func(c *Config) { c.Janitor.StaleAfter = 15 * time.Minute }, "janitor.stale_after"},
		{"longer analysis timeout", func(c *Config) { c.Backend.AnalysisTimeout = 10 * time.Minute }, "janitor.stale_after"},
		{"lease below execution time", func(c *Config) { c.Registry.LeaseTTL = 10 * time.Minute }, "registry.lease_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestExecutionBudget_Default(t *testing.T) {
	cfg := Default()

	// 3×30s + 1s + 2s на получение, 3×5m + 1s + 2s на анализ.
	want := 93*time.Second + 15*time.Minute + 3*time.Second
	if got := cfg.ExecutionBudget(); got != want {
		t.Errorf("ExecutionBudget() = %s, want %s", got, want)
	}
	if cfg.Janitor.StaleAfter < want {
		t.Errorf("default stale_after %s is below the budget %s", cfg.Janitor.StaleAfter, want)
	}
}
