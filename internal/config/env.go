package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/prreview/internal/fingerprint"
)

// lookupFunc — os.LookupEnv (в тестах — карта).
type lookupFunc func(key string) (string, bool)

// applyEnv накладывает переменные окружения поверх файла.
func (c *Config) applyEnv(lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	// Server
	if v, ok := lookup("API_PORT"); ok && v != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := lookup("METRICS_PORT"); ok && v != "" {
		c.Server.MetricsAddr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	// Log
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	// Store
	str("PRREVIEW_STORE", &c.Store.Driver)
	if v, ok := lookup("DB_URL"); ok && v != "" {
		c.Store.URL = v
		if _, set := lookup("PRREVIEW_STORE"); !set {
			c.Store.Driver = StorePostgres
		}
	}

	// Backend
	str("PRREVIEW_BACKEND", &c.Backend.Driver)
	str("RABBITMQ_URL", &c.Backend.AMQPURL)
	integer("WORKER_CONCURRENCY", &c.Backend.Workers)
	duration("FETCH_TIMEOUT", &c.Backend.FetchTimeout)
	duration("ANALYSIS_TIMEOUT", &c.Backend.AnalysisTimeout)

	// Fingerprint
	if v, ok := lookup("FINGERPRINT_MARKER"); ok && v != "" {
		c.Fingerprint.Marker = fingerprint.Mode(v)
	}

	// TTL
	duration("CACHE_TTL", &c.Cache.TTL)
	duration("TASK_TTL", &c.Registry.TaskTTL)

	// GitHub
	str("GITHUB_TOKEN", &c.GitHub.Token)
	str("GITHUB_API_URL", &c.GitHub.BaseURL)

	// Analyzer
	str("ANALYZER_PROVIDER", &c.Analyzer.Provider)
	str("ANALYZER_MODEL", &c.Analyzer.Model)
	str("OLLAMA_BASE_URL", &c.Analyzer.BaseURL)
	str("ANALYZER_BASE_URL", &c.Analyzer.BaseURL)
	str("OPENAI_API_KEY", &c.Analyzer.APIKey)

	// Batch
	integer("BATCH_MAX_ITEMS", &c.Batch.MaxItems)

	// Janitor
	str("JANITOR_SCHEDULE", &c.Janitor.Schedule)

	// Archive
	str("ARCHIVE_DRIVER", &c.Archive.Driver)
	str("MINIO_ENDPOINT", &c.Archive.Minio.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Archive.Minio.AccessKey)
	str("MINIO_SECRET_KEY", &c.Archive.Minio.SecretKey)
	str("MINIO_BUCKET", &c.Archive.Minio.Bucket)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
