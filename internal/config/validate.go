package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/prreview/internal/analyzer"
	"github.com/shaiso/prreview/internal/retry"
	"github.com/shaiso/prreview/internal/scheduler"
)

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// ExecutionBudget — худшее время одного выполнения: получение PR и анализ,
// каждый со всеми попытками, таймаутами и задержками retry.
func (c *Config) ExecutionBudget() time.Duration {
	return c.Retry.Budget(c.Backend.FetchTimeout) + c.Retry.Budget(c.Backend.AnalysisTimeout)
}

// Validate проверяет значения, которые нельзя молча заменить на default.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		add("store.driver: unknown driver %q (memory|postgres)", c.Store.Driver)
	}

	switch c.Backend.Driver {
	case BackendLocal:
	case BackendAMQP:
		if c.Store.Driver != StorePostgres {
			add("backend.driver amqp requires store.driver postgres (workers share the registry)")
		}
	default:
		add("backend.driver: unknown driver %q (local|amqp)", c.Backend.Driver)
	}

	switch c.Archive.Driver {
	case ArchiveNone, "":
	case ArchiveMinio:
		if c.Archive.Minio.Endpoint == "" {
			add("archive.minio.endpoint is required")
		}
	default:
		add("archive.driver: unknown driver %q (none|minio)", c.Archive.Driver)
	}

	switch c.Analyzer.Provider {
	case "", analyzer.ProviderOpenAI, analyzer.ProviderOllama, analyzer.ProviderHeuristic:
	default:
		add("analyzer.provider: unknown provider %q", c.Analyzer.Provider)
	}

	if !c.Fingerprint.Marker.IsValid() {
		add("fingerprint.marker: unknown mode %q (head_sha|diff)", c.Fingerprint.Marker)
	}

	switch c.Retry.Backoff {
	case "", retry.BackoffFixed, retry.BackoffExponential:
	default:
		add("retry.backoff: unknown strategy %q (fixed|exponential)", c.Retry.Backoff)
	}

	if err := scheduler.ValidateCronExpr(c.Janitor.Schedule); err != nil {
		add("janitor.schedule: %v", err)
	}

	// Живое выполнение не должно быть признано зависшим, а его marker — истёкшим.
	budget := c.ExecutionBudget()
	if c.Janitor.StaleAfter < budget {
		add("janitor.stale_after %s is below the worst-case execution time %s", c.Janitor.StaleAfter, budget)
	}
	if c.Registry.LeaseTTL > 0 && c.Registry.LeaseTTL < budget {
		add("registry.lease_ttl %s is below the worst-case execution time %s", c.Registry.LeaseTTL, budget)
	}

	if c.Batch.MaxItems < 0 {
		add("batch.max_items must not be negative")
	}
	if c.Cache.TTL < 0 || c.Registry.TaskTTL < 0 {
		add("ttl values must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
