package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/prreview/internal/analyzer"
	"github.com/shaiso/prreview/internal/fingerprint"
	"github.com/shaiso/prreview/internal/mq"
	"github.com/shaiso/prreview/internal/retry"
	"github.com/shaiso/prreview/internal/storage"
)

// Драйверы хранилища задач.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Драйверы Execution Backend.
const (
	BackendLocal = "local"
	BackendAMQP  = "amqp"
)

// Драйверы архива отчётов.
const (
	ArchiveNone  = "none"
	ArchiveMinio = "minio"
)

// Config — полная конфигурация.
type Config struct {
	Server      Server          `yaml:"server"`
	Log         Log             `yaml:"log"`
	Store       Store           `yaml:"store"`
	Backend     Backend         `yaml:"backend"`
	Fingerprint Fingerprint     `yaml:"fingerprint"`
	Cache       Cache           `yaml:"cache"`
	Registry    Registry        `yaml:"registry"`
	GitHub      GitHub          `yaml:"github"`
	Analyzer    analyzer.Config `yaml:"analyzer"`
	Retry       retry.Policy    `yaml:"retry"`
	Batch       Batch           `yaml:"batch"`
	Janitor     Janitor         `yaml:"janitor"`
	Archive     Archive         `yaml:"archive"`
	Worker      Worker          `yaml:"worker"`
}

// Server — HTTP.
type Server struct {
	Addr            string        `yaml:"addr"`
	MetricsAddr     string        `yaml:"metrics_addr"` // для prreview-worker
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Log — логирование.
type Log struct {
	Level  string `yaml:"level"`  // DEBUG | INFO | WARN | ERROR
	Format string `yaml:"format"` // json | text
}

// Store — хранилище реестра, кэша и in-flight marker'ов.
type Store struct {
	Driver   string `yaml:"driver"` // memory | postgres
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// Backend — Execution Backend.
type Backend struct {
	Driver          string        `yaml:"driver"` // local | amqp
	Workers         int           `yaml:"workers"`
	AMQPURL         string        `yaml:"amqp_url"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`
}

// Fingerprint — стратегия content marker.
//
// head_sha — дешёвая проверка кэша (один запрос за SHA); diff — полный fetch
// до проверки кэша, но fingerprint меняется только при реальном изменении diff
// (rebase без изменений даёт попадание в кэш).
type Fingerprint struct {
	Marker fingerprint.Mode `yaml:"marker"`
}

// Cache — кэш отчётов.
type Cache struct {
	TTL time.Duration `yaml:"ttl"`
}

// Registry — реестр задач.
type Registry struct {
	TaskTTL  time.Duration `yaml:"task_ttl"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// GitHub — клиент GitHub API.
type GitHub struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Batch — batch-анализ.
type Batch struct {
	MaxItems    int `yaml:"max_items"`
	Concurrency int `yaml:"concurrency"`
}

// Janitor — периодическая уборка.
type Janitor struct {
	Schedule   string        `yaml:"schedule"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Archive — архив отчётов.
type Archive struct {
	Driver string              `yaml:"driver"` // none | minio
	Minio  storage.MinioConfig `yaml:"minio"`
}

// Worker — процесс prreview-worker.
type Worker struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PollGrace    time.Duration `yaml:"poll_grace"`
	BatchSize    int           `yaml:"batch_size"`
}

// Default возвращает конфигурацию по умолчанию: всё в памяти, локальный пул.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			MetricsAddr:     ":9091",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log:   Log{Level: "INFO", Format: "json"},
		Store: Store{Driver: StoreMemory},
		Backend: Backend{
			Driver:          BackendLocal,
			Workers:         4,
			AMQPURL:         mq.DefaultURL(),
			FetchTimeout:    30 * time.Second,
			AnalysisTimeout: 5 * time.Minute,
		},
		Fingerprint: Fingerprint{Marker: fingerprint.ModeHeadSHA},
		Cache:       Cache{TTL: time.Hour},
		Registry:    Registry{TaskTTL: 24 * time.Hour, LeaseTTL: time.Hour},
		GitHub:      GitHub{RateLimit: 10, Burst: 5, Timeout: 30 * time.Second},
		Analyzer:    analyzer.Config{Provider: analyzer.ProviderOllama},
		Retry:       retry.DefaultPolicy(),
		Batch:       Batch{MaxItems: 10, Concurrency: 5},
		Janitor:     Janitor{Schedule: "@every 5m", StaleAfter: 20 * time.Minute},
		Archive:     Archive{Driver: ArchiveNone},
		Worker:      Worker{PollInterval: 10 * time.Second, PollGrace: 30 * time.Second, BatchSize: 50},
	}
}

// Load собирает конфигурацию из всех слоёв и валидирует её.
//
// Слои (каждый следующий перекрывает предыдущий):
//  1. значения по умолчанию (Default)
//  2. YAML файл path; path == "" — берётся PRREVIEW_CONFIG, если и он пуст, файл не читается
//  3. .env в рабочей директории, если есть (переменные процесса не перезаписываются)
//  4. переменные окружения (DB_URL, RABBITMQ_URL, GITHUB_TOKEN, ...)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PRREVIEW_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadDotEnv загружает .env, если файл есть.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}
