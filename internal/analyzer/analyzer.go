package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/prreview/internal/domain"
)

// Провайдеры анализа.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderHeuristic = "heuristic"
)

// Analyzer — возможность анализа содержимого PR.
//
// Ошибки — *domain.TaskError с Kind ANALYSIS_ERROR; Retryable выставлен для
// сбоев, которые имеет смысл повторить (rate limit, 5xx).
type Analyzer interface {
	Analyze(ctx context.Context, content *domain.PRContent) (*domain.Report, error)
	Name() string
}

// Config — конфигурация анализатора.
type Config struct {
	// Provider — openai | ollama | heuristic (default: ollama, как в исходном сервисе).
	Provider string `yaml:"provider"`

	// Model — имя модели. Default: gpt-4o-mini для openai, llama3 для ollama.
	Model string `yaml:"model"`

	// APIKey — ключ OpenAI (для ollama не нужен).
	APIKey string `yaml:"api_key"`

	// BaseURL — адрес OpenAI-совместимого API. Для ollama default: http://localhost:11434/v1.
	BaseURL string `yaml:"base_url"`

	// MaxTokens — предел токенов ответа (default: 2048).
	MaxTokens int `yaml:"max_tokens"`

	// Temperature — default: 0.2.
	Temperature float32 `yaml:"temperature"`

	// FallbackHeuristic — при неповторяемой ошибке модели вернуть эвристический отчёт
	// вместо ANALYSIS_ERROR.
	FallbackHeuristic bool `yaml:"fallback_heuristic"`
}

// New создаёт анализатор по конфигурации.
func New(cfg Config, logger *slog.Logger) (Analyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var primary Analyzer
	switch provider := strings.ToLower(cfg.Provider); provider {
	case ProviderHeuristic:
		return NewHeuristic(), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai provider requires an api key", ErrNotConfigured)
		}
		primary = NewOpenAI(cfg, logger)
	case "", ProviderOllama:
		cfg.Provider = ProviderOllama
		primary = NewOpenAI(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	if cfg.FallbackHeuristic {
		return WithFallback(primary, NewHeuristic(), logger), nil
	}
	return primary, nil
}

// fallback — анализатор, который при окончательной ошибке основного
// отдаёт результат запасного.
type fallback struct {
	primary   Analyzer
	secondary Analyzer
	logger    *slog.Logger
}

// WithFallback оборачивает primary: повторяемые ошибки и отмена контекста
// возвращаются как есть (их обработает retry-цикл), остальные — запасному.
func WithFallback(primary, secondary Analyzer, logger *slog.Logger) Analyzer {
	return &fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *fallback) Name() string { return f.primary.Name() }

func (f *fallback) Analyze(ctx context.Context, content *domain.PRContent) (*domain.Report, error) {
	report, err := f.primary.Analyze(ctx, content)
	if err == nil {
		return report, nil
	}
	if ctx.Err() != nil || domain.IsRetryable(err) {
		return nil, err
	}

	f.logger.Warn("analysis failed, using fallback",
		"provider", f.primary.Name(),
		"fallback", f.secondary.Name(),
		"error", err,
	)

	report, ferr := f.secondary.Analyze(ctx, content)
	if ferr != nil {
		return nil, err
	}
	if report.ModelInfo == nil {
		report.ModelInfo = map[string]string{}
	}
	report.ModelInfo["fallback_from"] = f.primary.Name()
	return report, nil
}
