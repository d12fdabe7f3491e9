package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/shaiso/prreview/internal/domain"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultOllamaModel = "llama3"
	defaultOllamaURL   = "http://localhost:11434/v1"
	defaultMaxTokens   = 2048
	defaultTemperature = 0.2
)

// OpenAI — анализатор поверх OpenAI-совместимого Chat Completions API.
// Работает и с OpenAI, и с Ollama (через её /v1 endpoint).
type OpenAI struct {
	client      *openai.Client
	provider    string
	model       string
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// NewOpenAI создаёт анализатор.
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderOpenAI
	}

	model := cfg.Model
	apiKey := cfg.APIKey
	baseURL := cfg.BaseURL

	if provider == ProviderOllama {
		if model == "" {
			model = defaultOllamaModel
		}
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		if apiKey == "" {
			// Ollama ключ не проверяет, но клиент шлёт заголовок всегда.
			apiKey = "ollama"
		}
	} else if model == "" {
		model = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = normalizeBaseURL(baseURL)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Name возвращает имя провайдера.
func (a *OpenAI) Name() string { return a.provider }

// Analyze отправляет PR модели и разбирает JSON-ответ в отчёт.
func (a *OpenAI) Analyze(ctx context.Context, content *domain.PRContent) (*domain.Report, error) {
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(content)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	// Reasoning-модели не принимают max_tokens и temperature.
	if isReasoningModel(a.model) {
		req.MaxCompletionTokens = a.maxTokens
	} else {
		req.MaxTokens = a.maxTokens
		req.Temperature = a.temperature
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewAnalysisError("model returned no choices", true)
	}

	parsed := ParseResponse(resp.Choices[0].Message.Content)

	a.logger.Debug("analysis completed",
		"provider", a.provider,
		"model", resp.Model,
		"issues", len(parsed.Issues),
		"total_tokens", resp.Usage.TotalTokens,
	)

	model := resp.Model
	if model == "" {
		model = a.model
	}

	return parsed.Report(content, map[string]string{
		"provider": a.provider,
		"model":    model,
	}), nil
}

// classify переводит ошибку клиента в *domain.TaskError.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("analysis: %w", ctx.Err())
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewAnalysisError("model rate limited: "+err.Error(), true)
	case status >= 500:
		return domain.NewAnalysisError("model unavailable: "+err.Error(), true)
	case status == 0:
		// Сетевая ошибка до ответа (например, Ollama не запущена).
		return domain.NewAnalysisError("model request failed: "+err.Error(), true)
	default:
		return domain.NewAnalysisError(err.Error(), false)
	}
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// normalizeBaseURL приводит адрес к виду ".../v1".
func normalizeBaseURL(u string) string {
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}
