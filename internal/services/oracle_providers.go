package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// OpenAIOracle sends prompts as single user chat messages to an OpenAI
// compatible chat completion API.
type OpenAIOracle struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	metrics *observability.GenerationMetrics
}

// NewOpenAIOracle builds a chat completion oracle. cfg.URL overrides the base URL.
func NewOpenAIOracle(cfg config.OracleConfig, metrics *observability.GenerationMetrics) (*OpenAIOracle, error) {
	if cfg.APIKey == "" && cfg.URL == "" {
		return nil, contextutils.WrapError(contextutils.ErrAIConfigInvalid, "openai oracle needs an API key or a base URL")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		clientConfig.BaseURL = cfg.URL
	}
	clientConfig.HTTPClient = newInstrumentedClient(cfg.Timeout)

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIOracle{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		limiter: newLimiter(cfg.RequestsPerMinute),
		metrics: metrics,
	}, nil
}

// Name identifies the provider in metrics and logs
func (o *OpenAIOracle) Name() string { return "openai" }

// Complete sends req.Prompt as one user message
func (o *OpenAIOracle) Complete(ctx context.Context, req CompletionRequest) (result0 string, err error) {
	ctx, span := observability.TraceOracleFunction(ctx, "openai_complete",
		observability.AttributeProvider(o.Name()),
		attribute.String("ai.model", o.model),
		attribute.Int("prompt.length", len(req.Prompt)),
	)
	defer observability.FinishSpan(span, &err)

	if err := o.limiter.Wait(ctx); err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrTimeout, "waiting for oracle rate limit: %w", err)
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         float32(req.Temperature),
		TopP:                float32(req.TopP),
	})
	observeOracle(o.metrics, o.Name(), time.Since(start), err)
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "no choices in OpenAI response")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "OpenAI returned empty content")
	}
	return content, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return contextutils.WrapErrorf(contextutils.ErrRateLimit, "openai: %w", err)
		case apiErr.HTTPStatusCode >= 500:
			return contextutils.WrapErrorf(contextutils.ErrAIProviderUnavailable, "openai: %w", err)
		}
		return contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "openai: %w", err)
	}
	return contextutils.WrapErrorf(contextutils.ErrAIProviderUnavailable, "openai: %w", err)
}

// GeminiOracle calls the Gemini API through the genai SDK
type GeminiOracle struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	metrics *observability.GenerationMetrics
}

// NewGeminiOracle builds a Gemini oracle
func NewGeminiOracle(ctx context.Context, cfg config.OracleConfig, metrics *observability.GenerationMetrics) (*GeminiOracle, error) {
	if cfg.APIKey == "" {
		return nil, contextutils.WrapError(contextutils.ErrAIConfigInvalid, "gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newInstrumentedClient(cfg.Timeout),
	})
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiOracle{
		client:  client,
		model:   model,
		limiter: newLimiter(cfg.RequestsPerMinute),
		metrics: metrics,
	}, nil
}

// Name identifies the provider in metrics and logs
func (o *GeminiOracle) Name() string { return "gemini" }

// Complete sends req.Prompt as a single text content
func (o *GeminiOracle) Complete(ctx context.Context, req CompletionRequest) (result0 string, err error) {
	ctx, span := observability.TraceOracleFunction(ctx, "gemini_complete",
		observability.AttributeProvider(o.Name()),
		attribute.String("ai.model", o.model),
		attribute.Int("prompt.length", len(req.Prompt)),
	)
	defer observability.FinishSpan(span, &err)

	if err := o.limiter.Wait(ctx); err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrTimeout, "waiting for oracle rate limit: %w", err)
	}

	genConfig := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		genConfig.Temperature = &temp
	}
	if req.TopP > 0 {
		topP := float32(req.TopP)
		genConfig.TopP = &topP
	}

	start := time.Now()
	result, err := o.client.Models.GenerateContent(ctx, o.model, genai.Text(req.Prompt), genConfig)
	observeOracle(o.metrics, o.Name(), time.Since(start), err)
	if err != nil {
		return "", mapGeminiError(err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "Gemini returned empty content")
	}
	return text, nil
}

func mapGeminiError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return contextutils.WrapErrorf(contextutils.ErrRateLimit, "gemini: %w", err)
		case apiErr.Code >= 500:
			return contextutils.WrapErrorf(contextutils.ErrAIProviderUnavailable, "gemini: %w", err)
		}
		return contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "gemini: %w", err)
	}
	return contextutils.WrapErrorf(contextutils.ErrAIProviderUnavailable, "gemini: %w", err)
}

func observeOracle(metrics *observability.GenerationMetrics, provider string, d time.Duration, err error) {
	if metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		if IsRateLimited(err) {
			outcome = "rate_limited"
		}
	}
	metrics.OracleCalls.WithLabelValues(provider, outcome).Inc()
	metrics.OracleLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// NewOracle builds the oracle named by cfg.Provider. A disabled config yields nil.
func NewOracle(ctx context.Context, cfg config.OracleConfig, maxConcurrent int, metrics *observability.GenerationMetrics, logger *observability.Logger) (CompletionOracle, error) {
	if cfg.Provider == "" {
		return nil, nil
	}
	logger.Info(ctx, "Configuring oracle", map[string]interface{}{
		"provider": cfg.Provider,
		"model":    cfg.Model,
		"url":      cfg.URL,
		"api_key":  contextutils.MaskAPIKey(cfg.APIKey),
	})
	switch cfg.Provider {
	case "llama":
		return NewLlamaOracle(cfg, maxConcurrent, metrics, logger), nil
	case "openai":
		o, err := NewOpenAIOracle(cfg, metrics)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "gemini":
		o, err := NewGeminiOracle(ctx, cfg, metrics)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "unknown oracle provider %q", cfg.Provider)
	}
}
