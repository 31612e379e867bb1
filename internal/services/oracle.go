package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"mcqgen/internal/config"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// CompletionRequest is one prompt sent to a text completion oracle
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// CompletionOracle is any endpoint that turns a prompt into text. The primary
// generator, the fallback generator and the answer judge all satisfy it.
type CompletionOracle interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}

// TokenCounter reports how many tokens a prompt occupies in the model's window
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// HeuristicTokenCount approximates a token count at four characters per token
func HeuristicTokenCount(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// IsRateLimited reports whether err signals provider throttling
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if contextutils.IsError(err, contextutils.ErrRateLimit) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// newLimiter turns a per-minute budget into a token bucket; 0 means unlimited
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// newInstrumentedClient returns an HTTP client that emits client spans
func newInstrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
		),
	}
}

type completionBody struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type completionReply struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type tokenizeBody struct {
	Content string `json:"content"`
}

type tokenizeReply struct {
	Tokens []int `json:"tokens"`
}

// LlamaOracle talks to a llama.cpp style server: OpenAI compatible
// /v1/completions for text and /tokenize for prompt accounting.
type LlamaOracle struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	limiter    *rate.Limiter
	semaphore  chan struct{}
	metrics    *observability.GenerationMetrics
	logger     *observability.Logger

	statsMu        sync.RWMutex
	activeRequests int
	totalRequests  int
}

// NewLlamaOracle builds the primary oracle. maxConcurrent bounds in-flight calls
// across every goroutine sharing the oracle.
func NewLlamaOracle(cfg config.OracleConfig, maxConcurrent int, metrics *observability.GenerationMetrics, logger *observability.Logger) *LlamaOracle {
	if maxConcurrent < 1 {
		maxConcurrent = config.DefaultMaxAIConcurrent
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.AIRequestTimeout
	}
	return &LlamaOracle{
		httpClient: newInstrumentedClient(timeout - 5*time.Second),
		baseURL:    strings.TrimSuffix(strings.TrimRight(cfg.URL, "/"), "/v1"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		limiter:    newLimiter(cfg.RequestsPerMinute),
		semaphore:  make(chan struct{}, maxConcurrent),
		metrics:    metrics,
		logger:     logger,
	}
}

// Name identifies the provider in metrics and logs
func (o *LlamaOracle) Name() string { return "llama" }

// Stats returns the number of in-flight and total requests
func (o *LlamaOracle) Stats() (active, total int) {
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()
	return o.activeRequests, o.totalRequests
}

// acquire waits for a rate token and a concurrency slot
func (o *LlamaOracle) acquire(ctx context.Context) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return contextutils.WrapErrorf(contextutils.ErrTimeout, "waiting for oracle rate limit: %w", err)
	}
	select {
	case o.semaphore <- struct{}{}:
	case <-ctx.Done():
		return contextutils.WrapErrorf(contextutils.ErrTimeout, "request cancelled while waiting for oracle slot: %w", ctx.Err())
	}
	o.statsMu.Lock()
	o.activeRequests++
	o.totalRequests++
	o.statsMu.Unlock()
	return nil
}

func (o *LlamaOracle) release() {
	<-o.semaphore
	o.statsMu.Lock()
	o.activeRequests--
	o.statsMu.Unlock()
}

// Complete sends one completion request
func (o *LlamaOracle) Complete(ctx context.Context, req CompletionRequest) (result0 string, err error) {
	ctx, span := observability.TraceOracleFunction(ctx, "llama_complete",
		observability.AttributeProvider(o.Name()),
		attribute.Int("prompt.length", len(req.Prompt)),
		attribute.Int("max_tokens", req.MaxTokens),
	)
	defer observability.FinishSpan(span, &err)

	if strings.TrimSpace(req.Prompt) == "" {
		span.SetAttributes(attribute.String("call.result", "empty_prompt"))
		return "", contextutils.WrapError(contextutils.ErrAIConfigInvalid, "prompt cannot be empty")
	}
	if o.baseURL == "" {
		span.SetAttributes(attribute.String("call.result", "no_url_configured"))
		return "", contextutils.WrapError(contextutils.ErrAIConfigInvalid, "no base URL configured for the primary oracle")
	}

	if err := o.acquire(ctx); err != nil {
		span.SetAttributes(attribute.String("call.result", "slot_unavailable"))
		return "", err
	}
	defer o.release()

	payload, err := json.Marshal(completionBody{
		Model:       o.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return "", contextutils.WrapErrorf(err, "failed to marshal request body")
	}

	url := o.baseURL + "/v1/completions"
	start := time.Now()
	body, status, err := o.post(ctx, url, payload)
	duration := time.Since(start)
	o.observe(duration, err, status)
	if err != nil {
		span.SetAttributes(attribute.String("call.result", "http_request_failed"), attribute.String("duration", duration.String()))
		return "", err
	}

	switch {
	case status == http.StatusTooManyRequests:
		span.SetAttributes(attribute.String("call.result", "rate_limited"))
		return "", contextutils.WrapErrorf(contextutils.ErrRateLimit, "oracle returned 429 from %s", url)
	case status >= http.StatusInternalServerError:
		span.SetAttributes(attribute.String("call.result", "http_error"), attribute.Int("status_code", status))
		return "", contextutils.WrapErrorf(contextutils.ErrAIProviderUnavailable, "API request failed with status %d to %s: %s", status, url, string(body))
	case status != http.StatusOK:
		span.SetAttributes(attribute.String("call.result", "http_error"), attribute.Int("status_code", status))
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "API request failed with status %d to %s: %s", status, url, string(body))
	}

	var reply completionReply
	if err := json.Unmarshal(body, &reply); err != nil {
		span.SetAttributes(attribute.String("call.result", "json_unmarshal_failed"))
		return "", contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "failed to parse completion response: %w", err)
	}
	if reply.Error != nil {
		span.SetAttributes(attribute.String("call.result", "api_error"), attribute.String("error_type", reply.Error.Type))
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "oracle API error: %s", reply.Error.Message)
	}
	if len(reply.Choices) == 0 {
		span.SetAttributes(attribute.String("call.result", "no_choices"))
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "completion response has no choices")
	}

	text := reply.Choices[0].Text
	if strings.TrimSpace(text) == "" {
		span.SetAttributes(attribute.String("call.result", "empty_content"))
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "oracle returned empty text")
	}

	span.SetAttributes(attribute.String("call.result", "success"), attribute.Int("content_length", len(text)), attribute.String("duration", duration.String()))
	return text, nil
}

// CountTokens asks the server's tokenizer for the prompt length
func (o *LlamaOracle) CountTokens(ctx context.Context, text string) (result0 int, err error) {
	ctx, span := observability.TraceOracleFunction(ctx, "llama_tokenize", attribute.Int("prompt.length", len(text)))
	defer observability.FinishSpan(span, &err)

	payload, err := json.Marshal(tokenizeBody{Content: text})
	if err != nil {
		return 0, contextutils.WrapErrorf(err, "failed to marshal tokenize body")
	}
	body, status, err := o.post(ctx, o.baseURL+"/tokenize", payload)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "tokenize failed with status %d", status)
	}
	var reply tokenizeReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return 0, contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "failed to parse tokenize response: %w", err)
	}
	return len(reply.Tokens), nil
}

func (o *LlamaOracle) post(ctx context.Context, url string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, contextutils.WrapErrorf(err, "failed to create HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mcqgen/1.0")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, 0, contextutils.WrapErrorf(contextutils.ErrTimeout, "HTTP request to %s: %w", url, err)
		}
		return nil, 0, contextutils.WrapErrorf(contextutils.ErrAIProviderUnavailable, "HTTP request to %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			o.logger.Warn(ctx, "Failed to close response body", map[string]interface{}{"error": cerr.Error()})
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, contextutils.WrapErrorf(err, "failed to read response body")
	}
	return body, resp.StatusCode, nil
}

func (o *LlamaOracle) observe(d time.Duration, err error, status int) {
	if o.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "transport_error"
	case status == http.StatusTooManyRequests:
		outcome = "rate_limited"
	case status != http.StatusOK:
		outcome = fmt.Sprintf("status_%d", status)
	}
	o.metrics.OracleCalls.WithLabelValues(o.Name(), outcome).Inc()
	o.metrics.OracleLatency.WithLabelValues(o.Name()).Observe(d.Seconds())
}

// Shutdown waits for in-flight requests to finish
func (o *LlamaOracle) Shutdown(ctx context.Context) error {
	timeout := config.AIShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	ticker := time.NewTicker(config.AIShutdownPollInterval)
	defer ticker.Stop()

	for i := 0; i < int(timeout/config.AIShutdownPollInterval); i++ {
		if active, _ := o.Stats(); active == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if active, _ := o.Stats(); active > 0 {
		return contextutils.ErrorWithContextf("oracle shutdown timed out with %d active requests", active)
	}
	return nil
}
