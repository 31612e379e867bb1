package services

import (
	"context"

	"mcqgen/internal/config"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// GenerationRequest asks for Count items of one difficulty
type GenerationRequest struct {
	Count      int
	Difficulty models.Difficulty
	// Theta is set for adaptive quizzes and rendered into the prompt
	Theta   *float64
	Context []ContextItem
	// Topic keeps every item on one corpus cluster
	Topic string
}

// GenerationResult is the raw oracle output and the prompt that produced it
type GenerationResult struct {
	Prompt string
	Text   string
}

// Generator renders generation prompts and sends them to an oracle within the
// model's token budget.
type Generator struct {
	oracle    CompletionOracle
	tokens    TokenCounter
	templates *PromptTemplateManager
	cfg       config.GenerationConfig
	logger    *observability.Logger
}

// NewGenerator builds a generator. tokens may be nil, in which case prompt
// length is estimated.
func NewGenerator(oracle CompletionOracle, tokens TokenCounter, templates *PromptTemplateManager, cfg config.GenerationConfig, logger *observability.Logger) *Generator {
	return &Generator{oracle: oracle, tokens: tokens, templates: templates, cfg: cfg, logger: logger}
}

// BuildPrompt renders the wrapped instruction for req
func (g *Generator) BuildPrompt(req GenerationRequest) (string, error) {
	data := GenerationPromptData{
		Count:      max(req.Count, 1),
		Difficulty: req.Difficulty,
		Subject:    g.cfg.Subject,
		Topic:      req.Topic,
		Context:    req.Context,
	}
	if req.Theta != nil {
		data.HasTheta = true
		data.Theta = *req.Theta
	}
	return g.templates.RenderGenerationPrompt(data)
}

// Budget returns the completion token budget left after prompt, or
// ErrPromptTooLong when nothing is left.
func (g *Generator) Budget(ctx context.Context, prompt string) (int, error) {
	n := HeuristicTokenCount(prompt)
	if g.tokens != nil {
		counted, err := g.tokens.CountTokens(ctx, prompt)
		if err != nil {
			g.logger.Warn(ctx, "Token count unavailable, estimating", map[string]interface{}{"error": err.Error()})
		} else {
			n = counted
		}
	}
	budget := min(g.cfg.MaxCompletionTokens, g.cfg.ContextWindow-n-g.cfg.TokenReserve)
	if budget <= 0 {
		return 0, contextutils.WrapErrorf(contextutils.ErrPromptTooLong, "prompt uses %d of %d tokens", n, g.cfg.ContextWindow)
	}
	return budget, nil
}

// Generate renders req and calls the primary oracle
func (g *Generator) Generate(ctx context.Context, req GenerationRequest) (result0 *GenerationResult, err error) {
	ctx, span := observability.TraceGenerationFunction(ctx, "generate_batch",
		observability.AttributeDifficulty(req.Difficulty),
		observability.AttributeCount(req.Count),
		attribute.Int("context.count", len(req.Context)),
		attribute.Bool("adaptive", req.Theta != nil),
	)
	defer observability.FinishSpan(span, &err)

	prompt, err := g.BuildPrompt(req)
	if err != nil {
		return nil, err
	}
	text, err := g.CompleteWith(ctx, g.oracle, prompt)
	if err != nil {
		return &GenerationResult{Prompt: prompt}, err
	}
	return &GenerationResult{Prompt: prompt, Text: text}, nil
}

// CompleteWith sends an already rendered prompt to oracle under the same budget
// and sampling settings as the primary path.
func (g *Generator) CompleteWith(ctx context.Context, oracle CompletionOracle, prompt string) (string, error) {
	if oracle == nil {
		return "", contextutils.WrapError(contextutils.ErrAIConfigInvalid, "no oracle configured")
	}
	budget, err := g.Budget(ctx, prompt)
	if err != nil {
		return "", err
	}
	return oracle.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   budget,
		Temperature: g.cfg.Temperature,
		TopP:        g.cfg.TopP,
	})
}
