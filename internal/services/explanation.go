package services

import (
	"context"
	"regexp"
	"strings"

	"mcqgen/internal/config"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// NoAnswerExplanation is returned when no oracle settled on an option
const NoAnswerExplanation = "Model could not determine an answer."

// minExplanationLength is the shortest explanation accepted from an oracle
const minExplanationLength = 20

var (
	answerLine        = regexp.MustCompile(`\b(?i:answer)\s*[:\-]?\s*([A-E])\b`)
	bareAnswerLine    = regexp.MustCompile(`(?i)^(\d+\.\s*)?answer\s*[:\-]?\s*[A-E]\s*$`)
	explanationMarker = regexp.MustCompile(`(?i)\bexplanation:\s*`)
	bannedWords       = regexp.MustCompile(`(?i)\b(bomb|kill|terrorist|rape|nazi|abuse|porn|explosive|weapon|murder|shoot|drugs|hack|curse|fuck|shit|bitch|asshole|suicide)\b`)
)

// Explanation is an oracle's answer to an item with a short justification
type Explanation struct {
	PredictedAnswer string `json:"predicted_answer"`
	Explanation     string `json:"explanation"`
}

// AnswerCheck compares a claimed answer with the oracle's own solution.
// PredictedAnswer is empty when no oracle settled on an option.
type AnswerCheck struct {
	IsCorrect       bool   `json:"is_correct"`
	PredictedAnswer string `json:"predicted_answer"`
	ClaimedAnswer   string `json:"claimed_answer"`
	Explanation     string `json:"explanation"`
}

// ExplanationService answers free-standing items with an explanation. The
// judge oracle answers first with related corpus questions as background;
// the secondary oracle, when configured, stands in for a failed answer and
// reviews a successful one.
type ExplanationService struct {
	judge     CompletionOracle
	secondary CompletionOracle
	sampler   *ContextSampler
	templates *PromptTemplateManager
	cfg       config.GenerationConfig
	logger    *observability.Logger
}

// NewExplanationService builds the service. secondary and sampler may be nil.
func NewExplanationService(judge, secondary CompletionOracle, sampler *ContextSampler, templates *PromptTemplateManager, cfg config.GenerationConfig, logger *observability.Logger) *ExplanationService {
	return &ExplanationService{
		judge:     judge,
		secondary: secondary,
		sampler:   sampler,
		templates: templates,
		cfg:       cfg,
		logger:    logger,
	}
}

// Explain answers the item and explains the choice
func (s *ExplanationService) Explain(ctx context.Context, question string, options models.Options) (result0 *Explanation, err error) {
	ctx, span := observability.TraceOracleFunction(ctx, "explain_item")
	defer observability.FinishSpan(span, &err)

	if err := s.screen(ctx, question, options); err != nil {
		return nil, err
	}
	return s.explain(ctx, question, options)
}

// VerifyAndExplain solves the item independently and reports whether the
// claimed letter matches
func (s *ExplanationService) VerifyAndExplain(ctx context.Context, question string, options models.Options, claimed string) (result0 *AnswerCheck, err error) {
	ctx, span := observability.TraceOracleFunction(ctx, "verify_and_explain", attribute.String("claimed", claimed))
	defer observability.FinishSpan(span, &err)

	if err := s.screen(ctx, question, options); err != nil {
		return nil, err
	}
	claimed = strings.ToUpper(strings.TrimSpace(claimed))

	exp, err := s.explain(ctx, question, options)
	if err != nil {
		return nil, err
	}
	check := &AnswerCheck{
		PredictedAnswer: exp.PredictedAnswer,
		ClaimedAnswer:   claimed,
		Explanation:     exp.Explanation,
		IsCorrect:       exp.PredictedAnswer != "" && exp.PredictedAnswer == claimed,
	}
	if exp.PredictedAnswer == "" {
		s.logger.Warn(ctx, "No oracle settled on an answer", map[string]interface{}{"claimed": claimed})
		if check.Explanation == "" {
			check.Explanation = NoAnswerExplanation
		}
	}
	span.SetAttributes(attribute.Bool("answer.correct", check.IsCorrect))
	return check, nil
}

// screen rejects malformed, inappropriate and off-subject items
func (s *ExplanationService) screen(ctx context.Context, question string, options models.Options) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "question is required")
	}
	valid := 0
	for _, letter := range models.OptionLetters {
		if strings.TrimSpace(options[letter]) != "" {
			valid++
		}
	}
	if valid < 2 || valid != len(options) {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "options must be at least two non-empty entries keyed A to E")
	}
	if IsInappropriate(question) {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "question contains inappropriate or harmful content")
	}
	if !s.onSubject(ctx, question) {
		return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "only %s questions are supported", s.cfg.Subject)
	}
	return nil
}

// IsInappropriate reports whether text contains a banned word
func IsInappropriate(text string) bool {
	return bannedWords.MatchString(text)
}

// onSubject asks the judge whether question belongs to the configured
// subject. A failed check lets the question through.
func (s *ExplanationService) onSubject(ctx context.Context, question string) bool {
	if s.judge == nil || s.cfg.Subject == "" {
		return true
	}
	prompt, err := s.templates.RenderTemplate(TopicCheckPromptTemplate, ExplanationPromptData{Subject: s.cfg.Subject, Question: question})
	if err != nil {
		s.logger.Error(ctx, "Failed to render topic check prompt", err)
		return true
	}
	reply, err := s.judge.Complete(ctx, CompletionRequest{Prompt: prompt, MaxTokens: 5})
	if err != nil {
		s.logger.Warn(ctx, "Topic check failed, accepting question", map[string]interface{}{"error": err.Error()})
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "yes")
}

func (s *ExplanationService) explain(ctx context.Context, question string, options models.Options) (*Explanation, error) {
	data := ExplanationPromptData{
		Subject:  s.cfg.Subject,
		Question: strings.TrimSpace(question),
		Options:  presentOptionLines(options),
		Context:  s.background(ctx, question),
	}

	var judged *Explanation
	var judgeErr error
	if s.judge != nil {
		judged, judgeErr = s.ask(ctx, s.judge, ExplanationPromptTemplate, data, options)
		switch {
		case judgeErr != nil:
			s.logger.Warn(ctx, "Judge explanation failed", map[string]interface{}{"provider": s.judge.Name(), "error": judgeErr.Error()})
		case judged.PredictedAnswer != "" && ValidExplanation(judged.Explanation):
			return s.review(ctx, data, options, judged), nil
		default:
			s.logger.Warn(ctx, "Judge explanation unusable", map[string]interface{}{"provider": s.judge.Name()})
		}
	}

	if s.secondary == nil {
		if judgeErr != nil {
			return nil, contextutils.WrapError(contextutils.ErrAIRequestFailed, "explanation failed: "+judgeErr.Error())
		}
		if judged == nil {
			return nil, contextutils.WrapError(contextutils.ErrAIConfigInvalid, "no oracle configured for explanations")
		}
		return judged, nil
	}
	data.Context = nil
	exp, err := s.ask(ctx, s.secondary, ExplanationPromptTemplate, data, options)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrAIRequestFailed, "fallback explanation failed: "+err.Error())
	}
	return exp, nil
}

// review lets the secondary oracle correct a judge explanation. Any failure
// keeps the judge's answer.
func (s *ExplanationService) review(ctx context.Context, data ExplanationPromptData, options models.Options, exp *Explanation) *Explanation {
	if s.secondary == nil {
		return exp
	}
	data.Context = nil
	data.Answer = exp.PredictedAnswer
	data.Explanation = exp.Explanation
	reviewed, err := s.ask(ctx, s.secondary, ExplanationReviewPromptTemplate, data, options)
	if err != nil {
		s.logger.Warn(ctx, "Explanation review failed, keeping judge answer", map[string]interface{}{"error": err.Error()})
		return exp
	}
	out := *exp
	if reviewed.PredictedAnswer != "" {
		out.PredictedAnswer = reviewed.PredictedAnswer
	}
	if reviewed.Explanation != "" {
		out.Explanation = reviewed.Explanation
	}
	if out.PredictedAnswer != exp.PredictedAnswer {
		s.logger.Info(ctx, "Review corrected the judge answer", map[string]interface{}{
			"judge":    exp.PredictedAnswer,
			"reviewed": out.PredictedAnswer,
		})
	}
	return &out
}

func (s *ExplanationService) ask(ctx context.Context, oracle CompletionOracle, tmpl string, data ExplanationPromptData, options models.Options) (*Explanation, error) {
	prompt, err := s.templates.RenderTemplate(tmpl, data)
	if err != nil {
		return nil, err
	}
	reply, err := oracle.Complete(ctx, CompletionRequest{Prompt: prompt, MaxTokens: config.ExplanationMaxTokens})
	if err != nil {
		return nil, err
	}
	reply = strings.TrimSpace(reply)
	return &Explanation{
		PredictedAnswer: ExtractAnswer(reply, options),
		Explanation:     CleanExplanation(reply),
	}, nil
}

// background returns related corpus questions, nil when none are at hand
func (s *ExplanationService) background(ctx context.Context, question string) []ContextItem {
	if s.sampler == nil || s.cfg.ContextSize == 0 {
		return nil
	}
	items, err := s.sampler.Sample(ctx, question, s.cfg.ContextSize)
	if err != nil {
		s.logger.Warn(ctx, "Failed to sample explanation background", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return items
}

// ExtractAnswer finds the chosen option letter in an oracle reply: an
// "Answer: X" line first, then a line holding only a letter. Letters that are
// not options are ignored.
func ExtractAnswer(reply string, options models.Options) string {
	lines := strings.Split(reply, "\n")
	for _, line := range lines {
		if m := answerLine.FindStringSubmatch(line); m != nil {
			if options.Has(m[1]) {
				return m[1]
			}
		}
	}
	for _, line := range lines {
		letter := strings.ToUpper(strings.TrimSpace(line))
		if len(letter) == 1 && options.Has(letter) {
			return letter
		}
	}
	return ""
}

// CleanExplanation drops answer lines and returns the text after the first
// "Explanation:" marker, or the whole remaining reply when there is none
func CleanExplanation(reply string) string {
	var kept []string
	for _, line := range strings.Split(reply, "\n") {
		if bareAnswerLine.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	text := strings.TrimSpace(strings.Join(kept, "\n"))
	if parts := explanationMarker.Split(text, 3); len(parts) > 1 {
		return strings.TrimSpace(parts[1])
	}
	return text
}

// ValidExplanation rejects empty, very short and evasive explanations
func ValidExplanation(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < minExplanationLength {
		return false
	}
	return !strings.Contains(strings.ToLower(text), "i don't know")
}
