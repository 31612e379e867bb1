package services

import (
	"context"
	"strings"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/irt"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/parser"
	contextutils "mcqgen/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// AbilityReader is what quiz generation needs to know about a learner
type AbilityReader interface {
	Theta(ctx context.Context, ownerID int) (float64, error)
	RecentOutcomes(ctx context.Context, ownerID int) ([]irt.ItemOutcome, error)
}

// VerificationDispatcher schedules a background sweep of a persisted quiz
type VerificationDispatcher interface {
	Dispatch(quizID string)
}

// BandRequest is one call of the per-difficulty generation loop
type BandRequest struct {
	Difficulty models.Difficulty
	Theta      float64
	// Adaptive renders Theta into the prompt and uses the adaptive retry ceiling
	Adaptive  bool
	QuizTexts []string
	History   [][]float32
	// Limit caps the accepted items below BatchSize; 0 means BatchSize
	Limit int
	// Topic steers context and prompt to one corpus cluster
	Topic string
}

// limit is the most items the call may accept
func (c *QuizController) limit(req BandRequest) int {
	if req.Limit > 0 && req.Limit < c.cfg.BatchSize {
		return req.Limit
	}
	return c.cfg.BatchSize
}

// QuizController drives sampling, generation, parsing, filtering and
// verification until a quiz is filled, then persists it.
type QuizController struct {
	generator  *Generator
	secondary  CompletionOracle
	sampler    *ContextSampler
	gate       *DedupGate
	verifier   *Verifier
	assigner   *irt.Assigner
	quizzes    QuizStore
	users      UserStore
	abilities  AbilityReader
	dispatcher VerificationDispatcher
	cfg        config.GenerationConfig
	dedupCfg   config.DedupConfig
	metrics    *observability.GenerationMetrics
	logger     *observability.Logger
	now        func() time.Time
}

// QuizControllerDeps groups the collaborators of a QuizController
type QuizControllerDeps struct {
	Generator  *Generator
	Secondary  CompletionOracle
	Sampler    *ContextSampler
	Gate       *DedupGate
	Verifier   *Verifier
	Assigner   *irt.Assigner
	Quizzes    QuizStore
	Users      UserStore
	Abilities  AbilityReader
	Dispatcher VerificationDispatcher
	Metrics    *observability.GenerationMetrics
	Logger     *observability.Logger
}

// NewQuizController wires a controller. Secondary and Dispatcher may be nil.
func NewQuizController(deps QuizControllerDeps, cfg config.GenerationConfig, dedupCfg config.DedupConfig) *QuizController {
	assigner := deps.Assigner
	if assigner == nil {
		assigner = irt.NewAssigner()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewGenerationMetrics()
	}
	return &QuizController{
		generator:  deps.Generator,
		secondary:  deps.Secondary,
		sampler:    deps.Sampler,
		gate:       deps.Gate,
		verifier:   deps.Verifier,
		assigner:   assigner,
		quizzes:    deps.Quizzes,
		users:      deps.Users,
		abilities:  deps.Abilities,
		dispatcher: deps.Dispatcher,
		cfg:        cfg,
		dedupCfg:   dedupCfg,
		metrics:    metrics,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// GenerateAdaptiveQuiz builds a count-item quiz whose difficulty mix and
// prompts follow the owner's estimated ability.
func (c *QuizController) GenerateAdaptiveQuiz(ctx context.Context, actorID, ownerID, count int) (result0 *models.Quiz, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "generate_adaptive_quiz",
		observability.AttributeUserID(ownerID),
		observability.AttributeCount(count),
	)
	defer observability.FinishSpan(span, &err)

	if count < 1 || count > c.cfg.MaxQuestionCount {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "question count must be between 1 and %d", c.cfg.MaxQuestionCount)
	}
	if err := c.authorize(ctx, actorID, ownerID); err != nil {
		return nil, err
	}

	theta, err := c.abilities.Theta(ctx, ownerID)
	if err != nil {
		c.logger.Warn(ctx, "Ability unavailable, assuming theta 0", map[string]interface{}{"user_id": ownerID, "error": err.Error()})
		theta = 0
	}
	outcomes, err := c.abilities.RecentOutcomes(ctx, ownerID)
	if err != nil {
		c.logger.Warn(ctx, "Recent outcomes unavailable, planning from priors", map[string]interface{}{"user_id": ownerID, "error": err.Error()})
		outcomes = nil
	}
	dist := irt.PlanDistribution(outcomes, count)
	c.logger.Info(ctx, "Planned difficulty distribution", map[string]interface{}{
		"user_id": ownerID,
		"theta":   theta,
		"easy":    dist[models.DifficultyEasy],
		"medium":  dist[models.DifficultyMedium],
		"hard":    dist[models.DifficultyHard],
	})

	return c.buildQuiz(ctx, ownerID, models.QuizModeAdaptive, "", dist, theta)
}

// GenerateStandardQuiz builds a quiz with the fixed 8/6/6 distribution
func (c *QuizController) GenerateStandardQuiz(ctx context.Context, actorID, ownerID int) (result0 *models.Quiz, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "generate_standard_quiz", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	if err := c.authorize(ctx, actorID, ownerID); err != nil {
		return nil, err
	}
	theta, err := c.abilities.Theta(ctx, ownerID)
	if err != nil {
		theta = 0
	}
	return c.buildQuiz(ctx, ownerID, models.QuizModeStandard, "", irt.StandardDistribution(), theta)
}

// GenerateTopicQuiz builds a count-item quiz on one corpus cluster, split in
// the standard proportions. Context examples come from the cluster and, when
// it is small, from its nearest neighbours in other clusters.
func (c *QuizController) GenerateTopicQuiz(ctx context.Context, actorID, ownerID int, topic string, count int) (result0 *models.Quiz, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "generate_topic_quiz",
		observability.AttributeUserID(ownerID),
		observability.AttributeCount(count),
		attribute.String("topic", topic),
	)
	defer observability.FinishSpan(span, &err)

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "topic is required")
	}
	if count < 1 || count > c.cfg.MaxQuestionCount {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "question count must be between 1 and %d", c.cfg.MaxQuestionCount)
	}
	if err := c.authorize(ctx, actorID, ownerID); err != nil {
		return nil, err
	}
	if c.sampler == nil {
		return nil, contextutils.WrapError(contextutils.ErrServiceUnavailable, "topic quizzes need a corpus")
	}
	// k 0 only checks that the topic has corpus entries
	if _, err := c.sampler.SampleTopic(ctx, topic, 0); err != nil {
		return nil, err
	}

	theta, err := c.abilities.Theta(ctx, ownerID)
	if err != nil {
		theta = 0
	}
	return c.buildQuiz(ctx, ownerID, models.QuizModeTopic, topic, irt.ScaledStandardDistribution(count), theta)
}

func (c *QuizController) authorize(ctx context.Context, actorID, ownerID int) error {
	return requireOwner(ctx, c.users, actorID, ownerID, "register before generating a quiz")
}

func (c *QuizController) buildQuiz(ctx context.Context, ownerID int, mode models.QuizMode, topic string, dist models.Distribution, theta float64) (*models.Quiz, error) {
	history := c.historyVectors(ctx, ownerID)

	items := make([]models.Item, 0, dist.Total())
	texts := make(map[string]struct{}, dist.Total())
	quizTexts := func() []string {
		out := make([]string, 0, len(texts))
		for t := range texts {
			out = append(out, t)
		}
		return out
	}

	for _, d := range models.Difficulties {
		need := dist[d]
		generated, failed := 0, 0
		for generated < need && failed < c.cfg.MaxFailedBatches {
			if ctx.Err() != nil {
				return nil, contextutils.WrapErrorf(contextutils.ErrTimeout, "quiz generation cancelled: %w", ctx.Err())
			}
			batch, err := c.GenerateBand(ctx, BandRequest{
				Difficulty: d,
				Theta:      theta,
				Adaptive:   mode == models.QuizModeAdaptive,
				QuizTexts:  quizTexts(),
				History:    history,
				Limit:      need - generated,
				Topic:      topic,
			})
			if err != nil || len(batch) == 0 {
				failed++
				c.logger.Warn(ctx, "No items received for band", map[string]interface{}{
					"difficulty": d.String(),
					"failed":     failed,
				})
				continue
			}
			for _, it := range batch {
				if generated >= need {
					break
				}
				key := strings.TrimSpace(it.Question)
				if _, dup := texts[key]; dup || key == "" {
					continue
				}
				texts[key] = struct{}{}
				items = append(items, it)
				generated++
			}
		}
		padded := 0
		if short := need - generated; short > 0 {
			padding, err := c.quizzes.SampleItems(ctx, d, short, quizTexts())
			if err != nil {
				c.logger.Error(ctx, "Failed to sample stored items", err, map[string]interface{}{
					"difficulty": d.String(),
					"needed":     short,
				})
			}
			for _, it := range padding {
				key := strings.TrimSpace(it.Question)
				if _, dup := texts[key]; dup || key == "" || it.Difficulty != d || padded >= short {
					continue
				}
				texts[key] = struct{}{}
				items = append(items, it)
				padded++
				c.metrics.ItemsPadded.WithLabelValues(d.String()).Inc()
			}
			c.logger.Warn(ctx, "Band padded from stored items", map[string]interface{}{
				"difficulty": d.String(),
				"needed":     short,
				"padded":     padded,
			})
		}
		c.logger.Info(ctx, "Band finished", map[string]interface{}{
			"difficulty": d.String(),
			"generated":  generated,
			"padded":     padded,
			"requested":  need,
		})
	}

	quiz := &models.Quiz{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Mode:         mode,
		Topic:        topic,
		Distribution: dist,
		Items:        items,
		CreatedAt:    c.now().UTC(),
	}
	if err := c.quizzes.Insert(ctx, quiz); err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to save quiz")
	}
	c.metrics.QuizzesGenerated.WithLabelValues(string(mode)).Inc()

	if c.dispatcher != nil && quiz.HasUnverified() {
		c.dispatcher.Dispatch(quiz.ID)
	}
	c.logger.Info(ctx, "Quiz generated", map[string]interface{}{
		"quiz_id":         quiz.ID,
		"user_id":         ownerID,
		"mode":            string(mode),
		"total_questions": len(items),
	})
	return quiz, nil
}

// historyVectors embeds the questions of the owner's most recent quizzes
func (c *QuizController) historyVectors(ctx context.Context, ownerID int) [][]float32 {
	recent, err := c.quizzes.RecentByOwner(ctx, ownerID, c.dedupCfg.HistoryQuizzes)
	if err != nil {
		c.logger.Warn(ctx, "Failed to load quiz history", map[string]interface{}{"error": err.Error()})
		return nil
	}
	var texts []string
	for _, q := range recent {
		for _, it := range q.Items {
			if it.Question != "" {
				texts = append(texts, it.Question)
			}
		}
	}
	vecs, err := c.gate.HistoryVectors(ctx, texts)
	if err != nil {
		c.logger.Warn(ctx, "Failed to embed quiz history", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return vecs
}

// GenerateBand returns up to BatchSize (or req.Limit) accepted items of one
// difficulty. Every accepted item enters the shared index, so the caller must
// not ask for more than it will keep. It
// retries until the batch is full or the ceiling is hit, a round trip that
// adds nothing counting as a failed retry, then makes one secondary call with
// the last prompt.
func (c *QuizController) GenerateBand(ctx context.Context, req BandRequest) (result0 []models.Item, err error) {
	ctx, span := observability.TraceGenerationFunction(ctx, "generate_band",
		observability.AttributeDifficulty(req.Difficulty),
		attribute.Bool("adaptive", req.Adaptive),
	)
	defer observability.FinishSpan(span, &err)

	maxRetries := c.cfg.MaxRetriesStandard
	var theta *float64
	if req.Adaptive {
		maxRetries = c.cfg.MaxRetriesAdaptive
		t := req.Theta
		theta = &t
	}

	limit := c.limit(req)
	batch := c.gate.NewBatch(req.QuizTexts, req.History)
	accepted := make([]models.Item, 0, limit)
	lastPrompt := ""
	retries := 0

	for retries < maxRetries && len(accepted) < limit {
		if ctx.Err() != nil {
			return accepted, nil
		}

		contextItems := c.sampleContext(ctx, req.Topic)
		res, err := c.generator.Generate(ctx, GenerationRequest{
			Count:      limit - len(accepted),
			Difficulty: req.Difficulty,
			Theta:      theta,
			Context:    contextItems,
			Topic:      req.Topic,
		})
		if res != nil && res.Prompt != "" {
			lastPrompt = res.Prompt
		}
		if err != nil {
			retries++
			c.logger.Warn(ctx, "Generation round trip failed", map[string]interface{}{
				"difficulty": req.Difficulty.String(),
				"retry":      retries,
				"error":      err.Error(),
			})
			continue
		}

		parsed := parser.Parse(res.Prompt, res.Text)
		if c.admitAll(ctx, batch, parsed, req, &accepted) == 0 {
			retries++
		}
	}

	if len(accepted) < limit && c.secondary != nil && lastPrompt != "" {
		accepted = c.fallback(ctx, batch, lastPrompt, req, accepted)
	}

	span.SetAttributes(attribute.Int("items.accepted", len(accepted)), attribute.Int("retries", retries))
	return accepted, nil
}

func (c *QuizController) sampleContext(ctx context.Context, topic string) []ContextItem {
	if c.sampler == nil || c.cfg.ContextSize == 0 {
		return nil
	}
	if topic != "" {
		items, err := c.sampler.SampleTopic(ctx, topic, c.cfg.ContextSize)
		if err != nil {
			c.logger.Warn(ctx, "Failed to sample topic context", map[string]interface{}{"topic": topic, "error": err.Error()})
			return nil
		}
		return items
	}
	seed, err := c.sampler.RandomSeed(ctx)
	if err != nil {
		c.logger.Warn(ctx, "Failed to pick a seed question", map[string]interface{}{"error": err.Error()})
		return nil
	}
	items, err := c.sampler.Sample(ctx, seed, c.cfg.ContextSize)
	if err != nil {
		c.logger.Warn(ctx, "Failed to sample context", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return items
}

// fallback makes the one-shot secondary call after the primary is exhausted
func (c *QuizController) fallback(ctx context.Context, batch *DedupBatch, prompt string, req BandRequest, accepted []models.Item) []models.Item {
	c.logger.Warn(ctx, "Primary oracle exhausted, using secondary", map[string]interface{}{
		"difficulty": req.Difficulty.String(),
		"provider":   c.secondary.Name(),
		"accepted":   len(accepted),
	})
	text, err := c.generator.CompleteWith(ctx, c.secondary, prompt)
	if err != nil {
		c.logger.Error(ctx, "Secondary oracle failed", err, map[string]interface{}{"provider": c.secondary.Name()})
		return accepted
	}
	c.admitAll(ctx, batch, parser.Parse(prompt, text), req, &accepted)
	return accepted
}

// admitAll filters, verifies and parameterises parsed items until the batch
// is full and reports how many were added.
func (c *QuizController) admitAll(ctx context.Context, batch *DedupBatch, parsed []models.Item, req BandRequest, accepted *[]models.Item) int {
	added := 0
	for _, it := range parsed {
		if len(*accepted) >= c.limit(req) {
			break
		}
		it.Difficulty = req.Difficulty

		reason, err := batch.Admit(ctx, it)
		if err != nil {
			c.logger.Error(ctx, "Duplicate check failed", err, map[string]interface{}{"question": it.Question})
			continue
		}
		if reason != RejectNone {
			continue
		}

		verdict := c.verifier.Verify(ctx, it.Question, it.Options, it.Answer.Claimed())
		it = Apply(it, verdict)
		it.Params = c.assigner.Assign(req.Theta, req.Difficulty)

		*accepted = append(*accepted, it)
		added++
		c.metrics.ItemsAccepted.WithLabelValues(req.Difficulty.String()).Inc()
	}
	return added
}
