package services

import (
	"context"
	"strings"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/irt"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// AnswerSubmission is one answered question of a submitted attempt
type AnswerSubmission struct {
	Question       string  `json:"question_text" validate:"required"`
	SelectedAnswer string  `json:"selected_answer"`
	TimeTaken      float64 `json:"time_taken" validate:"gte=0"`
}

// PerformanceUpdater folds a first attempt into the owner's ability record
type PerformanceUpdater interface {
	UpdatePerformance(ctx context.Context, ownerID int, responses []models.Response) (*models.AbilityRecord, error)
}

// QuizHistory groups an owner's attempts of one quiz
type QuizHistory struct {
	QuizID   string           `json:"quiz_id"`
	Attempts []AttemptSummary `json:"attempts"`
}

// AttemptSummary is the listing form of an attempt
type AttemptSummary struct {
	ResponseID    int            `json:"response_id"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	AttemptNumber int            `json:"attempt_number"`
	Summary       models.Summary `json:"summary"`
}

// GradingService grades submitted attempts and serves attempt reads
type GradingService struct {
	users       UserStore
	quizzes     QuizStore
	attempts    AttemptStore
	performance PerformanceUpdater
	verifier    *Verifier
	metrics     *observability.GenerationMetrics
	logger      *observability.Logger
	maxHistory  int
	now         func() time.Time
}

// NewGradingService builds a grading service. verifier and metrics may be nil.
func NewGradingService(users UserStore, quizzes QuizStore, attempts AttemptStore, performance PerformanceUpdater, verifier *Verifier, metrics *observability.GenerationMetrics, logger *observability.Logger, maxHistory int) *GradingService {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &GradingService{
		users:       users,
		quizzes:     quizzes,
		attempts:    attempts,
		performance: performance,
		verifier:    verifier,
		metrics:     metrics,
		logger:      logger,
		maxHistory:  maxHistory,
		now:         time.Now,
	}
}

// ownedQuiz loads quizID and checks it belongs to ownerID
func (g *GradingService) ownedQuiz(ctx context.Context, ownerID int, quizID string) (*models.Quiz, error) {
	quiz, err := g.quizzes.Get(ctx, quizID)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "quiz %s not found", quizID)
		}
		return nil, err
	}
	if quiz.OwnerID != ownerID {
		return nil, contextutils.WrapError(contextutils.ErrForbidden, "this quiz was not created for the provided user")
	}
	return quiz, nil
}

// GetQuiz returns a quiz to its owner
func (g *GradingService) GetQuiz(ctx context.Context, actorID int, quizID string) (result0 *models.Quiz, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "get_quiz", observability.AttributeQuizID(quizID))
	defer observability.FinishSpan(span, &err)

	return g.ownedQuiz(ctx, actorID, quizID)
}

// SubmitQuiz grades answers against quizID and stores the attempt. Questions
// left out are graded as not answered; unverified items are judged first.
// Only the first attempt updates the owner's ability record.
func (g *GradingService) SubmitQuiz(ctx context.Context, actorID, ownerID int, quizID string, answers []AnswerSubmission) (result0 *models.Attempt, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "submit_quiz",
		observability.AttributeUserID(ownerID),
		observability.AttributeQuizID(quizID),
	)
	defer observability.FinishSpan(span, &err)

	if err := requireOwner(ctx, g.users, actorID, ownerID, ""); err != nil {
		return nil, err
	}
	quiz, err := g.ownedQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}

	previous, err := g.attempts.CountForQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to count previous attempts")
	}
	if previous >= config.MaxQuizAttempts {
		return nil, contextutils.WrapErrorf(contextutils.ErrMaxAttemptsReached, "maximum of %d attempts reached for quiz %s", config.MaxQuizAttempts, quizID)
	}

	index := make(map[string]int, len(quiz.Items))
	for i, it := range quiz.Items {
		index[strings.TrimSpace(it.Question)] = i
	}
	answers = completeAnswers(quiz, answers)

	judged := map[int]bool{}
	changed := false
	responses := make([]models.Response, 0, len(answers))
	var correct int
	var totalTime float64
	for _, a := range answers {
		i, ok := index[strings.TrimSpace(a.Question)]
		if !ok {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "question %q not found in quiz %s", a.Question, quizID)
		}
		if !quiz.Items[i].Answer.IsVerified() && !judged[i] && g.verifier != nil {
			judged[i] = true
			it := quiz.Items[i]
			verdict := g.verifier.Verify(ctx, it.Question, it.Options, it.Answer.Claimed())
			quiz.Items[i] = Apply(it, verdict)
			changed = changed || quiz.Items[i].Answer.IsVerified()
		}

		resp := gradeResponse(quiz.Items[i], a)
		if resp.IsCorrect {
			correct++
		}
		totalTime += resp.TimeTaken
		responses = append(responses, resp)
	}

	if changed {
		if err := g.quizzes.ReplaceItems(ctx, quizID, quiz.Items); err != nil {
			return nil, contextutils.WrapError(err, "failed to store verified answers")
		}
	}

	attempt := &models.Attempt{
		QuizID:        quizID,
		OwnerID:       ownerID,
		AttemptNumber: previous + 1,
		SubmittedAt:   g.now().UTC(),
		Responses:     responses,
		Summary:       summarize(len(quiz.Items), correct, totalTime),
	}
	if err := g.attempts.Insert(ctx, attempt); err != nil {
		return nil, contextutils.WrapError(err, "failed to store attempt")
	}
	if g.metrics != nil {
		g.metrics.SubmissionsGraded.Inc()
	}
	span.SetAttributes(
		attribute.Int("attempt.number", attempt.AttemptNumber),
		attribute.Float64("attempt.accuracy", attempt.Summary.Accuracy),
	)

	if attempt.AttemptNumber == 1 && g.performance != nil {
		if _, err := g.performance.UpdatePerformance(ctx, ownerID, responses); err != nil {
			g.logger.Error(ctx, "Failed to update ability after first attempt", err, map[string]interface{}{
				"user_id": ownerID,
				"quiz_id": quizID,
			})
		}
	}

	g.logger.Info(ctx, "Quiz graded", map[string]interface{}{
		"user_id":        ownerID,
		"quiz_id":        quizID,
		"attempt_number": attempt.AttemptNumber,
		"accuracy":       attempt.Summary.Accuracy,
	})
	return attempt, nil
}

// completeAnswers drops repeated submissions of a question and appends every
// quiz question left out as not answered.
func completeAnswers(quiz *models.Quiz, answers []AnswerSubmission) []AnswerSubmission {
	seen := make(map[string]struct{}, len(answers))
	out := make([]AnswerSubmission, 0, len(quiz.Items))
	for _, a := range answers {
		key := strings.TrimSpace(a.Question)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	for _, it := range quiz.Items {
		key := strings.TrimSpace(it.Question)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, AnswerSubmission{Question: it.Question, SelectedAnswer: models.NotAnswered})
	}
	return out
}

func gradeResponse(it models.Item, a AnswerSubmission) models.Response {
	selected := strings.TrimSpace(a.SelectedAnswer)
	if selected == "" {
		selected = models.NotAnswered
	}
	correctAnswer := it.Answer.CorrectAnswer()
	resp := models.Response{
		Question:       it.Question,
		SelectedAnswer: selected,
		ClaimedAnswer:  it.Answer.Claimed(),
		CorrectAnswer:  correctAnswer,
		IsCorrect:      selected == correctAnswer,
		TimeTaken:      a.TimeTaken,
		Difficulty:     it.Difficulty,
	}
	if v, ok := it.Answer.VerifiedAnswer(); ok {
		resp.VerifiedAnswer = &v
	}
	return resp
}

func summarize(totalQuestions, correct int, totalTime float64) models.Summary {
	s := models.Summary{
		TotalQuestions: totalQuestions,
		Correct:        correct,
		Incorrect:      totalQuestions - correct,
		TotalTime:      irt.Round2(totalTime),
	}
	if totalQuestions > 0 {
		s.Accuracy = irt.Round2(float64(correct) / float64(totalQuestions) * 100)
		s.AvgTimePerQuestion = irt.Round2(totalTime / float64(totalQuestions))
	}
	if s.Incorrect < 0 {
		s.Incorrect = 0
	}
	return s
}

// History lists the owner's attempts grouped by quiz, newest quiz first
func (g *GradingService) History(ctx context.Context, actorID, ownerID int) (result0 []QuizHistory, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "quiz_history", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	if err := requireOwner(ctx, g.users, actorID, ownerID, ""); err != nil {
		return nil, err
	}
	attempts, err := g.attempts.ListByOwner(ctx, ownerID, g.maxHistory)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to list attempts")
	}

	out := []QuizHistory{}
	pos := map[string]int{}
	for _, a := range attempts {
		i, ok := pos[a.QuizID]
		if !ok {
			i = len(out)
			pos[a.QuizID] = i
			out = append(out, QuizHistory{QuizID: a.QuizID})
		}
		out[i].Attempts = append(out[i].Attempts, AttemptSummary{
			ResponseID:    a.ID,
			SubmittedAt:   a.SubmittedAt,
			AttemptNumber: a.AttemptNumber,
			Summary:       a.Summary,
		})
	}
	return out, nil
}

// AttemptResults returns one attempt with every response enriched from the
// quiz as it is now, so answers fixed by later verification show up.
func (g *GradingService) AttemptResults(ctx context.Context, actorID, ownerID int, quizID string, attemptNumber int) (result0 *models.Attempt, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "attempt_results",
		observability.AttributeUserID(ownerID),
		observability.AttributeQuizID(quizID),
	)
	defer observability.FinishSpan(span, &err)

	if attemptNumber < 1 || attemptNumber > config.MaxQuizAttempts {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "attempt number must be between 1 and %d", config.MaxQuizAttempts)
	}
	if err := requireOwner(ctx, g.users, actorID, ownerID, ""); err != nil {
		return nil, err
	}
	quiz, err := g.ownedQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}
	attempt, err := g.attempts.Get(ctx, ownerID, quizID, attemptNumber)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "attempt %d of quiz %s not found", attemptNumber, quizID)
		}
		return nil, err
	}

	items := make(map[string]models.Item, len(quiz.Items))
	for _, it := range quiz.Items {
		items[strings.TrimSpace(it.Question)] = it
	}
	for i, r := range attempt.Responses {
		it, ok := items[strings.TrimSpace(r.Question)]
		if !ok {
			continue
		}
		r.Options = it.Options
		r.Difficulty = it.Difficulty
		r.ClaimedAnswer = it.Answer.Claimed()
		r.CorrectAnswer = it.Answer.CorrectAnswer()
		r.VerifiedAnswer = nil
		if v, ok := it.Answer.VerifiedAnswer(); ok {
			r.VerifiedAnswer = &v
		}
		attempt.Responses[i] = r
	}
	return attempt, nil
}
