package services

import (
	"context"
	"errors"
	"testing"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPerformance struct {
	mock.Mock
}

func (m *mockPerformance) UpdatePerformance(ctx context.Context, ownerID int, responses []models.Response) (*models.AbilityRecord, error) {
	args := m.Called(ctx, ownerID, responses)
	rec, _ := args.Get(0).(*models.AbilityRecord)
	return rec, args.Error(1)
}

type gradingFixture struct {
	service     *GradingService
	quizzes     *memQuizStore
	attempts    *memAttemptStore
	performance *mockPerformance
	metrics     *observability.GenerationMetrics
}

func newGradingFixture(t *testing.T, judge CompletionOracle) *gradingFixture {
	t.Helper()
	f := &gradingFixture{
		quizzes:     newMemQuizStore(),
		attempts:    &memAttemptStore{},
		performance: &mockPerformance{},
		metrics:     observability.NewGenerationMetrics(),
	}
	var verifier *Verifier
	if judge != nil {
		verifier = newTestVerifier(t, judge)
	}
	f.service = NewGradingService(newMemUserStore(1, 2), f.quizzes, f.attempts, f.performance, verifier, f.metrics, testLogger(), 0)
	return f
}

func verifiedItem(question, answer string, difficulty models.Difficulty) models.Item {
	it := testItem(question, answer)
	it.Answer = models.Verified(answer, answer)
	it.Difficulty = difficulty
	return it
}

func (f *gradingFixture) seed(t *testing.T, ownerID int, items ...models.Item) string {
	t.Helper()
	id := "quiz-" + items[0].Question
	require.NoError(t, f.quizzes.Insert(context.Background(), &models.Quiz{ID: id, OwnerID: ownerID, Items: items}))
	return id
}

func TestGradingService_SubmitQuiz(t *testing.T) {
	f := newGradingFixture(t, nil)
	quizID := f.seed(t, 1,
		verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy),
		verifiedItem("Where is DNA stored", "C", models.DifficultyMedium),
		verifiedItem("What carries oxygen", "A", models.DifficultyHard),
	)
	f.performance.On("UpdatePerformance", mock.Anything, 1, mock.MatchedBy(func(rs []models.Response) bool {
		return len(rs) == 3
	})).Return(models.NewAbilityRecord(1), nil).Once()

	attempt, err := f.service.SubmitQuiz(context.Background(), 1, 1, quizID, []AnswerSubmission{
		{Question: "Which organelle makes ATP", SelectedAnswer: "B", TimeTaken: 12.5},
		{Question: "Where is DNA stored", SelectedAnswer: "A", TimeTaken: 20},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, attempt.AttemptNumber)
	require.Len(t, attempt.Responses, 3)
	assert.True(t, attempt.Responses[0].IsCorrect)
	assert.False(t, attempt.Responses[1].IsCorrect)
	assert.Equal(t, "What carries oxygen", attempt.Responses[2].Question)
	assert.Equal(t, models.NotAnswered, attempt.Responses[2].SelectedAnswer)
	assert.False(t, attempt.Responses[2].IsCorrect)
	require.NotNil(t, attempt.Responses[0].VerifiedAnswer)
	assert.Equal(t, "B", *attempt.Responses[0].VerifiedAnswer)

	assert.Equal(t, models.Summary{
		TotalQuestions:     3,
		Correct:            1,
		Incorrect:          2,
		Accuracy:           33.33,
		TotalTime:          32.5,
		AvgTimePerQuestion: 10.83,
	}, attempt.Summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SubmissionsGraded))
	f.performance.AssertExpectations(t)
}

func TestGradingService_EmptySelectionIsNotAnswered(t *testing.T) {
	f := newGradingFixture(t, nil)
	quizID := f.seed(t, 1, verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy))
	f.performance.On("UpdatePerformance", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	attempt, err := f.service.SubmitQuiz(context.Background(), 1, 1, quizID, []AnswerSubmission{
		{Question: "  Which organelle makes ATP ", SelectedAnswer: "  "},
	})
	require.NoError(t, err)
	require.Len(t, attempt.Responses, 1)
	assert.Equal(t, models.NotAnswered, attempt.Responses[0].SelectedAnswer)
}

func TestGradingService_RepeatedAnswerKeepsFirst(t *testing.T) {
	f := newGradingFixture(t, nil)
	quizID := f.seed(t, 1, verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy))
	f.performance.On("UpdatePerformance", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	attempt, err := f.service.SubmitQuiz(context.Background(), 1, 1, quizID, []AnswerSubmission{
		{Question: "Which organelle makes ATP", SelectedAnswer: "B"},
		{Question: "Which organelle makes ATP", SelectedAnswer: "D"},
	})
	require.NoError(t, err)
	require.Len(t, attempt.Responses, 1)
	assert.True(t, attempt.Responses[0].IsCorrect)
	assert.Equal(t, 1, attempt.Summary.TotalQuestions)
}

func TestGradingService_VerifiesBeforeGrading(t *testing.T) {
	judge := &judgeOracle{answers: map[string]string{"Which organelle makes ATP": "D"}}
	f := newGradingFixture(t, judge)
	quizID := f.seed(t, 1,
		testItem("Which organelle makes ATP", "B"),
		testItem("Where is DNA stored", "C"),
	)
	f.performance.On("UpdatePerformance", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	attempt, err := f.service.SubmitQuiz(context.Background(), 1, 1, quizID, []AnswerSubmission{
		{Question: "Which organelle makes ATP", SelectedAnswer: "D"},
		{Question: "Where is DNA stored", SelectedAnswer: "C"},
	})
	require.NoError(t, err)

	assert.True(t, attempt.Responses[0].IsCorrect)
	assert.Equal(t, "B", attempt.Responses[0].ClaimedAnswer)
	assert.Equal(t, "D", attempt.Responses[0].CorrectAnswer)
	// the judge had no answer, so the claim is still used
	assert.True(t, attempt.Responses[1].IsCorrect)
	assert.Nil(t, attempt.Responses[1].VerifiedAnswer)

	assert.Equal(t, 1, f.quizzes.replaced)
	items := f.quizzes.only().Items
	assert.Equal(t, models.Verified("B", "D"), items[0].Answer)
	assert.False(t, items[1].Answer.IsVerified())
	assert.Equal(t, 2, judge.calls)
}

func TestGradingService_NoWriteWhenNothingVerified(t *testing.T) {
	f := newGradingFixture(t, &judgeOracle{})
	quizID := f.seed(t, 1, testItem("Which organelle makes ATP", "B"))
	f.performance.On("UpdatePerformance", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	_, err := f.service.SubmitQuiz(context.Background(), 1, 1, quizID, nil)
	require.NoError(t, err)
	assert.Zero(t, f.quizzes.replaced)
}

func TestGradingService_AttemptLimit(t *testing.T) {
	f := newGradingFixture(t, nil)
	quizID := f.seed(t, 1, verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy))
	f.performance.On("UpdatePerformance", mock.Anything, 1, mock.Anything).Return(nil, nil).Once()
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		attempt, err := f.service.SubmitQuiz(ctx, 1, 1, quizID, nil)
		require.NoError(t, err)
		assert.Equal(t, want, attempt.AttemptNumber)
	}

	_, err := f.service.SubmitQuiz(ctx, 1, 1, quizID, nil)
	assert.True(t, contextutils.IsError(err, contextutils.ErrMaxAttemptsReached))
	assert.Len(t, f.attempts.attempts, 3)
	f.performance.AssertNumberOfCalls(t, "UpdatePerformance", 1)
}

func TestGradingService_SubmitAuthorization(t *testing.T) {
	f := newGradingFixture(t, nil)
	mine := f.seed(t, 1, verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy))
	theirs := f.seed(t, 2, verifiedItem("Where is DNA stored", "C", models.DifficultyEasy))
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   int
		owner   int
		quizID  string
		wantErr *contextutils.AppError
	}{
		{name: "unknown user", actor: 7, owner: 7, quizID: mine, wantErr: contextutils.ErrRecordNotFound},
		{name: "someone else", actor: 2, owner: 1, quizID: mine, wantErr: contextutils.ErrForbidden},
		{name: "unknown quiz", actor: 1, owner: 1, quizID: "missing", wantErr: contextutils.ErrRecordNotFound},
		{name: "quiz of another owner", actor: 1, owner: 1, quizID: theirs, wantErr: contextutils.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.SubmitQuiz(ctx, tt.actor, tt.owner, tt.quizID, nil)
			assert.True(t, contextutils.IsError(err, tt.wantErr), "got %v", err)
		})
	}
	assert.Empty(t, f.attempts.attempts)
}

func TestGradingService_UnknownQuestion(t *testing.T) {
	f := newGradingFixture(t, nil)
	quizID := f.seed(t, 1, verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy))

	_, err := f.service.SubmitQuiz(context.Background(), 1, 1, quizID, []AnswerSubmission{
		{Question: "What is a prion", SelectedAnswer: "A"},
	})
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))
	assert.Empty(t, f.attempts.attempts)
}

func TestGradingService_AbilityFailureIsNotFatal(t *testing.T) {
	f := newGradingFixture(t, nil)
	quizID := f.seed(t, 1, verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy))
	f.performance.On("UpdatePerformance", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	attempt, err := f.service.SubmitQuiz(context.Background(), 1, 1, quizID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt.AttemptNumber)
}

func TestGradingService_GetQuiz(t *testing.T) {
	f := newGradingFixture(t, nil)
	quizID := f.seed(t, 1, verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy))

	quiz, err := f.service.GetQuiz(context.Background(), 1, quizID)
	require.NoError(t, err)
	assert.Equal(t, quizID, quiz.ID)

	_, err = f.service.GetQuiz(context.Background(), 2, quizID)
	assert.True(t, contextutils.IsError(err, contextutils.ErrForbidden))
}

func TestGradingService_History(t *testing.T) {
	f := newGradingFixture(t, nil)
	first := f.seed(t, 1, verifiedItem("Which organelle makes ATP", "B", models.DifficultyEasy))
	second := f.seed(t, 1, verifiedItem("Where is DNA stored", "C", models.DifficultyEasy))
	f.performance.On("UpdatePerformance", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	ctx := context.Background()

	for _, id := range []string{first, first, second} {
		_, err := f.service.SubmitQuiz(ctx, 1, 1, id, nil)
		require.NoError(t, err)
	}

	history, err := f.service.History(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second, history[0].QuizID)
	assert.Len(t, history[0].Attempts, 1)
	assert.Equal(t, first, history[1].QuizID)
	require.Len(t, history[1].Attempts, 2)
	assert.Equal(t, 2, history[1].Attempts[0].AttemptNumber)
	assert.Equal(t, 1, history[1].Attempts[1].AttemptNumber)

	empty, err := f.service.History(ctx, 2, 2)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = f.service.History(ctx, 2, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrForbidden))
}

func TestGradingService_AttemptResults(t *testing.T) {
	f := newGradingFixture(t, nil)
	quizID := f.seed(t, 1, testItem("Which organelle makes ATP", "B"))
	f.performance.On("UpdatePerformance", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	ctx := context.Background()

	_, err := f.service.SubmitQuiz(ctx, 1, 1, quizID, []AnswerSubmission{{Question: "Which organelle makes ATP", SelectedAnswer: "B"}})
	require.NoError(t, err)

	// a later sweep overrides the claim
	fixed := testItem("Which organelle makes ATP", "B")
	fixed.Answer = models.Verified("B", "E")
	fixed.Difficulty = models.DifficultyHard
	require.NoError(t, f.quizzes.ReplaceItems(ctx, quizID, []models.Item{fixed}))

	attempt, err := f.service.AttemptResults(ctx, 1, 1, quizID, 1)
	require.NoError(t, err)
	require.Len(t, attempt.Responses, 1)
	r := attempt.Responses[0]
	assert.Equal(t, "E", r.CorrectAnswer)
	require.NotNil(t, r.VerifiedAnswer)
	assert.Equal(t, "E", *r.VerifiedAnswer)
	assert.Equal(t, models.DifficultyHard, r.Difficulty)
	assert.Len(t, r.Options, 5)
	assert.True(t, r.IsCorrect, "stored grading is kept")

	_, err = f.service.AttemptResults(ctx, 1, 1, quizID, 2)
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))

	for _, n := range []int{0, 4} {
		_, err = f.service.AttemptResults(ctx, 1, 1, quizID, n)
		assert.True(t, contextutils.IsError(err, contextutils.ErrInvalidInput))
	}
}
