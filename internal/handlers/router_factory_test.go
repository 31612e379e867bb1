package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/middleware"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/services"
	contextutils "mcqgen/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	router    *gin.Engine
	users     *fakeUserService
	generator *fakeGenerator
	grading   *fakeGrading
	ability   *fakeAbility
	explainer *fakeExplainer
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{SessionSecret: "test-session-secret"},
		Generation: config.GenerationConfig{
			DefaultQuestionCount: 10,
			MaxQuestionCount:     50,
		},
		OpenTelemetry: config.OpenTelemetryConfig{ServiceName: "mcqgen-test"},
	}
}

func testLogger() *observability.Logger {
	return observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &apiFixture{
		users:     &fakeUserService{},
		generator: &fakeGenerator{},
		grading:   &fakeGrading{},
		ability:   &fakeAbility{},
		explainer: &fakeExplainer{},
	}
	schemas, err := middleware.LoadEmbeddedSchemas()
	require.NoError(t, err)
	f.router = NewRouter(testConfig(), f.users, f.generator, f.grading, f.ability, f.explainer, schemas, nil, observability.NewGenerationMetrics(), testLogger())
	return f
}

func (f *apiFixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func sampleQuiz() *models.Quiz {
	return &models.Quiz{
		ID:      "quiz-1",
		OwnerID: 7,
		Mode:    models.QuizModeAdaptive,
		Items: []models.Item{{
			Question:   "What does HTTP stand for?",
			Options:    models.Options{"A": "HyperText Transfer Protocol", "B": "b", "C": "c", "D": "d", "E": "e"},
			Answer:     models.Unverified("A"),
			Difficulty: models.DifficultyEasy,
		}},
		CreatedAt: time.Now(),
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRouter_HealthAndVersion(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = f.do(http.MethodGet, "/v1/version", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "backend", decode(t, w)["service"])
}

func TestRouter_Metrics(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRouter_RoutesListing(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/v1/routes", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listing RouteListing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	paths := make(map[string]bool)
	for _, r := range listing.Routes {
		paths[r.Method+" "+r.Path] = true
	}
	assert.True(t, paths["POST /v1/quizzes/adaptive"])
	assert.True(t, paths["POST /v1/quizzes/:quiz_id/submit"])
	assert.True(t, paths["GET /v1/users/:user_id/quizzes/:quiz_id/attempts/:n"])
	assert.True(t, paths["POST /v1/quizzes/topic"])
	assert.True(t, paths["POST /v1/mcq/explain_only"])
	assert.True(t, paths["POST /v1/mcq/verify_and_explain"])
	assert.True(t, paths["GET /v1/leaderboard"])
	assert.True(t, paths["GET /v1/users/:user_id/comparison"])
	assert.True(t, paths["GET /v1/users/:user_id/has_previous_quiz"])
}

func TestRouter_UnknownRoute(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(contextutils.ErrorCodeRecordNotFound), decode(t, w)["code"])
}

func TestGenerateAdaptive_RequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/v1/quizzes/adaptive", "", gin.H{"user_id": 7, "count": 5})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/v1/quizzes/adaptive", "garbage", gin.H{"user_id": 7, "count": 5})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	f.generator.AssertNotCalled(t, "GenerateAdaptiveQuiz", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerateAdaptive_Success(t *testing.T) {
	f := newAPIFixture(t)
	f.generator.On("GenerateAdaptiveQuiz", mock.Anything, 7, 7, 5).Return(sampleQuiz(), nil).Once()

	w := f.do(http.MethodPost, "/v1/quizzes/adaptive", "tok-7", gin.H{"user_id": 7, "count": 5})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp models.QuizResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "quiz-1", resp.QuizID)
	assert.Equal(t, 1, resp.TotalQuestions)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "A", resp.Items[0].CorrectAnswer)
	assert.Len(t, resp.Items[0].Options, 5)
	f.generator.AssertExpectations(t)
}

func TestGenerateAdaptive_DefaultCount(t *testing.T) {
	f := newAPIFixture(t)
	f.generator.On("GenerateAdaptiveQuiz", mock.Anything, 7, 7, 10).Return(sampleQuiz(), nil).Once()

	w := f.do(http.MethodPost, "/v1/quizzes/adaptive", "tok-7", gin.H{"user_id": 7})
	assert.Equal(t, http.StatusCreated, w.Code)
	f.generator.AssertExpectations(t)
}

func TestGenerateAdaptive_SchemaRejection(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing user", gin.H{"count": 5}},
		{"zero count", gin.H{"user_id": 7, "count": 0}},
		{"string user", gin.H{"user_id": "seven"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/v1/quizzes/adaptive", "tok-7", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	f.generator.AssertNotCalled(t, "GenerateAdaptiveQuiz", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerateAdaptive_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"owner mismatch", contextutils.ErrForbidden, http.StatusForbidden},
		{"unknown user", contextutils.WrapError(contextutils.ErrRecordNotFound, "user 7"), http.StatusNotFound},
		{"count out of range", contextutils.WrapErrorf(contextutils.ErrInvalidInput, "question count must be between 1 and 50"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.generator.On("GenerateAdaptiveQuiz", mock.Anything, 7, 7, 5).Return(nil, tt.err).Once()

			w := f.do(http.MethodPost, "/v1/quizzes/adaptive", "tok-7", gin.H{"user_id": 7, "count": 5})
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestGenerateStandard(t *testing.T) {
	f := newAPIFixture(t)
	quiz := sampleQuiz()
	quiz.Mode = models.QuizModeStandard
	f.generator.On("GenerateStandardQuiz", mock.Anything, 7, 7).Return(quiz, nil).Once()

	w := f.do(http.MethodPost, "/v1/quizzes/standard", "tok-7", gin.H{"user_id": 7})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "quiz-1", decode(t, w)["quiz_id"])
	f.generator.AssertExpectations(t)
}

func TestGenerateTopic(t *testing.T) {
	f := newAPIFixture(t)
	quiz := sampleQuiz()
	quiz.Mode = models.QuizModeTopic
	quiz.Topic = "cell biology"
	f.generator.On("GenerateTopicQuiz", mock.Anything, 7, 7, "cell biology", 10).Return(quiz, nil).Once()
	f.generator.On("GenerateTopicQuiz", mock.Anything, 7, 7, "botany", 4).
		Return(nil, contextutils.WrapError(contextutils.ErrRecordNotFound, "no corpus entries for topic")).Once()

	w := f.do(http.MethodPost, "/v1/quizzes/topic", "tok-7", gin.H{"user_id": 7, "topic": "cell biology"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "cell biology", decode(t, w)["topic"])

	w = f.do(http.MethodPost, "/v1/quizzes/topic", "tok-7", gin.H{"user_id": 7, "topic": "botany", "count": 4})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/v1/quizzes/topic", "tok-7", gin.H{"user_id": 7})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.generator.AssertExpectations(t)
}

func TestGetQuiz(t *testing.T) {
	f := newAPIFixture(t)
	f.grading.On("GetQuiz", mock.Anything, 7, "quiz-1").Return(sampleQuiz(), nil).Once()
	f.grading.On("GetQuiz", mock.Anything, 7, "missing").Return(nil, contextutils.ErrRecordNotFound).Once()

	w := f.do(http.MethodGet, "/v1/quizzes/quiz-1", "tok-7", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total_questions"])

	w = f.do(http.MethodGet, "/v1/quizzes/missing", "tok-7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitQuiz(t *testing.T) {
	f := newAPIFixture(t)
	answers := []services.AnswerSubmission{{Question: "What does HTTP stand for?", SelectedAnswer: "A", TimeTaken: 4.5}}
	attempt := &models.Attempt{ID: 3, QuizID: "quiz-1", OwnerID: 7, AttemptNumber: 1}
	f.grading.On("SubmitQuiz", mock.Anything, 7, 7, "quiz-1", answers).Return(attempt, nil).Once()

	w := f.do(http.MethodPost, "/v1/quizzes/quiz-1/submit", "tok-7", gin.H{
		"user_id": 7,
		"answers": []gin.H{{"question_text": "What does HTTP stand for?", "selected_answer": "A", "time_taken": 4.5}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 3, body["response_id"])
	assert.EqualValues(t, 1, body["attempt_number"])
	f.grading.AssertExpectations(t)
}

func TestSubmitQuiz_AttemptLimit(t *testing.T) {
	f := newAPIFixture(t)
	f.grading.On("SubmitQuiz", mock.Anything, 7, 7, "quiz-1", mock.Anything).
		Return(nil, contextutils.ErrMaxAttemptsReached).Once()

	w := f.do(http.MethodPost, "/v1/quizzes/quiz-1/submit", "tok-7", gin.H{"user_id": 7, "answers": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitQuiz_NegativeTimeRejected(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/v1/quizzes/quiz-1/submit", "tok-7", gin.H{
		"user_id": 7,
		"answers": []gin.H{{"question_text": "q", "time_taken": -1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.grading.AssertNotCalled(t, "SubmitQuiz", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHistory_Paginated(t *testing.T) {
	f := newAPIFixture(t)
	history := []services.QuizHistory{{QuizID: "a"}, {QuizID: "b"}, {QuizID: "c"}}
	f.grading.On("History", mock.Anything, 7, 7).Return(history, nil)

	w := f.do(http.MethodGet, "/v1/users/7/history?page=2&page_size=2", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		History    []services.QuizHistory `json:"history"`
		Pagination Pagination             `json:"pagination"`
		UserID     int                    `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.History, 1)
	assert.Equal(t, "c", body.History[0].QuizID)
	assert.Equal(t, 3, body.Pagination.Total)
	assert.Equal(t, 2, body.Pagination.TotalPages)
	assert.Equal(t, 7, body.UserID)
}

func TestHistory_InvalidUserID(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/v1/users/abc/history", "tok-7", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttemptResults(t *testing.T) {
	f := newAPIFixture(t)
	f.grading.On("AttemptResults", mock.Anything, 7, 7, "quiz-1", 2).
		Return(&models.Attempt{ID: 9, QuizID: "quiz-1", AttemptNumber: 2}, nil).Once()

	w := f.do(http.MethodGet, "/v1/users/7/quizzes/quiz-1/attempts/2", "tok-7", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["attempt_number"])

	w = f.do(http.MethodGet, "/v1/users/7/quizzes/quiz-1/attempts/0", "tok-7", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.grading.AssertExpectations(t)
}

func TestProgressReads(t *testing.T) {
	f := newAPIFixture(t)
	f.ability.On("Insights", mock.Anything, 7, 7).Return(&services.Insights{Message: services.InsightSteady}, nil)
	f.ability.On("Dashboard", mock.Anything, 7, 7).Return(&models.AbilityRecord{OwnerID: 7, TotalQuizzes: 4}, nil)
	f.ability.On("Theta", mock.Anything, 7).Return(0.75, nil)
	f.ability.On("Engagement", mock.Anything, 7, 7).Return(&services.Engagement{TotalQuizzes: 4, Level: services.EngagementStarter}, nil)
	f.ability.On("Streak", mock.Anything, 7, 7).Return(&services.Streak{Current: 2, Longest: 5}, nil)

	w := f.do(http.MethodGet, "/v1/users/7/insights", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.InsightSteady, decode(t, w)["message"])

	w = f.do(http.MethodGet, "/v1/users/7/dashboard", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.InDelta(t, 0.75, body["theta"], 1e-9)
	assert.EqualValues(t, 4, body["performance"].(map[string]interface{})["total_quizzes"])

	w = f.do(http.MethodGet, "/v1/users/7/engagement", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.EngagementStarter, decode(t, w)["engagement_level"])

	w = f.do(http.MethodGet, "/v1/users/7/streak", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, decode(t, w)["longest_streak"])
}

func TestProgressReads_ForbiddenForOtherUser(t *testing.T) {
	f := newAPIFixture(t)
	f.ability.On("Insights", mock.Anything, 8, 7).Return(nil, contextutils.ErrForbidden).Once()

	w := f.do(http.MethodGet, "/v1/users/7/insights", "tok-8", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDashboard_ThetaFailureFallsBackToZero(t *testing.T) {
	f := newAPIFixture(t)
	f.ability.On("Dashboard", mock.Anything, 7, 7).Return(&models.AbilityRecord{OwnerID: 7}, nil)
	f.ability.On("Theta", mock.Anything, 7).Return(0.0, contextutils.ErrServiceUnavailable)

	w := f.do(http.MethodGet, "/v1/users/7/dashboard", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.0, decode(t, w)["theta"], 1e-9)
}

func TestExplainOnly(t *testing.T) {
	f := newAPIFixture(t)
	options := models.Options{"A": "mitochondria", "B": "ribosome"}
	f.explainer.On("Explain", mock.Anything, "Where is ATP made?", options).
		Return(&services.Explanation{PredictedAnswer: "A", Explanation: "Oxidative phosphorylation happens there."}, nil).Once()

	req := gin.H{"question": "Where is ATP made?", "options": options}
	w := f.do(http.MethodPost, "/v1/mcq/explain_only", "", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/v1/mcq/explain_only", "tok-7", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "A", decode(t, w)["predicted_answer"])

	w = f.do(http.MethodPost, "/v1/mcq/explain_only", "tok-7", gin.H{"question": "Q", "options": gin.H{"A": "x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.explainer.AssertExpectations(t)
}

func TestVerifyAndExplain(t *testing.T) {
	f := newAPIFixture(t)
	options := models.Options{"A": "mitochondria", "B": "ribosome"}
	f.explainer.On("VerifyAndExplain", mock.Anything, "Where is ATP made?", options, "b").
		Return(&services.AnswerCheck{IsCorrect: false, PredictedAnswer: "A", ClaimedAnswer: "B", Explanation: "ATP is made in mitochondria."}, nil).Once()
	f.explainer.On("VerifyAndExplain", mock.Anything, "off topic", options, "A").
		Return(nil, contextutils.WrapError(contextutils.ErrInvalidInput, "question is not about biology")).Once()

	w := f.do(http.MethodPost, "/v1/mcq/verify_and_explain", "tok-7", gin.H{"question": "Where is ATP made?", "options": options, "claimed_answer": "b"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["is_correct"])
	assert.Equal(t, "B", body["claimed_answer"])

	w = f.do(http.MethodPost, "/v1/mcq/verify_and_explain", "tok-7", gin.H{"question": "off topic", "options": options, "claimed_answer": "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/v1/mcq/verify_and_explain", "tok-7", gin.H{"question": "Q", "options": options, "claimed_answer": "Z"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.explainer.AssertExpectations(t)
}

func TestLeaderboard(t *testing.T) {
	f := newAPIFixture(t)
	f.ability.On("Leaderboard", mock.Anything).Return([]services.LeaderboardEntry{{UserID: 2, Name: "bo", Accuracy: 90}}, nil).Once()
	f.ability.On("Leaderboard", mock.Anything).Return(nil, nil).Once()

	w := f.do(http.MethodGet, "/v1/leaderboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodGet, "/v1/leaderboard", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	board := decode(t, w)["leaderboard"].([]interface{})
	require.Len(t, board, 1)
	assert.Equal(t, "bo", board[0].(map[string]interface{})["name"])

	w = f.do(http.MethodGet, "/v1/leaderboard", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["leaderboard"])
}

func TestComparison(t *testing.T) {
	f := newAPIFixture(t)
	f.ability.On("Comparison", mock.Anything, 7, 7).Return(&services.Comparison{
		UserAccuracy: 80, AverageAccuracy: 60, ComparisonAccuracy: "Higher", ComparisonTime: "Faster",
	}, nil).Once()
	f.ability.On("Comparison", mock.Anything, 8, 8).Return(&services.Comparison{Message: services.NotEnoughDataForComparison}, nil).Once()

	w := f.do(http.MethodGet, "/v1/users/7/comparison", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Higher", body["comparison_accuracy"])
	assert.NotContains(t, body, "message")

	w = f.do(http.MethodGet, "/v1/users/8/comparison", "tok-8", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, gin.H{"message": services.NotEnoughDataForComparison}, gin.H(decode(t, w)))
}

func TestHasPreviousQuiz(t *testing.T) {
	f := newAPIFixture(t)
	f.ability.On("HasPreviousQuiz", mock.Anything, 9).Return(true, nil).Once()
	f.ability.On("HasPreviousQuiz", mock.Anything, 10).Return(false, contextutils.ErrRecordNotFound).Once()

	w := f.do(http.MethodGet, "/v1/users/9/has_previous_quiz", "tok-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["has_previous_quiz"])

	w = f.do(http.MethodGet, "/v1/users/10/has_previous_quiz", "tok-7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	f.ability.AssertExpectations(t)
}
