package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mcqgen/internal/models"
	"mcqgen/internal/services"
	contextutils "mcqgen/internal/utils"
	"mcqgen/internal/worker"

	"github.com/stretchr/testify/mock"
)

// fakeUserService accepts bearer tokens of the form "tok-<id>"
type fakeUserService struct {
	mock.Mock
}

func (m *fakeUserService) Register(ctx context.Context, req services.RegisterRequest) (*models.User, error) {
	args := m.Called(ctx, req)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *fakeUserService) AuthenticateUser(ctx context.Context, username, password string) (*models.User, error) {
	args := m.Called(ctx, username, password)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *fakeUserService) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *fakeUserService) IssueToken(user *models.User) (services.AccessToken, error) {
	return services.AccessToken{Token: fmt.Sprintf("tok-%d", user.ID), TokenType: "Bearer"}, nil
}

func (m *fakeUserService) ParseToken(token string) (int, error) {
	raw, ok := strings.CutPrefix(token, "tok-")
	if !ok {
		return 0, contextutils.ErrUnauthorized
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, contextutils.ErrUnauthorized
	}
	return id, nil
}

type fakeGenerator struct {
	mock.Mock
}

func (m *fakeGenerator) GenerateAdaptiveQuiz(ctx context.Context, actorID, ownerID, count int) (*models.Quiz, error) {
	args := m.Called(ctx, actorID, ownerID, count)
	quiz, _ := args.Get(0).(*models.Quiz)
	return quiz, args.Error(1)
}

func (m *fakeGenerator) GenerateStandardQuiz(ctx context.Context, actorID, ownerID int) (*models.Quiz, error) {
	args := m.Called(ctx, actorID, ownerID)
	quiz, _ := args.Get(0).(*models.Quiz)
	return quiz, args.Error(1)
}

func (m *fakeGenerator) GenerateTopicQuiz(ctx context.Context, actorID, ownerID int, topic string, count int) (*models.Quiz, error) {
	args := m.Called(ctx, actorID, ownerID, topic, count)
	quiz, _ := args.Get(0).(*models.Quiz)
	return quiz, args.Error(1)
}

type fakeGrading struct {
	mock.Mock
}

func (m *fakeGrading) GetQuiz(ctx context.Context, actorID int, quizID string) (*models.Quiz, error) {
	args := m.Called(ctx, actorID, quizID)
	quiz, _ := args.Get(0).(*models.Quiz)
	return quiz, args.Error(1)
}

func (m *fakeGrading) SubmitQuiz(ctx context.Context, actorID, ownerID int, quizID string, answers []services.AnswerSubmission) (*models.Attempt, error) {
	args := m.Called(ctx, actorID, ownerID, quizID, answers)
	attempt, _ := args.Get(0).(*models.Attempt)
	return attempt, args.Error(1)
}

func (m *fakeGrading) History(ctx context.Context, actorID, ownerID int) ([]services.QuizHistory, error) {
	args := m.Called(ctx, actorID, ownerID)
	history, _ := args.Get(0).([]services.QuizHistory)
	return history, args.Error(1)
}

func (m *fakeGrading) AttemptResults(ctx context.Context, actorID, ownerID int, quizID string, attemptNumber int) (*models.Attempt, error) {
	args := m.Called(ctx, actorID, ownerID, quizID, attemptNumber)
	attempt, _ := args.Get(0).(*models.Attempt)
	return attempt, args.Error(1)
}

type fakeAbility struct {
	mock.Mock
}

func (m *fakeAbility) Theta(ctx context.Context, ownerID int) (float64, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *fakeAbility) Dashboard(ctx context.Context, actorID, ownerID int) (*models.AbilityRecord, error) {
	args := m.Called(ctx, actorID, ownerID)
	rec, _ := args.Get(0).(*models.AbilityRecord)
	return rec, args.Error(1)
}

func (m *fakeAbility) Insights(ctx context.Context, actorID, ownerID int) (*services.Insights, error) {
	args := m.Called(ctx, actorID, ownerID)
	insights, _ := args.Get(0).(*services.Insights)
	return insights, args.Error(1)
}

func (m *fakeAbility) Engagement(ctx context.Context, actorID, ownerID int) (*services.Engagement, error) {
	args := m.Called(ctx, actorID, ownerID)
	engagement, _ := args.Get(0).(*services.Engagement)
	return engagement, args.Error(1)
}

func (m *fakeAbility) Streak(ctx context.Context, actorID, ownerID int) (*services.Streak, error) {
	args := m.Called(ctx, actorID, ownerID)
	streak, _ := args.Get(0).(*services.Streak)
	return streak, args.Error(1)
}

func (m *fakeAbility) Leaderboard(ctx context.Context) ([]services.LeaderboardEntry, error) {
	args := m.Called(ctx)
	board, _ := args.Get(0).([]services.LeaderboardEntry)
	return board, args.Error(1)
}

func (m *fakeAbility) Comparison(ctx context.Context, actorID, ownerID int) (*services.Comparison, error) {
	args := m.Called(ctx, actorID, ownerID)
	comparison, _ := args.Get(0).(*services.Comparison)
	return comparison, args.Error(1)
}

func (m *fakeAbility) HasPreviousQuiz(ctx context.Context, ownerID int) (bool, error) {
	args := m.Called(ctx, ownerID)
	return args.Bool(0), args.Error(1)
}

type fakeExplainer struct {
	mock.Mock
}

func (m *fakeExplainer) Explain(ctx context.Context, question string, options models.Options) (*services.Explanation, error) {
	args := m.Called(ctx, question, options)
	explanation, _ := args.Get(0).(*services.Explanation)
	return explanation, args.Error(1)
}

func (m *fakeExplainer) VerifyAndExplain(ctx context.Context, question string, options models.Options, claimed string) (*services.AnswerCheck, error) {
	args := m.Called(ctx, question, options, claimed)
	check, _ := args.Get(0).(*services.AnswerCheck)
	return check, args.Error(1)
}

type fakeWorkerService struct {
	mock.Mock
}

func (m *fakeWorkerService) GetSetting(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *fakeWorkerService) SetSetting(ctx context.Context, key, value string) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *fakeWorkerService) IsGlobalPaused(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *fakeWorkerService) SetGlobalPause(ctx context.Context, paused bool) error {
	return m.Called(ctx, paused).Error(0)
}

func (m *fakeWorkerService) UpdateWorkerStatus(ctx context.Context, instance string, status *models.WorkerStatus) error {
	return m.Called(ctx, instance, status).Error(0)
}

func (m *fakeWorkerService) GetWorkerStatus(ctx context.Context, instance string) (*models.WorkerStatus, error) {
	args := m.Called(ctx, instance)
	status, _ := args.Get(0).(*models.WorkerStatus)
	return status, args.Error(1)
}

func (m *fakeWorkerService) GetAllWorkerStatuses(ctx context.Context) ([]models.WorkerStatus, error) {
	args := m.Called(ctx)
	statuses, _ := args.Get(0).([]models.WorkerStatus)
	return statuses, args.Error(1)
}

func (m *fakeWorkerService) UpdateHeartbeat(ctx context.Context, instance string) error {
	return m.Called(ctx, instance).Error(0)
}

func (m *fakeWorkerService) IsWorkerHealthy(ctx context.Context, instance string) (bool, error) {
	args := m.Called(ctx, instance)
	return args.Bool(0), args.Error(1)
}

func (m *fakeWorkerService) PauseWorker(ctx context.Context, instance string) error {
	return m.Called(ctx, instance).Error(0)
}

func (m *fakeWorkerService) ResumeWorker(ctx context.Context, instance string) error {
	return m.Called(ctx, instance).Error(0)
}

func (m *fakeWorkerService) GetWorkerHealth(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	health, _ := args.Get(0).(map[string]interface{})
	return health, args.Error(1)
}

type fakeWorker struct {
	mock.Mock
}

func (m *fakeWorker) GetStatus() worker.Status { return worker.Status{IsRunning: true} }

func (m *fakeWorker) GetHistory() []worker.RunRecord { return []worker.RunRecord{} }

func (m *fakeWorker) GetActivityLogs() []worker.ActivityLog {
	return []worker.ActivityLog{{Level: "INFO", Message: "Idle"}}
}

func (m *fakeWorker) GetInstance() string { return "worker-1" }

func (m *fakeWorker) TriggerManualRun() { m.Called() }

func (m *fakeWorker) Pause(ctx context.Context) { m.Called(ctx) }

func (m *fakeWorker) Resume(ctx context.Context) { m.Called(ctx) }

func (m *fakeWorker) VerifyNow(ctx context.Context, quizID string) (services.SweepReport, error) {
	args := m.Called(ctx, quizID)
	return args.Get(0).(services.SweepReport), args.Error(1)
}
