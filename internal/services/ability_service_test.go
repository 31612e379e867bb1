package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mcqgen/internal/irt"
	"mcqgen/internal/models"
	contextutils "mcqgen/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func response(d models.Difficulty, correct bool, secs float64) models.Response {
	return models.Response{Difficulty: d, IsCorrect: correct, TimeTaken: secs}
}

func TestApplyAttempt(t *testing.T) {
	rec := models.NewAbilityRecord(1)
	rec.TimeSpent[models.DifficultyEasy] = 40

	ApplyAttempt(rec, []models.Response{
		response(models.DifficultyEasy, true, 10),
		response(models.DifficultyEasy, false, 20),
		response(models.DifficultyHard, true, 30),
		response("", false, 5),
	}, day0)

	assert.Equal(t, 50.0, rec.Accuracy[models.DifficultyEasy])
	assert.Equal(t, 0.0, rec.Accuracy[models.DifficultyMedium])
	assert.Equal(t, 100.0, rec.Accuracy[models.DifficultyHard])
	assert.Equal(t, 70.0, rec.TimeSpent[models.DifficultyEasy])
	assert.Equal(t, 5.0, rec.TimeSpent[models.DifficultyMedium])
	assert.Equal(t, 30.0, rec.TimeSpent[models.DifficultyHard])

	require.Len(t, rec.RecentQuizzes, 1)
	assert.Equal(t, models.QuizSummary{Accuracy: 50, TotalTime: 65, Timestamp: day0}, rec.RecentQuizzes[0])
	require.NotNil(t, rec.StrongestArea)
	require.NotNil(t, rec.WeakestArea)
	assert.Equal(t, models.DifficultyHard, *rec.StrongestArea)
	assert.Equal(t, models.DifficultyMedium, *rec.WeakestArea)
	assert.Equal(t, 1, rec.TotalQuizzes)
	assert.Zero(t, rec.ConsistencyScore)
	assert.Equal(t, day0, rec.UpdatedAt)
}

func TestApplyAttempt_ReplacesAccuracyOfAnsweredBands(t *testing.T) {
	rec := models.NewAbilityRecord(1)
	ApplyAttempt(rec, []models.Response{response(models.DifficultyEasy, true, 1), response(models.DifficultyHard, true, 1)}, day0)
	ApplyAttempt(rec, []models.Response{response(models.DifficultyEasy, false, 1)}, day0.Add(time.Hour))

	assert.Equal(t, 0.0, rec.Accuracy[models.DifficultyEasy])
	assert.Equal(t, 100.0, rec.Accuracy[models.DifficultyHard])
	assert.Equal(t, 2, rec.TotalQuizzes)
}

func TestApplyAttempt_KeepsLatestHistory(t *testing.T) {
	rec := models.NewAbilityRecord(1)
	for i := 0; i < irt.HistorySize+3; i++ {
		ApplyAttempt(rec, []models.Response{response(models.DifficultyMedium, i%2 == 0, float64(i))}, day0.Add(time.Duration(i)*time.Hour))
	}
	require.Len(t, rec.RecentQuizzes, irt.HistorySize)
	assert.Equal(t, day0.Add(3*time.Hour), rec.RecentQuizzes[0].Timestamp)
	assert.Equal(t, irt.HistorySize+3, rec.TotalQuizzes)
}

func TestApplyAttempt_TiesPickFirstBand(t *testing.T) {
	rec := models.NewAbilityRecord(1)
	ApplyAttempt(rec, nil, day0)
	assert.Equal(t, models.DifficultyEasy, *rec.StrongestArea)
	assert.Equal(t, models.DifficultyEasy, *rec.WeakestArea)
	assert.Zero(t, rec.RecentQuizzes[0].Accuracy)
}

func TestConsistencyScore(t *testing.T) {
	at := func(days ...float64) []models.QuizSummary {
		out := make([]models.QuizSummary, 0, len(days))
		for _, d := range days {
			out = append(out, models.QuizSummary{Timestamp: day0.Add(time.Duration(d * 24 * float64(time.Hour)))})
		}
		return out
	}
	assert.Zero(t, ConsistencyScore(nil))
	assert.Zero(t, ConsistencyScore(at(0)))
	assert.Equal(t, 100.0, ConsistencyScore(at(0, 0.5, 0.9)))
	assert.Equal(t, 97.0, ConsistencyScore(at(0, 3, 6)))
	assert.Equal(t, 0.0, ConsistencyScore(at(0, 200)))
}

func TestBuildInsights(t *testing.T) {
	q := func(acc, secs float64) models.QuizSummary { return models.QuizSummary{Accuracy: acc, TotalTime: secs} }

	tests := []struct {
		name        string
		summaries   []models.QuizSummary
		message     string
		improvement float64
		efficiency  float64
	}{
		{name: "none", message: InsightNoQuizzes},
		{name: "first quiz", summaries: []models.QuizSummary{q(60, 100)}, message: InsightFirstQuiz},
		{name: "improving", summaries: []models.QuizSummary{q(50, 300), q(40, 200), q(70, 250)}, message: InsightImproving, improvement: 20, efficiency: -50},
		{name: "declining", summaries: []models.QuizSummary{q(80, 100), q(60, 150)}, message: InsightDeclining, improvement: -20, efficiency: 50},
		{name: "steady at the limit", summaries: []models.QuizSummary{q(50, 100), q(55, 100)}, message: InsightSteady, improvement: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildInsights(tt.summaries)
			assert.Equal(t, tt.message, got.Message)
			assert.Equal(t, tt.improvement, got.Improvement)
			assert.Equal(t, tt.efficiency, got.TimeEfficiency)
			assert.Len(t, got.AccuracyTrend, len(tt.summaries))
			assert.Len(t, got.TimeTrend, len(tt.summaries))
		})
	}
}

func TestEngagementLevel(t *testing.T) {
	assert.Equal(t, EngagementStarter, EngagementLevel(0, 100))
	assert.Equal(t, EngagementStarter, EngagementLevel(1, 100))
	assert.Equal(t, EngagementDeveloping, EngagementLevel(2, 0))
	assert.Equal(t, EngagementHigh, EngagementLevel(3, 81))
	assert.Equal(t, EngagementModerate, EngagementLevel(3, 80))
	assert.Equal(t, EngagementModerate, EngagementLevel(9, 51))
	assert.Equal(t, EngagementLow, EngagementLevel(9, 50))
}

func TestComputeStreak(t *testing.T) {
	now := day0
	d := func(back int, hour int) time.Time {
		return time.Date(now.Year(), now.Month(), now.Day()-back, hour, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name  string
		times []time.Time
		want  Streak
	}{
		{name: "empty", want: Streak{}},
		{name: "today only", times: []time.Time{d(0, 9)}, want: Streak{Current: 1, Longest: 1}},
		{name: "same day twice", times: []time.Time{d(0, 1), d(0, 23)}, want: Streak{Current: 1, Longest: 1}},
		{name: "ending yesterday", times: []time.Time{d(1, 9), d(2, 9), d(3, 9)}, want: Streak{Current: 3, Longest: 3}},
		{name: "broken", times: []time.Time{d(5, 9), d(6, 9), d(7, 9), d(0, 9)}, want: Streak{Current: 1, Longest: 3}},
		{name: "lapsed", times: []time.Time{d(2, 9), d(3, 9)}, want: Streak{Current: 0, Longest: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStreak(tt.times, now))
		})
	}
}

func TestComputeStreak_UsesUTCDays(t *testing.T) {
	east := time.FixedZone("UTC+10", 10*3600)
	// 01:00 local on the 11th is still the 10th in UTC
	local := time.Date(2026, 3, 11, 1, 0, 0, 0, east)
	assert.Equal(t, Streak{Current: 1, Longest: 1}, ComputeStreak([]time.Time{local}, day0))
}

type abilityFixture struct {
	service   *AbilityService
	abilities *memAbilityStore
	quizzes   *memQuizStore
	attempts  *memAttemptStore
}

func newAbilityFixture() *abilityFixture {
	f := &abilityFixture{
		abilities: newMemAbilityStore(),
		quizzes:   newMemQuizStore(),
		attempts:  &memAttemptStore{},
	}
	f.service = NewAbilityService(f.abilities, f.quizzes, f.attempts, newMemUserStore(1, 2), testLogger())
	f.service.now = func() time.Time { return day0 }
	return f
}

func TestAbilityService_UpdatePerformanceAndTheta(t *testing.T) {
	f := newAbilityFixture()
	ctx := context.Background()

	theta, err := f.service.Theta(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, theta)

	rec, err := f.service.UpdatePerformance(ctx, 1, []models.Response{
		response(models.DifficultyEasy, true, 30),
		response(models.DifficultyMedium, true, 30),
		response(models.DifficultyHard, false, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalQuizzes)

	stored, err := f.abilities.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rec.RecentQuizzes, stored.RecentQuizzes)

	theta, err = f.service.Theta(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, irt.EstimateTheta(stored.RecentQuizzes), theta)
}

func TestAbilityService_UpdatePerformanceStoreFailure(t *testing.T) {
	f := newAbilityFixture()
	f.abilities.fail = errors.New("db down")

	_, err := f.service.UpdatePerformance(context.Background(), 1, nil)
	assert.Error(t, err)
}

func TestAbilityService_RecentOutcomes(t *testing.T) {
	f := newAbilityFixture()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("q%d", i)
		items := []models.Item{
			verifiedItem(id+" first", "A", models.DifficultyEasy),
			verifiedItem(id+" second", "A", models.DifficultyHard),
		}
		require.NoError(t, f.quizzes.Insert(ctx, &models.Quiz{ID: id, OwnerID: 1, Items: items}))
	}
	require.NoError(t, f.attempts.Insert(ctx, &models.Attempt{
		QuizID: "q3", OwnerID: 1, AttemptNumber: 1,
		Responses: []models.Response{{Question: "q3 first", IsCorrect: true}, {Question: "q3 second", IsCorrect: false}},
	}))
	// later attempts do not count
	require.NoError(t, f.attempts.Insert(ctx, &models.Attempt{
		QuizID: "q3", OwnerID: 1, AttemptNumber: 2,
		Responses: []models.Response{{Question: "q3 second", IsCorrect: true}},
	}))

	outcomes, err := f.service.RecentOutcomes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, outcomes, 2*irt.RecentQuizzes)
	assert.Equal(t, irt.ItemOutcome{Difficulty: models.DifficultyEasy, Correct: true}, outcomes[0])
	assert.Equal(t, irt.ItemOutcome{Difficulty: models.DifficultyHard, Correct: false}, outcomes[1])
	for _, o := range outcomes[2:] {
		assert.False(t, o.Correct)
	}
}

func TestAbilityService_Reads(t *testing.T) {
	f := newAbilityFixture()
	ctx := context.Background()
	rec := models.NewAbilityRecord(1)
	ApplyAttempt(rec, []models.Response{response(models.DifficultyEasy, false, 10)}, day0.Add(-24*time.Hour))
	ApplyAttempt(rec, []models.Response{response(models.DifficultyEasy, true, 10)}, day0)
	require.NoError(t, f.abilities.Replace(ctx, rec))

	dash, err := f.service.Dashboard(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, dash.TotalQuizzes)

	insights, err := f.service.Insights(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, InsightImproving, insights.Message)
	assert.Equal(t, []float64{0, 100}, insights.AccuracyTrend)

	engagement, err := f.service.Engagement(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, Engagement{TotalQuizzes: 2, ConsistencyScore: 99, Level: EngagementDeveloping}, *engagement)

	streak, err := f.service.Streak(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, Streak{Current: 2, Longest: 2}, *streak)

	// a registered user without a record reads as empty
	empty, err := f.service.Insights(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, InsightNoQuizzes, empty.Message)
}

func TestAbilityService_ReadsRequireOwner(t *testing.T) {
	f := newAbilityFixture()
	ctx := context.Background()

	_, err := f.service.Dashboard(ctx, 2, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrForbidden))
	_, err = f.service.Insights(ctx, 5, 5)
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))
	_, err = f.service.Engagement(ctx, 2, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrForbidden))
	_, err = f.service.Streak(ctx, 2, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrForbidden))
}

func seedLatest(t *testing.T, f *abilityFixture, ownerID int, name string, summaries ...models.QuizSummary) {
	t.Helper()
	rec := models.NewAbilityRecord(ownerID)
	rec.RecentQuizzes = summaries
	require.NoError(t, f.abilities.Replace(context.Background(), rec))
	if f.abilities.names == nil {
		f.abilities.names = map[int]string{}
	}
	f.abilities.names[ownerID] = name
}

func TestRankLeaderboard(t *testing.T) {
	latest := []models.LatestSummary{
		{OwnerID: 3, Username: "cy", Summary: models.QuizSummary{Accuracy: 50}},
		{OwnerID: 1, Username: "al", Summary: models.QuizSummary{Accuracy: 66.666}},
		{OwnerID: 2, Username: "bo", Summary: models.QuizSummary{Accuracy: 50}},
	}

	got := RankLeaderboard(latest, 10)
	assert.Equal(t, []LeaderboardEntry{
		{UserID: 1, Name: "al", Accuracy: 66.67},
		{UserID: 2, Name: "bo", Accuracy: 50},
		{UserID: 3, Name: "cy", Accuracy: 50},
	}, got)

	assert.Len(t, RankLeaderboard(latest, 2), 2)
	assert.Empty(t, RankLeaderboard(nil, 10))
}

func TestAbilityService_Leaderboard(t *testing.T) {
	f := newAbilityFixture()
	seedLatest(t, f, 1, "al", models.QuizSummary{Accuracy: 90}, models.QuizSummary{Accuracy: 40})
	seedLatest(t, f, 2, "bo", models.QuizSummary{Accuracy: 70})
	seedLatest(t, f, 3, "cy")

	board, err := f.service.Leaderboard(context.Background())
	require.NoError(t, err)
	// only the latest quiz counts and learners without quizzes are left out
	assert.Equal(t, []LeaderboardEntry{
		{UserID: 2, Name: "bo", Accuracy: 70},
		{UserID: 1, Name: "al", Accuracy: 40},
	}, board)

	f.abilities.fail = errors.New("db down")
	_, err = f.service.Leaderboard(context.Background())
	assert.Error(t, err)
}

func TestCompareLatest(t *testing.T) {
	own := models.QuizSummary{Accuracy: 80, TotalTime: 100}
	latest := []models.LatestSummary{
		{OwnerID: 1, Summary: own},
		{OwnerID: 2, Summary: models.QuizSummary{Accuracy: 40, TotalTime: 200}},
		{OwnerID: 3, Summary: models.QuizSummary{Accuracy: 50, TotalTime: 50}},
	}

	got := CompareLatest(own, latest)
	assert.Equal(t, &Comparison{
		UserAccuracy:       80,
		AverageAccuracy:    56.67,
		UserTime:           100,
		AverageTime:        116.67,
		ComparisonAccuracy: "Higher",
		ComparisonTime:     "Faster",
	}, got)

	got = CompareLatest(models.QuizSummary{Accuracy: 10, TotalTime: 500}, latest)
	assert.Equal(t, "Lower", got.ComparisonAccuracy)
	assert.Equal(t, "Slower", got.ComparisonTime)

	assert.Equal(t, NotEnoughDataForComparison, CompareLatest(own, nil).Message)
}

func TestAbilityService_Comparison(t *testing.T) {
	f := newAbilityFixture()
	ctx := context.Background()

	got, err := f.service.Comparison(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, &Comparison{Message: NotEnoughDataForComparison}, got)

	seedLatest(t, f, 1, "al", models.QuizSummary{Accuracy: 60, TotalTime: 30})
	seedLatest(t, f, 2, "bo", models.QuizSummary{Accuracy: 100, TotalTime: 90})

	got, err = f.service.Comparison(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, got.Message)
	assert.Equal(t, 80.0, got.AverageAccuracy)
	assert.Equal(t, "Lower", got.ComparisonAccuracy)
	assert.Equal(t, "Faster", got.ComparisonTime)

	_, err = f.service.Comparison(ctx, 2, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrForbidden))
}

func TestAbilityService_HasPreviousQuiz(t *testing.T) {
	f := newAbilityFixture()
	ctx := context.Background()

	has, err := f.service.HasPreviousQuiz(ctx, 1)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, f.quizzes.Insert(ctx, &models.Quiz{ID: "q1", OwnerID: 1}))
	has, err = f.service.HasPreviousQuiz(ctx, 1)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = f.service.HasPreviousQuiz(ctx, 2)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = f.service.HasPreviousQuiz(ctx, 99)
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))
}
