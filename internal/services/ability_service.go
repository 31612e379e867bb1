package services

import (
	"context"
	"math"
	"sort"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/irt"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"
)

// Insight messages
const (
	InsightNoQuizzes  = "No quizzes taken yet."
	InsightFirstQuiz  = "You’ve completed your first quiz! Keep practicing to track your progress over time."
	InsightImproving  = "Great job! Your accuracy is improving steadily. Keep practicing!"
	InsightDeclining  = "Your accuracy has dropped. Try revising incorrect answers."
	InsightSteady     = "You're maintaining a steady performance. Keep going!"
	insightSwingLimit = 5.0
)

// NotEnoughDataForComparison is the comparison message when either side has no quizzes
const NotEnoughDataForComparison = "Not enough data for comparison."

// Engagement levels
const (
	EngagementStarter    = "Starter"
	EngagementDeveloping = "Developing"
	EngagementHigh       = "Highly Engaged Learner"
	EngagementModerate   = "Moderately Engaged Learner"
	EngagementLow        = "Needs Improvement"
)

// Insights summarizes the accuracy and time trends of the recent quizzes
type Insights struct {
	AccuracyTrend  []float64 `json:"accuracy_trend"`
	TimeTrend      []float64 `json:"time_trend"`
	Improvement    float64   `json:"improvement"`
	TimeEfficiency float64   `json:"time_efficiency"`
	Message        string    `json:"message"`
}

// Engagement grades how regularly a learner takes quizzes
type Engagement struct {
	TotalQuizzes     int     `json:"total_quizzes"`
	ConsistencyScore float64 `json:"consistency_score"`
	Level            string  `json:"engagement_level"`
}

// Streak counts consecutive calendar days (UTC) with at least one quiz
type Streak struct {
	Current int `json:"streak"`
	Longest int `json:"longest_streak"`
}

// LeaderboardEntry ranks one learner by the accuracy of their latest quiz
type LeaderboardEntry struct {
	UserID   int     `json:"user_id"`
	Name     string  `json:"name"`
	Accuracy float64 `json:"accuracy"`
}

// Comparison sets the owner's latest quiz against the mean of every
// learner's latest quiz. Only Message is set when there is nothing to compare.
type Comparison struct {
	Message            string  `json:"message,omitempty"`
	UserAccuracy       float64 `json:"user_accuracy"`
	AverageAccuracy    float64 `json:"average_accuracy"`
	UserTime           float64 `json:"user_time"`
	AverageTime        float64 `json:"average_time"`
	ComparisonAccuracy string  `json:"comparison_accuracy"`
	ComparisonTime     string  `json:"comparison_time"`
}

// AbilityService maintains per-user performance records and derives the
// ability estimate used by adaptive generation.
type AbilityService struct {
	abilities AbilityStore
	quizzes   QuizStore
	attempts  AttemptStore
	users     UserStore
	logger    *observability.Logger
	now       func() time.Time
}

// NewAbilityService builds an ability service
func NewAbilityService(abilities AbilityStore, quizzes QuizStore, attempts AttemptStore, users UserStore, logger *observability.Logger) *AbilityService {
	return &AbilityService{
		abilities: abilities,
		quizzes:   quizzes,
		attempts:  attempts,
		users:     users,
		logger:    logger,
		now:       time.Now,
	}
}

// record loads the owner's record; a missing record reads as an empty one
func (s *AbilityService) record(ctx context.Context, ownerID int) (*models.AbilityRecord, error) {
	rec, err := s.abilities.Get(ctx, ownerID)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return models.NewAbilityRecord(ownerID), nil
		}
		return nil, err
	}
	return rec, nil
}

// Theta estimates ability from the owner's recent quiz summaries
func (s *AbilityService) Theta(ctx context.Context, ownerID int) (float64, error) {
	rec, err := s.record(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return irt.EstimateTheta(rec.RecentQuizzes), nil
}

// RecentOutcomes lists every item of the owner's latest quizzes with whether
// the first attempt answered it correctly. Items of a quiz never attempted
// count as incorrect.
func (s *AbilityService) RecentOutcomes(ctx context.Context, ownerID int) (result0 []irt.ItemOutcome, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "recent_outcomes", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	quizzes, err := s.quizzes.RecentByOwner(ctx, ownerID, irt.RecentQuizzes)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to load recent quizzes")
	}

	var outcomes []irt.ItemOutcome
	for _, q := range quizzes {
		correct := map[string]bool{}
		attempt, err := s.attempts.Get(ctx, ownerID, q.ID, 1)
		switch {
		case err == nil:
			for _, r := range attempt.Responses {
				correct[r.Question] = r.IsCorrect
			}
		case contextutils.IsError(err, contextutils.ErrRecordNotFound):
		default:
			return nil, contextutils.WrapErrorf(err, "failed to load first attempt of quiz %s", q.ID)
		}
		for _, it := range q.Items {
			outcomes = append(outcomes, irt.ItemOutcome{Difficulty: it.Difficulty, Correct: correct[it.Question]})
		}
	}
	return outcomes, nil
}

// UpdatePerformance folds one graded first attempt into the owner's record
func (s *AbilityService) UpdatePerformance(ctx context.Context, ownerID int, responses []models.Response) (result0 *models.AbilityRecord, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "update_performance", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	rec, err := s.record(ctx, ownerID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to load ability record")
	}
	ApplyAttempt(rec, responses, s.now().UTC())
	if err := s.abilities.Replace(ctx, rec); err != nil {
		return nil, contextutils.WrapError(err, "failed to store ability record")
	}
	s.logger.Info(ctx, "Ability updated", map[string]interface{}{
		"user_id":       ownerID,
		"total_quizzes": rec.TotalQuizzes,
		"theta":         irt.EstimateTheta(rec.RecentQuizzes),
	})
	return rec, nil
}

// ApplyAttempt mutates rec with the responses of one attempt taken at now.
// Per-difficulty accuracy is replaced, time spent accumulates and the summary
// history keeps the latest irt.HistorySize entries.
func ApplyAttempt(rec *models.AbilityRecord, responses []models.Response, now time.Time) {
	if rec.Accuracy == nil {
		rec.Accuracy = map[models.Difficulty]float64{}
	}
	if rec.TimeSpent == nil {
		rec.TimeSpent = map[models.Difficulty]float64{}
	}

	type tally struct {
		correct, total int
		time           float64
	}
	per := map[models.Difficulty]*tally{}
	for _, d := range models.Difficulties {
		per[d] = &tally{}
	}

	var correct int
	var totalTime float64
	for _, r := range responses {
		d := r.Difficulty
		if !d.Valid() {
			d = models.DifficultyMedium
		}
		t := per[d]
		t.total++
		t.time += r.TimeTaken
		if r.IsCorrect {
			t.correct++
			correct++
		}
		totalTime += r.TimeTaken
	}

	for _, d := range models.Difficulties {
		t := per[d]
		if t.total == 0 {
			continue
		}
		rec.Accuracy[d] = irt.Round2(float64(t.correct) / float64(t.total) * 100)
		rec.TimeSpent[d] += t.time
	}

	var accuracy float64
	if len(responses) > 0 {
		accuracy = irt.Round2(float64(correct) / float64(len(responses)) * 100)
	}
	rec.RecentQuizzes = append(rec.RecentQuizzes, models.QuizSummary{
		Accuracy:  accuracy,
		TotalTime: totalTime,
		Timestamp: now,
	})
	if n := len(rec.RecentQuizzes); n > irt.HistorySize {
		rec.RecentQuizzes = append([]models.QuizSummary(nil), rec.RecentQuizzes[n-irt.HistorySize:]...)
	}

	strongest, weakest := models.Difficulties[0], models.Difficulties[0]
	for _, d := range models.Difficulties[1:] {
		if rec.Accuracy[d] > rec.Accuracy[strongest] {
			strongest = d
		}
		if rec.Accuracy[d] < rec.Accuracy[weakest] {
			weakest = d
		}
	}
	rec.StrongestArea = &strongest
	rec.WeakestArea = &weakest

	rec.ConsistencyScore = ConsistencyScore(rec.RecentQuizzes)
	rec.TotalQuizzes++
	rec.UpdatedAt = now
}

// ConsistencyScore is 100 minus the mean gap in whole days between
// consecutive summaries, floored at 0. Fewer than two summaries score 0.
func ConsistencyScore(summaries []models.QuizSummary) float64 {
	if len(summaries) < 2 {
		return 0
	}
	span := summaries[len(summaries)-1].Timestamp.Sub(summaries[0].Timestamp).Seconds()
	avgGap := span / float64(len(summaries)-1)
	score := 100 - math.Floor(avgGap/86400)
	if score < 0 {
		return 0
	}
	return irt.Round2(score)
}

// Dashboard returns the owner's full performance record
func (s *AbilityService) Dashboard(ctx context.Context, actorID, ownerID int) (result0 *models.AbilityRecord, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "dashboard", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	if err := requireOwner(ctx, s.users, actorID, ownerID, ""); err != nil {
		return nil, err
	}
	return s.record(ctx, ownerID)
}

// Insights compares the first and last recent quizzes
func (s *AbilityService) Insights(ctx context.Context, actorID, ownerID int) (result0 *Insights, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "insights", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	if err := requireOwner(ctx, s.users, actorID, ownerID, ""); err != nil {
		return nil, err
	}
	rec, err := s.record(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return BuildInsights(rec.RecentQuizzes), nil
}

// BuildInsights derives trends and a message from summaries, oldest first
func BuildInsights(summaries []models.QuizSummary) *Insights {
	out := &Insights{AccuracyTrend: []float64{}, TimeTrend: []float64{}}
	if len(summaries) == 0 {
		out.Message = InsightNoQuizzes
		return out
	}
	for _, q := range summaries {
		out.AccuracyTrend = append(out.AccuracyTrend, q.Accuracy)
		out.TimeTrend = append(out.TimeTrend, q.TotalTime)
	}
	if len(summaries) == 1 {
		out.Message = InsightFirstQuiz
		return out
	}

	first, last := summaries[0], summaries[len(summaries)-1]
	out.Improvement = irt.Round2(last.Accuracy - first.Accuracy)
	out.TimeEfficiency = irt.Round2(last.TotalTime - first.TotalTime)
	switch {
	case out.Improvement > insightSwingLimit:
		out.Message = InsightImproving
	case out.Improvement < -insightSwingLimit:
		out.Message = InsightDeclining
	default:
		out.Message = InsightSteady
	}
	return out
}

// Engagement grades the owner's quiz habit
func (s *AbilityService) Engagement(ctx context.Context, actorID, ownerID int) (result0 *Engagement, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "engagement", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	if err := requireOwner(ctx, s.users, actorID, ownerID, ""); err != nil {
		return nil, err
	}
	rec, err := s.record(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &Engagement{
		TotalQuizzes:     rec.TotalQuizzes,
		ConsistencyScore: rec.ConsistencyScore,
		Level:            EngagementLevel(rec.TotalQuizzes, rec.ConsistencyScore),
	}, nil
}

// EngagementLevel names the band for a quiz count and consistency score
func EngagementLevel(totalQuizzes int, consistency float64) string {
	switch {
	case totalQuizzes <= 1:
		return EngagementStarter
	case totalQuizzes == 2:
		return EngagementDeveloping
	case consistency > 80:
		return EngagementHigh
	case consistency > 50:
		return EngagementModerate
	default:
		return EngagementLow
	}
}

// Streak counts the consecutive days ending today or yesterday with a quiz
func (s *AbilityService) Streak(ctx context.Context, actorID, ownerID int) (result0 *Streak, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "streak", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	if err := requireOwner(ctx, s.users, actorID, ownerID, ""); err != nil {
		return nil, err
	}
	rec, err := s.record(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, len(rec.RecentQuizzes))
	for _, q := range rec.RecentQuizzes {
		times = append(times, q.Timestamp)
	}
	st := ComputeStreak(times, s.now())
	return &st, nil
}

// Leaderboard ranks learners by latest accuracy, best first
func (s *AbilityService) Leaderboard(ctx context.Context) (result0 []LeaderboardEntry, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "leaderboard")
	defer observability.FinishSpan(span, &err)

	latest, err := s.abilities.LatestSummaries(ctx)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to load latest summaries")
	}
	return RankLeaderboard(latest, config.LeaderboardSize), nil
}

// RankLeaderboard orders learners by latest accuracy, ties by user id, and
// keeps the first size
func RankLeaderboard(latest []models.LatestSummary, size int) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(latest))
	for _, l := range latest {
		out = append(out, LeaderboardEntry{UserID: l.OwnerID, Name: l.Username, Accuracy: irt.Round2(l.Summary.Accuracy)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Accuracy != out[j].Accuracy {
			return out[i].Accuracy > out[j].Accuracy
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > size {
		out = out[:size]
	}
	return out
}

// Comparison compares the owner's latest quiz with the average learner
func (s *AbilityService) Comparison(ctx context.Context, actorID, ownerID int) (result0 *Comparison, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "performance_comparison", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	if err := requireOwner(ctx, s.users, actorID, ownerID, ""); err != nil {
		return nil, err
	}
	rec, err := s.record(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(rec.RecentQuizzes) == 0 {
		return &Comparison{Message: NotEnoughDataForComparison}, nil
	}
	latest, err := s.abilities.LatestSummaries(ctx)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to load latest summaries")
	}
	return CompareLatest(rec.RecentQuizzes[len(rec.RecentQuizzes)-1], latest), nil
}

// CompareLatest sets own against the mean of latest
func CompareLatest(own models.QuizSummary, latest []models.LatestSummary) *Comparison {
	if len(latest) == 0 {
		return &Comparison{Message: NotEnoughDataForComparison}
	}
	var accuracy, total float64
	for _, l := range latest {
		accuracy += l.Summary.Accuracy
		total += l.Summary.TotalTime
	}
	n := float64(len(latest))
	out := &Comparison{
		UserAccuracy:       own.Accuracy,
		AverageAccuracy:    irt.Round2(accuracy / n),
		UserTime:           own.TotalTime,
		AverageTime:        irt.Round2(total / n),
		ComparisonAccuracy: "Lower",
		ComparisonTime:     "Slower",
	}
	if own.Accuracy > accuracy/n {
		out.ComparisonAccuracy = "Higher"
	}
	if own.TotalTime < total/n {
		out.ComparisonTime = "Faster"
	}
	return out
}

// HasPreviousQuiz reports whether any quiz was generated for the owner
func (s *AbilityService) HasPreviousQuiz(ctx context.Context, ownerID int) (result0 bool, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "has_previous_quiz", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	if _, err := s.users.GetByID(ctx, ownerID); err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return false, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user %d not found", ownerID)
		}
		return false, err
	}
	quizzes, err := s.quizzes.RecentByOwner(ctx, ownerID, 1)
	if err != nil {
		return false, contextutils.WrapError(err, "failed to look up quizzes")
	}
	return len(quizzes) > 0, nil
}

// ComputeStreak derives the current and longest day streaks from quiz times
func ComputeStreak(times []time.Time, now time.Time) Streak {
	if len(times) == 0 {
		return Streak{}
	}
	seen := map[time.Time]struct{}{}
	days := make([]time.Time, 0, len(times))
	for _, t := range times {
		d := truncateDay(t)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i-1].Sub(days[i]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	today := truncateDay(now)
	current := 0
	if gap := today.Sub(days[0]); gap <= 24*time.Hour {
		current = 1
		for i := 1; i < len(days); i++ {
			if days[i-1].Sub(days[i]) != 24*time.Hour {
				break
			}
			current++
		}
	}
	return Streak{Current: current, Longest: longest}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
