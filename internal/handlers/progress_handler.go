package handlers

import (
	"net/http"

	"mcqgen/internal/observability"
	"mcqgen/internal/services"

	"github.com/gin-gonic/gin"
)

// ProgressHandler serves a learner's history and performance reads
type ProgressHandler struct {
	grading services.GradingServiceInterface
	ability services.AbilityServiceInterface
	logger  *observability.Logger
}

// NewProgressHandler creates a new ProgressHandler
func NewProgressHandler(grading services.GradingServiceInterface, ability services.AbilityServiceInterface, logger *observability.Logger) *ProgressHandler {
	return &ProgressHandler{grading: grading, ability: ability, logger: logger}
}

// pathOwner returns the caller and the :user_id path parameter
func pathOwner(c *gin.Context) (int, int, bool) {
	actorID, ok := currentUser(c)
	if !ok {
		return 0, 0, false
	}
	ownerID, ok := positiveParam(c, "user_id")
	if !ok {
		return 0, 0, false
	}
	return actorID, ownerID, true
}

// History lists the owner's quizzes with their attempt summaries, one page at a time
func (h *ProgressHandler) History(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_history")
	defer observability.FinishSpan(span, nil)

	actorID, ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	history, err := h.grading.History(ctx, actorID, ownerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	page, size := ParsePagination(c, 1, 20, 100)
	items, pagination := Paginate(history, page, size)
	WritePaginated(c, "history", items, pagination, gin.H{"user_id": ownerID})
}

// AttemptResults returns the n-th graded attempt of a quiz
func (h *ProgressHandler) AttemptResults(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_attempt_results")
	defer observability.FinishSpan(span, nil)

	actorID, ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	n, ok := positiveParam(c, "n")
	if !ok {
		return
	}
	quizID := c.Param("quiz_id")
	span.SetAttributes(observability.AttributeQuizID(quizID))

	attempt, err := h.grading.AttemptResults(ctx, actorID, ownerID, quizID, n)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// Insights returns accuracy and time trends with a suggestion
func (h *ProgressHandler) Insights(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_insights")
	defer observability.FinishSpan(span, nil)

	actorID, ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	insights, err := h.ability.Insights(ctx, actorID, ownerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, insights)
}

// Dashboard returns the performance record together with the current ability estimate
func (h *ProgressHandler) Dashboard(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_dashboard")
	defer observability.FinishSpan(span, nil)

	actorID, ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	record, err := h.ability.Dashboard(ctx, actorID, ownerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	theta, err := h.ability.Theta(ctx, ownerID)
	if err != nil {
		h.logger.Warn(ctx, "Ability estimate unavailable", map[string]interface{}{"user_id": ownerID, "error": err.Error()})
		theta = 0
	}
	c.JSON(http.StatusOK, gin.H{"performance": record, "theta": theta})
}

// Engagement grades how regularly the owner takes quizzes
func (h *ProgressHandler) Engagement(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_engagement")
	defer observability.FinishSpan(span, nil)

	actorID, ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	engagement, err := h.ability.Engagement(ctx, actorID, ownerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, engagement)
}

// Streak returns the current and longest daily streaks
func (h *ProgressHandler) Streak(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_streak")
	defer observability.FinishSpan(span, nil)

	actorID, ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	streak, err := h.ability.Streak(ctx, actorID, ownerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, streak)
}

// Leaderboard ranks learners by the accuracy of their latest quiz
func (h *ProgressHandler) Leaderboard(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_leaderboard")
	defer observability.FinishSpan(span, nil)

	board, err := h.ability.Leaderboard(ctx)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	if board == nil {
		board = []services.LeaderboardEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": board})
}

// Comparison sets the owner's latest quiz against the average learner
func (h *ProgressHandler) Comparison(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_performance_comparison")
	defer observability.FinishSpan(span, nil)

	actorID, ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	comparison, err := h.ability.Comparison(ctx, actorID, ownerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	if comparison.Message != "" {
		c.JSON(http.StatusOK, gin.H{"message": comparison.Message})
		return
	}
	c.JSON(http.StatusOK, comparison)
}

// HasPreviousQuiz reports whether the user was ever given a quiz
func (h *ProgressHandler) HasPreviousQuiz(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "has_previous_quiz")
	defer observability.FinishSpan(span, nil)

	if _, ok := currentUser(c); !ok {
		return
	}
	ownerID, ok := positiveParam(c, "user_id")
	if !ok {
		return
	}
	has, err := h.ability.HasPreviousQuiz(ctx, ownerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": ownerID, "has_previous_quiz": has})
}
