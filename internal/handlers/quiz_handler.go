package handlers

import (
	"net/http"

	"mcqgen/internal/config"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/services"

	"github.com/gin-gonic/gin"
)

// GenerateQuizRequest is the body of the quiz generation endpoints. Count is
// ignored for standard quizzes.
type GenerateQuizRequest struct {
	UserID int `json:"user_id" validate:"required,gte=1"`
	Count  int `json:"count" validate:"gte=0"`
}

// GenerateTopicQuizRequest is the body of POST /v1/quizzes/topic
type GenerateTopicQuizRequest struct {
	UserID int    `json:"user_id" validate:"required,gte=1"`
	Topic  string `json:"topic" validate:"required"`
	Count  int    `json:"count" validate:"gte=0"`
}

// SubmitQuizRequest is the body of POST /v1/quizzes/:quiz_id/submit
type SubmitQuizRequest struct {
	UserID  int                         `json:"user_id" validate:"required,gte=1"`
	Answers []services.AnswerSubmission `json:"answers" validate:"dive"`
}

// QuizHandler serves quiz generation, reads and submissions
type QuizHandler struct {
	generator services.QuizGenerationServiceInterface
	grading   services.GradingServiceInterface
	cfg       *config.Config
	logger    *observability.Logger
}

// NewQuizHandler creates a new QuizHandler
func NewQuizHandler(generator services.QuizGenerationServiceInterface, grading services.GradingServiceInterface, cfg *config.Config, logger *observability.Logger) *QuizHandler {
	return &QuizHandler{generator: generator, grading: grading, cfg: cfg, logger: logger}
}

// GenerateAdaptive builds a quiz whose difficulty mix follows the owner's recent accuracy
func (h *QuizHandler) GenerateAdaptive(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "generate_adaptive_quiz")
	defer observability.FinishSpan(span, nil)

	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	var req GenerateQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = h.cfg.Generation.DefaultQuestionCount
	}
	span.SetAttributes(observability.AttributeUserID(req.UserID), observability.AttributeCount(req.Count))

	quiz, err := h.generator.GenerateAdaptiveQuiz(ctx, actorID, req.UserID, req.Count)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	h.logger.Info(ctx, "Adaptive quiz served", map[string]interface{}{"quiz_id": quiz.ID, "user_id": req.UserID, "questions": len(quiz.Items)})
	c.JSON(http.StatusCreated, models.NewQuizResponse(quiz))
}

// GenerateStandard builds a quiz with the fixed difficulty mix
func (h *QuizHandler) GenerateStandard(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "generate_standard_quiz")
	defer observability.FinishSpan(span, nil)

	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	var req GenerateQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	span.SetAttributes(observability.AttributeUserID(req.UserID))

	quiz, err := h.generator.GenerateStandardQuiz(ctx, actorID, req.UserID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewQuizResponse(quiz))
}

// GenerateTopic builds a quiz on one corpus cluster
func (h *QuizHandler) GenerateTopic(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "generate_topic_quiz")
	defer observability.FinishSpan(span, nil)

	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	var req GenerateTopicQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = h.cfg.Generation.DefaultQuestionCount
	}
	span.SetAttributes(observability.AttributeUserID(req.UserID), observability.AttributeCount(req.Count))

	quiz, err := h.generator.GenerateTopicQuiz(ctx, actorID, req.UserID, req.Topic, req.Count)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	h.logger.Info(ctx, "Topic quiz served", map[string]interface{}{"quiz_id": quiz.ID, "user_id": req.UserID, "topic": quiz.Topic, "questions": len(quiz.Items)})
	c.JSON(http.StatusCreated, models.NewQuizResponse(quiz))
}

// GetQuiz returns a quiz owned by the caller
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_quiz")
	defer observability.FinishSpan(span, nil)

	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	quizID := c.Param("quiz_id")
	span.SetAttributes(observability.AttributeQuizID(quizID))

	quiz, err := h.grading.GetQuiz(ctx, actorID, quizID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewQuizResponse(quiz))
}

// SubmitQuiz grades an attempt of a quiz
func (h *QuizHandler) SubmitQuiz(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "submit_quiz")
	defer observability.FinishSpan(span, nil)

	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	var req SubmitQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	quizID := c.Param("quiz_id")
	span.SetAttributes(observability.AttributeQuizID(quizID), observability.AttributeUserID(req.UserID))

	attempt, err := h.grading.SubmitQuiz(ctx, actorID, req.UserID, quizID, req.Answers)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}
