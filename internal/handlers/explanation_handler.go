package handlers

import (
	"net/http"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/services"

	"github.com/gin-gonic/gin"
)

// ExplainRequest is the body of POST /v1/mcq/explain_only
type ExplainRequest struct {
	Question string         `json:"question" validate:"required"`
	Options  models.Options `json:"options" validate:"required,min=2"`
}

// VerifyExplainRequest is the body of POST /v1/mcq/verify_and_explain
type VerifyExplainRequest struct {
	Question      string         `json:"question" validate:"required"`
	Options       models.Options `json:"options" validate:"required,min=2"`
	ClaimedAnswer string         `json:"claimed_answer" validate:"required"`
}

// ExplanationHandler answers items that are not part of any quiz
type ExplanationHandler struct {
	explanations services.ExplanationServiceInterface
	logger       *observability.Logger
}

// NewExplanationHandler creates a new ExplanationHandler
func NewExplanationHandler(explanations services.ExplanationServiceInterface, logger *observability.Logger) *ExplanationHandler {
	return &ExplanationHandler{explanations: explanations, logger: logger}
}

// ExplainOnly returns the oracle's answer with an explanation
func (h *ExplanationHandler) ExplainOnly(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "explain_only")
	defer observability.FinishSpan(span, nil)

	if _, ok := currentUser(c); !ok {
		return
	}
	var req ExplainRequest
	if !bindJSON(c, &req) {
		return
	}

	explanation, err := h.explanations.Explain(ctx, req.Question, req.Options)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, explanation)
}

// VerifyAndExplain checks a claimed answer against the oracle's own solution
func (h *ExplanationHandler) VerifyAndExplain(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "verify_and_explain")
	defer observability.FinishSpan(span, nil)

	if _, ok := currentUser(c); !ok {
		return
	}
	var req VerifyExplainRequest
	if !bindJSON(c, &req) {
		return
	}

	check, err := h.explanations.VerifyAndExplain(ctx, req.Question, req.Options, req.ClaimedAnswer)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	h.logger.Debug(ctx, "Claimed answer checked", map[string]interface{}{"is_correct": check.IsCorrect, "predicted": check.PredictedAnswer})
	c.JSON(http.StatusOK, check)
}
