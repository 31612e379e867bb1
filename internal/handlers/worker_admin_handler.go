package handlers

import (
	"context"
	"net/http"

	"mcqgen/internal/observability"
	"mcqgen/internal/services"
	contextutils "mcqgen/internal/utils"
	"mcqgen/internal/worker"

	"github.com/gin-gonic/gin"
)

// WorkerControl is the part of the sweep worker exposed to admins
type WorkerControl interface {
	GetStatus() worker.Status
	GetHistory() []worker.RunRecord
	GetActivityLogs() []worker.ActivityLog
	GetInstance() string
	TriggerManualRun()
	Pause(ctx context.Context)
	Resume(ctx context.Context)
	VerifyNow(ctx context.Context, quizID string) (services.SweepReport, error)
}

var _ WorkerControl = (*worker.Worker)(nil)

// WorkerAdminHandler handles worker administration endpoints
type WorkerAdminHandler struct {
	worker        WorkerControl
	workerService services.WorkerServiceInterface
	logger        *observability.Logger
}

// NewWorkerAdminHandlerWithLogger creates a new WorkerAdminHandler. w may be
// nil when no worker runs in this process.
func NewWorkerAdminHandlerWithLogger(w WorkerControl, workerService services.WorkerServiceInterface, logger *observability.Logger) *WorkerAdminHandler {
	return &WorkerAdminHandler{worker: w, workerService: workerService, logger: logger}
}

// GetWorkerDetails returns the local worker status, its run history and the global pause flag
func (h *WorkerAdminHandler) GetWorkerDetails(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_details")
	defer observability.FinishSpan(span, nil)

	var localStatus worker.Status
	var localHistory []worker.RunRecord
	if h.worker != nil {
		localStatus = h.worker.GetStatus()
		localHistory = h.worker.GetHistory()
	}

	globalPaused, err := h.workerService.IsGlobalPaused(ctx)
	if err != nil {
		h.logger.Warn(ctx, "Failed to get global pause status", map[string]interface{}{"error": err.Error()})
		globalPaused = false
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        localStatus,
		"history":       localHistory,
		"global_paused": globalPaused,
	})
}

// GetActivityLogs returns recent activity logs from the worker
func (h *WorkerAdminHandler) GetActivityLogs(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_activity_logs")
	defer observability.FinishSpan(span, nil)
	if h.worker == nil {
		HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": h.worker.GetActivityLogs()})
}

// PauseWorker pauses every worker instance
func (h *WorkerAdminHandler) PauseWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "pause_worker")
	defer observability.FinishSpan(span, nil)
	if err := h.workerService.SetGlobalPause(ctx, true); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to pause worker globally"))
		return
	}
	if h.worker != nil {
		h.worker.Pause(ctx)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Worker paused globally"})
}

// ResumeWorker clears the global pause
func (h *WorkerAdminHandler) ResumeWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "resume_worker")
	defer observability.FinishSpan(span, nil)
	if err := h.workerService.SetGlobalPause(ctx, false); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to resume worker globally"))
		return
	}
	if h.worker != nil {
		h.worker.Resume(ctx)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Worker resumed globally"})
}

// GetWorkerStatus returns the persisted status of one instance
func (h *WorkerAdminHandler) GetWorkerStatus(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_status")
	defer observability.FinishSpan(span, nil)

	instance := c.Query("instance")
	if instance == "" {
		instance = "default"
		if h.worker != nil {
			instance = h.worker.GetInstance()
		}
	}
	status, err := h.workerService.GetWorkerStatus(ctx, instance)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to get worker status"))
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetSystemHealth reports heartbeat health of every instance
func (h *WorkerAdminHandler) GetSystemHealth(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_system_health")
	defer observability.FinishSpan(span, nil)
	health, err := h.workerService.GetWorkerHealth(ctx)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to get worker health"))
		return
	}
	c.JSON(http.StatusOK, health)
}

// TriggerWorkerRun triggers a manual sweep
func (h *WorkerAdminHandler) TriggerWorkerRun(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "trigger_worker_run")
	defer observability.FinishSpan(span, nil)
	if h.worker == nil {
		HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}
	h.worker.TriggerManualRun()
	c.JSON(http.StatusAccepted, gin.H{"message": "Worker run triggered"})
}

// VerifyQuiz runs the post-hoc verifier on one quiz synchronously
func (h *WorkerAdminHandler) VerifyQuiz(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "verify_quiz")
	defer observability.FinishSpan(span, nil)
	if h.worker == nil {
		HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}
	quizID := c.Param("quiz_id")
	span.SetAttributes(observability.AttributeQuizID(quizID))

	report, err := h.worker.VerifyNow(ctx, quizID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
