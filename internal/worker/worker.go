// Package worker contains the background sweep that re-verifies answer keys
// of persisted quizzes. The worker runs independently of HTTP request
// handling, records its health in the database and can be paused, resumed
// and triggered by the admin endpoints.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/services"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// Status represents the current state of the worker
type Status struct {
	IsRunning       bool      `json:"is_running"`
	IsPaused        bool      `json:"is_paused"`
	CurrentActivity string    `json:"current_activity,omitempty"`
	LastRunStart    time.Time `json:"last_run_start"`
	LastRunFinish   time.Time `json:"last_run_finish"`
	LastRunError    string    `json:"last_run_error,omitempty"`
	NextRun         time.Time `json:"next_run"`
}

// RunRecord tracks individual worker runs
type RunRecord struct {
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration"`
	Status          string        `json:"status"` // Success, Failure
	Details         string        `json:"details"`
	QuizzesVerified int           `json:"quizzes_verified"`
	ItemsOverridden int           `json:"items_overridden"`
}

// ActivityLog represents a single activity log entry
type ActivityLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // INFO, WARN, ERROR
	Message   string    `json:"message"`
	QuizID    string    `json:"quiz_id,omitempty"`
}

// PendingLister finds quizzes that still hold unverified items
type PendingLister interface {
	ListWithUnverified(ctx context.Context, limit int) ([]string, error)
}

// QuizVerifier settles the answer keys of one quiz
type QuizVerifier interface {
	VerifyQuiz(ctx context.Context, quizID string) (services.SweepReport, error)
}

// Worker periodically sweeps quizzes with unverified answer keys
type Worker struct {
	quizzes       PendingLister
	verifier      QuizVerifier
	workerService services.WorkerServiceInterface
	instance      string
	cfg           *config.Config
	logger        *observability.Logger

	mu              sync.RWMutex
	status          Status
	history         []RunRecord
	activityLogs    []ActivityLog
	totalVerified   int
	totalOverridden int

	manualTrigger chan struct{}
	runMu         sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	timeNow       func() time.Time
}

// NewWorker creates a new Worker instance
func NewWorker(quizzes PendingLister, verifier QuizVerifier, workerService services.WorkerServiceInterface, instance string, cfg *config.Config, logger *observability.Logger) *Worker {
	if instance == "" {
		instance = "default"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		quizzes:       quizzes,
		verifier:      verifier,
		workerService: workerService,
		instance:      instance,
		cfg:           cfg,
		logger:        logger,
		status:        Status{CurrentActivity: "Initialized"},
		history:       make([]RunRecord, 0, cfg.Server.MaxHistory),
		activityLogs:  make([]ActivityLog, 0, cfg.Server.MaxActivityLogs),
		manualTrigger: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		timeNow:       time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled or Shutdown is called
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-w.ctx.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	w.mu.Lock()
	w.status.IsRunning = true
	w.status.NextRun = w.timeNow().Add(w.cfg.Verifier.SweepInterval)
	w.mu.Unlock()
	w.updateDatabaseStatus(ctx)

	w.handleStartupPause(ctx)
	go w.heartbeatLoop(ctx)

	ticker := time.NewTicker(w.cfg.Verifier.SweepInterval)
	defer ticker.Stop()

	initialStatus := w.getInitialWorkerStatus(ctx)
	w.logger.Info(ctx, "Worker started", map[string]interface{}{
		"instance":       w.instance,
		"status":         initialStatus,
		"sweep_interval": w.cfg.Verifier.SweepInterval.String(),
	})
	w.logActivity("INFO", fmt.Sprintf("Worker %s started (%s)", w.instance, initialStatus), "")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Worker shutting down", map[string]interface{}{"instance": w.instance})
			w.logActivity("INFO", fmt.Sprintf("Worker %s shutting down", w.instance), "")
			w.mu.Lock()
			w.status.IsRunning = false
			w.mu.Unlock()
			w.updateDatabaseStatus(context.WithoutCancel(ctx))
			return

		case <-ticker.C:
			w.run(ctx)

		case <-w.manualTrigger:
			w.logger.Info(ctx, "Worker triggered manually", map[string]interface{}{"instance": w.instance})
			w.logActivity("INFO", fmt.Sprintf("Worker %s triggered manually", w.instance), "")
			w.run(ctx)
		}
	}
}

// handleStartupPause sets global pause if configured
func (w *Worker) handleStartupPause(ctx context.Context) {
	if !w.cfg.Verifier.StartPaused {
		return
	}
	w.logger.Info(ctx, "Worker configured to start paused - setting global pause", map[string]interface{}{
		"instance": w.instance,
	})
	if err := w.workerService.SetGlobalPause(ctx, true); err != nil {
		w.logger.Error(ctx, "Failed to set global pause on startup", err, map[string]interface{}{
			"instance": w.instance,
		})
	}
}

// getInitialWorkerStatus determines the initial status string
func (w *Worker) getInitialWorkerStatus(ctx context.Context) string {
	if paused, reason := w.checkPauseStatus(ctx); paused {
		return reason
	}
	return "running"
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(config.WorkerHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.workerService.UpdateHeartbeat(ctx, w.instance); err != nil {
				w.logger.Error(ctx, "Failed to update heartbeat for worker", err, map[string]interface{}{
					"instance": w.instance,
				})
			}
		}
	}
}

// run executes a single sweep cycle
func (w *Worker) run(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	ctx, span := observability.TraceWorkerFunction(ctx, "run", attribute.String("worker.instance", w.instance))
	defer observability.FinishSpan(span, nil)

	w.mu.Lock()
	w.status.NextRun = w.timeNow().Add(w.cfg.Verifier.SweepInterval)
	w.mu.Unlock()

	if paused, reason := w.checkPauseStatus(ctx); paused {
		span.SetAttributes(attribute.String("pause_reason", reason))
		w.updateActivity(reason)
		w.updateDatabaseStatus(ctx)
		return
	}

	w.mu.Lock()
	w.status.LastRunStart = w.timeNow()
	w.status.CurrentActivity = "Verifying pending quizzes"
	w.mu.Unlock()
	w.updateDatabaseStatus(ctx)

	record, err := w.sweep(ctx)

	w.mu.Lock()
	w.status.LastRunFinish = w.timeNow()
	w.status.CurrentActivity = "Idle"
	if err != nil {
		w.status.LastRunError = err.Error()
	} else {
		w.status.LastRunError = ""
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error(ctx, "Worker run failed", err, map[string]interface{}{"instance": w.instance})
	}
	span.SetAttributes(
		attribute.Int("quizzes.verified", record.QuizzesVerified),
		attribute.Int("items.overridden", record.ItemsOverridden),
	)
	w.recordRunHistory(record, err)
	w.updateDatabaseStatus(ctx)
}

// sweep verifies up to SweepBatch pending quizzes. A failing quiz does not
// stop the others; it stays pending and is retried next run.
func (w *Worker) sweep(ctx context.Context) (RunRecord, error) {
	var record RunRecord

	ids, err := w.quizzes.ListWithUnverified(ctx, w.cfg.Verifier.SweepBatch)
	if err != nil {
		record.Details = "Failed to list pending quizzes"
		return record, contextutils.WrapError(err, "failed to list quizzes awaiting verification")
	}
	if len(ids) == 0 {
		record.Details = "No quizzes awaiting verification"
		return record, nil
	}

	var firstErr error
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		report, err := w.verifyAndCount(ctx, id)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			w.logger.Error(ctx, "Failed to verify quiz", err, map[string]interface{}{
				"instance": w.instance,
				"quiz_id":  id,
			})
			w.logActivity("ERROR", fmt.Sprintf("Verification of quiz %s failed: %v", id, err), id)
			continue
		}
		record.QuizzesVerified++
		record.ItemsOverridden += report.Overridden
	}

	record.Details = fmt.Sprintf("Verified %d of %d pending quizzes, %d answers overridden",
		record.QuizzesVerified, len(ids), record.ItemsOverridden)
	if failed > 0 {
		return record, contextutils.WrapErrorf(firstErr, "%d of %d quizzes failed verification", failed, len(ids))
	}
	return record, nil
}

// VerifyNow sweeps one quiz immediately, outside the schedule
func (w *Worker) VerifyNow(ctx context.Context, quizID string) (services.SweepReport, error) {
	report, err := w.verifyAndCount(ctx, quizID)
	if err == nil {
		w.updateDatabaseStatus(ctx)
	}
	return report, err
}

func (w *Worker) verifyAndCount(ctx context.Context, quizID string) (services.SweepReport, error) {
	report, err := w.verifier.VerifyQuiz(ctx, quizID)
	if err != nil {
		return report, err
	}

	w.mu.Lock()
	w.totalVerified++
	w.totalOverridden += report.Overridden
	w.mu.Unlock()

	if report.Verified > 0 {
		w.logActivity("INFO", fmt.Sprintf("Quiz %s: %d answers settled, %d overridden", quizID, report.Verified, report.Overridden), quizID)
	}
	return report, nil
}

// checkPauseStatus checks global and instance pause
func (w *Worker) checkPauseStatus(ctx context.Context) (bool, string) {
	globalPaused, err := w.workerService.IsGlobalPaused(ctx)
	if err != nil {
		w.logger.Error(ctx, "Failed to check global pause status", err, map[string]interface{}{
			"instance": w.instance,
		})
		return true, "Error checking global pause status"
	}
	if globalPaused {
		return true, "Globally paused"
	}

	w.mu.RLock()
	localPaused := w.status.IsPaused
	w.mu.RUnlock()
	if localPaused {
		return true, "Worker instance paused"
	}

	status, err := w.workerService.GetWorkerStatus(ctx, w.instance)
	if err != nil {
		// Worker status not found might happen during startup - assume not paused
		w.logger.Debug(ctx, "Worker status not found during pause check (assuming not paused)", map[string]interface{}{
			"instance": w.instance,
		})
		return false, ""
	}
	if status != nil && status.IsPaused {
		return true, "Worker instance paused"
	}
	return false, ""
}

// recordRunHistory records the run in history and trims the slice
func (w *Worker) recordRunHistory(record RunRecord, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	record.StartTime = w.status.LastRunStart
	record.EndTime = w.status.LastRunFinish
	record.Duration = record.EndTime.Sub(record.StartTime)
	if err != nil {
		record.Status = "Failure"
	} else {
		record.Status = "Success"
	}
	w.history = append(w.history, record)
	if limit := w.cfg.Server.MaxHistory; limit > 0 && len(w.history) > limit {
		w.history = w.history[len(w.history)-limit:]
	}
}

// GetStatus returns the current worker status
func (w *Worker) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// GetHistory returns the worker's run history
func (w *Worker) GetHistory() []RunRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	history := make([]RunRecord, len(w.history))
	copy(history, w.history)
	return history
}

// GetActivityLogs returns recent activity logs
func (w *Worker) GetActivityLogs() []ActivityLog {
	w.mu.RLock()
	defer w.mu.RUnlock()
	logs := make([]ActivityLog, len(w.activityLogs))
	copy(logs, w.activityLogs)
	return logs
}

// GetInstance returns the worker instance name
func (w *Worker) GetInstance() string {
	return w.instance
}

// TriggerManualRun triggers a manual worker run
func (w *Worker) TriggerManualRun() {
	ctx := context.Background()
	select {
	case w.manualTrigger <- struct{}{}:
		w.logger.Info(ctx, "Manual trigger sent to worker", map[string]interface{}{"instance": w.instance})
	default:
		w.logger.Info(ctx, "Manual trigger already pending for worker", map[string]interface{}{"instance": w.instance})
	}
}

// Pause pauses the worker
func (w *Worker) Pause(ctx context.Context) {
	if err := w.workerService.PauseWorker(ctx, w.instance); err != nil {
		w.logger.Warn(ctx, "Failed to pause worker in service", map[string]interface{}{
			"instance": w.instance,
			"error":    err.Error(),
		})
	}
	w.logger.Info(ctx, "Worker paused", map[string]interface{}{"instance": w.instance})
	w.logActivity("INFO", fmt.Sprintf("Worker %s paused", w.instance), "")
	w.mu.Lock()
	w.status.IsPaused = true
	w.mu.Unlock()
	w.updateDatabaseStatus(ctx)
}

// Resume resumes the worker
func (w *Worker) Resume(ctx context.Context) {
	if err := w.workerService.ResumeWorker(ctx, w.instance); err != nil {
		w.logger.Warn(ctx, "Failed to resume worker in service", map[string]interface{}{
			"instance": w.instance,
			"error":    err.Error(),
		})
		// Do not unpause if resume failed
		w.updateDatabaseStatus(ctx)
		return
	}
	w.logger.Info(ctx, "Worker resumed", map[string]interface{}{"instance": w.instance})
	w.logActivity("INFO", fmt.Sprintf("Worker %s resumed", w.instance), "")
	w.mu.Lock()
	w.status.IsPaused = false
	w.mu.Unlock()
	w.updateDatabaseStatus(ctx)
}

// Shutdown stops the loop and waits for the current run to finish. It is a
// no-op when Start was never called.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.logger.Info(ctx, "Worker starting shutdown", map[string]interface{}{"instance": w.instance})
	w.cancel()

	w.mu.RLock()
	started := w.status.IsRunning
	w.mu.RUnlock()
	if started {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	w.logger.Info(ctx, "Worker shutdown completed", map[string]interface{}{"instance": w.instance})
	return nil
}

// updateDatabaseStatus updates the worker status in the database
func (w *Worker) updateDatabaseStatus(ctx context.Context) {
	w.mu.RLock()
	dbStatus := &models.WorkerStatus{
		WorkerInstance:       w.instance,
		IsRunning:            w.status.IsRunning,
		IsPaused:             w.status.IsPaused,
		CurrentActivity:      sql.NullString{String: w.status.CurrentActivity, Valid: w.status.CurrentActivity != ""},
		LastHeartbeat:        sql.NullTime{Time: w.timeNow(), Valid: true},
		LastRunStart:         sql.NullTime{Time: w.status.LastRunStart, Valid: !w.status.LastRunStart.IsZero()},
		LastRunFinish:        sql.NullTime{Time: w.status.LastRunFinish, Valid: !w.status.LastRunFinish.IsZero()},
		LastRunError:         sql.NullString{String: w.status.LastRunError, Valid: w.status.LastRunError != ""},
		TotalQuizzesVerified: w.totalVerified,
		TotalItemsOverridden: w.totalOverridden,
		TotalRuns:            len(w.history),
	}
	w.mu.RUnlock()

	if err := w.workerService.UpdateWorkerStatus(ctx, w.instance, dbStatus); err != nil {
		w.logger.Error(ctx, "Failed to update worker status in database", err, map[string]interface{}{
			"instance": w.instance,
		})
	}
}

func (w *Worker) updateActivity(activity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentActivity = activity
}

// logActivity adds an activity log entry
func (w *Worker) logActivity(level, message, quizID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.activityLogs = append(w.activityLogs, ActivityLog{
		Timestamp: w.timeNow(),
		Level:     level,
		Message:   message,
		QuizID:    quizID,
	})
	if limit := w.cfg.Server.MaxActivityLogs; limit > 0 && len(w.activityLogs) > limit {
		w.activityLogs = w.activityLogs[len(w.activityLogs)-limit:]
	}
}
