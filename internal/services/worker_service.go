package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// ErrSettingNotFound is returned when a setting is not found in the database
var ErrSettingNotFound = errors.New("setting not found")

const globalPauseKey = "global_pause"

// workerHealthWindow is how recent a heartbeat must be for a worker to count as healthy
const workerHealthWindow = 5 * time.Minute

// WorkerServiceInterface defines the persisted state of the verification sweep worker
type WorkerServiceInterface interface {
	// Settings management
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	IsGlobalPaused(ctx context.Context) (bool, error)
	SetGlobalPause(ctx context.Context, paused bool) error

	// Status management
	UpdateWorkerStatus(ctx context.Context, instance string, status *models.WorkerStatus) error
	GetWorkerStatus(ctx context.Context, instance string) (*models.WorkerStatus, error)
	GetAllWorkerStatuses(ctx context.Context) ([]models.WorkerStatus, error)
	UpdateHeartbeat(ctx context.Context, instance string) error
	IsWorkerHealthy(ctx context.Context, instance string) (bool, error)

	// Control operations
	PauseWorker(ctx context.Context, instance string) error
	ResumeWorker(ctx context.Context, instance string) error
	GetWorkerHealth(ctx context.Context) (map[string]interface{}, error)
}

var _ WorkerServiceInterface = (*WorkerService)(nil)

// WorkerService implements worker management operations
type WorkerService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewWorkerServiceWithLogger creates a new WorkerService instance with logger
func NewWorkerServiceWithLogger(db *sql.DB, logger *observability.Logger) *WorkerService {
	return &WorkerService{
		db:     db,
		logger: logger,
	}
}

// GetSetting retrieves a setting value by key
func (s *WorkerService) GetSetting(ctx context.Context, key string) (result0 string, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_setting", attribute.String("setting.key", key))
	defer observability.FinishSpan(span, &err)

	if strings.TrimSpace(key) == "" {
		return "", contextutils.WrapError(contextutils.ErrInvalidInput, "setting key cannot be empty")
	}

	var value string
	err = s.db.QueryRowContext(ctx, `SELECT setting_value FROM worker_settings WHERE setting_key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug(ctx, "Setting not found", map[string]interface{}{"setting_key": key})
			return "", contextutils.WrapErrorf(ErrSettingNotFound, "%s", key)
		}
		s.logger.Error(ctx, "Failed to get setting", err, map[string]interface{}{"setting_key": key})
		return "", contextutils.WrapErrorf(err, "failed to get setting %s", key)
	}

	return value, nil
}

// SetSetting updates or creates a setting
func (s *WorkerService) SetSetting(ctx context.Context, key, value string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "set_setting", attribute.String("setting.key", key))
	defer observability.FinishSpan(span, &err)

	if strings.TrimSpace(key) == "" {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "setting key cannot be empty")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_settings (setting_key, setting_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (setting_key) DO UPDATE SET
			setting_value = EXCLUDED.setting_value,
			updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		s.logger.Error(ctx, "Failed to set setting", err, map[string]interface{}{"setting_key": key, "setting_value": value})
		return contextutils.WrapErrorf(err, "failed to set setting %s", key)
	}

	return nil
}

// IsGlobalPaused checks if the worker is globally paused. A missing setting means not paused.
func (s *WorkerService) IsGlobalPaused(ctx context.Context) (result0 bool, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "is_global_paused")
	defer observability.FinishSpan(span, &err)

	value, err := s.GetSetting(ctx, globalPauseKey)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

// SetGlobalPause sets the global pause state
func (s *WorkerService) SetGlobalPause(ctx context.Context, paused bool) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "set_global_pause", attribute.Bool("paused", paused))
	defer observability.FinishSpan(span, &err)

	value := "false"
	if paused {
		value = "true"
	}
	if err := s.SetSetting(ctx, globalPauseKey, value); err != nil {
		return err
	}

	s.logger.Info(ctx, "Global pause state updated", map[string]interface{}{"global_paused": paused})
	return nil
}

// UpdateWorkerStatus upserts the status row of instance
func (s *WorkerService) UpdateWorkerStatus(ctx context.Context, instance string, status *models.WorkerStatus) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "update_worker_status",
		attribute.String("worker.instance", instance),
		attribute.Bool("worker.is_running", status.IsRunning),
		attribute.Bool("worker.is_paused", status.IsPaused),
	)
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_status (
			worker_instance, is_running, is_paused, current_activity,
			last_heartbeat, last_run_start, last_run_finish, last_run_error,
			total_quizzes_verified, total_items_overridden, total_runs, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (worker_instance) DO UPDATE SET
			is_running = EXCLUDED.is_running,
			is_paused = EXCLUDED.is_paused,
			current_activity = EXCLUDED.current_activity,
			last_heartbeat = EXCLUDED.last_heartbeat,
			last_run_start = EXCLUDED.last_run_start,
			last_run_finish = EXCLUDED.last_run_finish,
			last_run_error = EXCLUDED.last_run_error,
			total_quizzes_verified = EXCLUDED.total_quizzes_verified,
			total_items_overridden = EXCLUDED.total_items_overridden,
			total_runs = EXCLUDED.total_runs,
			updated_at = EXCLUDED.updated_at
	`, instance, status.IsRunning, status.IsPaused, status.CurrentActivity,
		status.LastHeartbeat, status.LastRunStart, status.LastRunFinish,
		status.LastRunError, status.TotalQuizzesVerified, status.TotalItemsOverridden, status.TotalRuns)
	if err != nil {
		s.logger.Error(ctx, "Failed to update worker status", err, map[string]interface{}{"worker_instance": instance})
		return contextutils.WrapErrorf(err, "failed to update worker status for instance %s", instance)
	}
	return nil
}

const workerStatusFields = `worker_instance, is_running, is_paused, current_activity,
	last_heartbeat, last_run_start, last_run_finish, last_run_error,
	total_quizzes_verified, total_items_overridden, total_runs`

func scanWorkerStatus(scan func(dest ...interface{}) error) (*models.WorkerStatus, error) {
	var status models.WorkerStatus
	err := scan(
		&status.WorkerInstance, &status.IsRunning, &status.IsPaused, &status.CurrentActivity,
		&status.LastHeartbeat, &status.LastRunStart, &status.LastRunFinish, &status.LastRunError,
		&status.TotalQuizzesVerified, &status.TotalItemsOverridden, &status.TotalRuns,
	)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// GetWorkerStatus retrieves worker status by instance
func (s *WorkerService) GetWorkerStatus(ctx context.Context, instance string) (result0 *models.WorkerStatus, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_worker_status", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	row := s.db.QueryRowContext(ctx, `SELECT `+workerStatusFields+` FROM worker_status WHERE worker_instance = $1`, instance)
	status, err := scanWorkerStatus(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "worker status not found for instance %s", instance)
		}
		s.logger.Error(ctx, "Failed to get worker status", err, map[string]interface{}{"worker_instance": instance})
		return nil, contextutils.WrapErrorf(err, "failed to get worker status for instance %s", instance)
	}
	return status, nil
}

// GetAllWorkerStatuses retrieves all worker statuses
func (s *WorkerService) GetAllWorkerStatuses(ctx context.Context) (result0 []models.WorkerStatus, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_all_worker_statuses")
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `SELECT `+workerStatusFields+` FROM worker_status ORDER BY worker_instance`)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get all worker statuses")
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error(ctx, "Failed to close rows", err, nil)
		}
	}()

	var statuses []models.WorkerStatus
	for rows.Next() {
		status, err := scanWorkerStatus(rows.Scan)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to scan worker status row")
		}
		statuses = append(statuses, *status)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating worker status rows")
	}
	return statuses, nil
}

// UpdateHeartbeat updates the heartbeat for a worker instance
func (s *WorkerService) UpdateHeartbeat(ctx context.Context, instance string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "update_heartbeat", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_status (worker_instance, last_heartbeat, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (worker_instance) DO UPDATE SET
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = EXCLUDED.updated_at
	`, instance)
	if err != nil {
		s.logger.Error(ctx, "Failed to update heartbeat", err, map[string]interface{}{"worker_instance": instance})
		return contextutils.WrapErrorf(err, "failed to update heartbeat for instance %s", instance)
	}
	return nil
}

// IsWorkerHealthy checks if a worker instance sent a heartbeat recently
func (s *WorkerService) IsWorkerHealthy(ctx context.Context, instance string) (result0 bool, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "is_worker_healthy", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	var lastHeartbeat sql.NullTime
	err = s.db.QueryRowContext(ctx, `SELECT last_heartbeat FROM worker_status WHERE worker_instance = $1`, instance).Scan(&lastHeartbeat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, contextutils.WrapErrorf(err, "failed to check worker health for instance %s", instance)
	}
	return lastHeartbeat.Valid && time.Since(lastHeartbeat.Time) < workerHealthWindow, nil
}

// PauseWorker pauses a specific worker instance
func (s *WorkerService) PauseWorker(ctx context.Context, instance string) (err error) {
	return s.setInstancePaused(ctx, instance, true)
}

// ResumeWorker resumes a specific worker instance
func (s *WorkerService) ResumeWorker(ctx context.Context, instance string) (err error) {
	return s.setInstancePaused(ctx, instance, false)
}

func (s *WorkerService) setInstancePaused(ctx context.Context, instance string, paused bool) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "set_instance_paused",
		attribute.String("worker.instance", instance),
		attribute.Bool("paused", paused),
	)
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_status (worker_instance, is_paused, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_instance) DO UPDATE SET
			is_paused = EXCLUDED.is_paused,
			updated_at = EXCLUDED.updated_at
	`, instance, paused)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to update pause state of worker instance %s", instance)
	}

	s.logger.Info(ctx, "Worker pause state updated", map[string]interface{}{"worker_instance": instance, "paused": paused})
	return nil
}

// GetWorkerHealth summarizes every known worker instance
func (s *WorkerService) GetWorkerHealth(ctx context.Context) (result0 map[string]interface{}, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_worker_health")
	defer observability.FinishSpan(span, &err)

	statuses, err := s.GetAllWorkerStatuses(ctx)
	if err != nil {
		return nil, err
	}

	globalPaused, err := s.IsGlobalPaused(ctx)
	if err != nil {
		s.logger.Error(ctx, "Failed to get global pause state", err, nil)
		globalPaused = false
	}

	instances := make([]map[string]interface{}, 0, len(statuses))
	healthyCount := 0
	for _, status := range statuses {
		healthy := status.LastHeartbeat.Valid && time.Since(status.LastHeartbeat.Time) < workerHealthWindow
		if healthy {
			healthyCount++
		}
		instances = append(instances, map[string]interface{}{
			"worker_instance":        status.WorkerInstance,
			"healthy":                healthy,
			"is_running":             status.IsRunning,
			"is_paused":              status.IsPaused,
			"last_run_error":         status.LastRunError.String,
			"total_quizzes_verified": status.TotalQuizzesVerified,
			"total_items_overridden": status.TotalItemsOverridden,
			"total_runs":             status.TotalRuns,
		})
	}

	return map[string]interface{}{
		"global_paused":    globalPaused,
		"worker_instances": instances,
		"total_count":      len(statuses),
		"healthy_count":    healthyCount,
	}, nil
}
