//go:build integration

package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkerService(t *testing.T) (*WorkerService, *sql.DB) {
	db := SharedTestDBSetup(t)
	t.Cleanup(func() { _ = db.Close() })
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	return NewWorkerServiceWithLogger(db, logger), db
}

func TestWorkerService_Settings(t *testing.T) {
	service, _ := newTestWorkerService(t)
	ctx := context.Background()

	t.Run("Get non-existent setting", func(t *testing.T) {
		_, err := service.GetSetting(ctx, "non_existent_key")
		assert.ErrorIs(t, err, ErrSettingNotFound)
	})

	t.Run("Set and update setting", func(t *testing.T) {
		require.NoError(t, service.SetSetting(ctx, "test_key", "one"))
		require.NoError(t, service.SetSetting(ctx, "test_key", "two"))

		val, err := service.GetSetting(ctx, "test_key")
		require.NoError(t, err)
		assert.Equal(t, "two", val)
	})

	t.Run("Empty key rejected", func(t *testing.T) {
		assert.Error(t, service.SetSetting(ctx, " ", "x"))
	})
}

func TestWorkerService_GlobalPause(t *testing.T) {
	service, _ := newTestWorkerService(t)
	ctx := context.Background()

	paused, err := service.IsGlobalPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, service.SetGlobalPause(ctx, true))
	paused, err = service.IsGlobalPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, service.SetGlobalPause(ctx, false))
	paused, err = service.IsGlobalPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestWorkerService_StatusLifecycle(t *testing.T) {
	service, _ := newTestWorkerService(t)
	ctx := context.Background()

	_, err := service.GetWorkerStatus(ctx, "sweep-1")
	assert.Error(t, err)

	status := &models.WorkerStatus{
		WorkerInstance:       "sweep-1",
		IsRunning:            true,
		CurrentActivity:      sql.NullString{String: "verifying", Valid: true},
		LastHeartbeat:        sql.NullTime{Time: time.Now(), Valid: true},
		TotalQuizzesVerified: 4,
		TotalItemsOverridden: 1,
		TotalRuns:            2,
	}
	require.NoError(t, service.UpdateWorkerStatus(ctx, "sweep-1", status))

	got, err := service.GetWorkerStatus(ctx, "sweep-1")
	require.NoError(t, err)
	assert.True(t, got.IsRunning)
	assert.Equal(t, "verifying", got.CurrentActivity.String)
	assert.Equal(t, 4, got.TotalQuizzesVerified)
	assert.Equal(t, 1, got.TotalItemsOverridden)

	healthy, err := service.IsWorkerHealthy(ctx, "sweep-1")
	require.NoError(t, err)
	assert.True(t, healthy)

	require.NoError(t, service.PauseWorker(ctx, "sweep-1"))
	got, err = service.GetWorkerStatus(ctx, "sweep-1")
	require.NoError(t, err)
	assert.True(t, got.IsPaused)

	require.NoError(t, service.ResumeWorker(ctx, "sweep-1"))
	health, err := service.GetWorkerHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, health["total_count"])
	assert.Equal(t, 1, health["healthy_count"])
}

func TestWorkerService_UpdateHeartbeatCreatesRow(t *testing.T) {
	service, _ := newTestWorkerService(t)
	ctx := context.Background()

	require.NoError(t, service.UpdateHeartbeat(ctx, "sweep-2"))
	healthy, err := service.IsWorkerHealthy(ctx, "sweep-2")
	require.NoError(t, err)
	assert.True(t, healthy)

	healthy, err = service.IsWorkerHealthy(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, healthy)
}
