// Package models defines data structures used throughout the generation service.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// User represents a registered quiz taker
type User struct {
	ID             int            `json:"id"`
	Username       string         `json:"username"`
	Email          string         `json:"email"`
	FullName       sql.NullString `json:"full_name"`
	EducationLevel sql.NullString `json:"education_level"`
	PasswordHash   string         `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MarshalJSON customizes JSON marshaling for User to handle sql.NullString properly
func (u User) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID             int       `json:"id"`
		Username       string    `json:"username"`
		Email          string    `json:"email"`
		FullName       *string   `json:"full_name"`
		EducationLevel *string   `json:"education_level"`
		CreatedAt      time.Time `json:"created_at"`
		UpdatedAt      time.Time `json:"updated_at"`
	}{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		FullName:       nullStringToPointer(u.FullName),
		EducationLevel: nullStringToPointer(u.EducationLevel),
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	})
}

// Helper functions for converting sql.Null types to pointers
func nullStringToPointer(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullTimeToPointer(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// WorkerStatus represents verification sweep health and activity
type WorkerStatus struct {
	WorkerInstance       string         `json:"worker_instance"`
	IsRunning            bool           `json:"is_running"`
	IsPaused             bool           `json:"is_paused"`
	CurrentActivity      sql.NullString `json:"current_activity"`
	LastHeartbeat        sql.NullTime   `json:"last_heartbeat"`
	LastRunStart         sql.NullTime   `json:"last_run_start"`
	LastRunFinish        sql.NullTime   `json:"last_run_finish"`
	LastRunError         sql.NullString `json:"last_run_error"`
	TotalQuizzesVerified int            `json:"total_quizzes_verified"`
	TotalItemsOverridden int            `json:"total_items_overridden"`
	TotalRuns            int            `json:"total_runs"`
}

// MarshalJSON customizes JSON marshaling for WorkerStatus to handle sql.NullString and sql.NullTime properly
func (ws WorkerStatus) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		WorkerInstance       string     `json:"worker_instance"`
		IsRunning            bool       `json:"is_running"`
		IsPaused             bool       `json:"is_paused"`
		CurrentActivity      *string    `json:"current_activity"`
		LastHeartbeat        *time.Time `json:"last_heartbeat"`
		LastRunStart         *time.Time `json:"last_run_start"`
		LastRunFinish        *time.Time `json:"last_run_finish"`
		LastRunError         *string    `json:"last_run_error"`
		TotalQuizzesVerified int        `json:"total_quizzes_verified"`
		TotalItemsOverridden int        `json:"total_items_overridden"`
		TotalRuns            int        `json:"total_runs"`
	}{
		WorkerInstance:       ws.WorkerInstance,
		IsRunning:            ws.IsRunning,
		IsPaused:             ws.IsPaused,
		CurrentActivity:      nullStringToPointer(ws.CurrentActivity),
		LastHeartbeat:        nullTimeToPointer(ws.LastHeartbeat),
		LastRunStart:         nullTimeToPointer(ws.LastRunStart),
		LastRunFinish:        nullTimeToPointer(ws.LastRunFinish),
		LastRunError:         nullStringToPointer(ws.LastRunError),
		TotalQuizzesVerified: ws.TotalQuizzesVerified,
		TotalItemsOverridden: ws.TotalItemsOverridden,
		TotalRuns:            ws.TotalRuns,
	})
}
