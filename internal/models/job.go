package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job status state machine:
// queued -> running -> {success, error}, plus queued -> error when the
// dispatch call itself fails. success and error are terminal.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusError   = "error"
)

// Machine-readable error codes surfaced alongside human-readable messages.
const (
	ErrCodeValidation         = "validation_failed"
	ErrCodeInsufficientCredit = "insufficient_credit"
	ErrCodeWorkerUnavailable  = "worker_unavailable"
	ErrCodeDispatchFailed     = "dispatch_failed"
	ErrCodeWorkerFailed       = "worker_failed"
	ErrCodeInternal           = "internal"
)

// Job is one user-requested unit of asynchronous work. The pair
// (AccountID, IdempotencyKey) is the dedup unit: resubmission with the
// same key returns the same row.
type Job struct {
	ID               uuid.UUID       `json:"id"`
	AccountID        uuid.UUID       `json:"account_id"`
	JobType          string          `json:"job_type"`
	InputPayload     json.RawMessage `json:"input_payload"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Status           string          `json:"status"`
	Result           json.RawMessage `json:"result,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	ErrorCode        *string         `json:"error_code,omitempty"`
	DispatchAttempts int             `json:"dispatch_attempts"`
	DispatchedAt     *time.Time      `json:"dispatched_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state. Terminal
// jobs are immutable.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSuccess || j.Status == JobStatusError
}
