package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealforge/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const jobColumns = `id, account_id, job_type, input_payload, idempotency_key, status, result, error_message, error_code, dispatch_attempts, dispatched_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.AccountID, &j.JobType, &j.InputPayload, &j.IdempotencyKey, &j.Status, &j.Result, &j.ErrorMessage, &j.ErrorCode, &j.DispatchAttempts, &j.DispatchedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Insert attempts to create the job row. The unique constraint on
// (account_id, idempotency_key) decides the race between concurrent
// callers: exactly one insert wins, the rest see created=false and must
// read back the winner's row.
func (r *Repository) Insert(ctx context.Context, j *models.Job) (created bool, err error) {
	err = r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, account_id, job_type, input_payload, idempotency_key, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, idempotency_key) DO NOTHING
		RETURNING created_at, updated_at
	`, j.ID, j.AccountID, j.JobType, j.InputPayload, j.IdempotencyKey, j.Status).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetByKey returns the job owning the (account, idempotency key) pair.
func (r *Repository) GetByKey(ctx context.Context, accountID uuid.UUID, idempotencyKey string) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE account_id = $1 AND idempotency_key = $2
	`, accountID, idempotencyKey))
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// MarkRunning transitions queued -> running after a successful dispatch.
func (r *Repository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, dispatch_attempts = dispatch_attempts + 1, dispatched_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, models.JobStatusRunning, models.JobStatusQueued)
	return err
}

// MarkSuccess stores the worker's result and finalizes the job. The status
// guard makes terminal states immutable: a duplicate completion affects
// zero rows and reports applied=false.
func (r *Repository) MarkSuccess(ctx context.Context, id uuid.UUID, result json.RawMessage) (applied bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, result = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, models.JobStatusSuccess, result, models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkError finalizes the job with a human-readable message and a machine
// code. Same terminal guard as MarkSuccess.
func (r *Repository) MarkError(ctx context.Context, id uuid.UUID, message, code string) (applied bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, error_message = $3, error_code = $4, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ($5, $6)
	`, id, models.JobStatusError, message, code, models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListRunningLongerThan returns running jobs dispatched before the cutoff,
// for the stuck-job monitor.
func (r *Repository) ListRunningLongerThan(ctx context.Context, cutoffSeconds int) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND dispatched_at < now() - make_interval(secs => $2)
		ORDER BY dispatched_at ASC
	`, models.JobStatusRunning, cutoffSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}
