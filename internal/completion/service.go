package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mealforge/backend/internal/ledger"
	"github.com/mealforge/backend/internal/metrics"
	"github.com/mealforge/backend/internal/models"
)

// ErrJobNotFound is returned for callbacks referencing an unknown job.
var ErrJobNotFound = errors.New("job not found")

// JobStore is the repository surface the receiver needs. MarkSuccess and
// MarkError report applied=false when another writer already finalized the
// job, which keeps duplicated callbacks from double-refunding.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, result json.RawMessage) (applied bool, err error)
	MarkError(ctx context.Context, id uuid.UUID, message, code string) (applied bool, err error)
}

// ResultValidator soft-checks the worker's result payload.
type ResultValidator interface {
	ValidateResult(jobType string, result json.RawMessage) error
}

type Service interface {
	Complete(ctx context.Context, jobID uuid.UUID, out Outcome) (*models.Job, error)
}

type service struct {
	repo      JobStore
	ledger    ledger.Service
	validator ResultValidator
	log       *slog.Logger
}

func NewService(repo JobStore, ledgerSvc ledger.Service, validator ResultValidator, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, ledger: ledgerSvc, validator: validator, log: log}
}

var _ Service = (*service)(nil)

// Complete applies a worker-reported outcome. Callbacks may arrive late,
// duplicated, or concurrently with each other; every path here is
// idempotent. Refunds for worker-reported failure only fire when this call
// actually finalized the job.
func (s *service) Complete(ctx context.Context, jobID uuid.UUID, out Outcome) (*models.Job, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		// Transient store failures must surface as retryable, not as a
		// 404 the worker would treat as permanent and never redeliver.
		return nil, fmt.Errorf("load job: %w", err)
	}

	_, effects := Apply(job.Status, out)
	if len(effects) == 0 {
		// Already terminal.
		return job, nil
	}

	for _, effect := range effects {
		switch effect {
		case EffectStoreSuccess:
			if s.validator != nil {
				if valErr := s.validator.ValidateResult(job.JobType, out.Result); valErr != nil {
					s.log.Warn("result validation failed (soft flag)", "job_id", jobID, "error", valErr)
				}
			}
			applied, err := s.repo.MarkSuccess(ctx, jobID, out.Result)
			if err != nil {
				return nil, fmt.Errorf("mark success: %w", err)
			}
			if applied {
				metrics.Completions.WithLabelValues(models.JobStatusSuccess).Inc()
			}

		case EffectStoreError:
			message := out.Error
			if message == "" {
				message = "worker reported failure"
			}
			applied, err := s.repo.MarkError(ctx, jobID, message, models.ErrCodeWorkerFailed)
			if err != nil {
				return nil, fmt.Errorf("mark error: %w", err)
			}
			if !applied {
				// Raced with another finalizer; skip the refund effect,
				// whichever write won already arranged compensation.
				final, err := s.repo.GetByID(ctx, jobID)
				if err != nil {
					return nil, err
				}
				return final, nil
			}
			metrics.Completions.WithLabelValues(models.JobStatusError).Inc()

		case EffectRefund:
			if err := s.ledger.Refund(ctx, job.AccountID, job.IdempotencyKey); err != nil {
				return nil, fmt.Errorf("refund: %w", err)
			}
			metrics.Refunds.WithLabelValues(models.ErrCodeWorkerFailed).Inc()
		}
	}

	return s.repo.GetByID(ctx, jobID)
}
