package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mealforge/backend/internal/dispatch"
	"github.com/mealforge/backend/internal/ledger"
	"github.com/mealforge/backend/internal/metrics"
	"github.com/mealforge/backend/internal/models"
)

const maxIdempotencyKeyLen = 255

// InsufficientCreditError carries what the client needs to act on a
// payment-required outcome.
type InsufficientCreditError struct {
	Balance  int
	Required int
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: have %d, need %d", e.Balance, e.Required)
}

// StartRequest is one submission of asynchronous work.
type StartRequest struct {
	JobType        string
	Payload        json.RawMessage
	IdempotencyKey string
}

type Service interface {
	Start(ctx context.Context, accountID uuid.UUID, req StartRequest) (*models.Job, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error)
}

// JobStore is the repository surface the service needs.
type JobStore interface {
	Insert(ctx context.Context, j *models.Job) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetByKey(ctx context.Context, accountID uuid.UUID, idempotencyKey string) (*models.Job, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkError(ctx context.Context, id uuid.UUID, message, code string) (applied bool, err error)
}

// WorkerDispatcher hands a job to an external worker.
type WorkerDispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// InputValidator checks a payload against the job type's schema.
type InputValidator interface {
	ValidateInput(jobType string, input json.RawMessage) error
}

type service struct {
	repo       JobStore
	ledger     ledger.Service
	dispatcher WorkerDispatcher
	validator  InputValidator
	log        *slog.Logger
}

func NewService(repo JobStore, ledgerSvc ledger.Service, dispatcher WorkerDispatcher, validator InputValidator, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, ledger: ledgerSvc, dispatcher: dispatcher, validator: validator, log: log}
}

var _ Service = (*service)(nil)

// Start runs the submission pipeline: validate, debit, upsert, dispatch.
//
// The (account, idempotency key) pair is the dedup unit. A resubmission
// observes the existing row and returns its current state without a second
// debit or dispatch; the ledger's own idempotency check covers the narrow
// race where two submissions debit before either wins the job insert.
// Credit-affecting failures past the debit are resolved locally by a
// refund before returning.
func (s *service) Start(ctx context.Context, accountID uuid.UUID, req StartRequest) (*models.Job, error) {
	if req.IdempotencyKey == "" || len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return nil, fmt.Errorf("%w: idempotency_key must be 1..%d characters", ErrValidation, maxIdempotencyKeyLen)
	}
	if models.IsRefundKey(req.IdempotencyKey) {
		return nil, fmt.Errorf("%w: idempotency_key prefix %q is reserved", ErrValidation, "refund-of-")
	}
	if _, ok := models.CostByFeature[req.JobType]; !ok {
		return nil, fmt.Errorf("%w: unsupported job type %q", ErrValidation, req.JobType)
	}
	if err := s.validator.ValidateInput(req.JobType, req.Payload); err != nil {
		return nil, err
	}

	debit, err := s.ledger.Debit(ctx, accountID, req.JobType, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("debit: %w", err)
	}
	if !debit.Granted {
		metrics.DebitsDenied.WithLabelValues(req.JobType).Inc()
		return nil, &InsufficientCreditError{Balance: debit.BalanceBefore, Required: debit.Required}
	}
	metrics.DebitsGranted.WithLabelValues(req.JobType).Inc()

	job := &models.Job{
		ID:             uuid.New(),
		AccountID:      accountID,
		JobType:        req.JobType,
		InputPayload:   req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Status:         models.JobStatusQueued,
	}
	created, err := s.repo.Insert(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if !created {
		// Another caller won the insert race, or this key was submitted
		// before. Return the winner's row as-is; if it is terminal the
		// stored result/error is the response.
		existing, err := s.repo.GetByKey(ctx, accountID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("load existing job: %w", err)
		}
		metrics.JobsDeduplicated.WithLabelValues(req.JobType).Inc()
		return existing, nil
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		return s.failDispatch(ctx, job, err)
	}

	if err := s.repo.MarkRunning(ctx, job.ID); err != nil {
		// Dispatch already succeeded; surface the job as running anyway
		// and let the completion callback settle the final state.
		s.log.Error("mark running failed", "job_id", job.ID, "error", err)
	}
	metrics.JobsStarted.WithLabelValues(req.JobType).Inc()
	return s.repo.GetByID(ctx, job.ID)
}

// failDispatch finalizes a job whose dispatch call failed: mark error,
// refund the debit, and hand the caller a typed error for status mapping.
func (s *service) failDispatch(ctx context.Context, job *models.Job, cause error) (*models.Job, error) {
	code := models.ErrCodeDispatchFailed
	message := "worker did not accept the job; it is safe to retry with a new idempotency key"
	if errors.Is(cause, dispatch.ErrNoWorkerAddress) {
		code = models.ErrCodeWorkerUnavailable
		message = "no worker is configured for this job type"
	}
	metrics.DispatchFailures.WithLabelValues(job.JobType).Inc()
	s.log.Warn("dispatch failed, refunding", "job_id", job.ID, "job_type", job.JobType, "code", code, "error", cause)

	applied, err := s.repo.MarkError(ctx, job.ID, message, code)
	if err != nil {
		return nil, fmt.Errorf("mark error: %w", err)
	}
	if !applied {
		// The dispatch round-trip failed on our side, but the worker got
		// the job and its callback finalized it first. The completion
		// receiver already settled the outcome; refunding here would pay
		// back a debit for work that was delivered.
		final, err := s.repo.GetByID(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		s.log.Info("dispatch error raced with a completion callback", "job_id", job.ID, "status", final.Status)
		return final, nil
	}
	if err := s.ledger.Refund(ctx, job.AccountID, job.IdempotencyKey); err != nil {
		s.log.Error("refund after dispatch failure failed", "job_id", job.ID, "error", err)
		return nil, fmt.Errorf("refund: %w", err)
	}
	metrics.Refunds.WithLabelValues(code).Inc()

	final, err := s.repo.GetByID(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return final, cause
}

func (s *service) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.repo.GetByID(ctx, jobID)
}

func (s *service) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error) {
	return s.repo.ListByAccount(ctx, accountID)
}
