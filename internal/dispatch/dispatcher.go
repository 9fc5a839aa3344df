package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mealforge/backend/internal/models"
)

// DefaultTimeout bounds one dispatch round-trip. A hung worker cannot hold
// the request handler past this deadline.
const DefaultTimeout = 30 * time.Second

// ErrNoWorkerAddress means no address is configured for the job type. This
// is a fatal configuration error, not a transient one.
var ErrNoWorkerAddress = errors.New("no worker address configured")

// ErrDispatchFailed means every configured address refused the job or
// timed out. The caller refunds and reports service-unavailable.
var ErrDispatchFailed = errors.New("worker dispatch failed")

// Dispatcher hands jobs to external workers over HTTP. It blocks only for
// the network round-trip of the dispatch call, never for the work itself.
type Dispatcher struct {
	client      *http.Client
	addresses   map[string][]string
	callbackURL func(jobID uuid.UUID) string
	log         *slog.Logger
}

// New returns a Dispatcher. addresses maps each job type to an ordered
// list of worker endpoints; entries after the first are fallbacks.
// callbackBase is the externally-reachable base URL of this service.
func New(addresses map[string][]string, callbackBase string, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		client:    &http.Client{Timeout: timeout},
		addresses: addresses,
		callbackURL: func(jobID uuid.UUID) string {
			return fmt.Sprintf("%s/v1/jobs/%s/callback", callbackBase, jobID)
		},
		log: log,
	}
}

// dispatchPayload is the JSON body sent to the worker's endpoint.
type dispatchPayload struct {
	JobID          uuid.UUID       `json:"job_id"`
	AccountID      uuid.UUID       `json:"account_id"`
	JobType        string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	CallbackURL    string          `json:"callback_url"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Dispatch sends the job to the first worker address that accepts it.
// Returns ErrNoWorkerAddress when the job type has no configured address
// and ErrDispatchFailed when every address refused or timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	addrs := d.addresses[job.JobType]
	if len(addrs) == 0 {
		return ErrNoWorkerAddress
	}

	body, err := json.Marshal(dispatchPayload{
		JobID:          job.ID,
		AccountID:      job.AccountID,
		JobType:        job.JobType,
		Payload:        job.InputPayload,
		CallbackURL:    d.callbackURL(job.ID),
		IdempotencyKey: job.IdempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}

	for _, addr := range addrs {
		if err := d.post(ctx, addr, body); err != nil {
			d.log.Warn("worker dispatch attempt failed",
				"job_id", job.ID, "job_type", job.JobType, "worker", addr, "error", err)
			continue
		}
		return nil
	}
	return ErrDispatchFailed
}

func (d *Dispatcher) post(ctx context.Context, addr string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("worker returned status %d", resp.StatusCode)
	}
	return nil
}
