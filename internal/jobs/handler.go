package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/mealforge/backend/internal/dispatch"
	"github.com/mealforge/backend/internal/middleware"
	"github.com/mealforge/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type startJobRequest struct {
	JobType        string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type jobErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type jobResponse struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jobErrorBody   `json:"error,omitempty"`
}

type insufficientCreditResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	CurrentBalance int    `json:"current_balance"`
	Required       int    `json:"required"`
}

// Handler serves the /v1/jobs endpoints.
type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Start handles POST /v1/jobs.
// 200 on success, duplicate, and terminal replay; 402 on insufficient
// credit; 400 on validation failure; 503 when the worker refused the
// dispatch; 500 when no worker address is configured.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON", "code": models.ErrCodeValidation})
		return
	}

	job, err := h.svc.Start(r.Context(), acc.ID, StartRequest{
		JobType:        req.JobType,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		var insufficient *InsufficientCreditError
		switch {
		case errors.Is(err, ErrValidation):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "code": models.ErrCodeValidation})
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusPaymentRequired, insufficientCreditResponse{
				Error:          insufficient.Error(),
				Code:           models.ErrCodeInsufficientCredit,
				CurrentBalance: insufficient.Balance,
				Required:       insufficient.Required,
			})
		case errors.Is(err, dispatch.ErrNoWorkerAddress):
			writeJSON(w, http.StatusInternalServerError, jobResponseFrom(job))
		case errors.Is(err, dispatch.ErrDispatchFailed):
			writeJSON(w, http.StatusServiceUnavailable, jobResponseFrom(job))
		default:
			h.log.Error("start job", "account_id", acc.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "code": models.ErrCodeInternal})
		}
		return
	}

	writeJSON(w, http.StatusOK, jobResponseFrom(job))
}

// Get handles GET /v1/jobs/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job id"})
		return
	}
	job, err := h.svc.Get(r.Context(), jobID)
	if err != nil || job.AccountID != acc.ID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, jobResponseFrom(job))
}

// List handles GET /v1/jobs — the caller's jobs, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByAccount(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list jobs", "account_id", acc.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, jobResponseFrom(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func jobResponseFrom(j *models.Job) jobResponse {
	if j == nil {
		return jobResponse{}
	}
	resp := jobResponse{
		JobID:  j.ID.String(),
		Status: j.Status,
		Result: j.Result,
	}
	if j.ErrorMessage != nil || j.ErrorCode != nil {
		e := &jobErrorBody{}
		if j.ErrorMessage != nil {
			e.Message = *j.ErrorMessage
		}
		if j.ErrorCode != nil {
			e.Code = *j.ErrorCode
		}
		resp.Error = e
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
