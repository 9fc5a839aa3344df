package completion

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type callbackRequest struct {
	JobID   string `json:"job_id"`
	Outcome struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   string          `json:"error,omitempty"`
	} `json:"outcome"`
}

// Handler serves POST /v1/jobs/{id}/callback. Caller trust is enforced by
// the shared-secret middleware in front of it, not here.
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

// Callback accepts a worker's out-of-band completion report.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	// The body may repeat the job id; the path wins, but a mismatch is a
	// caller bug worth rejecting.
	if req.JobID != "" && req.JobID != jobID.String() {
		http.Error(w, `{"error":"job_id mismatch"}`, http.StatusBadRequest)
		return
	}

	job, err := h.svc.Complete(r.Context(), jobID, Outcome{
		Success: req.Outcome.Success,
		Result:  req.Outcome.Result,
		Error:   req.Outcome.Error,
	})
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("complete job", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": job.ID.String(), "status": job.Status})
}
