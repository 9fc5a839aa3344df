package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mealforge/backend/internal/dispatch"
	"github.com/mealforge/backend/internal/middleware"
	"github.com/mealforge/backend/internal/models"
)

// ---------------------------------------------------------------------------
// HTTP status mapping for POST /v1/jobs. The service layer is mocked at its
// collaborator seams (same mocks as service_test.go), so these tests cover
// the full handler+service path.
// ---------------------------------------------------------------------------

func authedRequest(t *testing.T, accountID uuid.UUID, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
	acc := &models.Account{ID: accountID}
	return r.WithContext(middleware.WithAccount(r.Context(), acc))
}

func startBody(key string) string {
	return `{"type":"image_analysis","payload":{"image_url":"https://cdn.example.com/fridge.jpg"},"idempotency_key":"` + key + `"}`
}

func TestHandlerStart_OK(t *testing.T) {
	svc, _, _, _ := newTestService(10)
	h := NewHandler(svc, nil)
	accountID := uuid.New()

	w := httptest.NewRecorder()
	h.Start(w, authedRequest(t, accountID, startBody("key-1")))

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", w.Code, w.Body)
	}
	var resp jobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.JobStatusRunning {
		t.Errorf("job status: got %q, want running", resp.Status)
	}
	if resp.JobID == "" {
		t.Error("response must include the job id")
	}
}

func TestHandlerStart_DuplicateReturnsSameJob(t *testing.T) {
	svc, _, _, _ := newTestService(10)
	h := NewHandler(svc, nil)
	accountID := uuid.New()

	w1 := httptest.NewRecorder()
	h.Start(w1, authedRequest(t, accountID, startBody("key-1")))
	w2 := httptest.NewRecorder()
	h.Start(w2, authedRequest(t, accountID, startBody("key-1")))

	if w2.Code != http.StatusOK {
		t.Fatalf("duplicate status: got %d, want 200", w2.Code)
	}
	var first, second jobResponse
	_ = json.Unmarshal(w1.Body.Bytes(), &first)
	_ = json.Unmarshal(w2.Body.Bytes(), &second)
	if first.JobID != second.JobID {
		t.Errorf("duplicate returned different job: %s vs %s", first.JobID, second.JobID)
	}
}

func TestHandlerStart_InsufficientCredit(t *testing.T) {
	svc, _, _, _ := newTestService(1)
	h := NewHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Start(w, authedRequest(t, uuid.New(), startBody("key-1")))

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status: got %d, want 402", w.Code)
	}
	var resp insufficientCreditResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != models.ErrCodeInsufficientCredit {
		t.Errorf("code: got %q", resp.Code)
	}
	if resp.CurrentBalance != 1 || resp.Required != 2 {
		t.Errorf("balance detail: got %d/%d, want 1/2", resp.CurrentBalance, resp.Required)
	}
}

func TestHandlerStart_ValidationFailure(t *testing.T) {
	svc, _, _, _ := newTestService(10)
	h := NewHandler(svc, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing key", `{"type":"image_analysis","payload":{}}`},
		{"unknown type", `{"type":"mind_reading","payload":{},"idempotency_key":"k"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Start(w, authedRequest(t, uuid.New(), tc.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400 (body: %s)", w.Code, w.Body)
			}
		})
	}
}

func TestHandlerStart_DispatchFailure(t *testing.T) {
	store := newMockJobStore()
	led := newMockLedger(10)
	disp := &mockDispatcher{err: dispatch.ErrDispatchFailed}
	h := NewHandler(NewService(store, led, disp, &mockValidator{}, nil), nil)

	w := httptest.NewRecorder()
	h.Start(w, authedRequest(t, uuid.New(), startBody("key-1")))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", w.Code)
	}
	var resp jobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.JobStatusError {
		t.Errorf("job status: got %q, want error", resp.Status)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeDispatchFailed {
		t.Errorf("error body: %+v", resp.Error)
	}
}

func TestHandlerStart_NoWorkerConfigured(t *testing.T) {
	store := newMockJobStore()
	led := newMockLedger(10)
	disp := &mockDispatcher{err: dispatch.ErrNoWorkerAddress}
	h := NewHandler(NewService(store, led, disp, &mockValidator{}, nil), nil)

	w := httptest.NewRecorder()
	h.Start(w, authedRequest(t, uuid.New(), startBody("key-1")))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", w.Code)
	}
	var resp jobResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != models.ErrCodeWorkerUnavailable {
		t.Errorf("error body: %+v", resp.Error)
	}
}

func TestHandlerStart_Unauthorized(t *testing.T) {
	svc, _, _, _ := newTestService(10)
	h := NewHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Start(w, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(startBody("key-1"))))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /v1/jobs/{id}: ownership is enforced by returning 404, not 403.
// ---------------------------------------------------------------------------

func TestHandlerGet_OwnershipHidden(t *testing.T) {
	svc, _, _, _ := newTestService(10)
	h := NewHandler(svc, nil)
	owner := uuid.New()

	w := httptest.NewRecorder()
	h.Start(w, authedRequest(t, owner, startBody("key-1")))
	var created jobResponse
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	// Owner sees the job.
	r := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil)
	r.SetPathValue("id", created.JobID)
	r = r.WithContext(middleware.WithAccount(r.Context(), &models.Account{ID: owner}))
	w = httptest.NewRecorder()
	h.Get(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("owner get: got %d, want 200", w.Code)
	}

	// A different account gets 404.
	r = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil)
	r.SetPathValue("id", created.JobID)
	r = r.WithContext(middleware.WithAccount(r.Context(), &models.Account{ID: uuid.New()}))
	w = httptest.NewRecorder()
	h.Get(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("stranger get: got %d, want 404", w.Code)
	}
}
