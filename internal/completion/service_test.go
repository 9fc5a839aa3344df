package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mealforge/backend/internal/ledger"
	"github.com/mealforge/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for JobStore and ledger.Service.
// ---------------------------------------------------------------------------

type mockJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func newMockJobStore(jobs ...*models.Job) *mockJobStore {
	m := &mockJobStore{jobs: make(map[uuid.UUID]*models.Job)}
	for _, j := range jobs {
		cp := *j
		m.jobs[j.ID] = &cp
	}
	return m
}

func (m *mockJobStore) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, pgx.ErrNoRows)
	}
	cp := *j
	return &cp, nil
}

func (m *mockJobStore) MarkSuccess(_ context.Context, id uuid.UUID, result json.RawMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	if j.Status == models.JobStatusSuccess || j.Status == models.JobStatusError {
		return false, nil
	}
	j.Status = models.JobStatusSuccess
	j.Result = result
	return true, nil
}

func (m *mockJobStore) MarkError(_ context.Context, id uuid.UUID, message, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	if j.Status == models.JobStatusSuccess || j.Status == models.JobStatusError {
		return false, nil
	}
	j.Status = models.JobStatusError
	j.ErrorMessage = &message
	j.ErrorCode = &code
	return true, nil
}

// --- ledger.Service mock; only Refund matters here. ---

type mockLedger struct {
	mu      sync.Mutex
	refunds map[string]int
}

func newMockLedger() *mockLedger { return &mockLedger{refunds: make(map[string]int)} }

func (m *mockLedger) Debit(context.Context, uuid.UUID, string, string) (*ledger.DebitResult, error) {
	return nil, fmt.Errorf("not used")
}

func (m *mockLedger) Refund(_ context.Context, _ uuid.UUID, originalKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[originalKey]++
	return nil
}

func (m *mockLedger) RecordRenewal(context.Context, uuid.UUID, int) error { return nil }
func (m *mockLedger) Balance(context.Context, uuid.UUID) (int, int, error) {
	return 0, 0, nil
}
func (m *mockLedger) Entries(context.Context, uuid.UUID) ([]*models.LedgerEntry, error) {
	return nil, nil
}

func (m *mockLedger) refundCalls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunds[key]
}

var _ ledger.Service = (*mockLedger)(nil)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func runningJob(accountID uuid.UUID) *models.Job {
	return &models.Job{
		ID:             uuid.New(),
		AccountID:      accountID,
		JobType:        models.FeatureImageAnalysis,
		IdempotencyKey: "job-key",
		Status:         models.JobStatusRunning,
	}
}

// ---------------------------------------------------------------------------
// 1. Success callback stores the result.
// ---------------------------------------------------------------------------

func TestComplete_Success(t *testing.T) {
	accountID := uuid.New()
	job := runningJob(accountID)
	store := newMockJobStore(job)
	led := newMockLedger()
	svc := NewService(store, led, nil, nil)

	result := json.RawMessage(`{"ingredients":["eggs","spinach"]}`)
	final, err := svc.Complete(context.Background(), job.ID, Outcome{Success: true, Result: result})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if final.Status != models.JobStatusSuccess {
		t.Errorf("status: got %q, want success", final.Status)
	}
	if string(final.Result) != string(result) {
		t.Errorf("result not stored: %s", final.Result)
	}
	if led.refundCalls("job-key") != 0 {
		t.Error("success must not refund")
	}
}

// ---------------------------------------------------------------------------
// 2. Failure callback stores the error and refunds exactly once.
// ---------------------------------------------------------------------------

func TestComplete_FailureRefunds(t *testing.T) {
	accountID := uuid.New()
	job := runningJob(accountID)
	store := newMockJobStore(job)
	led := newMockLedger()
	svc := NewService(store, led, nil, nil)

	final, err := svc.Complete(context.Background(), job.ID, Outcome{Success: false, Error: "vision model crashed"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if final.Status != models.JobStatusError {
		t.Errorf("status: got %q, want error", final.Status)
	}
	if final.ErrorCode == nil || *final.ErrorCode != models.ErrCodeWorkerFailed {
		t.Errorf("error code: %v", final.ErrorCode)
	}
	if final.ErrorMessage == nil || *final.ErrorMessage != "vision model crashed" {
		t.Errorf("error message: %v", final.ErrorMessage)
	}
	if led.refundCalls("job-key") != 1 {
		t.Errorf("refund calls: got %d, want 1", led.refundCalls("job-key"))
	}
}

// ---------------------------------------------------------------------------
// 3. Duplicated callbacks are no-ops and never double-refund.
// ---------------------------------------------------------------------------

func TestComplete_DuplicateCallbackIsNoop(t *testing.T) {
	accountID := uuid.New()
	job := runningJob(accountID)
	store := newMockJobStore(job)
	led := newMockLedger()
	svc := NewService(store, led, nil, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		final, err := svc.Complete(ctx, job.ID, Outcome{Success: false, Error: "worker crashed"})
		if err != nil {
			t.Fatalf("Complete attempt %d: %v", i, err)
		}
		if final.Status != models.JobStatusError {
			t.Errorf("attempt %d status: got %q", i, final.Status)
		}
	}
	if led.refundCalls("job-key") != 1 {
		t.Errorf("refund calls after duplicates: got %d, want 1", led.refundCalls("job-key"))
	}
}

// A failure callback that arrives after a success callback must not change
// the stored outcome or trigger compensation.
func TestComplete_ConflictingLateCallback(t *testing.T) {
	accountID := uuid.New()
	job := runningJob(accountID)
	store := newMockJobStore(job)
	led := newMockLedger()
	svc := NewService(store, led, nil, nil)

	ctx := context.Background()
	if _, err := svc.Complete(ctx, job.ID, Outcome{Success: true, Result: json.RawMessage(`{"ok":true}`)}); err != nil {
		t.Fatalf("success callback: %v", err)
	}
	final, err := svc.Complete(ctx, job.ID, Outcome{Success: false, Error: "late contradiction"})
	if err != nil {
		t.Fatalf("late failure callback: %v", err)
	}
	if final.Status != models.JobStatusSuccess {
		t.Errorf("stored outcome overwritten: got %q", final.Status)
	}
	if led.refundCalls("job-key") != 0 {
		t.Error("late failure must not refund a succeeded job")
	}
}

func TestComplete_UnknownJob(t *testing.T) {
	svc := NewService(newMockJobStore(), newMockLedger(), nil, nil)
	_, err := svc.Complete(context.Background(), uuid.New(), Outcome{Success: true})
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got: %v", err)
	}
}

// brokenJobStore simulates a store outage on every read.
type brokenJobStore struct {
	err error
}

func (s *brokenJobStore) GetByID(context.Context, uuid.UUID) (*models.Job, error) {
	return nil, s.err
}
func (s *brokenJobStore) MarkSuccess(context.Context, uuid.UUID, json.RawMessage) (bool, error) {
	return false, s.err
}
func (s *brokenJobStore) MarkError(context.Context, uuid.UUID, string, string) (bool, error) {
	return false, s.err
}

// A transient store failure must not masquerade as "job not found": the
// worker would take that as permanent and drop the callback for good.
func TestComplete_StoreOutageIsNotNotFound(t *testing.T) {
	outage := fmt.Errorf("connection refused")
	svc := NewService(&brokenJobStore{err: outage}, newMockLedger(), nil, nil)
	_, err := svc.Complete(context.Background(), uuid.New(), Outcome{Success: true})
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrJobNotFound) {
		t.Fatal("store outage must not map to ErrJobNotFound")
	}
	if !errors.Is(err, outage) {
		t.Errorf("underlying store error must be preserved, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 4. Handler: path id wins, body mismatch rejected, unknown job is 404.
// ---------------------------------------------------------------------------

func callbackReq(jobID, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+jobID+"/callback", strings.NewReader(body))
	r.SetPathValue("id", jobID)
	return r
}

func TestCallback_Success(t *testing.T) {
	accountID := uuid.New()
	job := runningJob(accountID)
	store := newMockJobStore(job)
	h := NewHandler(NewService(store, newMockLedger(), nil, nil), nil)

	w := httptest.NewRecorder()
	h.Callback(w, callbackReq(job.ID.String(), `{"outcome":{"success":true,"result":{"ok":true}}}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", w.Code, w.Body)
	}
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != models.JobStatusSuccess {
		t.Errorf("response status: got %q", resp["status"])
	}
}

func TestCallback_BodyMismatch(t *testing.T) {
	accountID := uuid.New()
	job := runningJob(accountID)
	h := NewHandler(NewService(newMockJobStore(job), newMockLedger(), nil, nil), nil)

	body := `{"job_id":"` + uuid.NewString() + `","outcome":{"success":true}}`
	w := httptest.NewRecorder()
	h.Callback(w, callbackReq(job.ID.String(), body))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestCallback_UnknownJob(t *testing.T) {
	h := NewHandler(NewService(newMockJobStore(), newMockLedger(), nil, nil), nil)
	w := httptest.NewRecorder()
	h.Callback(w, callbackReq(uuid.NewString(), `{"outcome":{"success":true}}`))
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestCallback_StoreOutageIs500(t *testing.T) {
	store := &brokenJobStore{err: fmt.Errorf("connection refused")}
	h := NewHandler(NewService(store, newMockLedger(), nil, nil), nil)
	w := httptest.NewRecorder()
	h.Callback(w, callbackReq(uuid.NewString(), `{"outcome":{"success":true}}`))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500 so the worker retries", w.Code)
	}
}
