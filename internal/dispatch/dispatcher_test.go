package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mealforge/backend/internal/models"
)

func testJob() *models.Job {
	return &models.Job{
		ID:             uuid.New(),
		AccountID:      uuid.New(),
		JobType:        models.FeatureImageAnalysis,
		InputPayload:   json.RawMessage(`{"image_url":"https://cdn.example.com/fridge.jpg"}`),
		IdempotencyKey: "key-1",
		Status:         models.JobStatusQueued,
	}
}

func TestDispatch_SendsPayloadWithCallbackURL(t *testing.T) {
	var received dispatchPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode dispatch body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	job := testJob()
	d := New(map[string][]string{models.FeatureImageAnalysis: {srv.URL}}, "https://api.mealforge.app", 0, nil)
	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if received.JobID != job.ID {
		t.Errorf("job_id: got %s, want %s", received.JobID, job.ID)
	}
	if received.JobType != models.FeatureImageAnalysis {
		t.Errorf("type: got %q", received.JobType)
	}
	if received.IdempotencyKey != "key-1" {
		t.Errorf("idempotency_key: got %q", received.IdempotencyKey)
	}
	want := "https://api.mealforge.app/v1/jobs/" + job.ID.String() + "/callback"
	if received.CallbackURL != want {
		t.Errorf("callback_url: got %q, want %q", received.CallbackURL, want)
	}
}

func TestDispatch_NoAddressConfigured(t *testing.T) {
	d := New(map[string][]string{}, "https://api.mealforge.app", 0, nil)
	if err := d.Dispatch(context.Background(), testJob()); !errors.Is(err, ErrNoWorkerAddress) {
		t.Fatalf("expected ErrNoWorkerAddress, got: %v", err)
	}
}

func TestDispatch_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "worker at capacity", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := New(map[string][]string{models.FeatureImageAnalysis: {srv.URL}}, "https://api.mealforge.app", 0, nil)
	if err := d.Dispatch(context.Background(), testJob()); !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got: %v", err)
	}
}

func TestDispatch_FallbackAddress(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryHits.Add(1)
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fallbackHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer fallback.Close()

	d := New(map[string][]string{
		models.FeatureImageAnalysis: {primary.URL, fallback.URL},
	}, "https://api.mealforge.app", 0, nil)

	if err := d.Dispatch(context.Background(), testJob()); err != nil {
		t.Fatalf("Dispatch with fallback: %v", err)
	}
	if primaryHits.Load() != 1 || fallbackHits.Load() != 1 {
		t.Errorf("hits: primary=%d fallback=%d, want 1/1", primaryHits.Load(), fallbackHits.Load())
	}
}

func TestDispatch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	d := New(map[string][]string{models.FeatureImageAnalysis: {srv.URL}}, "https://api.mealforge.app", 50*time.Millisecond, nil)
	start := time.Now()
	err := d.Dispatch(context.Background(), testJob())
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed on timeout, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("dispatch did not respect the timeout, took %s", elapsed)
	}
}
