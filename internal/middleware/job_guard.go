package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mealforge/backend/internal/models"
)

const maxIdempotencyKeyLen = 255

// StartJobGuard rejects obviously bad submissions before the handler runs:
// unknown job types and out-of-range idempotency keys never reach the
// ledger. Reads the body to peek at the fields, then replaces r.Body so
// the handler can re-read it.
func StartJobGuard() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AccountFromCtx(r.Context()) == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek struct {
				JobType        string `json:"type"`
				IdempotencyKey string `json:"idempotency_key"`
			}
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if _, ok := models.CostByFeature[peek.JobType]; !ok {
				http.Error(w, fmt.Sprintf(`{"error":"job type %q is not supported"}`, peek.JobType), http.StatusBadRequest)
				return
			}
			if peek.IdempotencyKey == "" || len(peek.IdempotencyKey) > maxIdempotencyKeyLen {
				http.Error(w, `{"error":"idempotency_key must be 1..255 characters"}`, http.StatusBadRequest)
				return
			}
			if models.IsRefundKey(peek.IdempotencyKey) {
				http.Error(w, `{"error":"idempotency_key prefix \"refund-of-\" is reserved"}`, http.StatusBadRequest)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
