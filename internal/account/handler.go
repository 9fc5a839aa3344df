// Package account serves the authenticated account surface: balance,
// ledger audit trail, and API key management.
package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mealforge/backend/internal/auth"
	"github.com/mealforge/backend/internal/ledger"
	"github.com/mealforge/backend/internal/models"
	"github.com/mealforge/backend/internal/repository"
)

type Handler struct {
	authSvc   auth.Service
	accountR  *repository.AccountRepo
	apiKeyR   *repository.APIKeyRepo
	ledgerSvc ledger.Service
	log       *slog.Logger
}

func NewHandler(authSvc auth.Service, accountR *repository.AccountRepo, apiKeyR *repository.APIKeyRepo, ledgerSvc ledger.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{authSvc: authSvc, accountR: accountR, apiKeyR: apiKeyR, ledgerSvc: ledgerSvc, log: log}
}

func (h *Handler) accountIDFromRequest(r *http.Request) (uuid.UUID, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return uuid.Nil, fmt.Errorf("missing or malformed authorization")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return uuid.Nil, fmt.Errorf("empty token")
	}
	return h.authSvc.ValidateToken(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetMe handles GET /api/v1/account/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	acc, err := h.accountR.GetByID(r.Context(), accountID)
	if err != nil {
		h.log.Error("get account failed", "error", err)
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                  acc.ID,
		"email":               acc.Email,
		"display_name":        acc.DisplayName,
		"plan":                acc.Plan,
		"purchased_credits":   acc.PurchasedCredits,
		"allowance_credits":   acc.AllowanceCredits,
		"available_credits":   acc.AvailableCredits(),
		"allowance_resets_at": acc.AllowanceResetsAt,
		"created_at":          acc.CreatedAt,
	})
}

// ListCreditLedger handles GET /api/v1/credit-ledger.
func (h *Handler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	entries, err := h.ledgerSvc.Entries(r.Context(), accountID)
	if err != nil {
		h.log.Error("list ledger failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// CreateAPIKey handles POST /api/v1/api-keys. The raw key is returned
// exactly once; only its hash is stored.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	raw, err := generateKey()
	if err != nil {
		h.log.Error("generate api key failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256([]byte(raw))
	key := &models.APIKey{
		ID:        uuid.New(),
		AccountID: accountID,
		KeyHash:   hex.EncodeToString(sum[:]),
		KeyPrefix: raw[:8],
		IsActive:  true,
	}
	if err := h.apiKeyR.Create(r.Context(), key); err != nil {
		h.log.Error("create api key failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         key.ID,
		"key":        raw,
		"key_prefix": key.KeyPrefix,
		"created_at": key.CreatedAt,
	})
}

// ListAPIKeys handles GET /api/v1/api-keys.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	keys, err := h.apiKeyR.ListByAccountID(r.Context(), accountID)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// DeleteAPIKey handles DELETE /api/v1/api-keys/{id}.
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	keyID, err := uuid.Parse(parts[len(parts)-1])
	if err != nil {
		http.Error(w, "invalid key id", http.StatusBadRequest)
		return
	}
	keys, err := h.apiKeyR.ListByAccountID(r.Context(), accountID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for _, k := range keys {
		if k.ID == keyID {
			if err := h.apiKeyR.Delete(r.Context(), keyID); err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "key not found", http.StatusNotFound)
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "mf_" + hex.EncodeToString(buf), nil
}
