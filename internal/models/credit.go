package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credit-gated features and their fixed costs.
const (
	FeatureImageAnalysis      = "image_analysis"
	FeatureSubstitutionLookup = "substitution_lookup"
)

// CostByFeature is the closed set of credit-gated features. A feature
// missing from this map is rejected before any ledger interaction.
var CostByFeature = map[string]int{
	FeatureImageAnalysis:      2,
	FeatureSubstitutionLookup: 1,
}

// Ledger entry reasons beyond the feature tags above.
const (
	ReasonRefund           = "refund"
	ReasonAllowanceRenewal = "allowance_renewal"
)

// refundKeyPrefix is reserved for ledger-generated refund entries. Caller
// keys in this namespace would collide with them, so submission rejects it.
const refundKeyPrefix = "refund-of-"

// RefundKey returns the idempotency key a refund entry carries so the
// ledger can prove it compensates one specific debit exactly once.
func RefundKey(originalKey string) string {
	return refundKeyPrefix + originalKey
}

// IsRefundKey reports whether the key sits in the reserved refund namespace.
func IsRefundKey(key string) bool {
	return strings.HasPrefix(key, refundKeyPrefix)
}

// LedgerEntry is an immutable record of a single balance change. Delta is
// negative for debits and positive for refunds and renewals.
type LedgerEntry struct {
	ID             uuid.UUID `json:"id"`
	AccountID      uuid.UUID `json:"account_id"`
	Delta          int       `json:"delta"`
	Feature        string    `json:"feature"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
