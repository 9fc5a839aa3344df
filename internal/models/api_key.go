package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey identifies a caller of the job and credit endpoints. Only the
// bcrypt hash of the secret is stored; KeyPrefix is the short plaintext
// head shown in listings so an owner can tell keys apart.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	AccountID  uuid.UUID  `json:"account_id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
