package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription plans and the monthly allowance each one grants.
const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanFamily  = "family"
)

// AllowanceByPlan is the number of allowance credits granted on each
// renewal cycle.
var AllowanceByPlan = map[string]int{
	PlanFree:    3,
	PlanStarter: 20,
	PlanFamily:  50,
}

type Account struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"display_name"`
	PasswordHash      string    `json:"-"`
	Plan              string    `json:"plan"`
	PurchasedCredits  int       `json:"purchased_credits"`
	AllowanceCredits  int       `json:"allowance_credits"`
	AllowanceResetsAt time.Time `json:"allowance_resets_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AvailableCredits is the total spendable balance across both sub-balances.
func (a *Account) AvailableCredits() int {
	return a.PurchasedCredits + a.AllowanceCredits
}
