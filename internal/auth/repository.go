package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealforge/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account on the free plan with its initial allowance
// grant and a reset date one cycle out.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName string) (*models.Account, error) {
	allowance := models.AllowanceByPlan[models.PlanFree]
	var a models.Account
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, display_name, plan, purchased_credits, allowance_credits, allowance_resets_at)
		VALUES ($1, $2, $3, $4, 0, $5, now() + interval '30 days')
		RETURNING id, email, display_name, plan, purchased_credits, allowance_credits, allowance_resets_at, created_at, updated_at
	`, email, passwordHash, displayName, models.PlanFree, allowance)
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.Plan, &a.PurchasedCredits, &a.AllowanceCredits, &a.AllowanceResetsAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByEmail returns the account and password hash for login. Returns nil
// when the email is unknown.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, string, error) {
	var a models.Account
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, plan, purchased_credits, allowance_credits, allowance_resets_at, password_hash, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.Plan, &a.PurchasedCredits, &a.AllowanceCredits, &a.AllowanceResetsAt, &passwordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &a, passwordHash, nil
}
