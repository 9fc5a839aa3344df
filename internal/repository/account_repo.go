package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealforge/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `id, email, display_name, password_hash, plan, purchased_credits, allowance_credits, allowance_resets_at, created_at, updated_at`

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Plan, &a.PurchasedCredits, &a.AllowanceCredits, &a.AllowanceResetsAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListDueForAllowanceRenewal returns accounts whose allowance reset date
// has passed, oldest first, capped at limit.
func (r *AccountRepo) ListDueForAllowanceRenewal(ctx context.Context, now time.Time, limit int) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE allowance_resets_at <= $1
		ORDER BY allowance_resets_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Plan, &a.PurchasedCredits, &a.AllowanceCredits, &a.AllowanceResetsAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// ResetAllowance sets the allowance sub-balance to the plan amount and
// advances the reset date one cycle. The allowance_resets_at guard makes
// the reset idempotent across overlapping renewal runs.
func (r *AccountRepo) ResetAllowance(ctx context.Context, id uuid.UUID, amount int, notAfter time.Time) (applied bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET allowance_credits = $2, allowance_resets_at = allowance_resets_at + interval '30 days', updated_at = now()
		WHERE id = $1 AND allowance_resets_at <= $3
	`, id, amount, notAfter)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
