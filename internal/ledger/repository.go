package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealforge/backend/internal/models"
)

var errBalanceGuard = errors.New("balance guard rejected debit")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// GetForUpdate locks the account row. Call within a transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := tx.QueryRow(ctx, `
		SELECT id, email, display_name, password_hash, plan, purchased_credits, allowance_credits, allowance_resets_at, created_at, updated_at
		FROM accounts WHERE id = $1 FOR UPDATE
	`, id).Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Plan, &a.PurchasedCredits, &a.AllowanceCredits, &a.AllowanceResetsAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ApplyDebit decrements both sub-balances in one conditional UPDATE. The
// WHERE guards keep either sub-balance from going negative even if the
// caller's arithmetic is wrong.
func (r *Repository) ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromAllowance, fromPurchased int) error {
	result, err := tx.Exec(ctx, `
		UPDATE accounts
		SET allowance_credits = allowance_credits - $1, purchased_credits = purchased_credits - $2, updated_at = now()
		WHERE id = $3 AND allowance_credits >= $1 AND purchased_credits >= $2
	`, fromAllowance, fromPurchased, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errBalanceGuard
	}
	return nil
}

// AddPurchased credits the purchased sub-balance. Call within a transaction.
func (r *Repository) AddPurchased(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET purchased_credits = purchased_credits + $1, updated_at = now() WHERE id = $2
	`, amount, id)
	return err
}

// GetEntryByKey returns the ledger entry carrying the given idempotency
// key, or nil when none exists.
func (r *Repository) GetEntryByKey(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, key string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, delta, feature, idempotency_key, created_at
		FROM credit_ledger WHERE account_id = $1 AND idempotency_key = $2
	`, accountID, key).Scan(&e.ID, &e.AccountID, &e.Delta, &e.Feature, &e.IdempotencyKey, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// InsertEntry appends a ledger entry inside the given transaction.
func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, account_id, delta, feature, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Delta, e.Feature, e.IdempotencyKey).Scan(&e.CreatedAt)
}

// GetBalance reads both sub-balances without locking.
func (r *Repository) GetBalance(ctx context.Context, accountID uuid.UUID) (purchased, allowance int, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT purchased_credits, allowance_credits FROM accounts WHERE id = $1
	`, accountID).Scan(&purchased, &allowance)
	return purchased, allowance, err
}

// ListByAccount returns the account's ledger entries, newest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, delta, feature, idempotency_key, created_at
		FROM credit_ledger WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Feature, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
