package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mealforge/backend/internal/models"
)

// DebitResult reports the outcome of a conditional debit. When Granted is
// false the caller maps it to a payment-required signal; BalanceBefore and
// Required let the client show what is missing.
type DebitResult struct {
	Granted       bool
	BalanceBefore int
	Required      int
}

type Service interface {
	Debit(ctx context.Context, accountID uuid.UUID, feature, idempotencyKey string) (*DebitResult, error)
	Refund(ctx context.Context, accountID uuid.UUID, originalKey string) error
	RecordRenewal(ctx context.Context, accountID uuid.UUID, amount int) error
	Balance(ctx context.Context, accountID uuid.UUID) (purchased, allowance int, err error)
	Entries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore is the minimal account access the ledger needs. All balance
// mutation in the system is routed through this package.
type AccountStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromAllowance, fromPurchased int) error
	AddPurchased(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) error
	GetBalance(ctx context.Context, accountID uuid.UUID) (purchased, allowance int, err error)
}

// EntryStore is the minimal ledger-entry access the service needs.
type EntryStore interface {
	GetEntryByKey(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, key string) (*models.LedgerEntry, error)
	InsertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)
}

type service struct {
	tx       TxBeginner
	accounts AccountStore
	entries  EntryStore
}

// NewService wires the three stores; in production all three are the
// *Repository from this package.
func NewService(tx TxBeginner, accounts AccountStore, entries EntryStore) Service {
	return &service{tx: tx, accounts: accounts, entries: entries}
}

var _ Service = (*service)(nil)

// Debit atomically charges the feature's cost against the account. The
// whole read-check-write runs in one transaction: a retry carrying an
// already-seen idempotency key is granted without a second entry, an
// insufficient balance leaves the account untouched, and a granted debit
// consumes allowance credits before purchased ones so the non-expiring
// sub-balance is preserved longest.
func (s *service) Debit(ctx context.Context, accountID uuid.UUID, feature, idempotencyKey string) (*DebitResult, error) {
	cost, ok := models.CostByFeature[feature]
	if !ok {
		return nil, fmt.Errorf("unknown feature %q", feature)
	}

	tx, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	prior, err := s.entries.GetEntryByKey(ctx, tx, accountID, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if prior != nil && prior.Delta < 0 {
		// Retry of an already-applied debit.
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &DebitResult{Granted: true, BalanceBefore: acc.AvailableCredits(), Required: cost}, nil
	}

	available := acc.AvailableCredits()
	if available < cost {
		// Rollback via defer; nothing was written.
		return &DebitResult{Granted: false, BalanceBefore: available, Required: cost}, nil
	}

	fromAllowance := acc.AllowanceCredits
	if fromAllowance > cost {
		fromAllowance = cost
	}
	fromPurchased := cost - fromAllowance

	if err := s.accounts.ApplyDebit(ctx, tx, accountID, fromAllowance, fromPurchased); err != nil {
		return nil, fmt.Errorf("apply debit: %w", err)
	}
	key := idempotencyKey
	entry := &models.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      accountID,
		Delta:          -cost,
		Feature:        feature,
		IdempotencyKey: &key,
	}
	if err := s.entries.InsertEntry(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert debit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit debit: %w", err)
	}
	return &DebitResult{Granted: true, BalanceBefore: available, Required: cost}, nil
}

// Refund compensates the debit identified by originalKey. It is a no-op
// when no matching debit exists or a refund was already issued, so failure
// paths may call it as often as they like. The amount goes back into the
// purchased sub-balance: the original allowance/purchased split is not
// reliably reconstructable and purchased-credit semantics are the safer
// default.
func (s *service) Refund(ctx context.Context, accountID uuid.UUID, originalKey string) error {
	tx, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.GetForUpdate(ctx, tx, accountID); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	debit, err := s.entries.GetEntryByKey(ctx, tx, accountID, originalKey)
	if err != nil {
		return fmt.Errorf("debit lookup: %w", err)
	}
	if debit == nil || debit.Delta >= 0 {
		return nil
	}
	refundKey := models.RefundKey(originalKey)
	prior, err := s.entries.GetEntryByKey(ctx, tx, accountID, refundKey)
	if err != nil {
		return fmt.Errorf("refund lookup: %w", err)
	}
	if prior != nil {
		return nil
	}

	amount := -debit.Delta
	if err := s.accounts.AddPurchased(ctx, tx, accountID, amount); err != nil {
		return fmt.Errorf("credit purchased balance: %w", err)
	}
	entry := &models.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      accountID,
		Delta:          amount,
		Feature:        models.ReasonRefund,
		IdempotencyKey: &refundKey,
	}
	if err := s.entries.InsertEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("insert refund entry: %w", err)
	}
	return tx.Commit(ctx)
}

// RecordRenewal appends the audit entry for a monthly allowance top-up.
// The balance change itself happens in the accounts table guard query, so
// this only records what was granted.
func (s *service) RecordRenewal(ctx context.Context, accountID uuid.UUID, amount int) error {
	tx, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin renewal tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry := &models.LedgerEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		Delta:     amount,
		Feature:   models.ReasonAllowanceRenewal,
	}
	if err := s.entries.InsertEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("insert renewal entry: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (int, int, error) {
	return s.accounts.GetBalance(ctx, accountID)
}

func (s *service) Entries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	return s.entries.ListByAccount(ctx, accountID)
}
