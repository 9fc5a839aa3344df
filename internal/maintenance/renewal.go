// Package maintenance holds the periodic background jobs that keep account
// state healthy: the monthly allowance renewal and the stuck-job monitor.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/mealforge/backend/internal/models"
)

const renewalBatchSize = 100

type AllowanceRenewalArgs struct{}

func (AllowanceRenewalArgs) Kind() string { return "allowance_renewal" }

// AccountStore defines the contract the renewal worker needs: find the
// accounts whose allowance period has lapsed and reset them one by one.
type AccountStore interface {
	ListDueForAllowanceRenewal(ctx context.Context, now time.Time, limit int) ([]*models.Account, error)
	ResetAllowance(ctx context.Context, id uuid.UUID, amount int, notAfter time.Time) (applied bool, err error)
}

// LedgerRecorder records the audit entry for a granted renewal.
type LedgerRecorder interface {
	RecordRenewal(ctx context.Context, accountID uuid.UUID, amount int) error
}

type AllowanceRenewalWorker struct {
	river.WorkerDefaults[AllowanceRenewalArgs]
	accounts AccountStore
	ledger   LedgerRecorder
	log      *slog.Logger
}

func NewAllowanceRenewalWorker(accounts AccountStore, ledger LedgerRecorder, log *slog.Logger) *AllowanceRenewalWorker {
	if log == nil {
		log = slog.Default()
	}
	return &AllowanceRenewalWorker{accounts: accounts, ledger: ledger, log: log}
}

// Work resets every due account's allowance to its plan amount. The reset
// query re-checks allowance_resets_at, so a concurrent run on another
// instance skips accounts already handled instead of double-granting.
func (w *AllowanceRenewalWorker) Work(ctx context.Context, _ *river.Job[AllowanceRenewalArgs]) error {
	now := time.Now().UTC()
	renewed := 0
	for {
		due, err := w.accounts.ListDueForAllowanceRenewal(ctx, now, renewalBatchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			break
		}
		for _, acc := range due {
			amount, ok := models.AllowanceByPlan[acc.Plan]
			if !ok {
				w.log.Warn("account on unknown plan, skipping renewal", "account_id", acc.ID, "plan", acc.Plan)
				continue
			}
			applied, err := w.accounts.ResetAllowance(ctx, acc.ID, amount, now)
			if err != nil {
				w.log.Error("allowance reset failed", "account_id", acc.ID, "error", err)
				continue
			}
			if !applied {
				continue
			}
			if err := w.ledger.RecordRenewal(ctx, acc.ID, amount); err != nil {
				w.log.Error("renewal ledger entry failed", "account_id", acc.ID, "error", err)
			}
			renewed++
		}
		if len(due) < renewalBatchSize {
			break
		}
	}
	if renewed > 0 {
		w.log.Info("allowance renewal pass complete", "renewed", renewed)
	}
	return nil
}
