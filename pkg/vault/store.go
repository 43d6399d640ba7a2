package vault

import (
	"context"
	"time"
)

// Store is the persistence contract used by Service. Implementations must
// make ForUpdate reads acquire a row-level exclusive lock inside WithTx so
// that read-modify-write sequences serialize per user. Embedded databases
// without row locking degrade to last-write-wins; that limitation is
// documented, not silent.
type Store interface {
	// WithTx executes fn within a transaction and rolls back on error.
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// BalanceForUpdate returns the locked balance row for a user, creating
	// a zero row if none exists.
	BalanceForUpdate(ctx context.Context, userID string) (Balance, error)
	// GetBalance is a plain read used by display queries.
	GetBalance(ctx context.Context, userID string) (Balance, error)
	SaveBalance(ctx context.Context, balance Balance) error

	// InsertEarnEvent appends an accrual record. A duplicate idempotency
	// key surfaces as ErrDuplicateEvent via the unique index.
	InsertEarnEvent(ctx context.Context, event EarnEvent) error
	// GetEarnEvent fetches an event by idempotency key for divergence
	// reporting on duplicate submissions.
	GetEarnEvent(ctx context.Context, idempotencyKey string) (EarnEvent, error)

	AppendLedger(ctx context.Context, entry CashLedgerEntry) error
	ListLedger(ctx context.Context, userID string, limit int) ([]CashLedgerEntry, error)

	StreakForUpdate(ctx context.Context, userID string) (StreakState, error)
	GetStreak(ctx context.Context, userID string) (StreakState, error)
	SaveStreak(ctx context.Context, streak StreakState) error

	StatusForUpdate(ctx context.Context, userID string, programKey string) (VaultStatus, error)
	SaveStatus(ctx context.Context, status VaultStatus) error
	// ListDueStatuses returns rows whose ExpiresAt has passed, oldest
	// first, up to limit.
	ListDueStatuses(ctx context.Context, now time.Time, limit int) ([]VaultStatus, error)

	CreateWithdrawal(ctx context.Context, request WithdrawalRequest) error
	WithdrawalForUpdate(ctx context.Context, requestID string) (WithdrawalRequest, error)
	SaveWithdrawal(ctx context.Context, request WithdrawalRequest) error
	// SumPendingWithdrawals is the user's reserved amount.
	SumPendingWithdrawals(ctx context.Context, userID string) (int64, error)

	// LatestDepositAt returns the user's most recent qualifying deposit,
	// or nil when none exists. Deposits are written by collaborators
	// outside this core.
	LatestDepositAt(ctx context.Context, userID string) (*time.Time, error)

	AppendAdjustmentAudit(ctx context.Context, audit AdjustmentAudit) error
}
