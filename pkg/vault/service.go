package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service contains the vault ledger domain logic over a Store.
type Service struct {
	store  Store
	config LedgerConfig
	nowFn  func() time.Time
	logger OperationLogger
	newID  func() string
}

// NewService wires a Service. The config is merged with defaults and
// validated; the clock is injectable for tests.
func NewService(store Store, config LedgerConfig, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	merged := config.MergeWithDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	service := &Service{
		store:  store,
		config: merged,
		nowFn:  now,
		newID:  uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Config returns the merged configuration the service runs with.
func (service *Service) Config() LedgerConfig {
	return service.config
}

// Status returns the display snapshot for a user: pool amounts, reserved
// total, expiry deadline, withdrawal eligibility, and the multiplier that
// would apply to a play right now.
func (service *Service) Status(ctx context.Context, userID string) (StatusSnapshot, error) {
	if userID == "" {
		return StatusSnapshot{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	balance, err := service.store.GetBalance(ctx, userID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	reserved, err := service.store.SumPendingWithdrawals(ctx, userID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	streak, err := service.store.GetStreak(ctx, userID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	now := service.nowFn()
	eligible, err := service.depositEligible(ctx, service.store, userID, now)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{
		Locked:           balance.LockedAmount,
		Available:        balance.AvailableAmount,
		Cash:             balance.CashAmount,
		Reserved:         reserved,
		ExpiresAt:        balance.LockedExpiresAt,
		Eligible:         eligible,
		ActiveMultiplier: MultiplierFor(service.config.Multiplier, now, streak),
	}, nil
}

// LedgerHistory lists the newest cash-ledger rows for a user.
func (service *Service) LedgerHistory(ctx context.Context, userID string, limit int) ([]CashLedgerEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return service.store.ListLedger(ctx, userID, limit)
}

// ReservedAmount sums the user's PENDING withdrawal amounts.
func (service *Service) ReservedAmount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return service.store.SumPendingWithdrawals(ctx, userID)
}

func (service *Service) depositEligible(ctx context.Context, store Store, userID string, now time.Time) (bool, error) {
	latest, err := store.LatestDepositAt(ctx, userID)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	return now.Sub(*latest) <= service.config.DepositLookback, nil
}

// creditLocked adds to the locked pool inside a transaction, arming the
// expiry timer when the pool goes from zero to positive, and mirrors the
// default-program status row. The balance must be held ForUpdate.
func (service *Service) creditLocked(ctx context.Context, txStore Store, balance *Balance, amount int64, reason string, meta string, now time.Time) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative credit", ErrInvalidAmount)
	}
	wasZero := balance.LockedAmount == 0
	balance.LockedAmount += amount
	if wasZero && balance.LockedAmount > 0 {
		service.armLockTimer(balance, now)
	}
	if err := txStore.SaveBalance(ctx, *balance); err != nil {
		return err
	}
	if err := service.appendLedger(ctx, txStore, balance.UserID, amount, balance.Total(), reason, meta, now); err != nil {
		return err
	}
	return service.syncDefaultStatus(ctx, txStore, *balance)
}

// armLockTimer sets the hold window start and deadline. A still-active
// previous timer is never extended.
func (service *Service) armLockTimer(balance *Balance, now time.Time) {
	if balance.LockedExpiresAt != nil && balance.LockedExpiresAt.After(now) {
		return
	}
	program := service.config.Programs[service.config.DefaultProgramKey]
	startedAt := now
	balance.LockedStartedAt = &startedAt
	if program.ExpirePolicy == ExpirePolicyNone || program.DurationHours <= 0 {
		balance.LockedExpiresAt = nil
		return
	}
	expiresAt := now.Add(time.Duration(program.DurationHours) * time.Hour)
	balance.LockedExpiresAt = &expiresAt
}

// clearLockTimer drops the hold window markers once locked returns to zero.
func clearLockTimer(balance *Balance) {
	balance.LockedStartedAt = nil
	balance.LockedExpiresAt = nil
}

// creditAvailable adds to the available pool and appends a ledger row.
func (service *Service) creditAvailable(ctx context.Context, txStore Store, balance *Balance, amount int64, reason string, meta string, now time.Time) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative credit", ErrInvalidAmount)
	}
	balance.AvailableAmount += amount
	if err := txStore.SaveBalance(ctx, *balance); err != nil {
		return err
	}
	return service.appendLedger(ctx, txStore, balance.UserID, amount, balance.Total(), reason, meta, now)
}

// debitAvailable removes from the available pool, failing when the pool is
// short. A negative result is a logic error for normal debits, never a
// clamp.
func (service *Service) debitAvailable(ctx context.Context, txStore Store, balance *Balance, amount int64, reason string, meta string, now time.Time) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative debit", ErrInvalidAmount)
	}
	if amount > balance.AvailableAmount {
		return ErrInsufficientFunds
	}
	balance.AvailableAmount -= amount
	if err := txStore.SaveBalance(ctx, *balance); err != nil {
		return err
	}
	return service.appendLedger(ctx, txStore, balance.UserID, -amount, balance.Total(), reason, meta, now)
}

func (service *Service) appendLedger(ctx context.Context, txStore Store, userID string, delta int64, balanceAfter int64, reason string, meta string, now time.Time) error {
	if meta == "" {
		meta = "{}"
	}
	return txStore.AppendLedger(ctx, CashLedgerEntry{
		EntryID:      service.newID(),
		UserID:       userID,
		Delta:        delta,
		BalanceAfter: balanceAfter,
		Reason:       reason,
		Meta:         meta,
		CreatedAt:    now,
	})
}

// syncDefaultStatus mirrors the balance row's locked pool onto the
// default-program status row. The row's state never moves backward: locked
// funds landing after the first unlock ride on the AVAILABLE (or EXPIRED)
// row, and the next due deadline becomes the earlier of the row's existing
// one and the new lock deadline.
func (service *Service) syncDefaultStatus(ctx context.Context, txStore Store, balance Balance) error {
	status, err := txStore.StatusForUpdate(ctx, balance.UserID, service.config.DefaultProgramKey)
	if err != nil {
		return err
	}
	status.LockedAmount = balance.LockedAmount
	status.LockedAt = balance.LockedStartedAt
	if status.State == StateLocked {
		status.ExpiresAt = balance.LockedExpiresAt
	} else {
		status.ExpiresAt = earliestDeadline(status.ExpiresAt, balance.LockedExpiresAt)
	}
	return txStore.SaveStatus(ctx, status)
}

// earliestDeadline picks the earlier of two optional deadlines.
func earliestDeadline(left *time.Time, right *time.Time) *time.Time {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	if right.Before(*left) {
		return right
	}
	return left
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func clampToZero(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}
