package vault

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fundedFixture returns a fixture whose user has an available balance and a
// recent qualifying deposit.
func fundedFixture(test *testing.T, userID string, available int64) *fixture {
	test.Helper()
	fix := newFixture(test, LedgerConfig{})
	fix.store.balances[userID] = Balance{UserID: userID, AvailableAmount: available}
	fix.depositAt(userID, fix.now.Add(-24*time.Hour))
	return fix
}

func TestWithdrawalRequestReservesAndDebits(test *testing.T) {
	test.Parallel()
	fix := fundedFixture(test, "user-1", 20000)
	request, err := fix.service.RequestWithdrawal(context.Background(), "user-1", 10000)
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if request.Status != WithdrawalPending {
		test.Fatalf("expected PENDING, got %s", request.Status)
	}
	reserved, err := fix.service.ReservedAmount(context.Background(), "user-1")
	if err != nil {
		test.Fatalf("reserved: %v", err)
	}
	if reserved != 10000 {
		test.Fatalf("reserved %d, want 10000", reserved)
	}
	if got := fix.mustBalance(test, "user-1").AvailableAmount; got != 10000 {
		test.Fatalf("available %d, want 10000 after deduct-on-request", got)
	}
}

func TestWithdrawalRejectRefunds(test *testing.T) {
	test.Parallel()
	fix := fundedFixture(test, "user-1", 20000)
	ctx := context.Background()
	request, err := fix.service.RequestWithdrawal(ctx, "user-1", 10000)
	if err != nil {
		test.Fatalf("request: %v", err)
	}

	processed, err := fix.service.ProcessWithdrawal(ctx, request.RequestID, ActionReject, "admin-7", "suspicious")
	if err != nil {
		test.Fatalf("reject: %v", err)
	}
	if processed.Status != WithdrawalRejected || processed.AdminMemo != "suspicious" || processed.ProcessedAt == nil {
		test.Fatalf("unexpected processed request: %+v", processed)
	}
	if got := fix.mustBalance(test, "user-1").AvailableAmount; got != 20000 {
		test.Fatalf("available %d, want full refund to 20000", got)
	}
	reserved, _ := fix.service.ReservedAmount(ctx, "user-1")
	if reserved != 0 {
		test.Fatalf("reserved %d after reject, want 0", reserved)
	}
}

func TestWithdrawalApproveKeepsDebit(test *testing.T) {
	test.Parallel()
	fix := fundedFixture(test, "user-1", 20000)
	ctx := context.Background()
	request, err := fix.service.RequestWithdrawal(ctx, "user-1", 10000)
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := fix.service.ProcessWithdrawal(ctx, request.RequestID, ActionApprove, "admin-7", ""); err != nil {
		test.Fatalf("approve: %v", err)
	}
	// Already debited at request time: approval changes nothing.
	if got := fix.mustBalance(test, "user-1").AvailableAmount; got != 10000 {
		test.Fatalf("available %d, want 10000", got)
	}
}

func TestWithdrawalDoubleProcessingFails(test *testing.T) {
	test.Parallel()
	fix := fundedFixture(test, "user-1", 20000)
	ctx := context.Background()
	request, err := fix.service.RequestWithdrawal(ctx, "user-1", 5000)
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := fix.service.ProcessWithdrawal(ctx, request.RequestID, ActionCancel, "admin-1", ""); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if _, err := fix.service.ProcessWithdrawal(ctx, request.RequestID, ActionApprove, "admin-2", ""); !errors.Is(err, ErrAlreadyProcessed) {
		test.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	// The cancel refund is not applied twice.
	if got := fix.mustBalance(test, "user-1").AvailableAmount; got != 20000 {
		test.Fatalf("available %d, want 20000", got)
	}
}

func TestWithdrawalValidationGates(test *testing.T) {
	test.Parallel()
	ctx := context.Background()

	fix := fundedFixture(test, "user-1", 20000)
	if _, err := fix.service.RequestWithdrawal(ctx, "user-1", 500); !errors.Is(err, ErrBelowMinimum) {
		test.Fatalf("below minimum: %v", err)
	}
	if _, err := fix.service.RequestWithdrawal(ctx, "user-1", 30000); !errors.Is(err, ErrInsufficientAvailable) {
		test.Fatalf("insufficient: %v", err)
	}

	noDeposit := newFixture(test, LedgerConfig{})
	noDeposit.store.balances["user-2"] = Balance{UserID: "user-2", AvailableAmount: 20000}
	if _, err := noDeposit.service.RequestWithdrawal(ctx, "user-2", 5000); !errors.Is(err, ErrNoDepositActivity) {
		test.Fatalf("no deposit: %v", err)
	}

	stale := newFixture(test, LedgerConfig{})
	stale.store.balances["user-3"] = Balance{UserID: "user-3", AvailableAmount: 20000}
	stale.depositAt("user-3", stale.now.Add(-31*24*time.Hour))
	if _, err := stale.service.RequestWithdrawal(ctx, "user-3", 5000); !errors.Is(err, ErrNoDepositActivity) {
		test.Fatalf("stale deposit: %v", err)
	}
}

func TestWithdrawalFailureLeavesNoTrace(test *testing.T) {
	test.Parallel()
	fix := fundedFixture(test, "user-1", 20000)
	if _, err := fix.service.RequestWithdrawal(context.Background(), "user-1", 30000); err == nil {
		test.Fatalf("expected failure")
	}
	if got := fix.mustBalance(test, "user-1").AvailableAmount; got != 20000 {
		test.Fatalf("failed request mutated balance: %d", got)
	}
	if len(fix.store.withdrawals) != 0 || len(fix.store.ledger) != 0 {
		test.Fatalf("failed request left rows behind")
	}
}

func TestAdjustPendingAmountUpAndDown(test *testing.T) {
	test.Parallel()
	fix := fundedFixture(test, "user-1", 20000)
	ctx := context.Background()
	request, err := fix.service.RequestWithdrawal(ctx, "user-1", 8000)
	if err != nil {
		test.Fatalf("request: %v", err)
	}

	raised, err := fix.service.AdjustPendingAmount(ctx, request.RequestID, 12000)
	if err != nil {
		test.Fatalf("raise: %v", err)
	}
	if raised.Amount != 12000 {
		test.Fatalf("amount %d", raised.Amount)
	}
	if got := fix.mustBalance(test, "user-1").AvailableAmount; got != 8000 {
		test.Fatalf("available %d after raise, want 8000", got)
	}

	lowered, err := fix.service.AdjustPendingAmount(ctx, request.RequestID, 6000)
	if err != nil {
		test.Fatalf("lower: %v", err)
	}
	if lowered.Amount != 6000 {
		test.Fatalf("amount %d", lowered.Amount)
	}
	if got := fix.mustBalance(test, "user-1").AvailableAmount; got != 14000 {
		test.Fatalf("available %d after lower, want 14000", got)
	}

	reserved, _ := fix.service.ReservedAmount(ctx, "user-1")
	if reserved != 6000 {
		test.Fatalf("reserved %d, want 6000", reserved)
	}
}

func TestAdjustPendingAmountGuards(test *testing.T) {
	test.Parallel()
	fix := fundedFixture(test, "user-1", 10000)
	ctx := context.Background()
	request, err := fix.service.RequestWithdrawal(ctx, "user-1", 8000)
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := fix.service.AdjustPendingAmount(ctx, request.RequestID, 15000); !errors.Is(err, ErrInsufficientAvailable) {
		test.Fatalf("raise beyond available: %v", err)
	}
	if _, err := fix.service.ProcessWithdrawal(ctx, request.RequestID, ActionApprove, "admin", ""); err != nil {
		test.Fatalf("approve: %v", err)
	}
	if _, err := fix.service.AdjustPendingAmount(ctx, request.RequestID, 6000); !errors.Is(err, ErrAlreadyProcessed) {
		test.Fatalf("adjust terminal request: %v", err)
	}
	if _, err := fix.service.AdjustPendingAmount(ctx, "missing", 6000); !errors.Is(err, ErrUnknownWithdrawal) {
		test.Fatalf("adjust unknown request: %v", err)
	}
}

func TestReservedNeverExceedsTotal(test *testing.T) {
	test.Parallel()
	fix := fundedFixture(test, "user-1", 20000)
	ctx := context.Background()
	if _, err := fix.service.RequestWithdrawal(ctx, "user-1", 10000); err != nil {
		test.Fatalf("first request: %v", err)
	}
	if _, err := fix.service.RequestWithdrawal(ctx, "user-1", 10000); err != nil {
		test.Fatalf("second request: %v", err)
	}
	// A third request has nothing left to reserve.
	if _, err := fix.service.RequestWithdrawal(ctx, "user-1", 10000); !errors.Is(err, ErrInsufficientAvailable) {
		test.Fatalf("expected insufficient, got %v", err)
	}
	reserved, _ := fix.service.ReservedAmount(ctx, "user-1")
	balance := fix.mustBalance(test, "user-1")
	// Reserved funds still belong to the user until approval.
	if total := balance.Total() + reserved; reserved > total {
		test.Fatalf("reserved %d exceeds total %d", reserved, total)
	}
}

func TestWithdrawalStatusTerminal(test *testing.T) {
	test.Parallel()
	if WithdrawalPending.Terminal() {
		test.Fatal("PENDING must not be terminal")
	}
	for _, status := range []WithdrawalStatus{WithdrawalApproved, WithdrawalRejected, WithdrawalCancelled} {
		if !status.Terminal() {
			test.Fatalf("%s must be terminal", status)
		}
	}
}

// txScopedStore flags whether the deposit-eligibility read happened inside
// the withdrawal transaction.
type txScopedStore struct {
	*memStore
	inTx            bool
	depositReadInTx bool
}

func (store *txScopedStore) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	store.inTx = true
	defer func() { store.inTx = false }()
	return store.memStore.WithTx(ctx, func(ctx context.Context, _ Store) error {
		return fn(ctx, store)
	})
}

func (store *txScopedStore) LatestDepositAt(ctx context.Context, userID string) (*time.Time, error) {
	if store.inTx {
		store.depositReadInTx = true
	}
	return store.memStore.LatestDepositAt(ctx, userID)
}

func TestWithdrawalEligibilityReadsInsideTransaction(test *testing.T) {
	test.Parallel()
	store := &txScopedStore{memStore: newMemStore()}
	now := baseTime
	service, err := NewService(store, LedgerConfig{}, func() time.Time { return now })
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	store.balances["user-1"] = Balance{UserID: "user-1", AvailableAmount: 5000}
	store.deposits["user-1"] = now.Add(-time.Hour)
	if _, err := service.RequestWithdrawal(context.Background(), "user-1", 2000); err != nil {
		test.Fatalf("request: %v", err)
	}
	if !store.depositReadInTx {
		test.Fatal("eligibility was read outside the withdrawal transaction")
	}
}
