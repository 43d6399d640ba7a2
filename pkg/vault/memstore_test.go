package vault

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"
)

// memStore is an in-memory Store for unit tests. WithTx snapshots state and
// restores it on error, mimicking transactional rollback.
type memStore struct {
	balances    map[string]Balance
	events      map[string]EarnEvent
	ledger      []CashLedgerEntry
	streaks     map[string]StreakState
	statuses    map[string]VaultStatus
	withdrawals map[string]WithdrawalRequest
	deposits    map[string]time.Time
	audits      []AdjustmentAudit
}

func newMemStore() *memStore {
	return &memStore{
		balances:    map[string]Balance{},
		events:      map[string]EarnEvent{},
		streaks:     map[string]StreakState{},
		statuses:    map[string]VaultStatus{},
		withdrawals: map[string]WithdrawalRequest{},
		deposits:    map[string]time.Time{},
	}
}

func statusKey(userID string, programKey string) string {
	return userID + "|" + programKey
}

func (store *memStore) snapshot() *memStore {
	clone := newMemStore()
	for key, value := range store.balances {
		clone.balances[key] = value
	}
	for key, value := range store.events {
		clone.events[key] = value
	}
	for key, value := range store.streaks {
		clone.streaks[key] = value
	}
	for key, value := range store.statuses {
		clone.statuses[key] = value
	}
	for key, value := range store.withdrawals {
		clone.withdrawals[key] = value
	}
	for key, value := range store.deposits {
		clone.deposits[key] = value
	}
	clone.ledger = append([]CashLedgerEntry(nil), store.ledger...)
	clone.audits = append([]AdjustmentAudit(nil), store.audits...)
	return clone
}

func (store *memStore) restore(from *memStore) {
	store.balances = from.balances
	store.events = from.events
	store.streaks = from.streaks
	store.statuses = from.statuses
	store.withdrawals = from.withdrawals
	store.deposits = from.deposits
	store.ledger = from.ledger
	store.audits = from.audits
}

func (store *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	before := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(before)
		return err
	}
	return nil
}

func (store *memStore) BalanceForUpdate(_ context.Context, userID string) (Balance, error) {
	if balance, ok := store.balances[userID]; ok {
		return balance, nil
	}
	return Balance{UserID: userID}, nil
}

func (store *memStore) GetBalance(ctx context.Context, userID string) (Balance, error) {
	return store.BalanceForUpdate(ctx, userID)
}

func (store *memStore) SaveBalance(_ context.Context, balance Balance) error {
	store.balances[balance.UserID] = balance
	return nil
}

func (store *memStore) InsertEarnEvent(_ context.Context, event EarnEvent) error {
	if _, exists := store.events[event.IdempotencyKey]; exists {
		return ErrDuplicateEvent
	}
	store.events[event.IdempotencyKey] = event
	return nil
}

func (store *memStore) GetEarnEvent(_ context.Context, idempotencyKey string) (EarnEvent, error) {
	event, ok := store.events[idempotencyKey]
	if !ok {
		return EarnEvent{}, ErrDuplicateEvent
	}
	return event, nil
}

func (store *memStore) AppendLedger(_ context.Context, entry CashLedgerEntry) error {
	store.ledger = append(store.ledger, entry)
	return nil
}

func (store *memStore) ListLedger(_ context.Context, userID string, limit int) ([]CashLedgerEntry, error) {
	var entries []CashLedgerEntry
	for index := len(store.ledger) - 1; index >= 0; index-- {
		if store.ledger[index].UserID != userID {
			continue
		}
		entries = append(entries, store.ledger[index])
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (store *memStore) StreakForUpdate(_ context.Context, userID string) (StreakState, error) {
	if streak, ok := store.streaks[userID]; ok {
		return streak, nil
	}
	return StreakState{UserID: userID}, nil
}

func (store *memStore) GetStreak(ctx context.Context, userID string) (StreakState, error) {
	return store.StreakForUpdate(ctx, userID)
}

func (store *memStore) SaveStreak(_ context.Context, streak StreakState) error {
	store.streaks[streak.UserID] = streak
	return nil
}

func (store *memStore) StatusForUpdate(_ context.Context, userID string, programKey string) (VaultStatus, error) {
	if status, ok := store.statuses[statusKey(userID, programKey)]; ok {
		return status, nil
	}
	return VaultStatus{UserID: userID, ProgramKey: programKey, State: StateLocked}, nil
}

func (store *memStore) SaveStatus(_ context.Context, status VaultStatus) error {
	store.statuses[statusKey(status.UserID, status.ProgramKey)] = status
	return nil
}

func (store *memStore) ListDueStatuses(_ context.Context, now time.Time, limit int) ([]VaultStatus, error) {
	var due []VaultStatus
	for _, status := range store.statuses {
		if status.ExpiresAt != nil && !status.ExpiresAt.After(now) {
			due = append(due, status)
		}
	}
	sort.Slice(due, func(left, right int) bool {
		return due[left].ExpiresAt.Before(*due[right].ExpiresAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (store *memStore) CreateWithdrawal(_ context.Context, request WithdrawalRequest) error {
	store.withdrawals[request.RequestID] = request
	return nil
}

func (store *memStore) WithdrawalForUpdate(_ context.Context, requestID string) (WithdrawalRequest, error) {
	request, ok := store.withdrawals[requestID]
	if !ok {
		return WithdrawalRequest{}, ErrUnknownWithdrawal
	}
	return request, nil
}

func (store *memStore) SaveWithdrawal(_ context.Context, request WithdrawalRequest) error {
	store.withdrawals[request.RequestID] = request
	return nil
}

func (store *memStore) SumPendingWithdrawals(_ context.Context, userID string) (int64, error) {
	var sum int64
	for _, request := range store.withdrawals {
		if request.UserID == userID && request.Status == WithdrawalPending {
			sum += request.Amount
		}
	}
	return sum, nil
}

func (store *memStore) LatestDepositAt(_ context.Context, userID string) (*time.Time, error) {
	deposit, ok := store.deposits[userID]
	if !ok {
		return nil, nil
	}
	return &deposit, nil
}

func (store *memStore) AppendAdjustmentAudit(_ context.Context, audit AdjustmentAudit) error {
	store.audits = append(store.audits, audit)
	return nil
}

// Shared test fixtures.

// baseTime is a KST afternoon well outside the golden hour.
var baseTime = time.Date(2025, 6, 2, 15, 0, 0, 0, KST)

type fixture struct {
	store   *memStore
	service *Service
	now     time.Time
}

func newFixture(test *testing.T, config LedgerConfig) *fixture {
	test.Helper()
	fix := &fixture{store: newMemStore(), now: baseTime}
	var sequence int
	service, err := NewService(fix.store, config, func() time.Time { return fix.now },
		WithIDGenerator(func() string {
			sequence++
			return fmt.Sprintf("id-%d", sequence)
		}))
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	fix.service = service
	return fix
}

func (fix *fixture) advance(by time.Duration) {
	fix.now = fix.now.Add(by)
}

func (fix *fixture) depositAt(userID string, at time.Time) {
	fix.store.deposits[userID] = at
}

func (fix *fixture) mustBalance(test *testing.T, userID string) Balance {
	test.Helper()
	balance, err := fix.store.GetBalance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func (fix *fixture) mustStatus(test *testing.T, userID string, programKey string) VaultStatus {
	test.Helper()
	status, err := fix.store.StatusForUpdate(context.Background(), userID, programKey)
	if err != nil {
		test.Fatalf("status: %v", err)
	}
	return status
}
