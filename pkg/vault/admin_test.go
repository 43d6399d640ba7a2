package vault

import (
	"context"
	"testing"
	"time"
)

func int64Pointer(value int64) *int64 {
	return &value
}

func TestSetAbsoluteArmsTimerOnce(test *testing.T) {
	test.Parallel()
	fix := newFixture(test, LedgerConfig{})
	ctx := context.Background()

	audit, err := fix.service.SetAbsolute(ctx, "user-1", AbsoluteTargets{Locked: int64Pointer(5000)}, "seed vault", "admin-1")
	if err != nil {
		test.Fatalf("set: %v", err)
	}
	if audit.LockedBefore != 0 || audit.LockedAfter != 5000 {
		test.Fatalf("unexpected audit: %+v", audit)
	}
	balance := fix.mustBalance(test, "user-1")
	if balance.LockedExpiresAt == nil || !balance.LockedExpiresAt.Equal(fix.now.Add(24*time.Hour)) {
		test.Fatalf("timer should arm from now: %+v", balance)
	}
	armedAt := *balance.LockedExpiresAt

	// Idempotent set: same target, timer untouched.
	fix.advance(time.Hour)
	if _, err := fix.service.SetAbsolute(ctx, "user-1", AbsoluteTargets{Locked: int64Pointer(5000)}, "seed vault", "admin-1"); err != nil {
		test.Fatalf("repeat set: %v", err)
	}
	balance = fix.mustBalance(test, "user-1")
	if balance.LockedAmount != 5000 || !balance.LockedExpiresAt.Equal(armedAt) {
		test.Fatalf("repeated set moved the timer: %+v", balance)
	}
}

func TestAdjustDeltaNeverExtendsActiveTimer(test *testing.T) {
	test.Parallel()
	fix := newFixture(test, LedgerConfig{})
	ctx := context.Background()
	if _, err := fix.service.AdjustDelta(ctx, "user-1", 1000, 0, "seed", "admin-1"); err != nil {
		test.Fatalf("seed: %v", err)
	}
	armedAt := *fix.mustBalance(test, "user-1").LockedExpiresAt

	fix.advance(2 * time.Hour)
	if _, err := fix.service.AdjustDelta(ctx, "user-1", 500, 0, "top up", "admin-1"); err != nil {
		test.Fatalf("top up: %v", err)
	}
	balance := fix.mustBalance(test, "user-1")
	if balance.LockedAmount != 1500 {
		test.Fatalf("locked %d", balance.LockedAmount)
	}
	if !balance.LockedExpiresAt.Equal(armedAt) {
		test.Fatalf("top-up extended an active timer: %v -> %v", armedAt, balance.LockedExpiresAt)
	}
}

func TestAdjustDeltaReArmsExpiredTimer(test *testing.T) {
	test.Parallel()
	fix := newFixture(test, LedgerConfig{})
	ctx := context.Background()
	stale := fix.now.Add(-time.Hour)
	fix.store.balances["user-1"] = Balance{UserID: "user-1", LockedExpiresAt: &stale}

	if _, err := fix.service.AdjustDelta(ctx, "user-1", 1000, 0, "re-seed", "admin-1"); err != nil {
		test.Fatalf("adjust: %v", err)
	}
	balance := fix.mustBalance(test, "user-1")
	if balance.LockedExpiresAt == nil || !balance.LockedExpiresAt.Equal(fix.now.Add(24*time.Hour)) {
		test.Fatalf("expired timer should re-arm from now: %+v", balance)
	}
}

func TestAdjustDeltaClampsAtZero(test *testing.T) {
	test.Parallel()
	fix := newFixture(test, LedgerConfig{})
	ctx := context.Background()
	fix.store.balances["user-1"] = Balance{UserID: "user-1", LockedAmount: 300, AvailableAmount: 200}

	audit, err := fix.service.AdjustDelta(ctx, "user-1", -1000, -1000, "claw back", "admin-1")
	if err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if audit.LockedAfter != 0 || audit.AvailableAfter != 0 {
		test.Fatalf("expected clamp to zero: %+v", audit)
	}
	balance := fix.mustBalance(test, "user-1")
	if balance.LockedAmount != 0 || balance.AvailableAmount != 0 {
		test.Fatalf("negative balance leaked: %+v", balance)
	}
	if balance.LockedExpiresAt != nil || balance.LockedStartedAt != nil {
		test.Fatalf("timer should clear when locked reaches zero: %+v", balance)
	}
}

func TestAdjustmentsWriteAuditTrail(test *testing.T) {
	test.Parallel()
	fix := newFixture(test, LedgerConfig{})
	ctx := context.Background()
	if _, err := fix.service.AdjustDelta(ctx, "user-1", 1000, 2000, "initial grant", "admin-9"); err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if _, err := fix.service.SetAbsolute(ctx, "user-1", AbsoluteTargets{Available: int64Pointer(500)}, "correction", "admin-9"); err != nil {
		test.Fatalf("set: %v", err)
	}
	if len(fix.store.audits) != 2 {
		test.Fatalf("expected 2 audit rows, got %d", len(fix.store.audits))
	}
	second := fix.store.audits[1]
	if second.AvailableBefore != 2000 || second.AvailableAfter != 500 || second.LockedBefore != 1000 || second.LockedAfter != 1000 {
		test.Fatalf("unexpected audit: %+v", second)
	}
	if second.AdminID != "admin-9" || second.Reason != "correction" {
		test.Fatalf("audit attribution missing: %+v", second)
	}
}

func TestAdjustmentsMirrorStatusRow(test *testing.T) {
	test.Parallel()
	fix := newFixture(test, LedgerConfig{})
	ctx := context.Background()
	if _, err := fix.service.SetAbsolute(ctx, "user-1", AbsoluteTargets{Locked: int64Pointer(4000)}, "seed", "admin-1"); err != nil {
		test.Fatalf("set: %v", err)
	}
	status := fix.mustStatus(test, "user-1", "default")
	if status.State != StateLocked || status.LockedAmount != 4000 || status.ExpiresAt == nil {
		test.Fatalf("status not mirrored: %+v", status)
	}
}
