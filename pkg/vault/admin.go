package vault

import (
	"context"
	"fmt"
)

// AbsoluteTargets carries the optional pool targets for SetAbsolute. A nil
// field leaves that pool untouched.
type AbsoluteTargets struct {
	Locked    *int64
	Available *int64
}

// AdjustDelta applies signed deltas to the locked and available pools,
// clamping results at zero, and writes a before/after audit row. Prefer
// SetAbsolute operationally: repeating a delta is not idempotent.
func (service *Service) AdjustDelta(ctx context.Context, userID string, lockedDelta int64, availableDelta int64, reason string, adminID string) (AdjustmentAudit, error) {
	return service.applyAdjustment(ctx, userID, reason, adminID, operationAdminAdjust, reasonAdminAdjust,
		func(balance Balance) (int64, int64) {
			return clampToZero(balance.LockedAmount + lockedDelta), clampToZero(balance.AvailableAmount + availableDelta)
		})
}

// SetAbsolute pins the locked and/or available pools to target values,
// clamping at zero. Repeated application with the same targets is a no-op,
// including on the expiry timer.
func (service *Service) SetAbsolute(ctx context.Context, userID string, targets AbsoluteTargets, reason string, adminID string) (AdjustmentAudit, error) {
	return service.applyAdjustment(ctx, userID, reason, adminID, operationAdminSet, reasonAdminSet,
		func(balance Balance) (int64, int64) {
			locked := balance.LockedAmount
			available := balance.AvailableAmount
			if targets.Locked != nil {
				locked = clampToZero(*targets.Locked)
			}
			if targets.Available != nil {
				available = clampToZero(*targets.Available)
			}
			return locked, available
		})
}

func (service *Service) applyAdjustment(ctx context.Context, userID string, reason string, adminID string, operation string, ledgerReason string, compute func(Balance) (int64, int64)) (AdjustmentAudit, error) {
	if userID == "" {
		return AdjustmentAudit{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if adminID == "" {
		return AdjustmentAudit{}, fmt.Errorf("%w: empty admin id", ErrInvalidUserID)
	}
	now := service.nowFn()
	var audit AdjustmentAudit
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		balance, err := txStore.BalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		lockedAfter, availableAfter := compute(balance)
		audit = AdjustmentAudit{
			AuditID:         service.newID(),
			UserID:          userID,
			AdminID:         adminID,
			Reason:          reason,
			LockedBefore:    balance.LockedAmount,
			LockedAfter:     lockedAfter,
			AvailableBefore: balance.AvailableAmount,
			AvailableAfter:  availableAfter,
			CreatedAt:       now,
		}
		totalBefore := balance.Total()
		wasZeroLocked := balance.LockedAmount == 0
		balance.LockedAmount = lockedAfter
		balance.AvailableAmount = availableAfter
		if wasZeroLocked && lockedAfter > 0 {
			// Arm a fresh timer only when none is still active; a live
			// timer is never extended by an admin top-up.
			service.armLockTimer(&balance, now)
		}
		if lockedAfter == 0 {
			clearLockTimer(&balance)
		}
		if err := txStore.SaveBalance(ctx, balance); err != nil {
			return err
		}
		delta := balance.Total() - totalBefore
		if delta != 0 {
			meta := fmt.Sprintf(`{"admin_id":%q,"reason":%q}`, adminID, reason)
			if err := service.appendLedger(ctx, txStore, userID, delta, balance.Total(), ledgerReason, meta, now); err != nil {
				return err
			}
		}
		if err := service.syncDefaultStatus(ctx, txStore, balance); err != nil {
			return err
		}
		return txStore.AppendAdjustmentAudit(ctx, audit)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operation,
		UserID:    userID,
		Amount:    audit.LockedAfter + audit.AvailableAfter,
		Reason:    reason,
		Error:     operationError,
	})
	if operationError != nil {
		return AdjustmentAudit{}, operationError
	}
	return audit, nil
}
