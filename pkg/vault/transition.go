package vault

import (
	"context"
	"errors"
	"time"
)

// Tick sweeps due status rows forward one state, up to limit rows, and
// returns how many rows changed. Transitions only move forward
// (LOCKED→AVAILABLE→EXPIRED); a sweep with no due rows is a no-op, so the
// caller can run it from cron or by hand at any cadence. Interrupting a
// batch is safe: unprocessed rows stay put for the next sweep.
func (service *Service) Tick(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	now := service.nowFn()
	due, err := service.store.ListDueStatuses(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, candidate := range due {
		changed, err := service.transitionOne(ctx, candidate.UserID, candidate.ProgramKey, now)
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationSweep,
		Amount:    int64(updated),
	})
	return updated, nil
}

const defaultSweepLimit = 500

// transitionOne re-reads a single status row under lock and applies at most
// one forward transition. Eligibility is re-checked inside the transaction
// so concurrent sweeps cannot double-apply.
func (service *Service) transitionOne(ctx context.Context, userID string, programKey string, now time.Time) (bool, error) {
	changed := false
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		status, err := txStore.StatusForUpdate(ctx, userID, programKey)
		if err != nil {
			return err
		}
		if status.ExpiresAt == nil || status.ExpiresAt.After(now) {
			return nil
		}
		program, err := service.config.programFor(status.ProgramKey)
		if err != nil {
			return err
		}
		if status.State == StateLocked {
			if program.ExpirePolicy == ExpirePolicyNone {
				return service.healDisarmedTimer(ctx, txStore, &status, &changed)
			}
			return service.unlock(ctx, txStore, &status, program, now, &changed)
		}
		return service.advancePostLock(ctx, txStore, &status, program, now, &changed)
	})
	if errors.Is(err, ErrUnknownProgram) {
		// A status row referencing a deconfigured program is left alone;
		// the operator either restores the program or migrates the rows.
		return false, nil
	}
	return changed, err
}

// advancePostLock steps a row already past its first unlock. The due
// deadline is either a newer lock cycle coming due or the grace forfeiture;
// the state itself never moves backward and EXPIRED stays terminal.
func (service *Service) advancePostLock(ctx context.Context, txStore Store, status *VaultStatus, program ProgramConfig, now time.Time, changed *bool) error {
	balance, err := txStore.BalanceForUpdate(ctx, status.UserID)
	if err != nil {
		return err
	}
	if status.LockedAmount > 0 && balance.LockedExpiresAt != nil && !balance.LockedExpiresAt.After(now) {
		return service.unlock(ctx, txStore, status, program, now, changed)
	}
	if program.AvailableGraceHours > 0 && graceDue(*status, program, now) {
		return service.expire(ctx, txStore, status, now, changed)
	}
	return service.refreshDeadline(ctx, txStore, status, balance, program, now, changed)
}

// graceDue reports whether the forfeiture deadline has passed. AVAILABLE
// rows anchor it at AvailableSince. An EXPIRED row only forfeits funds a
// later cycle landed on it, and a due ExpiresAt is that armed deadline.
func graceDue(status VaultStatus, program ProgramConfig, now time.Time) bool {
	switch status.State {
	case StateAvailable:
		if status.AvailableSince == nil {
			return false
		}
		grace := time.Duration(program.AvailableGraceHours) * time.Hour
		return !status.AvailableSince.Add(grace).After(now)
	case StateExpired:
		return status.AvailableAmount > 0
	}
	return false
}

// unlock moves the full locked amount into available, conserving the total.
// The first unlock of a cycle moves the row to AVAILABLE; a later cycle
// landing on a row past that state leaves the state alone.
func (service *Service) unlock(ctx context.Context, txStore Store, status *VaultStatus, program ProgramConfig, now time.Time, changed *bool) error {
	moved := status.LockedAmount
	status.AvailableAmount += moved
	status.LockedAmount = 0
	status.LockedAt = nil
	if status.State == StateLocked {
		status.State = StateAvailable
		availableSince := now
		status.AvailableSince = &availableSince
	}
	status.ExpiresAt = nil
	if program.AvailableGraceHours > 0 {
		// The original forfeiture deadline survives an in-place unlock;
		// funds landing after expiry open a fresh window.
		anchor := now
		if status.State == StateAvailable && status.AvailableSince != nil {
			anchor = *status.AvailableSince
		}
		graceDeadline := anchor.Add(time.Duration(program.AvailableGraceHours) * time.Hour)
		status.ExpiresAt = &graceDeadline
	}
	if err := txStore.SaveStatus(ctx, *status); err != nil {
		return err
	}
	// Mirror the unlock on the balance row: locked funds become
	// withdrawable and the hold timer disarms.
	balance, err := txStore.BalanceForUpdate(ctx, status.UserID)
	if err != nil {
		return err
	}
	if moved > balance.LockedAmount {
		moved = balance.LockedAmount
	}
	balance.LockedAmount -= moved
	balance.AvailableAmount += moved
	if balance.LockedAmount == 0 {
		clearLockTimer(&balance)
	}
	if err := txStore.SaveBalance(ctx, balance); err != nil {
		return err
	}
	*changed = true
	return nil
}

// expire forfeits available funds past the grace window, keeping a pending
// lock deadline armed so a newer cycle still unlocks.
func (service *Service) expire(ctx context.Context, txStore Store, status *VaultStatus, now time.Time, changed *bool) error {
	forfeited := status.AvailableAmount
	status.AvailableAmount = 0
	status.State = StateExpired
	balance, err := txStore.BalanceForUpdate(ctx, status.UserID)
	if err != nil {
		return err
	}
	status.ExpiresAt = nil
	if status.LockedAmount > 0 {
		status.ExpiresAt = balance.LockedExpiresAt
	}
	if err := txStore.SaveStatus(ctx, *status); err != nil {
		return err
	}
	if forfeited > 0 {
		if forfeited > balance.AvailableAmount {
			forfeited = balance.AvailableAmount
		}
		balance.AvailableAmount -= forfeited
		if err := txStore.SaveBalance(ctx, balance); err != nil {
			return err
		}
		if err := service.appendLedger(ctx, txStore, status.UserID, -forfeited, balance.Total(), reasonVaultExpire, "", now); err != nil {
			return err
		}
	}
	*changed = true
	return nil
}

// healDisarmedTimer clears a stale deadline on a row whose program no
// longer expires, instead of transitioning it.
func (service *Service) healDisarmedTimer(ctx context.Context, txStore Store, status *VaultStatus, changed *bool) error {
	status.ExpiresAt = nil
	if err := txStore.SaveStatus(ctx, *status); err != nil {
		return err
	}
	if status.State == StateLocked {
		balance, err := txStore.BalanceForUpdate(ctx, status.UserID)
		if err != nil {
			return err
		}
		if balance.LockedExpiresAt != nil {
			balance.LockedExpiresAt = nil
			if err := txStore.SaveBalance(ctx, balance); err != nil {
				return err
			}
		}
	}
	*changed = true
	return nil
}

// refreshDeadline recomputes the next due deadline for a row whose timer
// fired with no transition actually due, clearing a stale one left behind by
// a config or admin change.
func (service *Service) refreshDeadline(ctx context.Context, txStore Store, status *VaultStatus, balance Balance, program ProgramConfig, now time.Time, changed *bool) error {
	var next *time.Time
	if program.AvailableGraceHours > 0 && status.State == StateAvailable && status.AvailableSince != nil {
		graceDeadline := status.AvailableSince.Add(time.Duration(program.AvailableGraceHours) * time.Hour)
		if graceDeadline.After(now) {
			next = &graceDeadline
		}
	}
	if status.LockedAmount > 0 && balance.LockedExpiresAt != nil && balance.LockedExpiresAt.After(now) {
		next = earliestDeadline(next, balance.LockedExpiresAt)
	}
	status.ExpiresAt = next
	if err := txStore.SaveStatus(ctx, *status); err != nil {
		return err
	}
	*changed = true
	return nil
}
