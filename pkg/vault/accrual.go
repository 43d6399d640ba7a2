package vault

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ApplyGameOutcome credits the locked pool for one gameplay outcome. The
// accrual is applied exactly once per (gameType, gameLogID): a duplicate
// submission returns 0 with no state change, enforced by the earn-event
// unique index rather than a read-then-write check so concurrent retries
// from separate request flows cannot double-credit.
func (service *Service) ApplyGameOutcome(ctx context.Context, input GameOutcomeInput) (int64, error) {
	if input.UserID == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if input.GameType == "" {
		return 0, fmt.Errorf("%w: empty game type", ErrInvalidOutcome)
	}
	outcome, err := ParseOutcome(string(input.Outcome))
	if err != nil {
		return 0, err
	}
	input.Outcome = outcome
	if input.Mode == "" {
		input.Mode = PlayModeNormal
	}
	key := accrualKey(input.GameType, input.GameLogID)
	now := service.nowFn()
	if input.PlayedAt != nil {
		now = *input.PlayedAt
	}

	var credited int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		streak, err := txStore.StreakForUpdate(ctx, input.UserID)
		if err != nil {
			return err
		}
		streak = advanceStreak(service.config.Multiplier, streak, now)
		credited = service.creditedAmount(input, streak, now)
		event := EarnEvent{
			EventID:        service.newID(),
			UserID:         input.UserID,
			IdempotencyKey: key,
			Amount:         credited,
			Source:         sourceGamePlay,
			CreatedAt:      now,
		}
		// Insert before any mutation so a duplicate key rolls the whole
		// transaction back to a clean no-op.
		if err := txStore.InsertEarnEvent(ctx, event); err != nil {
			return err
		}
		if err := txStore.SaveStreak(ctx, streak); err != nil {
			return err
		}
		if credited == 0 {
			return nil
		}
		balance, err := txStore.BalanceForUpdate(ctx, input.UserID)
		if err != nil {
			return err
		}
		meta := fmt.Sprintf(`{"game_type":%q,"game_log_id":%d,"outcome":%q}`, input.GameType, input.GameLogID, input.Outcome)
		return service.creditLocked(ctx, txStore, &balance, credited, reasonGamePlay, meta, now)
	})

	var warning string
	if errors.Is(operationError, ErrDuplicateEvent) {
		// First write wins. A replay carrying a diverging amount is a
		// caller bug worth alerting on, but the contract stays a no-op.
		if existing, getErr := service.store.GetEarnEvent(ctx, key); getErr == nil && existing.Amount != credited {
			warning = fmt.Sprintf("duplicate accrual with diverging amount: stored=%d resubmitted=%d", existing.Amount, credited)
		}
		credited = 0
		operationError = nil
	}
	if operationError != nil {
		credited = 0
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationAccrue,
		UserID:         input.UserID,
		Amount:         credited,
		IdempotencyKey: key,
		Reason:         reasonGamePlay,
		Warning:        warning,
		Error:          operationError,
	})
	return credited, operationError
}

// creditedAmount resolves the reward-table base, applies the multiplier to
// the base gate amount only, and adds the unmultiplied payout share.
// Excluded token types and non-normal play modes accrue at base.
func (service *Service) creditedAmount(input GameOutcomeInput, streak StreakState, now time.Time) int64 {
	base := int64(0)
	if rewards, ok := service.config.Rewards.Table[input.GameType]; ok {
		base = rewards.amountFor(input.Outcome)
	}
	credited := base
	excluded := input.Mode != PlayModeNormal || service.config.Rewards.tokenExcluded(input.TokenType)
	if base > 0 && !excluded {
		multiplier := MultiplierFor(service.config.Multiplier, now, streak)
		boosted := int64(math.Round(float64(base) * multiplier))
		// The multiplier never reduces a credit below its base.
		if boosted > credited {
			credited = boosted
		}
	}
	if service.config.Rewards.PayoutBonusRate > 0 && input.RawPayout > 0 {
		credited += int64(math.Round(float64(input.RawPayout) * service.config.Rewards.PayoutBonusRate))
	}
	return clampToZero(credited)
}

// DeliverReward routes a POINT reward from the mission/season-pass system
// into the locked pool. Ticket and XP rewards belong to other subsystems
// and are rejected here. The caller-supplied token scopes idempotency.
func (service *Service) DeliverReward(ctx context.Context, userID string, kind RewardKind, amount int64, token string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if kind != RewardPoint {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedRewardKind, kind)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: reward amount must be positive", ErrInvalidAmount)
	}
	if token == "" {
		return 0, fmt.Errorf("%w: empty reward token", ErrInvalidAmount)
	}
	key := idempotencyPrefixReward + idempotencyKeyDelimiter + token
	now := service.nowFn()

	credited := amount
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		event := EarnEvent{
			EventID:        service.newID(),
			UserID:         userID,
			IdempotencyKey: key,
			Amount:         amount,
			Source:         sourceRewardDelivery,
			CreatedAt:      now,
		}
		if err := txStore.InsertEarnEvent(ctx, event); err != nil {
			return err
		}
		balance, err := txStore.BalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		return service.creditLocked(ctx, txStore, &balance, amount, reasonRewardDelivery, "", now)
	})
	if errors.Is(operationError, ErrDuplicateEvent) {
		credited = 0
		operationError = nil
	}
	if operationError != nil {
		credited = 0
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationReward,
		UserID:         userID,
		Amount:         credited,
		IdempotencyKey: key,
		Reason:         reasonRewardDelivery,
		Error:          operationError,
	})
	return credited, operationError
}

func accrualKey(gameType GameType, gameLogID int64) string {
	return fmt.Sprintf("%s%s%d", gameType, idempotencyKeyDelimiter, gameLogID)
}
