package vault

import (
	"context"
	"fmt"
)

// RequestWithdrawal opens a PENDING withdrawal and debits the available
// pool in the same transaction. Deduct-on-request is the money-safety rule
// here: the funds leave the spendable pool the instant the request exists,
// so a second request during the pending window cannot spend them again.
func (service *Service) RequestWithdrawal(ctx context.Context, userID string, amount int64) (WithdrawalRequest, error) {
	if userID == "" {
		return WithdrawalRequest{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if amount <= 0 {
		return WithdrawalRequest{}, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidAmount)
	}
	if amount < service.config.MinWithdrawalAmount {
		return WithdrawalRequest{}, fmt.Errorf("%w: minimum is %d", ErrBelowMinimum, service.config.MinWithdrawalAmount)
	}
	now := service.nowFn()
	request := WithdrawalRequest{
		RequestID: service.newID(),
		UserID:    userID,
		Amount:    amount,
		Status:    WithdrawalPending,
		CreatedAt: now,
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		eligible, err := service.depositEligible(ctx, txStore, userID, now)
		if err != nil {
			return err
		}
		if !eligible {
			return ErrNoDepositActivity
		}
		balance, err := txStore.BalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if amount > balance.AvailableAmount {
			return ErrInsufficientAvailable
		}
		meta := fmt.Sprintf(`{"request_id":%q}`, request.RequestID)
		if err := service.debitAvailable(ctx, txStore, &balance, amount, reasonWithdrawRequest, meta, now); err != nil {
			return err
		}
		return txStore.CreateWithdrawal(ctx, request)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationWithdrawRequest,
		UserID:    userID,
		RequestID: request.RequestID,
		Amount:    amount,
		Reason:    reasonWithdrawRequest,
		Error:     operationError,
	})
	if operationError != nil {
		return WithdrawalRequest{}, operationError
	}
	return request, nil
}

// ProcessWithdrawal moves a PENDING request to exactly one terminal state.
// APPROVE changes no balance (the amount was debited at request time);
// REJECT and CANCEL credit the reserved amount back. A request that is no
// longer PENDING fails with ErrAlreadyProcessed, which makes double
// processing by racing admins harmless.
func (service *Service) ProcessWithdrawal(ctx context.Context, requestID string, action WithdrawalAction, adminID string, memo string) (WithdrawalRequest, error) {
	if requestID == "" {
		return WithdrawalRequest{}, fmt.Errorf("%w: empty request id", ErrUnknownWithdrawal)
	}
	if _, err := ParseWithdrawalAction(string(action)); err != nil {
		return WithdrawalRequest{}, err
	}
	now := service.nowFn()
	var processed WithdrawalRequest
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		request, err := txStore.WithdrawalForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status.Terminal() {
			return ErrAlreadyProcessed
		}
		switch action {
		case ActionApprove:
			request.Status = WithdrawalApproved
		case ActionReject:
			request.Status = WithdrawalRejected
		case ActionCancel:
			request.Status = WithdrawalCancelled
		}
		request.ProcessedBy = adminID
		request.AdminMemo = memo
		processedAt := now
		request.ProcessedAt = &processedAt
		if action != ActionApprove {
			balance, err := txStore.BalanceForUpdate(ctx, request.UserID)
			if err != nil {
				return err
			}
			meta := fmt.Sprintf(`{"request_id":%q,"action":%q}`, request.RequestID, action)
			if err := service.creditAvailable(ctx, txStore, &balance, request.Amount, reasonWithdrawRefund, meta, now); err != nil {
				return err
			}
		}
		if err := txStore.SaveWithdrawal(ctx, request); err != nil {
			return err
		}
		processed = request
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationWithdrawProcess,
		UserID:    processed.UserID,
		RequestID: requestID,
		Amount:    processed.Amount,
		Reason:    string(action),
		Error:     operationError,
	})
	if operationError != nil {
		return WithdrawalRequest{}, operationError
	}
	return processed, nil
}

// AdjustPendingAmount changes the amount of a still-PENDING request and
// applies the difference to the available pool immediately: raising the
// amount debits further, lowering it refunds the difference.
func (service *Service) AdjustPendingAmount(ctx context.Context, requestID string, newAmount int64) (WithdrawalRequest, error) {
	if requestID == "" {
		return WithdrawalRequest{}, fmt.Errorf("%w: empty request id", ErrUnknownWithdrawal)
	}
	if newAmount <= 0 {
		return WithdrawalRequest{}, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidAmount)
	}
	if newAmount < service.config.MinWithdrawalAmount {
		return WithdrawalRequest{}, fmt.Errorf("%w: minimum is %d", ErrBelowMinimum, service.config.MinWithdrawalAmount)
	}
	now := service.nowFn()
	var adjusted WithdrawalRequest
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		request, err := txStore.WithdrawalForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status.Terminal() {
			return ErrAlreadyProcessed
		}
		delta := newAmount - request.Amount
		if delta != 0 {
			balance, err := txStore.BalanceForUpdate(ctx, request.UserID)
			if err != nil {
				return err
			}
			meta := fmt.Sprintf(`{"request_id":%q,"from":%d,"to":%d}`, request.RequestID, request.Amount, newAmount)
			if delta > 0 {
				if delta > balance.AvailableAmount {
					return ErrInsufficientAvailable
				}
				if err := service.debitAvailable(ctx, txStore, &balance, delta, reasonWithdrawAdjust, meta, now); err != nil {
					return err
				}
			} else {
				if err := service.creditAvailable(ctx, txStore, &balance, -delta, reasonWithdrawAdjust, meta, now); err != nil {
					return err
				}
			}
		}
		request.Amount = newAmount
		if err := txStore.SaveWithdrawal(ctx, request); err != nil {
			return err
		}
		adjusted = request
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationWithdrawAdjust,
		UserID:    adjusted.UserID,
		RequestID: requestID,
		Amount:    newAmount,
		Reason:    reasonWithdrawAdjust,
		Error:     operationError,
	})
	if operationError != nil {
		return WithdrawalRequest{}, operationError
	}
	return adjusted, nil
}
