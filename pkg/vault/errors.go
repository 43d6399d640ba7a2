package vault

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the vault service.
var (
	ErrBelowMinimum          = errors.New("amount below withdrawal minimum")
	ErrNoDepositActivity     = errors.New("no qualifying deposit activity")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrAlreadyProcessed      = errors.New("request already processed")
	ErrDuplicateEvent        = errors.New("duplicate earn event")
	ErrUnsupportedRewardKind = errors.New("reward kind not handled by this ledger")
	ErrUnknownWithdrawal     = errors.New("unknown withdrawal request")
	ErrUnknownProgram        = errors.New("unknown vault program")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidOutcome        = errors.New("invalid outcome")
	ErrInvalidAction         = errors.New("invalid withdrawal action")
	ErrInvalidRewardKind     = errors.New("invalid reward kind")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
	ErrInvalidLedgerConfig   = errors.New("invalid ledger config")
)

// Stable string codes exposed to callers. The HTTP layer maps these to 4xx
// responses; internal errors never surface raw.
const (
	CodeBelowMinimum          = "BELOW_MINIMUM"
	CodeNoDepositActivity     = "NO_DEPOSIT_ACTIVITY"
	CodeInsufficientAvailable = "INSUFFICIENT_AVAILABLE"
	CodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	CodeAlreadyProcessed      = "ALREADY_PROCESSED"
	CodeDuplicateEvent        = "DUPLICATE_EVENT"
	CodeUnsupportedRewardKind = "UNSUPPORTED_REWARD_KIND"
	CodeUnknownRequest        = "UNKNOWN_REQUEST"
	CodeUnknownProgram        = "UNKNOWN_PROGRAM"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeInvalidArgument       = "INVALID_ARGUMENT"
	CodeInternal              = "INTERNAL"
)

// CodeFor maps a domain error to its stable string code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrBelowMinimum):
		return CodeBelowMinimum
	case errors.Is(err, ErrNoDepositActivity):
		return CodeNoDepositActivity
	case errors.Is(err, ErrInsufficientAvailable):
		return CodeInsufficientAvailable
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrAlreadyProcessed):
		return CodeAlreadyProcessed
	case errors.Is(err, ErrDuplicateEvent):
		return CodeDuplicateEvent
	case errors.Is(err, ErrUnsupportedRewardKind):
		return CodeUnsupportedRewardKind
	case errors.Is(err, ErrUnknownWithdrawal):
		return CodeUnknownRequest
	case errors.Is(err, ErrUnknownProgram):
		return CodeUnknownProgram
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrInvalidUserID),
		errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, ErrInvalidAction),
		errors.Is(err, ErrInvalidRewardKind):
		return CodeInvalidArgument
	}
	return CodeInternal
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
