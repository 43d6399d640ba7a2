package vault

import (
	"fmt"
	"strings"
	"time"
)

// GameType identifies a mini-game that can produce accruals.
type GameType string

// Outcome is the result of a single play.
type Outcome string

const (
	OutcomeWin  Outcome = "WIN"
	OutcomeDraw Outcome = "DRAW"
	OutcomeLose Outcome = "LOSE"
)

// ParseOutcome validates a raw outcome string.
func ParseOutcome(raw string) (Outcome, error) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(raw))) {
	case OutcomeWin:
		return OutcomeWin, nil
	case OutcomeDraw:
		return OutcomeDraw, nil
	case OutcomeLose:
		return OutcomeLose, nil
	}
	return "", fmt.Errorf("%w: outcome %q", ErrInvalidOutcome, raw)
}

// PlayMode distinguishes normal play from event and trial modes, which
// never receive bonus multipliers.
type PlayMode string

const (
	PlayModeNormal PlayMode = "NORMAL"
	PlayModeEvent  PlayMode = "EVENT"
	PlayModeTrial  PlayMode = "TRIAL"
)

// RewardKind is the closed set of reward types a delivery request can carry.
// Only RewardPoint touches this ledger.
type RewardKind string

const (
	RewardPoint  RewardKind = "POINT"
	RewardTicket RewardKind = "TICKET"
	RewardXP     RewardKind = "XP"
)

// ParseRewardKind validates a raw reward kind string.
func ParseRewardKind(raw string) (RewardKind, error) {
	switch RewardKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case RewardPoint:
		return RewardPoint, nil
	case RewardTicket:
		return RewardTicket, nil
	case RewardXP:
		return RewardXP, nil
	}
	return "", fmt.Errorf("%w: reward kind %q", ErrInvalidRewardKind, raw)
}

// Balance is the per-user balance row. LockedStartedAt is set once when the
// locked pool goes from zero to positive; LockedExpiresAt is set iff locked
// funds exist and the program's expiry policy is enabled.
type Balance struct {
	UserID          string
	LockedAmount    int64
	AvailableAmount int64
	CashAmount      int64
	LockedStartedAt *time.Time
	LockedExpiresAt *time.Time
}

// Total is the sum of all pools on the row. Funds reserved by pending
// withdrawals are already debited here and tracked separately.
func (balance Balance) Total() int64 {
	return balance.LockedAmount + balance.AvailableAmount + balance.CashAmount
}

// EarnEvent is an append-only accrual record keyed by idempotency key.
type EarnEvent struct {
	EventID        string
	UserID         string
	IdempotencyKey string
	Amount         int64
	Source         string
	CreatedAt      time.Time
}

// WithdrawalStatus is the withdrawal request lifecycle.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalApproved  WithdrawalStatus = "APPROVED"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
	WithdrawalCancelled WithdrawalStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (status WithdrawalStatus) Terminal() bool {
	return status != WithdrawalPending
}

// WithdrawalAction is an admin decision on a pending request.
type WithdrawalAction string

const (
	ActionApprove WithdrawalAction = "APPROVE"
	ActionReject  WithdrawalAction = "REJECT"
	ActionCancel  WithdrawalAction = "CANCEL"
)

// ParseWithdrawalAction validates a raw action string.
func ParseWithdrawalAction(raw string) (WithdrawalAction, error) {
	switch WithdrawalAction(strings.ToUpper(strings.TrimSpace(raw))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	case ActionCancel:
		return ActionCancel, nil
	}
	return "", fmt.Errorf("%w: action %q", ErrInvalidAction, raw)
}

// WithdrawalRequest tracks a reservation against the available pool. The
// amount is debited from the balance row the moment the request is created
// and credited back if the request ends REJECTED or CANCELLED.
type WithdrawalRequest struct {
	RequestID   string
	UserID      string
	Amount      int64
	Status      WithdrawalStatus
	AdminMemo   string
	ProcessedBy string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// VaultState is the phase of a per-(user, program) status row.
type VaultState string

const (
	StateLocked    VaultState = "LOCKED"
	StateAvailable VaultState = "AVAILABLE"
	StateExpired   VaultState = "EXPIRED"
)

// VaultStatus is the per-(user, program) state machine row swept by the
// transition engine. ExpiresAt carries the next due transition for both
// phases: unlock while LOCKED, forfeiture while AVAILABLE under a grace
// policy. A nil ExpiresAt means the row is not due for anything.
type VaultStatus struct {
	UserID          string
	ProgramKey      string
	State           VaultState
	LockedAmount    int64
	AvailableAmount int64
	LockedAt        *time.Time
	AvailableSince  *time.Time
	ExpiresAt       *time.Time
}

// ExpirePolicy controls whether locked funds are put on a timer.
type ExpirePolicy string

const (
	ExpirePolicyFixed ExpirePolicy = "FIXED"
	ExpirePolicyNone  ExpirePolicy = "NONE"
)

// CashLedgerEntry is one append-only audit row per balance-affecting
// operation. Delta is the change to the row total; BalanceAfter is the row
// total after the operation.
type CashLedgerEntry struct {
	EntryID      string
	UserID       string
	Delta        int64
	BalanceAfter int64
	Reason       string
	Meta         string
	CreatedAt    time.Time
}

// StreakState is the per-user consecutive-day play counter plus the armed
// bonus window. Dates are calendar days in KST, formatted 2006-01-02.
type StreakState struct {
	UserID           string
	ConsecutiveDays  int
	LastPlayedOn     string
	BonusArmedOn     string
	BonusWindowStart *time.Time
}

// AdjustmentAudit is the before/after record written for every admin
// balance adjustment.
type AdjustmentAudit struct {
	AuditID         string
	UserID          string
	AdminID         string
	Reason          string
	LockedBefore    int64
	LockedAfter     int64
	AvailableBefore int64
	AvailableAfter  int64
	CreatedAt       time.Time
}

// GameOutcomeInput is the gameplay descriptor submitted by the game layer.
// PlayedAt is optional; a nil value stamps the accrual with the service
// clock, a set value backdates late-delivered events.
type GameOutcomeInput struct {
	UserID    string
	GameType  GameType
	GameLogID int64
	TokenType string
	Mode      PlayMode
	Outcome   Outcome
	RawPayout int64
	PlayedAt  *time.Time
}

// StatusSnapshot is the display view returned by the status query.
type StatusSnapshot struct {
	Locked           int64
	Available        int64
	Cash             int64
	Reserved         int64
	ExpiresAt        *time.Time
	Eligible         bool
	ActiveMultiplier float64
}
