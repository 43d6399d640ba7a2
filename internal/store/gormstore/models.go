package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserBalance represents the balances table, one row per user.
type UserBalance struct {
	UserID          string     `gorm:"primaryKey"`
	LockedAmount    int64      `gorm:"not null"`
	AvailableAmount int64      `gorm:"not null"`
	CashAmount      int64      `gorm:"not null"`
	LockedStartedAt *time.Time `gorm:""`
	LockedExpiresAt *time.Time `gorm:""`
	UpdatedAt       time.Time  `gorm:"not null"`
}

func (UserBalance) TableName() string { return "balances" }

// EarnEvent mirrors the earn_events table. The idempotency key carries the
// unique index that makes accrual replay-safe.
type EarnEvent struct {
	EventID        string    `gorm:"type:uuid;primaryKey"`
	UserID         string    `gorm:"not null;index:idx_earn_user_created,priority:1"`
	IdempotencyKey string    `gorm:"not null;index:uniq_earn_idem,unique"`
	Amount         int64     `gorm:"not null"`
	Source         string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index:idx_earn_user_created,priority:2"`
}

func (EarnEvent) TableName() string { return "earn_events" }

func (event *EarnEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}

// CashLedgerEntry mirrors the append-only cash_ledger table.
type CashLedgerEntry struct {
	EntryID      string         `gorm:"type:uuid;primaryKey"`
	UserID       string         `gorm:"not null;index:idx_ledger_user_created,priority:1"`
	Delta        int64          `gorm:"not null"`
	BalanceAfter int64          `gorm:"not null"`
	Reason       string         `gorm:"not null"`
	Meta         datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_ledger_user_created,priority:2"`
}

func (CashLedgerEntry) TableName() string { return "cash_ledger" }

func (entry *CashLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Streak represents the streaks table, one row per user.
type Streak struct {
	UserID           string     `gorm:"primaryKey"`
	ConsecutiveDays  int        `gorm:"not null"`
	LastPlayedOn     string     `gorm:""`
	BonusArmedOn     string     `gorm:""`
	BonusWindowStart *time.Time `gorm:""`
	UpdatedAt        time.Time  `gorm:"not null"`
}

func (Streak) TableName() string { return "streaks" }

// VaultStatus represents the vault_statuses table, one row per
// (user, program). ExpiresAt is indexed for the sweep query.
type VaultStatus struct {
	UserID          string     `gorm:"primaryKey"`
	ProgramKey      string     `gorm:"primaryKey"`
	State           string     `gorm:"not null"`
	LockedAmount    int64      `gorm:"not null"`
	AvailableAmount int64      `gorm:"not null"`
	LockedAt        *time.Time `gorm:""`
	AvailableSince  *time.Time `gorm:""`
	ExpiresAt       *time.Time `gorm:"index:idx_status_expires"`
	UpdatedAt       time.Time  `gorm:"not null"`
}

func (VaultStatus) TableName() string { return "vault_statuses" }

// WithdrawalRequest mirrors the withdrawal_requests table.
type WithdrawalRequest struct {
	RequestID   string     `gorm:"type:uuid;primaryKey"`
	UserID      string     `gorm:"not null;index:idx_withdrawal_user_status,priority:1"`
	Amount      int64      `gorm:"not null"`
	Status      string     `gorm:"not null;index:idx_withdrawal_user_status,priority:2"`
	AdminMemo   string     `gorm:""`
	ProcessedBy string     `gorm:""`
	CreatedAt   time.Time  `gorm:"not null"`
	ProcessedAt *time.Time `gorm:""`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }

// DepositActivity records qualifying deposits, written by collaborators
// outside this core and read for withdrawal eligibility.
type DepositActivity struct {
	DepositID   string    `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"not null;index:idx_deposit_user_at,priority:1"`
	Amount      int64     `gorm:"not null"`
	DepositedAt time.Time `gorm:"not null;index:idx_deposit_user_at,priority:2"`
}

func (DepositActivity) TableName() string { return "deposit_activities" }

func (deposit *DepositActivity) BeforeCreate(tx *gorm.DB) error {
	if deposit.DepositID == "" {
		deposit.DepositID = uuid.NewString()
	}
	return nil
}

// AdjustmentAudit mirrors the adjustment_audits table.
type AdjustmentAudit struct {
	AuditID         string    `gorm:"type:uuid;primaryKey"`
	UserID          string    `gorm:"not null;index"`
	AdminID         string    `gorm:"not null"`
	Reason          string    `gorm:""`
	LockedBefore    int64     `gorm:"not null"`
	LockedAfter     int64     `gorm:"not null"`
	AvailableBefore int64     `gorm:"not null"`
	AvailableAfter  int64     `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (AdjustmentAudit) TableName() string { return "adjustment_audits" }

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&UserBalance{},
		&EarnEvent{},
		&CashLedgerEntry{},
		&Streak{},
		&VaultStatus{},
		&WithdrawalRequest{},
		&DepositActivity{},
		&AdjustmentAudit{},
	}
}
