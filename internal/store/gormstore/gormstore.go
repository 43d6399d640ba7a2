package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/playforge/vault/pkg/vault"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetaJSON       = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore   = "store"
	errorSubjectBalance   = "balance"
	errorSubjectEvent     = "event"
	errorSubjectLedger    = "ledger"
	errorSubjectStreak    = "streak"
	errorSubjectStatus    = "status"
	errorSubjectWithdraw  = "withdrawal"
	errorSubjectDeposit   = "deposit"
	errorSubjectAudit     = "audit"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeList         = "list"
	errorCodeSave         = "save"
	errorCodeSumPending   = "sum_pending"
	errorCodeLatestLookup = "latest_lookup"
)

// Store implements vault.Store using GORM. In postgres mode ForUpdate reads
// take row-level locks via SELECT ... FOR UPDATE; the embedded sqlite
// driver ignores the locking clause, so sqlite mode degrades to
// last-write-wins. That mode is for tests and local runs only.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vault.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// BalanceForUpdate locks and returns the balance row, creating a zero row
// first when the user has none.
func (store *Store) BalanceForUpdate(ctx context.Context, userID string) (vault.Balance, error) {
	var model UserBalance
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seed := UserBalance{UserID: userID}
		if createErr := store.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&seed).Error; createErr != nil {
			return vault.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeCreate, createErr)
		}
		err = store.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&model).Error
	}
	if err != nil {
		return vault.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return mapBalance(model), nil
}

// GetBalance is a plain read; a missing row reads as all-zero pools.
func (store *Store) GetBalance(ctx context.Context, userID string) (vault.Balance, error) {
	var model UserBalance
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vault.Balance{UserID: userID}, nil
	}
	if err != nil {
		return vault.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return mapBalance(model), nil
}

func (store *Store) SaveBalance(ctx context.Context, balance vault.Balance) error {
	model := UserBalance{
		UserID:          balance.UserID,
		LockedAmount:    balance.LockedAmount,
		AvailableAmount: balance.AvailableAmount,
		CashAmount:      balance.CashAmount,
		LockedStartedAt: balance.LockedStartedAt,
		LockedExpiresAt: balance.LockedExpiresAt,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeSave, err)
	}
	return nil
}

func (store *Store) InsertEarnEvent(ctx context.Context, event vault.EarnEvent) error {
	model := EarnEvent{
		EventID:        event.EventID,
		UserID:         event.UserID,
		IdempotencyKey: event.IdempotencyKey,
		Amount:         event.Amount,
		Source:         event.Source,
		CreatedAt:      event.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEvent, errorCodeDuplicate, vault.ErrDuplicateEvent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEarnEvent(ctx context.Context, idempotencyKey string) (vault.EarnEvent, error) {
	var model EarnEvent
	err := store.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		Take(&model).Error
	if err != nil {
		return vault.EarnEvent{}, wrapStoreError(errorSubjectEvent, errorCodeGet, err)
	}
	return vault.EarnEvent{
		EventID:        model.EventID,
		UserID:         model.UserID,
		IdempotencyKey: model.IdempotencyKey,
		Amount:         model.Amount,
		Source:         model.Source,
		CreatedAt:      model.CreatedAt,
	}, nil
}

func (store *Store) AppendLedger(ctx context.Context, entry vault.CashLedgerEntry) error {
	meta := entry.Meta
	if meta == "" {
		meta = defaultMetaJSON
	}
	model := CashLedgerEntry{
		EntryID:      entry.EntryID,
		UserID:       entry.UserID,
		Delta:        entry.Delta,
		BalanceAfter: entry.BalanceAfter,
		Reason:       entry.Reason,
		Meta:         datatypes.JSON([]byte(meta)),
		CreatedAt:    entry.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectLedger, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListLedger(ctx context.Context, userID string, limit int) ([]vault.CashLedgerEntry, error) {
	var rows []CashLedgerEntry
	query := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectLedger, errorCodeList, err)
	}
	entries := make([]vault.CashLedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, vault.CashLedgerEntry{
			EntryID:      row.EntryID,
			UserID:       row.UserID,
			Delta:        row.Delta,
			BalanceAfter: row.BalanceAfter,
			Reason:       row.Reason,
			Meta:         string(row.Meta),
			CreatedAt:    row.CreatedAt,
		})
	}
	return entries, nil
}

func (store *Store) StreakForUpdate(ctx context.Context, userID string) (vault.StreakState, error) {
	var model Streak
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vault.StreakState{UserID: userID}, nil
	}
	if err != nil {
		return vault.StreakState{}, wrapStoreError(errorSubjectStreak, errorCodeGet, err)
	}
	return mapStreak(model), nil
}

func (store *Store) GetStreak(ctx context.Context, userID string) (vault.StreakState, error) {
	var model Streak
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vault.StreakState{UserID: userID}, nil
	}
	if err != nil {
		return vault.StreakState{}, wrapStoreError(errorSubjectStreak, errorCodeGet, err)
	}
	return mapStreak(model), nil
}

func (store *Store) SaveStreak(ctx context.Context, streak vault.StreakState) error {
	model := Streak{
		UserID:           streak.UserID,
		ConsecutiveDays:  streak.ConsecutiveDays,
		LastPlayedOn:     streak.LastPlayedOn,
		BonusArmedOn:     streak.BonusArmedOn,
		BonusWindowStart: streak.BonusWindowStart,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectStreak, errorCodeSave, err)
	}
	return nil
}

func (store *Store) StatusForUpdate(ctx context.Context, userID string, programKey string) (vault.VaultStatus, error) {
	var model VaultStatus
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND program_key = ?", userID, programKey).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vault.VaultStatus{UserID: userID, ProgramKey: programKey, State: vault.StateLocked}, nil
	}
	if err != nil {
		return vault.VaultStatus{}, wrapStoreError(errorSubjectStatus, errorCodeGet, err)
	}
	return mapStatus(model), nil
}

func (store *Store) SaveStatus(ctx context.Context, status vault.VaultStatus) error {
	model := VaultStatus{
		UserID:          status.UserID,
		ProgramKey:      status.ProgramKey,
		State:           string(status.State),
		LockedAmount:    status.LockedAmount,
		AvailableAmount: status.AvailableAmount,
		LockedAt:        status.LockedAt,
		AvailableSince:  status.AvailableSince,
		ExpiresAt:       status.ExpiresAt,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "program_key"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectStatus, errorCodeSave, err)
	}
	return nil
}

func (store *Store) ListDueStatuses(ctx context.Context, now time.Time, limit int) ([]vault.VaultStatus, error) {
	var rows []VaultStatus
	query := store.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectStatus, errorCodeList, err)
	}
	statuses := make([]vault.VaultStatus, 0, len(rows))
	for _, row := range rows {
		statuses = append(statuses, mapStatus(row))
	}
	return statuses, nil
}

func (store *Store) CreateWithdrawal(ctx context.Context, request vault.WithdrawalRequest) error {
	model := mapWithdrawalModel(request)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectWithdraw, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) WithdrawalForUpdate(ctx context.Context, requestID string) (vault.WithdrawalRequest, error) {
	var model WithdrawalRequest
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("request_id = ?", requestID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vault.WithdrawalRequest{}, wrapStoreError(errorSubjectWithdraw, errorCodeGet, vault.ErrUnknownWithdrawal)
	}
	if err != nil {
		return vault.WithdrawalRequest{}, wrapStoreError(errorSubjectWithdraw, errorCodeGet, err)
	}
	return mapWithdrawal(model), nil
}

func (store *Store) SaveWithdrawal(ctx context.Context, request vault.WithdrawalRequest) error {
	model := mapWithdrawalModel(request)
	if err := store.db.WithContext(ctx).Save(&model).Error; err != nil {
		return wrapStoreError(errorSubjectWithdraw, errorCodeSave, err)
	}
	return nil
}

func (store *Store) SumPendingWithdrawals(ctx context.Context, userID string) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WithdrawalRequest{}).
		Select("coalesce(sum(amount),0) as total").
		Where("user_id = ? AND status = ?", userID, string(vault.WithdrawalPending)).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectWithdraw, errorCodeSumPending, err)
	}
	return sum.Total, nil
}

func (store *Store) LatestDepositAt(ctx context.Context, userID string) (*time.Time, error) {
	var model DepositActivity
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("deposited_at DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectDeposit, errorCodeLatestLookup, err)
	}
	at := model.DepositedAt
	return &at, nil
}

// RecordDeposit appends a deposit activity row. The deposit flow itself
// lives outside this core; this is the write collaborators use.
func (store *Store) RecordDeposit(ctx context.Context, userID string, amount int64, at time.Time) error {
	model := DepositActivity{UserID: userID, Amount: amount, DepositedAt: at}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectDeposit, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) AppendAdjustmentAudit(ctx context.Context, audit vault.AdjustmentAudit) error {
	model := AdjustmentAudit{
		AuditID:         audit.AuditID,
		UserID:          audit.UserID,
		AdminID:         audit.AdminID,
		Reason:          audit.Reason,
		LockedBefore:    audit.LockedBefore,
		LockedAfter:     audit.LockedAfter,
		AvailableBefore: audit.AvailableBefore,
		AvailableAfter:  audit.AvailableAfter,
		CreatedAt:       audit.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return vault.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapBalance(model UserBalance) vault.Balance {
	return vault.Balance{
		UserID:          model.UserID,
		LockedAmount:    model.LockedAmount,
		AvailableAmount: model.AvailableAmount,
		CashAmount:      model.CashAmount,
		LockedStartedAt: model.LockedStartedAt,
		LockedExpiresAt: model.LockedExpiresAt,
	}
}

func mapStreak(model Streak) vault.StreakState {
	return vault.StreakState{
		UserID:           model.UserID,
		ConsecutiveDays:  model.ConsecutiveDays,
		LastPlayedOn:     model.LastPlayedOn,
		BonusArmedOn:     model.BonusArmedOn,
		BonusWindowStart: model.BonusWindowStart,
	}
}

func mapStatus(model VaultStatus) vault.VaultStatus {
	return vault.VaultStatus{
		UserID:          model.UserID,
		ProgramKey:      model.ProgramKey,
		State:           vault.VaultState(model.State),
		LockedAmount:    model.LockedAmount,
		AvailableAmount: model.AvailableAmount,
		LockedAt:        model.LockedAt,
		AvailableSince:  model.AvailableSince,
		ExpiresAt:       model.ExpiresAt,
	}
}

func mapWithdrawal(model WithdrawalRequest) vault.WithdrawalRequest {
	return vault.WithdrawalRequest{
		RequestID:   model.RequestID,
		UserID:      model.UserID,
		Amount:      model.Amount,
		Status:      vault.WithdrawalStatus(model.Status),
		AdminMemo:   model.AdminMemo,
		ProcessedBy: model.ProcessedBy,
		CreatedAt:   model.CreatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func mapWithdrawalModel(request vault.WithdrawalRequest) WithdrawalRequest {
	return WithdrawalRequest{
		RequestID:   request.RequestID,
		UserID:      request.UserID,
		Amount:      request.Amount,
		Status:      string(request.Status),
		AdminMemo:   request.AdminMemo,
		ProcessedBy: request.ProcessedBy,
		CreatedAt:   request.CreatedAt,
		ProcessedAt: request.ProcessedAt,
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
