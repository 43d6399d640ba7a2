package httpapi

import (
	"context"

	"github.com/playforge/vault/pkg/vault"
	"go.uber.org/zap"
)

// OperationRecorder forwards domain operation callbacks to zap and bumps the
// prometheus counters. The daemon wires it into the service as the
// OperationLogger.
type OperationRecorder struct {
	logger *zap.Logger
}

func NewOperationRecorder(logger *zap.Logger) *OperationRecorder {
	return &OperationRecorder{logger: logger}
}

func (recorder *OperationRecorder) LogOperation(_ context.Context, entry vault.OperationLog) {
	operationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Warning != "" {
		operationWarnings.WithLabelValues(entry.Operation).Inc()
	}
	switch entry.Operation {
	case "sweep":
		sweepTransitions.Add(float64(entry.Amount))
	case "accrue", "reward":
		if entry.Status == "ok" && entry.Amount > 0 {
			creditedAmount.Add(float64(entry.Amount))
		}
	}

	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID))
	}
	if entry.RequestID != "" {
		fields = append(fields, zap.String("request_id", entry.RequestID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.Warning != "" {
		fields = append(fields, zap.String("warning", entry.Warning))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		recorder.logger.Warn("vault operation failed", fields...)
		return
	}
	recorder.logger.Info("vault operation", fields...)
}
