package observability

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOperationLogger writes commission operation logs as structured zap entries.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; a nil logger discards everything.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation implements commission.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(ctx context.Context, entry commission.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("actor", entry.Actor.String()),
	}
	if !entry.OrderID.IsZero() {
		fields = append(fields, zap.String("order_id", entry.OrderID.String()))
	}
	if !entry.AgentID.IsZero() {
		fields = append(fields, zap.String("agent_id", entry.AgentID.String()))
	}
	if entry.From.Status != "" {
		fields = append(fields, zap.String("from_status", entry.From.Status.String()), zap.Bool("from_settled", entry.From.Settled))
	}
	if entry.To.Status != "" {
		fields = append(fields, zap.String("to_status", entry.To.Status.String()), zap.Bool("to_settled", entry.To.Settled))
	}
	if entry.BalanceDelta != 0 {
		fields = append(fields, zap.Int64("balance_delta_cents", entry.BalanceDelta.Int64()))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Log(levelFor(entry.Error), "commission operation", fields...)
}

// levelFor keeps caller mistakes at warn so error-level entries mean the
// ledger itself failed.
func levelFor(err error) zapcore.Level {
	switch {
	case err == nil:
		return zapcore.InfoLevel
	case errors.Is(err, commission.ErrValidation),
		errors.Is(err, commission.ErrNotFound),
		errors.Is(err, commission.ErrInvalidState),
		errors.Is(err, commission.ErrConflict),
		errors.Is(err, commission.ErrInvalidConfirmation),
		errors.Is(err, commission.ErrAlreadySettled):
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// MultiOperationLogger fans an operation log out to several loggers.
type MultiOperationLogger []commission.OperationLogger

// LogOperation implements commission.OperationLogger.
func (loggers MultiOperationLogger) LogOperation(ctx context.Context, entry commission.OperationLog) {
	for _, logger := range loggers {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
