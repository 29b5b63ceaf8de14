package commission

import (
	"context"
	"fmt"
)

// ResetOutcome distinguishes a completed reset from a declined one.
type ResetOutcome string

const (
	ResetOutcomeCompleted ResetOutcome = "completed"
	ResetOutcomeCancelled ResetOutcome = "cancelled"
)

// ResetResult reports a bulk reset. Counts are absolute: a repeated reset
// reports the same totals as the first one.
type ResetResult struct {
	Outcome     ResetOutcome
	OrdersReset int64
	UsersReset  int64
}

// ResetAllCommissions cancels every commission, clears every settlement flag and
// zeroes every agent balance in one transaction.
//
// A nil confirmation means the operator backed out: nothing happens and no error
// is returned. Any other value that is not ResetConfirmationPhrase fails with
// ErrInvalidConfirmation and also leaves the ledger untouched.
func (service *Service) ResetAllCommissions(ctx context.Context, actor Actor, confirmation *string) (ResetResult, error) {
	if confirmation == nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationReset,
			Actor:     actor,
			Status:    operationStatusCancelled,
		})
		return ResetResult{Outcome: ResetOutcomeCancelled}, nil
	}
	if *confirmation != ResetConfirmationPhrase {
		confirmationError := fmt.Errorf("%w: phrase does not match", ErrInvalidConfirmation)
		service.logOperation(ctx, OperationLog{
			Operation: operationReset,
			Actor:     actor,
			Error:     confirmationError,
		})
		return ResetResult{}, confirmationError
	}

	var snapshot ResetSnapshot
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		// Emergency override: this is the only path allowed to move claimed
		// commissions to cancelled.
		resetSnapshot, err := transactionStore.ResetAll(ctx)
		if err != nil {
			return err
		}
		snapshot = resetSnapshot
		return service.auditReset(ctx, transactionStore, actor, snapshot)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReset,
		Actor:     actor,
		To:        CommissionState{Status: StatusCancelled},
		Error:     operationError,
	})
	if operationError != nil {
		return ResetResult{}, operationError
	}
	return ResetResult{
		Outcome:     ResetOutcomeCompleted,
		OrdersReset: int64(len(snapshot.Orders)),
		UsersReset:  int64(len(snapshot.Agents)),
	}, nil
}

// auditReset records the transition of every order the reset touched, so each
// order's own trail ends in cancelled, followed by one system-wide entry carrying
// the balance every agent held before it was zeroed.
func (service *Service) auditReset(ctx context.Context, transactionStore Store, actor Actor, snapshot ResetSnapshot) error {
	resetState := CommissionState{Status: StatusCancelled}
	for _, order := range snapshot.Orders {
		if !order.HasCommission() {
			continue
		}
		from := order.Commission.State()
		if err := transactionStore.InsertAudit(ctx, service.auditEntry(operationReset, order.OrderID, actor, from, resetState, 0, "", map[string]any{
			"agent_id":          order.AgentID.String(),
			"commission_amount": order.Commission.Amount.Int64(),
		})); err != nil {
			return err
		}
	}

	balances := make(map[string]int64, len(snapshot.Agents))
	var zeroed int64
	for _, agent := range snapshot.Agents {
		balances[agent.AgentID.String()] = agent.CurrentBalance.Int64()
		zeroed += agent.CurrentBalance.Int64()
	}
	return transactionStore.InsertAudit(ctx, service.auditEntry(operationReset, OrderID{}, actor, CommissionState{}, resetState, SignedAmountCents(-zeroed), "", map[string]any{
		"orders_reset":   len(snapshot.Orders),
		"users_reset":    len(snapshot.Agents),
		"agent_balances": balances,
	}))
}
