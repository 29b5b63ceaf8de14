package commission

import (
	"context"
	"errors"
	"fmt"
)

// Reconciliation is the outcome of a balance repair.
type Reconciliation struct {
	Order          Order
	AgentBalance   AmountCents
	Credited       SignedAmountCents
	AlreadySettled bool
}

// FixBalance repairs a commission that reached available (or claimed) without its
// amount being credited: it marks the commission settled and credits the agent in
// one transaction, leaving the status untouched.
//
// Calling it on a settled commission returns ErrAlreadySettled together with the
// current record; nothing is written. Callers treat that as a soft success.
func (service *Service) FixBalance(ctx context.Context, actor Actor, orderID OrderID) (Reconciliation, error) {
	request := transitionRequest{
		operation: operationFixBalance,
		orderID:   orderID,
		actor:     actor,
		allowed:   []CommissionStatus{StatusAvailable, StatusClaimed},
		next: func(order Order) (CommissionState, error) {
			if order.Commission.Settled {
				return CommissionState{}, ErrAlreadySettled
			}
			return CommissionState{Status: order.Commission.Status, Settled: true}, nil
		},
	}
	var result transitionResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		applied, err := service.transition(ctx, transactionStore, request)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if errors.Is(operationError, ErrAlreadySettled) || errors.Is(operationError, ErrCommissionStateChanged) {
		return service.alreadySettled(ctx, actor, orderID, operationError)
	}
	service.logOperation(ctx, OperationLog{
		Operation:    operationFixBalance,
		OrderID:      orderID,
		AgentID:      result.order.AgentID,
		Actor:        actor,
		From:         result.from,
		To:           result.to,
		BalanceDelta: result.delta,
		Error:        operationError,
	})
	if operationError != nil {
		return Reconciliation{}, operationError
	}
	return Reconciliation{
		Order:        result.order,
		AgentBalance: result.balance,
		Credited:     result.delta,
	}, nil
}

// alreadySettled reloads the authoritative record after a no-op repair. A
// concurrent writer that settled first is reported the same way; anything
// else that changed the row surfaces as a state error.
func (service *Service) alreadySettled(ctx context.Context, actor Actor, orderID OrderID, cause error) (Reconciliation, error) {
	order, err := service.GetCommission(ctx, orderID)
	if err != nil {
		return Reconciliation{}, err
	}
	if !order.Commission.Settled {
		stateError := &StateError{
			OrderID:   orderID,
			Operation: operationFixBalance,
			Current:   order.Commission.State(),
			Expected:  []CommissionStatus{StatusAvailable, StatusClaimed},
			Hint:      cause.Error(),
		}
		service.logOperation(ctx, OperationLog{Operation: operationFixBalance, OrderID: orderID, AgentID: order.AgentID, Actor: actor, Error: stateError})
		return Reconciliation{}, stateError
	}
	agent, err := service.store.GetAgent(ctx, order.AgentID)
	if err != nil {
		return Reconciliation{}, err
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationFixBalance,
		OrderID:   orderID,
		AgentID:   order.AgentID,
		Actor:     actor,
		From:      order.Commission.State(),
		To:        order.Commission.State(),
		Status:    operationStatusAlreadySettled,
	})
	return Reconciliation{
		Order:          order,
		AgentBalance:   agent.CurrentBalance,
		AlreadySettled: true,
	}, fmt.Errorf("%w: order %s", ErrAlreadySettled, orderID.String())
}

// ListUnsettled returns the repair worklist: available commissions whose amount
// never reached the agent balance.
func (service *Service) ListUnsettled(ctx context.Context, limit int) ([]CommissionRow, error) {
	if limit <= 0 {
		limit = defaultListSize
	}
	if limit > maxPageSize {
		return nil, fmt.Errorf("%w: limit exceeds maximum: %d > %d", ErrInvalidPage, limit, maxPageSize)
	}
	rows, err := service.store.ListUnsettled(ctx, limit)
	if err != nil {
		return nil, err
	}
	now := service.nowFn()
	for index := range rows {
		rows[index].AutoReleaseEligible = AutoReleaseEligible(*rows[index].Order.Commission, now)
	}
	return rows, nil
}
